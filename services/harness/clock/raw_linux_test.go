// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package clock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// scriptedRead returns readings in order; a negative value is a failed read.
func scriptedRead(readings ...int64) func(*unix.Timespec) error {
	i := 0
	return func(ts *unix.Timespec) error {
		v := readings[i]
		i++
		if v < 0 {
			return errors.New("EINVAL")
		}
		*ts = unix.NsecToTimespec(v)
		return nil
	}
}

func TestRaw_FailedReadRepeatsLast(t *testing.T) {
	tests := []struct {
		name     string
		readings []int64 // initial check, start, end
		want     int64
	}{
		{"start fails", []int64{1_000, -1, 1_500}, 500},
		{"end fails", []int64{1_000, 1_200, -1}, 0},
		{"both succeed", []int64{1_000, 1_200, 1_450}, 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := newRaw(scriptedRead(tt.readings...))
			require.NoError(t, err)

			start := c.Now()
			end := c.Now()
			d, saturated := ElapsedChecked(start, end)
			assert.False(t, saturated)
			assert.Equal(t, tt.want, d.Nanoseconds())
		})
	}
}

func TestRaw_UnavailableAtStartup(t *testing.T) {
	_, err := newRaw(scriptedRead(-1))
	assert.ErrorIs(t, err, ErrUnavailable)
}
