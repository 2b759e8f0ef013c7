// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clock

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElapsed_NeverNegative(t *testing.T) {
	tests := []struct {
		name      string
		start     Instant
		end       Instant
		want      time.Duration
		saturated bool
	}{
		{"forward", 100, 250, 150, false},
		{"equal", 42, 42, 0, false},
		{"backwards", 500, 100, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, sat := ElapsedChecked(tt.start, tt.end)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.saturated, sat)
			assert.Equal(t, tt.want, Elapsed(tt.start, tt.end))
		})
	}
}

func TestManual(t *testing.T) {
	m := NewManual()
	m.SetStep(10 * time.Nanosecond)

	a := m.Now()
	b := m.Now()
	assert.Equal(t, 10*time.Nanosecond, Elapsed(a, b))

	start := m.Now()
	m.Advance(time.Microsecond)
	assert.Equal(t, time.Microsecond+10*time.Nanosecond, Since(m, start))

	m.Set(0)
	m.SetStep(0)
	assert.Equal(t, Instant(0), m.Now())

	assert.True(t, m.Monotonic())
	m.SetMonotonic(false)
	assert.False(t, m.Monotonic())
	assert.Equal(t, "manual", m.Name())
}

func TestMonotonicClock(t *testing.T) {
	c := NewMonotonic()
	a := c.Now()
	time.Sleep(time.Millisecond)
	b := c.Now()
	assert.GreaterOrEqual(t, Elapsed(a, b), time.Millisecond)
	assert.True(t, c.Monotonic())
}

func TestWallClock(t *testing.T) {
	c := NewWall()
	assert.False(t, c.Monotonic())
	assert.Equal(t, "wall", c.Name())
	assert.Greater(t, int64(c.Now()), int64(0))
}

func TestDetect(t *testing.T) {
	t.Run("auto", func(t *testing.T) {
		c, err := Detect(KindAuto)
		require.NoError(t, err)
		assert.True(t, c.Monotonic())
	})

	t.Run("wall", func(t *testing.T) {
		c, err := Detect(KindWall)
		require.NoError(t, err)
		assert.False(t, c.Monotonic())
	})

	t.Run("raw", func(t *testing.T) {
		c, err := Detect(KindRaw)
		if runtime.GOOS != "linux" {
			assert.True(t, errors.Is(err, ErrUnavailable))
			return
		}
		require.NoError(t, err)
		a := c.Now()
		b := c.Now()
		assert.GreaterOrEqual(t, int64(b), int64(a))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Detect(Kind("sundial"))
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindAuto, k)

	k, err = ParseKind("Monotonic")
	require.NoError(t, err)
	assert.Equal(t, KindMonotonic, k)

	_, err = ParseKind("tsc")
	assert.Error(t, err)
}

func TestResolution(t *testing.T) {
	m := NewManual()
	m.SetStep(250 * time.Nanosecond)
	assert.Equal(t, 250*time.Nanosecond, Resolution(m, 4))

	frozen := NewManual()
	assert.Equal(t, time.Duration(0), Resolution(frozen, 1))
}
