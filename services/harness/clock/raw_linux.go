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
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Raw reads CLOCK_MONOTONIC_RAW, which is not slewed by NTP.
//
// Thread Safety: Safe for concurrent use.
type Raw struct {
	read func(*unix.Timespec) error
	last atomic.Int64
}

func newRawClock() (Clock, error) {
	return newRaw(readMonotonicRaw)
}

func newRaw(read func(*unix.Timespec) error) (*Raw, error) {
	var ts unix.Timespec
	if err := read(&ts); err != nil {
		return nil, fmt.Errorf("%w: CLOCK_MONOTONIC_RAW: %v", ErrUnavailable, err)
	}
	r := &Raw{read: read}
	r.last.Store(ts.Nano())
	return r, nil
}

func readMonotonicRaw(ts *unix.Timespec) error {
	return unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, ts)
}

// Now returns the raw monotonic time. A failed read repeats the last good
// reading, so a failure at either end of an interval yields a short
// duration rather than a bogus one.
func (r *Raw) Now() Instant {
	var ts unix.Timespec
	if err := r.read(&ts); err != nil {
		return Instant(r.last.Load())
	}
	n := ts.Nano()
	r.last.Store(n)
	return Instant(n)
}

func (*Raw) Monotonic() bool { return true }
func (*Raw) Name() string    { return string(KindRaw) }
