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
	"sync"
	"time"
)

// Manual is a deterministic clock for tests.
//
// Each call to Now returns the current instant and then advances it by the
// configured step, so a timed region bracketed by two Now calls measures
// exactly one step plus any explicit Advance made inside it.
//
// Thread Safety: Safe for concurrent use.
type Manual struct {
	mu        sync.Mutex
	now       Instant
	step      time.Duration
	monotonic bool
}

// NewManual returns a monotonic manual clock at instant zero with no step.
func NewManual() *Manual {
	return &Manual{monotonic: true}
}

// Now returns the current instant and applies the step.
func (m *Manual) Now() Instant {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now
	m.now += Instant(m.step)
	return now
}

// Advance moves the clock by d. A negative d moves it backwards.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += Instant(d)
}

// Set jumps to the given instant.
func (m *Manual) Set(i Instant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = i
}

// SetStep sets the automatic advance applied after every Now call.
func (m *Manual) SetStep(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.step = d
}

// SetMonotonic controls what Monotonic reports.
func (m *Manual) SetMonotonic(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monotonic = v
}

func (m *Manual) Monotonic() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monotonic
}

func (m *Manual) Name() string { return "manual" }
