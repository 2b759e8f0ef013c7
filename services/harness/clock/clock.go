// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clock provides the timer abstraction used by the engine.
//
// A Clock yields Instants on its own timeline; Elapsed turns two Instants
// into a non-negative duration. Detect picks the best clock the host
// offers: CLOCK_MONOTONIC_RAW on Linux, then the Go runtime monotonic
// clock, then the wall clock as a last resort. Only the wall clock reports
// Monotonic() == false, which the engine records on the report.
package clock

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Instant is a point on a clock's timeline, in nanoseconds. Instants from
// different clocks are not comparable.
type Instant int64

// Clock is a source of Instants.
type Clock interface {
	// Now returns the current instant.
	Now() Instant

	// Monotonic reports whether readings never go backwards.
	Monotonic() bool

	// Name identifies the clock in logs and report metadata.
	Name() string
}

// Elapsed returns end - start, saturating to zero when the clock stepped
// backwards. It never panics and never returns a negative duration.
func Elapsed(start, end Instant) time.Duration {
	d, _ := ElapsedChecked(start, end)
	return d
}

// ElapsedChecked is Elapsed that also reports whether saturation occurred.
func ElapsedChecked(start, end Instant) (time.Duration, bool) {
	if end < start {
		return 0, true
	}
	return time.Duration(end - start), false
}

// Since returns the elapsed time on c since start.
func Since(c Clock, start Instant) time.Duration {
	return Elapsed(start, c.Now())
}

// Kind selects a clock implementation.
type Kind string

const (
	KindAuto      Kind = "auto"
	KindRaw       Kind = "raw"
	KindMonotonic Kind = "monotonic"
	KindWall      Kind = "wall"
)

// ErrUnavailable indicates the requested clock is not supported on this host.
var ErrUnavailable = errors.New("clock unavailable")

// ParseKind converts a configuration string to a Kind. Empty means auto.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindAuto, nil
	case KindAuto, KindRaw, KindMonotonic, KindWall:
		return k, nil
	}
	return "", fmt.Errorf("unknown clock kind %q", s)
}

// Detect returns a clock of the requested kind.
//
// KindAuto tries the raw hardware clock, then the runtime monotonic clock,
// and finally falls back to the wall clock. The returned clock's Monotonic
// method tells the caller whether a fallback happened.
func Detect(kind Kind) (Clock, error) {
	switch kind {
	case KindRaw:
		return newRawClock()
	case KindMonotonic:
		if !runtimeHasMonotonic() {
			return nil, fmt.Errorf("%w: runtime monotonic clock", ErrUnavailable)
		}
		return NewMonotonic(), nil
	case KindWall:
		return NewWall(), nil
	case KindAuto, "":
		if c, err := newRawClock(); err == nil {
			return c, nil
		}
		if runtimeHasMonotonic() {
			return NewMonotonic(), nil
		}
		return NewWall(), nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrUnavailable, string(kind))
}

// Resolution estimates the smallest non-zero step c can observe, taking the
// minimum over a number of probes. It returns zero if no step was seen.
func Resolution(c Clock, probes int) time.Duration {
	if probes <= 0 {
		probes = 16
	}
	var best time.Duration
	for i := 0; i < probes; i++ {
		start := c.Now()
		var d time.Duration
		for spin := 0; spin < 100_000 && d == 0; spin++ {
			d = Elapsed(start, c.Now())
		}
		if d > 0 && (best == 0 || d < best) {
			best = d
		}
	}
	return best
}

// -----------------------------------------------------------------------------
// Runtime clocks
// -----------------------------------------------------------------------------

// runtimeHasMonotonic reports whether time.Now carries a monotonic reading.
// Round(0) strips the reading, so the two values differ only when one exists.
func runtimeHasMonotonic() bool {
	now := time.Now()
	return now != now.Round(0)
}

// Monotonic reads the Go runtime monotonic clock.
type Monotonic struct {
	origin time.Time
}

// NewMonotonic returns a clock anchored at the current time.
func NewMonotonic() *Monotonic {
	return &Monotonic{origin: time.Now()}
}

func (c *Monotonic) Now() Instant    { return Instant(time.Since(c.origin)) }
func (c *Monotonic) Monotonic() bool { return true }
func (c *Monotonic) Name() string    { return string(KindMonotonic) }

// Wall reads the wall clock. It can step backwards under NTP adjustment.
type Wall struct{}

// NewWall returns a wall clock.
func NewWall() *Wall { return &Wall{} }

func (Wall) Now() Instant    { return Instant(time.Now().Round(0).UnixNano()) }
func (Wall) Monotonic() bool { return false }
func (Wall) Name() string    { return string(KindWall) }
