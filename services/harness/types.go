// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Mode
// -----------------------------------------------------------------------------

// Mode is the metric family a benchmark reports.
type Mode string

const (
	// ModeThroughput reports operations per unit of time.
	ModeThroughput Mode = "throughput"

	// ModeAverageTime reports time per operation.
	ModeAverageTime Mode = "avgtime"

	// ModeSingleShot reports the time of exactly one measured operation.
	ModeSingleShot Mode = "singleshot"
)

// Modes lists every valid mode in display order.
var Modes = []Mode{ModeThroughput, ModeAverageTime, ModeSingleShot}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeThroughput, ModeAverageTime, ModeSingleShot:
		return true
	}
	return false
}

// String returns the wire name of the mode.
func (m Mode) String() string { return string(m) }

// ParseMode converts a wire or configuration name to a Mode.
//
// Accepts the canonical names plus the long forms "average-time",
// "averagetime" and "single-shot". Matching is case-insensitive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "throughput", "thrpt":
		return ModeThroughput, nil
	case "avgtime", "average-time", "averagetime", "avgt":
		return ModeAverageTime, nil
	case "singleshot", "single-shot", "ss":
		return ModeSingleShot, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// -----------------------------------------------------------------------------
// Operations
// -----------------------------------------------------------------------------

// Operation is the measured unit of work. It is invoked batch-size times per
// timed iteration and must not retain state across benchmarks.
type Operation func() error

// Hook is a setup or teardown step. Hooks run outside the timed region.
type Hook func(ctx context.Context) error

// -----------------------------------------------------------------------------
// Definition
// -----------------------------------------------------------------------------

// Definition describes one benchmark.
//
// Description:
//
//	A Definition carries the benchmark identity, its mode, the measured
//	operation, and the setup and teardown hooks in declaration order. All
//	fields are unexported; accessors return copies so a Definition cannot be
//	changed after NewDefinition returns.
//
// Thread Safety: Immutable, safe for concurrent read access.
type Definition struct {
	name     string
	mode     Mode
	measure  Operation
	setup    []Hook
	teardown []Hook
	params   map[string]string
}

// DefinitionOption configures a Definition at construction.
type DefinitionOption func(*Definition)

// WithSetup appends setup hooks. Hooks run in the order given, across
// repeated WithSetup calls.
func WithSetup(hooks ...Hook) DefinitionOption {
	return func(d *Definition) {
		d.setup = append(d.setup, hooks...)
	}
}

// WithTeardown appends teardown hooks. Hooks run in the order given.
func WithTeardown(hooks ...Hook) DefinitionOption {
	return func(d *Definition) {
		d.teardown = append(d.teardown, hooks...)
	}
}

// WithParam attaches a descriptive key/value pair, such as the input size a
// probe was built for. Params are informational and never affect timing.
func WithParam(key, value string) DefinitionOption {
	return func(d *Definition) {
		if d.params == nil {
			d.params = make(map[string]string)
		}
		d.params[key] = value
	}
}

// NewDefinition builds an immutable benchmark definition.
//
// Inputs:
//   - name: Qualified benchmark name. Must be non-empty.
//   - mode: The metric family. Must be valid.
//   - measure: The measured operation. Must not be nil.
//   - opts: Setup, teardown and parameter options.
//
// Outputs:
//   - *Definition: The definition. Never nil.
//   - error: ErrEmptyName, ErrInvalidMode, or ErrNilOperation.
//
// Example:
//
//	def, err := harness.NewDefinition("strings.Builder", harness.ModeAverageTime,
//	    func() error { b.WriteString("x"); return nil },
//	    harness.WithSetup(func(ctx context.Context) error { b.Reset(); return nil }),
//	)
func NewDefinition(name string, mode Mode, measure Operation, opts ...DefinitionOption) (*Definition, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, string(mode))
	}
	if measure == nil {
		return nil, fmt.Errorf("%w: %s", ErrNilOperation, name)
	}

	d := &Definition{
		name:    name,
		mode:    mode,
		measure: measure,
	}
	for _, opt := range opts {
		opt(d)
	}
	for i, h := range d.setup {
		if h == nil {
			return nil, fmt.Errorf("%w: %s setup hook %d", ErrNilOperation, name, i)
		}
	}
	for i, h := range d.teardown {
		if h == nil {
			return nil, fmt.Errorf("%w: %s teardown hook %d", ErrNilOperation, name, i)
		}
	}
	return d, nil
}

// MustDefinition is NewDefinition that panics on error. Intended for
// package-level registration in init functions.
func MustDefinition(name string, mode Mode, measure Operation, opts ...DefinitionOption) *Definition {
	d, err := NewDefinition(name, mode, measure, opts...)
	if err != nil {
		panic(fmt.Sprintf("harness: invalid definition %q: %v", name, err))
	}
	return d
}

// Name returns the qualified benchmark name.
func (d *Definition) Name() string { return d.name }

// Mode returns the benchmark mode.
func (d *Definition) Mode() Mode { return d.mode }

// Measure returns the measured operation.
func (d *Definition) Measure() Operation { return d.measure }

// Setup returns a copy of the setup hooks in declaration order.
func (d *Definition) Setup() []Hook {
	out := make([]Hook, len(d.setup))
	copy(out, d.setup)
	return out
}

// Teardown returns a copy of the teardown hooks in declaration order.
func (d *Definition) Teardown() []Hook {
	out := make([]Hook, len(d.teardown))
	copy(out, d.teardown)
	return out
}

// Param returns a descriptive parameter and whether it was set.
func (d *Definition) Param(key string) (string, bool) {
	v, ok := d.params[key]
	return v, ok
}

// Params returns a copy of all descriptive parameters.
func (d *Definition) Params() map[string]string {
	if len(d.params) == 0 {
		return nil
	}
	out := make(map[string]string, len(d.params))
	for k, v := range d.params {
		out[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------
// Iteration configuration
// -----------------------------------------------------------------------------

const (
	// DefaultWarmupIterations is the number of discarded iterations.
	DefaultWarmupIterations = 5

	// DefaultMeasurementIterations is the number of timed iterations.
	DefaultMeasurementIterations = 10

	// DefaultBatchSize is the number of operations per timed iteration.
	DefaultBatchSize = 1

	// DefaultMaxBatchSize caps geometric batch growth.
	DefaultMaxBatchSize = 1 << 20
)

// IterationConfig controls the warmup and measurement loop.
//
// Thread Safety: Treated as immutable for the duration of a run.
type IterationConfig struct {
	// Warmup is the number of timed-but-discarded iterations. Default: 5
	Warmup int

	// Measurement is the number of timed iterations. Must be >= 1. Default: 10
	Measurement int

	// BatchSize is the number of operations per timed iteration.
	// Values below 1 are clamped to 1. Default: 1
	BatchSize int64

	// TimeBudget is the optional per-iteration time budget. Zero disables
	// batch growth and the budget abort.
	TimeBudget time.Duration

	// MaxBatchSize caps batch growth under a time budget. Default: 1<<20
	MaxBatchSize int64
}

// DefaultIterationConfig returns the default iteration settings.
func DefaultIterationConfig() IterationConfig {
	return IterationConfig{
		Warmup:       DefaultWarmupIterations,
		Measurement:  DefaultMeasurementIterations,
		BatchSize:    DefaultBatchSize,
		MaxBatchSize: DefaultMaxBatchSize,
	}
}

// Normalize returns a copy with the batch size clamped to at least 1 and
// the batch cap raised to at least the batch size.
func (c IterationConfig) Normalize() IterationConfig {
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxBatchSize < c.BatchSize {
		c.MaxBatchSize = c.BatchSize
	}
	return c
}

// Validate checks the iteration counts and budget.
func (c IterationConfig) Validate() error {
	var errs []error
	if c.Warmup < 0 {
		errs = append(errs, errors.New("warmup iterations must be non-negative"))
	}
	if c.Measurement < 1 {
		errs = append(errs, errors.New("measurement iterations must be at least 1"))
	}
	if c.TimeBudget < 0 {
		errs = append(errs, errors.New("time budget must be non-negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sample
// -----------------------------------------------------------------------------

// Sample is one raw timing observation: the elapsed time of a batch of Ops
// operations. Duration is never negative and Ops is never below 1.
type Sample struct {
	Duration time.Duration
	Ops      int64
}

// NewSample builds a Sample, clamping a negative duration to zero and a
// non-positive operation count to one.
func NewSample(d time.Duration, ops int64) Sample {
	if d < 0 {
		d = 0
	}
	if ops < 1 {
		ops = 1
	}
	return Sample{Duration: d, Ops: ops}
}

// PerOp returns the nanoseconds per operation for this sample.
func (s Sample) PerOp() float64 {
	ops := s.Ops
	if ops < 1 {
		ops = 1
	}
	return float64(s.Duration.Nanoseconds()) / float64(ops)
}
