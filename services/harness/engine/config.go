// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/benchkit/services/harness"
	"github.com/AleutianAI/benchkit/services/harness/clock"
	"github.com/AleutianAI/benchkit/services/harness/report"
	"github.com/AleutianAI/benchkit/services/harness/stats"
	"github.com/AleutianAI/benchkit/services/harness/telemetry"
)

// ErrInvalidConfig indicates an invalid engine configuration.
var ErrInvalidConfig = errors.New("invalid engine configuration")

// Config holds the settings of a suite run.
//
// Description:
//
//	Config controls iteration counts, batch sizing, the optional per-
//	iteration time budget, and how results are expressed. Use
//	DefaultConfig() and override fields, or pass Options to New.
//
// Thread Safety: Treated as immutable for the duration of a run.
type Config struct {
	// Iterations controls warmup, measurement, and batching.
	Iterations harness.IterationConfig

	// Mode overrides every definition's mode when non-empty.
	Mode harness.Mode

	// ConfidenceLevel for the error margin. Default: 0.99
	ConfidenceLevel float64

	// TimeUnit scores are reported in. Default: ns
	TimeUnit report.TimeUnit

	// RawData retains per-operation times in each result.
	RawData bool

	// Percentiles to report, each in [0, 100]. Empty disables the table.
	Percentiles []float64
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() *Config {
	return &Config{
		Iterations:      harness.DefaultIterationConfig(),
		ConfidenceLevel: stats.DefaultConfidenceLevel,
		TimeUnit:        report.Nanoseconds,
	}
}

// Validate checks all fields.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Iterations.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Mode != "" && !c.Mode.Valid() {
		errs = append(errs, fmt.Errorf("invalid mode %q", string(c.Mode)))
	}
	if !(c.ConfidenceLevel > 0 && c.ConfidenceLevel < 1) {
		errs = append(errs, fmt.Errorf("confidence level must be in (0, 1), got %v", c.ConfidenceLevel))
	}
	if !c.TimeUnit.Valid() {
		errs = append(errs, fmt.Errorf("invalid time unit %q", string(c.TimeUnit)))
	}
	for _, p := range c.Percentiles {
		if !(p >= 0 && p <= 100) {
			errs = append(errs, fmt.Errorf("percentile %v out of range [0, 100]", p))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Option configures a Runner.
type Option func(*Runner)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(r *Runner) { r.cfg = cfg }
}

// WithWarmup sets the number of discarded warmup iterations.
func WithWarmup(n int) Option {
	return func(r *Runner) { r.cfg.Iterations.Warmup = n }
}

// WithIterations sets the number of measurement iterations.
func WithIterations(n int) Option {
	return func(r *Runner) { r.cfg.Iterations.Measurement = n }
}

// WithBatchSize sets the operations per timed iteration. Values below 1
// are clamped to 1.
func WithBatchSize(n int64) Option {
	return func(r *Runner) { r.cfg.Iterations.BatchSize = n }
}

// WithMaxBatchSize caps batch growth under a time budget.
func WithMaxBatchSize(n int64) Option {
	return func(r *Runner) { r.cfg.Iterations.MaxBatchSize = n }
}

// WithTimeBudget sets the per-iteration time budget. Zero disables it.
func WithTimeBudget(d time.Duration) Option {
	return func(r *Runner) { r.cfg.Iterations.TimeBudget = d }
}

// WithMode overrides every definition's mode.
func WithMode(m harness.Mode) Option {
	return func(r *Runner) { r.cfg.Mode = m }
}

// WithConfidenceLevel sets the confidence level for the error margin.
func WithConfidenceLevel(level float64) Option {
	return func(r *Runner) { r.cfg.ConfidenceLevel = level }
}

// WithTimeUnit sets the unit scores are reported in.
func WithTimeUnit(u report.TimeUnit) Option {
	return func(r *Runner) { r.cfg.TimeUnit = u }
}

// WithRawData retains per-operation times in results.
func WithRawData(enabled bool) Option {
	return func(r *Runner) { r.cfg.RawData = enabled }
}

// WithPercentiles requests a percentile table in each result.
func WithPercentiles(ps ...float64) Option {
	return func(r *Runner) { r.cfg.Percentiles = append([]float64(nil), ps...) }
}

// WithClock sets the timer. Default: clock.Detect(clock.KindAuto).
func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithSink sets the telemetry sink. Default: telemetry.NoOpSink.
func WithSink(s telemetry.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithTracerProvider sets the provider for run and benchmark spans.
// Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) { r.tracerProvider = tp }
}

// WithRunID sets the generator for report run IDs. Default: uuid.NewString.
func WithRunID(gen func() string) Option {
	return func(r *Runner) { r.newRunID = gen }
}

// WithNow sets the wall clock used for the report creation time.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithEnvironment replaces host detection for report metadata.
func WithEnvironment(env report.Environment) Option {
	return func(r *Runner) { r.env = &env }
}

func defaultRunID() string { return uuid.NewString() }
