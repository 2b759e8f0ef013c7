// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine drives benchmark definitions through their lifecycle and
// assembles the results into a report.
//
// Benchmarks run one at a time on the calling goroutine. Within a benchmark
// the warmup and measurement iterations also run sequentially, so the only
// concurrency a measured operation sees is whatever it starts itself.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/benchkit/services/harness"
	"github.com/AleutianAI/benchkit/services/harness/clock"
	"github.com/AleutianAI/benchkit/services/harness/report"
	"github.com/AleutianAI/benchkit/services/harness/stats"
	"github.com/AleutianAI/benchkit/services/harness/telemetry"
)

const tracerName = "benchkit.engine"

// resolutionProbes is the number of probes used to estimate clock
// resolution for report metadata.
const resolutionProbes = 4

// ErrNilSource is returned by Run when no benchmark source is given.
var ErrNilSource = errors.New("benchmark source must not be nil")

// Source supplies benchmark definitions in execution order.
// *harness.Registry implements it.
type Source interface {
	ListBenchmarks() []*harness.Definition
}

// Runner executes benchmark suites.
//
// Thread Safety: A Runner may be reused for several runs but Run must not
// be called concurrently; concurrent runs would distort each other's
// timings.
type Runner struct {
	cfg            Config
	clock          clock.Clock
	logger         *slog.Logger
	sink           telemetry.Sink
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	newRunID       func() string
	now            func() time.Time
	env            *report.Environment
}

// New creates a Runner.
//
// Description:
//
//	Options are applied over DefaultConfig() in order. When no clock is
//	supplied the best available one is detected.
//
// Outputs:
//   - *Runner: Ready to run suites.
//   - error: ErrInvalidConfig, or clock detection failure.
//
// Example:
//
//	runner, err := engine.New(
//	    engine.WithWarmup(3),
//	    engine.WithIterations(20),
//	    engine.WithTimeUnit(report.Microseconds),
//	)
func New(opts ...Option) (*Runner, error) {
	r := &Runner{cfg: *DefaultConfig()}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	r.cfg.Iterations = r.cfg.Iterations.Normalize()

	if r.clock == nil {
		c, err := clock.Detect(clock.KindAuto)
		if err != nil {
			return nil, fmt.Errorf("detecting clock: %w", err)
		}
		r.clock = c
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.sink == nil {
		r.sink = telemetry.NoOpSink{}
	}
	if r.tracerProvider == nil {
		r.tracerProvider = otel.GetTracerProvider()
	}
	r.tracer = r.tracerProvider.Tracer(tracerName)
	if r.newRunID == nil {
		r.newRunID = defaultRunID
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Config returns the normalized configuration.
func (r *Runner) Config() Config { return r.cfg }

// Clock returns the clock used for timing.
func (r *Runner) Clock() clock.Clock { return r.clock }

// Run executes every benchmark from src in order.
//
// Description:
//
//	Each benchmark goes through setup, warmup, measurement, and teardown.
//	A failure is recorded against that benchmark alone and the suite
//	continues. When ctx is cancelled the in-flight benchmark finishes its
//	current iteration, runs teardown, and is marked cancelled together
//	with every benchmark that had not started. The returned report always
//	lists every benchmark and is frozen.
//
// Inputs:
//   - ctx: Cancellation is observed between iterations only.
//   - src: Benchmark definitions, typically a *harness.Registry.
//
// Outputs:
//   - *report.Report: The frozen report, also returned on cancellation.
//   - error: ctx.Err() when the run was cancelled, ErrNilSource, or nil.
func (r *Runner) Run(ctx context.Context, src Source) (*report.Report, error) {
	if ctx == nil {
		return nil, errors.New("context must not be nil")
	}
	if src == nil {
		return nil, ErrNilSource
	}

	ctx, span := r.tracer.Start(ctx, "engine.Runner.Run")
	defer span.End()

	rep := report.New(r.newRunID(), r.now().UnixMilli(), r.cfg.ConfidenceLevel)
	rep.Env = r.environment()
	rep.Settings = r.settings()
	if !r.clock.Monotonic() {
		rep.NonMonotonicClock = true
		r.logger.Warn("timing with a non-monotonic clock",
			slog.String("kind", string(harness.FailureClock)),
			slog.String("clock", r.clock.Name()))
	}

	defs := src.ListBenchmarks()
	span.SetAttributes(
		attribute.String("benchkit.run_id", rep.RunID),
		attribute.Int("benchkit.benchmarks", len(defs)),
		attribute.Int("benchkit.warmup", r.cfg.Iterations.Warmup),
		attribute.Int("benchkit.iterations", r.cfg.Iterations.Measurement),
	)
	r.logger.Info("suite starting",
		slog.String("run_id", rep.RunID),
		slog.Int("benchmarks", len(defs)),
		slog.String("clock", r.clock.Name()))

	for _, def := range defs {
		if def == nil {
			continue
		}
		var res report.Result
		if err := ctx.Err(); err != nil {
			res = r.cancelled(def, err)
		} else {
			var saturated bool
			res, saturated = r.runOne(ctx, def)
			if saturated {
				rep.NonMonotonicClock = true
			}
		}
		if err := rep.Append(res); err != nil {
			return nil, fmt.Errorf("appending %s: %w", res.Name, err)
		}
		if err := r.sink.RecordResult(context.WithoutCancel(ctx), rep.RunID, res); err != nil {
			r.logger.Warn("recording result", slog.String("benchmark", res.Name), slog.String("error", err.Error()))
		}
	}
	rep.Freeze()

	if err := r.sink.RecordRun(context.WithoutCancel(ctx), rep); err != nil {
		r.logger.Warn("recording run", slog.String("run_id", rep.RunID), slog.String("error", err.Error()))
	}

	failures := rep.Failures()
	span.SetAttributes(attribute.Int("benchkit.failures", failures))
	r.logger.Info("suite finished",
		slog.String("run_id", rep.RunID),
		slog.Int("benchmarks", len(rep.Benchmarks)),
		slog.Int("failures", failures))

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run cancelled")
		return rep, err
	}
	span.SetStatus(codes.Ok, "run completed")
	return rep, nil
}

// runOne drives a single definition through its lifecycle. The boolean
// reports whether the clock was seen stepping backwards.
func (r *Runner) runOne(ctx context.Context, def *harness.Definition) (report.Result, bool) {
	mode := r.effectiveMode(def)
	iters := r.cfg.Iterations
	if mode == harness.ModeSingleShot {
		iters.BatchSize = 1
		iters.MaxBatchSize = 1
		iters.Measurement = 1
	}

	res := report.Result{
		Name:      def.Name(),
		Mode:      mode,
		Unit:      report.UnitFor(mode, r.cfg.TimeUnit),
		BatchSize: iters.BatchSize,
		Params:    def.Params(),
	}

	ctx, span := r.tracer.Start(ctx, "engine.Runner.runOne",
		trace.WithAttributes(
			attribute.String("benchkit.benchmark", def.Name()),
			attribute.String("benchkit.mode", string(mode)),
		),
	)
	defer span.End()

	lc := harness.NewLifecycle(def.Name(), r.observe)
	r.move(lc, harness.StateSettingUp)
	if err := runHooks(ctx, def.Setup()); err != nil {
		kind := harness.FailureSetup
		if ctx.Err() != nil {
			kind = harness.FailureCancelled
		}
		r.move(lc, harness.StateErrored)
		r.fail(span, &res, harness.NewLifecycleError(kind, def.Name(), err))
		return res, false
	}
	r.move(lc, harness.StateReady)
	r.move(lc, harness.StateMeasuring)

	l := newLoop(def.Name(), def.Measure(), iters)
	measureErr := r.measure(ctx, l)
	res.BatchSize = l.batch
	if l.saturated {
		res.Warnings = append(res.Warnings, "clock: stepped backwards during measurement; affected samples clamped to zero")
	}

	r.move(lc, harness.StateTearingDown)
	teardownErr := runHooks(context.WithoutCancel(ctx), def.Teardown())
	if teardownErr != nil {
		le := harness.NewLifecycleError(harness.FailureTeardown, def.Name(), teardownErr)
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", harness.FailureTeardown, teardownErr))
		r.logger.Warn("teardown failed", slog.String("benchmark", def.Name()), slog.String("error", le.Error()))
	}

	if measureErr != nil {
		r.move(lc, harness.StateErrored)
		r.fail(span, &res, measureErr)
		return res, l.saturated
	}
	if teardownErr != nil {
		r.move(lc, harness.StateErrored)
	} else {
		r.move(lc, harness.StateDone)
	}

	sum, err := stats.Summarize(l.samples, r.cfg.ConfidenceLevel)
	if err != nil {
		r.fail(span, &res, harness.NewLifecycleError(harness.FailureMeasurement, def.Name(), err))
		return res, l.saturated
	}
	if err := r.fillScore(&res, mode, sum, l); err != nil {
		r.fail(span, &res, harness.NewLifecycleError(harness.FailureMeasurement, def.Name(), err))
		return res, l.saturated
	}

	span.SetAttributes(
		attribute.Int("benchkit.samples", res.Samples),
		attribute.Int64("benchkit.batch_size", res.BatchSize),
		attribute.Bool("benchkit.low_resolution", res.LowResolution),
		attribute.Bool("benchkit.budget_exceeded", res.BudgetExceeded),
	)
	span.SetStatus(codes.Ok, "benchmark completed")
	return res, l.saturated
}

// fillScore converts a summary into the result's score, error, raw data,
// and percentiles in the configured unit.
func (r *Runner) fillScore(res *report.Result, mode harness.Mode, sum stats.Summary, l *loop) error {
	unitNs := r.cfg.TimeUnit.Nanos()
	res.Samples = sum.N
	res.BudgetExceeded = l.budgetExceeded

	if sum.LowResolution {
		res.LowResolution = true
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: every sample measured zero elapsed time; score undefined", harness.FailureClock))
		r.logger.Warn("low clock resolution",
			slog.String("benchmark", res.Name),
			slog.String("clock", r.clock.Name()))
	} else {
		switch mode {
		case harness.ModeThroughput:
			res.Score = report.Float(unitNs / sum.Mean)
			if sum.ErrorDefined {
				res.ScoreError = report.Float(sum.Error * unitNs / (sum.Mean * sum.Mean))
			}
		default:
			res.Score = report.Float(sum.Mean / unitNs)
			if sum.ErrorDefined {
				res.ScoreError = report.Float(sum.Error / unitNs)
			}
		}
	}

	if r.cfg.RawData {
		res.RawData = make([]float64, len(sum.PerOp))
		for i, v := range sum.PerOp {
			res.RawData[i] = v / unitNs
		}
	}
	if len(r.cfg.Percentiles) > 0 {
		values, err := stats.Percentiles(sum.PerOp, r.cfg.Percentiles)
		if err != nil {
			return fmt.Errorf("computing percentiles: %w", err)
		}
		res.Percentiles = make(map[string]float64, len(values))
		for i, p := range r.cfg.Percentiles {
			res.Percentiles[report.PercentileKey(p)] = values[i] / unitNs
		}
	}
	return nil
}

// fail records err as the result's failure. err is expected to wrap a
// *harness.LifecycleError; anything else is classified as measurement.
func (r *Runner) fail(span trace.Span, res *report.Result, err error) {
	kind := harness.FailureMeasurement
	msg := err.Error()
	var le *harness.LifecycleError
	if errors.As(err, &le) {
		kind = le.Kind
		if le.Err != nil {
			msg = le.Err.Error()
		}
	}
	res.Score, res.ScoreError = nil, nil
	res.RawData, res.Percentiles = nil, nil
	res.Failure = &report.Failure{Kind: kind, Message: msg}

	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	r.logger.Warn("benchmark failed",
		slog.String("benchmark", res.Name),
		slog.String("kind", string(kind)),
		slog.String("error", msg))
}

// cancelled builds the result for a benchmark that never started.
func (r *Runner) cancelled(def *harness.Definition, cause error) report.Result {
	mode := r.effectiveMode(def)
	return report.Result{
		Name:      def.Name(),
		Mode:      mode,
		Unit:      report.UnitFor(mode, r.cfg.TimeUnit),
		BatchSize: r.cfg.Iterations.BatchSize,
		Params:    def.Params(),
		Failure:   &report.Failure{Kind: harness.FailureCancelled, Message: cause.Error()},
	}
}

func (r *Runner) effectiveMode(def *harness.Definition) harness.Mode {
	if r.cfg.Mode != "" {
		return r.cfg.Mode
	}
	return def.Mode()
}

func (r *Runner) move(lc *harness.Lifecycle, to harness.LifecycleState) {
	if err := lc.Transition(to); err != nil {
		r.logger.Error("lifecycle", slog.String("error", err.Error()))
	}
}

func (r *Runner) observe(benchmark string, from, to harness.LifecycleState) {
	r.logger.Debug("lifecycle transition",
		slog.String("benchmark", benchmark),
		slog.String("from", from.String()),
		slog.String("to", to.String()))
}

func (r *Runner) settings() report.Settings {
	it := r.cfg.Iterations
	return report.Settings{
		Warmup:       it.Warmup,
		Measurement:  it.Measurement,
		BatchSize:    it.BatchSize,
		TimeBudgetNs: it.TimeBudget.Nanoseconds(),
		MaxBatchSize: it.MaxBatchSize,
		TimeUnit:     r.cfg.TimeUnit,
	}
}

func (r *Runner) environment() report.Environment {
	if r.env != nil {
		return *r.env
	}
	host, _ := os.Hostname()
	return report.Environment{
		GoVersion:         runtime.Version(),
		OS:                runtime.GOOS,
		Arch:              runtime.GOARCH,
		CPUs:              runtime.NumCPU(),
		Hostname:          host,
		Clock:             r.clock.Name(),
		ClockResolutionNs: clock.Resolution(r.clock, resolutionProbes).Nanoseconds(),
	}
}
