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
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/benchkit/services/harness"
	"github.com/AleutianAI/benchkit/services/harness/clock"
)

// phase distinguishes discarded warmup iterations from measured ones.
type phase int

const (
	phaseWarmup phase = iota
	phaseMeasure
)

func (p phase) String() string {
	if p == phaseWarmup {
		return "warmup"
	}
	return "measurement"
}

// loop is the mutable state of one benchmark's iteration loop.
type loop struct {
	name    string
	op      harness.Operation
	iters   harness.IterationConfig
	batch   int64
	samples []harness.Sample

	budgetExceeded bool
	saturated      bool
	grown          int
}

func newLoop(name string, op harness.Operation, iters harness.IterationConfig) *loop {
	iters = iters.Normalize()
	return &loop{
		name:    name,
		op:      op,
		iters:   iters,
		batch:   iters.BatchSize,
		samples: make([]harness.Sample, 0, iters.Measurement),
	}
}

// measure runs the warmup phase followed by the measurement phase.
//
// Description:
//
//	Cancellation is checked before every timed iteration, so an iteration
//	that has started always completes. With a time budget configured, a
//	zero-duration iteration is re-timed with the batch doubled (up to the
//	batch cap) and an iteration over budget ends the phase. Warmup samples
//	are never retained.
//
// Outputs:
//   - error: *harness.LifecycleError of kind measurement or cancelled.
func (r *Runner) measure(ctx context.Context, l *loop) error {
	if err := r.iterate(ctx, l, phaseWarmup, l.iters.Warmup); err != nil {
		return err
	}
	return r.iterate(ctx, l, phaseMeasure, l.iters.Measurement)
}

func (r *Runner) iterate(ctx context.Context, l *loop, p phase, count int) error {
	budget := l.iters.TimeBudget
	for done := 0; done < count; {
		if err := ctx.Err(); err != nil {
			return harness.NewLifecycleError(harness.FailureCancelled, l.name, err)
		}

		d, saturated, err := r.timeBatch(l.op, l.batch)
		if err != nil {
			return harness.NewLifecycleError(harness.FailureMeasurement, l.name, err)
		}
		if saturated {
			l.saturated = true
		}

		if budget > 0 && d == 0 && l.batch < l.iters.MaxBatchSize {
			l.batch = grow(l.batch, l.iters.MaxBatchSize)
			l.grown++
			r.logger.Debug("batch grown",
				slog.String("benchmark", l.name),
				slog.String("phase", p.String()),
				slog.Int64("batch", l.batch))
			continue
		}

		done++
		if p == phaseMeasure {
			l.samples = append(l.samples, harness.NewSample(d, l.batch))
		}

		if budget > 0 && d > budget {
			r.logger.Debug("iteration over budget",
				slog.String("benchmark", l.name),
				slog.String("phase", p.String()),
				slog.Duration("elapsed", d),
				slog.Duration("budget", budget))
			if p == phaseMeasure {
				l.budgetExceeded = true
			}
			return nil
		}
	}
	return nil
}

// timeBatch times n back-to-back invocations of op. A panic inside op is
// recovered into a *harness.PanicError.
func (r *Runner) timeBatch(op harness.Operation, n int64) (d time.Duration, saturated bool, err error) {
	defer func() {
		if v := recover(); v != nil {
			d, saturated, err = 0, false, &harness.PanicError{Value: v}
		}
	}()

	start := r.clock.Now()
	for i := int64(0); i < n; i++ {
		if err := op(); err != nil {
			return 0, false, err
		}
	}
	d, saturated = clock.ElapsedChecked(start, r.clock.Now())
	return d, saturated, nil
}

// runHooks runs hooks in order and stops at the first error. A panic is
// recovered into a *harness.PanicError.
func runHooks(ctx context.Context, hooks []harness.Hook) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &harness.PanicError{Value: v}
		}
	}()
	for _, h := range hooks {
		if err := h(ctx); err != nil {
			return err
		}
	}
	return nil
}

func grow(batch, limit int64) int64 {
	if batch > limit/2 {
		return limit
	}
	return batch * 2
}
