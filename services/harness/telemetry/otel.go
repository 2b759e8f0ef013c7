// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/benchkit/services/harness/report"
)

const instrumentationName = "github.com/AleutianAI/benchkit/services/harness"

// OTelConfig configures an OTelSink.
type OTelConfig struct {
	// ServiceVersion is attached as the instrumentation version.
	ServiceVersion string

	// MeterProvider is used for instruments. Default: the global provider.
	MeterProvider metric.MeterProvider
}

// OTelSink records benchmark outcomes as OpenTelemetry metrics.
type OTelSink struct {
	score      metric.Float64Gauge
	scoreError metric.Float64Gauge
	samples    metric.Int64Histogram
	results    metric.Int64Counter
	failures   metric.Int64Counter
	runs       metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewOTelSink creates the instruments.
func NewOTelSink(cfg OTelConfig) (*OTelSink, error) {
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion))

	s := &OTelSink{}
	var err error
	if s.score, err = meter.Float64Gauge("benchkit.score",
		metric.WithDescription("Benchmark score in its reported unit")); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if s.scoreError, err = meter.Float64Gauge("benchkit.score_error",
		metric.WithDescription("Confidence interval half-width of the score")); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if s.samples, err = meter.Int64Histogram("benchkit.samples",
		metric.WithDescription("Measurement samples per benchmark"),
		metric.WithUnit("{sample}")); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if s.results, err = meter.Int64Counter("benchkit.results",
		metric.WithDescription("Benchmark results recorded"),
		metric.WithUnit("{result}")); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if s.failures, err = meter.Int64Counter("benchkit.failures",
		metric.WithDescription("Benchmark failures by kind"),
		metric.WithUnit("{failure}")); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if s.runs, err = meter.Int64Counter("benchkit.runs",
		metric.WithDescription("Completed suite runs"),
		metric.WithUnit("{run}")); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	return s, nil
}

// RecordResult implements Sink.
func (s *OTelSink) RecordResult(ctx context.Context, runID string, res report.Result) error {
	if ctx == nil {
		return ErrNilContext
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	attrs := metric.WithAttributes(
		attribute.String("benchmark.name", res.Name),
		attribute.String("benchmark.mode", string(res.Mode)),
		attribute.String("benchmark.unit", res.Unit),
	)
	if res.Score != nil {
		s.score.Record(ctx, *res.Score, attrs)
	}
	if res.ScoreError != nil {
		s.scoreError.Record(ctx, *res.ScoreError, attrs)
	}
	s.samples.Record(ctx, int64(res.Samples), attrs)
	s.results.Add(ctx, 1, metric.WithAttributes(
		attribute.String("benchmark.name", res.Name),
		attribute.String("benchmark.failure", failureLabel(res)),
		attribute.Bool("benchmark.low_resolution", res.LowResolution),
	))
	if res.Failure != nil {
		s.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("benchmark.name", res.Name),
			attribute.String("benchmark.failure", string(res.Failure.Kind)),
		))
	}
	return nil
}

// RecordRun implements Sink.
func (s *OTelSink) RecordRun(ctx context.Context, r *report.Report) error {
	if ctx == nil {
		return ErrNilContext
	}
	if r == nil {
		return ErrNilData
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("run.non_monotonic_clock", r.NonMonotonicClock),
		attribute.Int("run.failures", r.Failures()),
	))
	return nil
}

// Flush implements Sink. Export is driven by the meter provider's reader.
func (s *OTelSink) Flush(context.Context) error { return nil }

// Close implements Sink.
func (s *OTelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
