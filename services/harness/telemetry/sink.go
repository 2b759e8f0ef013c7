// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exports benchmark outcomes to monitoring systems.
//
// Sinks receive every Result as the engine finishes it and the whole Report
// at the end of the run. Implementations exist for Prometheus,
// OpenTelemetry metrics, and InfluxDB; CompositeSink fans out to several.
// Init configures the global OpenTelemetry providers used by the engine's
// spans and by OTelSink.
//
// Sinks never influence measurement: the engine calls them between
// benchmarks, outside any timed region, and only logs their errors.
package telemetry

import (
	"context"
	"errors"
	"sync"

	"github.com/AleutianAI/benchkit/services/harness/report"
)

var (
	// ErrNilContext indicates a nil context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilData indicates a nil report was passed.
	ErrNilData = errors.New("data must not be nil")

	// ErrSinkClosed indicates the sink has been closed.
	ErrSinkClosed = errors.New("sink has been closed")

	// ErrNoSinks indicates a composite was built without sinks.
	ErrNoSinks = errors.New("at least one sink is required")

	// ErrUnknownExporter indicates an unsupported exporter name.
	ErrUnknownExporter = errors.New("unknown exporter")
)

// Sink receives benchmark outcomes.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Sink interface {
	// RecordResult is called once per benchmark, in execution order.
	RecordResult(ctx context.Context, runID string, res report.Result) error

	// RecordRun is called once with the frozen report.
	RecordRun(ctx context.Context, r *report.Report) error

	// Flush sends any buffered data.
	Flush(ctx context.Context) error

	// Close releases resources. Further records return ErrSinkClosed.
	Close() error
}

// NoOpSink discards everything.
type NoOpSink struct{}

func (NoOpSink) RecordResult(context.Context, string, report.Result) error { return nil }
func (NoOpSink) RecordRun(context.Context, *report.Report) error           { return nil }
func (NoOpSink) Flush(context.Context) error                               { return nil }
func (NoOpSink) Close() error                                              { return nil }

// CompositeSink forwards to several sinks, joining their errors.
type CompositeSink struct {
	sinks  []Sink
	mu     sync.RWMutex
	closed bool
}

// NewCompositeSink builds a composite from the non-nil sinks given.
func NewCompositeSink(sinks ...Sink) (*CompositeSink, error) {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoSinks
	}
	return &CompositeSink{sinks: valid}, nil
}

func (c *CompositeSink) snapshot() ([]Sink, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrSinkClosed
	}
	return c.sinks, nil
}

// RecordResult implements Sink.
func (c *CompositeSink) RecordResult(ctx context.Context, runID string, res report.Result) error {
	if ctx == nil {
		return ErrNilContext
	}
	sinks, err := c.snapshot()
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range sinks {
		if err := s.RecordResult(ctx, runID, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordRun implements Sink.
func (c *CompositeSink) RecordRun(ctx context.Context, r *report.Report) error {
	if ctx == nil {
		return ErrNilContext
	}
	if r == nil {
		return ErrNilData
	}
	sinks, err := c.snapshot()
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range sinks {
		if err := s.RecordRun(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush implements Sink.
func (c *CompositeSink) Flush(ctx context.Context) error {
	sinks, err := c.snapshot()
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range sinks {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink. Safe to call twice.
func (c *CompositeSink) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sinks := c.sinks
	c.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// failureLabel returns the failure kind or "none".
func failureLabel(res report.Result) string {
	if res.Failure == nil {
		return "none"
	}
	return string(res.Failure.Kind)
}
