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
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/benchkit/services/harness/report"
)

// pointWriter is the subset of api.WriteAPIBlocking used by InfluxSink.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxConfig configures an InfluxSink.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// Validate checks required fields.
func (c InfluxConfig) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("influx url is required"))
	}
	if c.Org == "" {
		errs = append(errs, errors.New("influx org is required"))
	}
	if c.Bucket == "" {
		errs = append(errs, errors.New("influx bucket is required"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

// InfluxSink writes one point per benchmark result so scores can be
// compared across runs as a time series. Points are buffered per run and
// written when RecordRun or Flush is called.
type InfluxSink struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string

	mu      sync.Mutex
	pending []*write.Point
	closed  bool
}

// NewInfluxSink connects a blocking write API.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return newInfluxSink(client, client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement), nil
}

func newInfluxSink(client influxdb2.Client, w pointWriter, measurement string) *InfluxSink {
	if measurement == "" {
		measurement = "benchmark"
	}
	return &InfluxSink{client: client, writer: w, measurement: measurement}
}

// RecordResult implements Sink.
func (s *InfluxSink) RecordResult(ctx context.Context, runID string, res report.Result) error {
	if ctx == nil {
		return ErrNilContext
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.pending = append(s.pending, s.point(runID, res, time.Now()))
	return nil
}

// point converts a result. Undefined scores are omitted from the fields
// rather than written as zero.
func (s *InfluxSink) point(runID string, res report.Result, ts time.Time) *write.Point {
	tags := map[string]string{
		"benchmark": res.Name,
		"mode":      string(res.Mode),
		"unit":      res.Unit,
		"run_id":    runID,
		"failure":   failureLabel(res),
	}
	fields := map[string]interface{}{
		"samples":        res.Samples,
		"batch_size":     res.BatchSize,
		"low_resolution": res.LowResolution,
	}
	if res.Score != nil {
		fields["score"] = *res.Score
	}
	if res.ScoreError != nil {
		fields["score_error"] = *res.ScoreError
	}
	return influxdb2.NewPoint(s.measurement, tags, fields, ts)
}

// RecordRun restamps buffered points with the report creation time and
// writes them.
func (s *InfluxSink) RecordRun(ctx context.Context, r *report.Report) error {
	if ctx == nil {
		return ErrNilContext
	}
	if r == nil {
		return ErrNilData
	}
	ts := time.UnixMilli(r.CreatedAt)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	for _, p := range s.pending {
		p.SetTime(ts)
	}
	s.mu.Unlock()
	return s.Flush(ctx)
}

// Flush writes buffered points. On failure the points stay buffered.
func (s *InfluxSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	points := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(points) == 0 {
		return nil
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		s.mu.Lock()
		s.pending = append(points, s.pending...)
		s.mu.Unlock()
		return fmt.Errorf("influx write %d points: %w", len(points), err)
	}
	return nil
}

// Close flushes and closes the client.
func (s *InfluxSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Flush(ctx)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.client != nil {
		s.client.Close()
	}
	return err
}

// Pending returns the number of buffered points.
func (s *InfluxSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
