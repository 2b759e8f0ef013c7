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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/benchkit/services/harness/report"
)

// ErrInvalidConfig indicates an invalid sink configuration.
var ErrInvalidConfig = errors.New("invalid telemetry configuration")

// PrometheusConfig configures a PrometheusSink.
type PrometheusConfig struct {
	// Namespace prefixes every metric. Default: "benchkit".
	Namespace string

	// Subsystem follows the namespace. Default: "harness".
	Subsystem string

	// Registry receives the collectors. Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// MaxBenchmarks bounds the number of distinct benchmark label values.
	// Results for further benchmarks are dropped. Default: 1000.
	MaxBenchmarks int
}

// DefaultPrometheusConfig returns the default configuration.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace:     "benchkit",
		Subsystem:     "harness",
		MaxBenchmarks: 1000,
	}
}

// Validate checks required fields.
func (c *PrometheusConfig) Validate() error {
	if c.Namespace == "" {
		return errors.New("namespace is required")
	}
	if c.Subsystem == "" {
		return errors.New("subsystem is required")
	}
	return nil
}

// PrometheusSink exposes the latest score of each benchmark as gauges.
type PrometheusSink struct {
	registry   prometheus.Registerer
	collectors []prometheus.Collector

	score      *prometheus.GaugeVec
	scoreError *prometheus.GaugeVec
	samples    *prometheus.GaugeVec
	batchSize  *prometheus.GaugeVec
	failures   *prometheus.CounterVec
	lowRes     *prometheus.CounterVec
	runs       prometheus.Counter
	runResults *prometheus.GaugeVec

	mu      sync.RWMutex
	closed  bool
	seen    map[string]struct{}
	maxSeen int
}

// NewPrometheusSink creates and registers the collectors.
func NewPrometheusSink(config *PrometheusConfig) (*PrometheusSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	cfg := *config

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	maxSeen := cfg.MaxBenchmarks
	if maxSeen <= 0 {
		maxSeen = 1000
	}

	opts := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help}
	}

	s := &PrometheusSink{
		registry: registry,
		seen:     make(map[string]struct{}),
		maxSeen:  maxSeen,
	}
	s.score = prometheus.NewGaugeVec(opts("score", "Latest benchmark score in its reported unit"),
		[]string{"benchmark", "mode", "unit"})
	s.scoreError = prometheus.NewGaugeVec(opts("score_error", "Latest confidence interval half-width"),
		[]string{"benchmark", "mode", "unit"})
	s.samples = prometheus.NewGaugeVec(opts("samples", "Measurement samples in the latest run"),
		[]string{"benchmark"})
	s.batchSize = prometheus.NewGaugeVec(opts("batch_size", "Operations per timed iteration in the latest run"),
		[]string{"benchmark"})
	s.runResults = prometheus.NewGaugeVec(opts("run_benchmarks", "Benchmarks in the latest run by outcome"),
		[]string{"outcome"})
	s.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "failures_total", Help: "Benchmark failures by kind",
	}, []string{"benchmark", "kind"})
	s.lowRes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "low_resolution_total", Help: "Results with every sample at zero elapsed time",
	}, []string{"benchmark"})
	s.runs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "runs_total", Help: "Completed suite runs",
	})

	s.collectors = []prometheus.Collector{
		s.score, s.scoreError, s.samples, s.batchSize, s.runResults, s.failures, s.lowRes, s.runs,
	}
	for i, c := range s.collectors {
		if err := registry.Register(c); err != nil {
			for _, done := range s.collectors[:i] {
				registry.Unregister(done)
			}
			return nil, errors.Join(ErrInvalidConfig, err)
		}
	}
	return s, nil
}

// admit enforces the label cardinality bound.
func (s *PrometheusSink) admit(name string) bool {
	if _, ok := s.seen[name]; ok {
		return true
	}
	if len(s.seen) >= s.maxSeen {
		return false
	}
	s.seen[name] = struct{}{}
	return true
}

// RecordResult implements Sink.
func (s *PrometheusSink) RecordResult(ctx context.Context, _ string, res report.Result) error {
	if ctx == nil {
		return ErrNilContext
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if !s.admit(res.Name) {
		return nil
	}

	labels := prometheus.Labels{"benchmark": res.Name, "mode": string(res.Mode), "unit": res.Unit}
	if res.Score != nil {
		s.score.With(labels).Set(*res.Score)
	} else {
		s.score.Delete(labels)
	}
	if res.ScoreError != nil {
		s.scoreError.With(labels).Set(*res.ScoreError)
	} else {
		s.scoreError.Delete(labels)
	}
	s.samples.WithLabelValues(res.Name).Set(float64(res.Samples))
	s.batchSize.WithLabelValues(res.Name).Set(float64(res.BatchSize))
	if res.Failure != nil {
		s.failures.WithLabelValues(res.Name, failureLabel(res)).Inc()
	}
	if res.LowResolution {
		s.lowRes.WithLabelValues(res.Name).Inc()
	}
	return nil
}

// RecordRun implements Sink.
func (s *PrometheusSink) RecordRun(ctx context.Context, r *report.Report) error {
	if ctx == nil {
		return ErrNilContext
	}
	if r == nil {
		return ErrNilData
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	failed := r.Failures()
	s.runResults.WithLabelValues("ok").Set(float64(len(r.Benchmarks) - failed))
	s.runResults.WithLabelValues("failed").Set(float64(failed))
	s.runs.Inc()
	return nil
}

// Flush implements Sink. Prometheus is pull-based, so there is nothing to send.
func (s *PrometheusSink) Flush(context.Context) error { return nil }

// Close unregisters the collectors.
func (s *PrometheusSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, c := range s.collectors {
		s.registry.Unregister(c)
	}
	return nil
}
