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
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/benchkit/services/harness"
	"github.com/AleutianAI/benchkit/services/harness/report"
)

func okResult(name string, score float64) report.Result {
	return report.Result{
		Name:       name,
		Mode:       harness.ModeThroughput,
		Unit:       "ops/us",
		Score:      report.Float(score),
		ScoreError: report.Float(0.5),
		Samples:    10,
		BatchSize:  64,
	}
}

func failedResult(name string) report.Result {
	return report.Result{
		Name:      name,
		Mode:      harness.ModeAverageTime,
		Unit:      "ns/op",
		BatchSize: 1,
		Failure:   &report.Failure{Kind: harness.FailureSetup, Message: "boom"},
	}
}

func testRun() *report.Report {
	r := report.New("run-1", 1760000000000, 0.99)
	_ = r.Append(okResult("a", 10))
	_ = r.Append(failedResult("b"))
	r.Freeze()
	return r
}

// -----------------------------------------------------------------------------
// Composite and NoOp
// -----------------------------------------------------------------------------

type countingSink struct {
	mu      sync.Mutex
	results int
	runs    int
	err     error
	closed  bool
}

func (c *countingSink) RecordResult(context.Context, string, report.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results++
	return c.err
}

func (c *countingSink) RecordRun(context.Context, *report.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	return c.err
}

func (c *countingSink) Flush(context.Context) error { return c.err }

func (c *countingSink) Close() error {
	c.closed = true
	return nil
}

func TestCompositeSink(t *testing.T) {
	_, err := NewCompositeSink()
	assert.ErrorIs(t, err, ErrNoSinks)
	_, err = NewCompositeSink(nil, nil)
	assert.ErrorIs(t, err, ErrNoSinks)

	good := &countingSink{}
	bad := &countingSink{err: errors.New("export failed")}
	c, err := NewCompositeSink(good, nil, bad)
	require.NoError(t, err)

	ctx := context.Background()
	err = c.RecordResult(ctx, "run", okResult("a", 1))
	assert.ErrorContains(t, err, "export failed")
	assert.Equal(t, 1, good.results)
	assert.Equal(t, 1, bad.results)

	assert.Error(t, c.RecordRun(ctx, testRun()))
	assert.ErrorIs(t, c.RecordRun(ctx, nil), ErrNilData)
	assert.Error(t, c.Flush(ctx))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, good.closed)
	assert.ErrorIs(t, c.RecordResult(ctx, "run", okResult("a", 1)), ErrSinkClosed)
}

func TestNoOpSink(t *testing.T) {
	var s Sink = NoOpSink{}
	ctx := context.Background()
	assert.NoError(t, s.RecordResult(ctx, "r", okResult("a", 1)))
	assert.NoError(t, s.RecordRun(ctx, testRun()))
	assert.NoError(t, s.Flush(ctx))
	assert.NoError(t, s.Close())
}

// -----------------------------------------------------------------------------
// Prometheus
// -----------------------------------------------------------------------------

func newTestPrometheusSink(t *testing.T, maxBench int) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := DefaultPrometheusConfig()
	cfg.Registry = reg
	cfg.MaxBenchmarks = maxBench
	s, err := NewPrometheusSink(cfg)
	require.NoError(t, err)
	return s, reg
}

func TestPrometheusSink_RecordResult(t *testing.T) {
	s, reg := newTestPrometheusSink(t, 0)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.RecordResult(ctx, "run", okResult("a", 12.5)))
	require.NoError(t, s.RecordResult(ctx, "run", failedResult("b")))

	assert.Equal(t, 12.5, testutil.ToFloat64(s.score.WithLabelValues("a", "throughput", "ops/us")))
	assert.Equal(t, 0.5, testutil.ToFloat64(s.scoreError.WithLabelValues("a", "throughput", "ops/us")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.failures.WithLabelValues("b", "setup")))
	assert.Equal(t, 64.0, testutil.ToFloat64(s.batchSize.WithLabelValues("a")))

	require.NoError(t, s.RecordRun(ctx, testRun()))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.runs))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.runResults.WithLabelValues("failed")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["benchkit_harness_score"])
	assert.True(t, names["benchkit_harness_failures_total"])
	assert.True(t, names["benchkit_harness_runs_total"])
}

func TestPrometheusSink_Cardinality(t *testing.T) {
	s, _ := newTestPrometheusSink(t, 1)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.RecordResult(ctx, "run", okResult("a", 1)))
	require.NoError(t, s.RecordResult(ctx, "run", okResult("b", 2)))
	assert.Equal(t, 1, testutil.CollectAndCount(s.score))
}

func TestPrometheusSink_Lifecycle(t *testing.T) {
	_, err := NewPrometheusSink(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPrometheusSink(&PrometheusConfig{Subsystem: "x"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	reg := prometheus.NewRegistry()
	cfg := DefaultPrometheusConfig()
	cfg.Registry = reg
	s, err := NewPrometheusSink(cfg)
	require.NoError(t, err)

	_, err = NewPrometheusSink(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig, "duplicate registration")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.RecordResult(context.Background(), "r", okResult("a", 1)), ErrSinkClosed)

	again, err := NewPrometheusSink(cfg)
	require.NoError(t, err, "collectors are unregistered on close")
	_ = again.Close()
}

// -----------------------------------------------------------------------------
// OpenTelemetry
// -----------------------------------------------------------------------------

func TestOTelSink(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	s, err := NewOTelSink(OTelConfig{ServiceVersion: "test", MeterProvider: mp})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.RecordResult(ctx, "run", okResult("a", 3)))
	require.NoError(t, s.RecordResult(ctx, "run", failedResult("b")))
	require.NoError(t, s.RecordRun(ctx, testRun()))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	for _, want := range []string{"benchkit.score", "benchkit.failures", "benchkit.runs", "benchkit.samples", "benchkit.results"} {
		assert.True(t, names[want], "missing metric %s", want)
	}

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.RecordRun(ctx, testRun()), ErrSinkClosed)
}

// -----------------------------------------------------------------------------
// InfluxDB
// -----------------------------------------------------------------------------

type fakePointWriter struct {
	mu     sync.Mutex
	points []*write.Point
	err    error
}

func (f *fakePointWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points...)
	return nil
}

func TestInfluxSink(t *testing.T) {
	fw := &fakePointWriter{}
	s := newInfluxSink(nil, fw, "")
	ctx := context.Background()

	require.NoError(t, s.RecordResult(ctx, "run-1", okResult("a", 7)))
	require.NoError(t, s.RecordResult(ctx, "run-1", failedResult("b")))
	assert.Equal(t, 2, s.Pending())

	run := testRun()
	require.NoError(t, s.RecordRun(ctx, run))
	assert.Equal(t, 0, s.Pending())
	require.Len(t, fw.points, 2)

	p := fw.points[0]
	assert.Equal(t, "benchmark", p.Name())
	assert.True(t, p.Time().Equal(time.UnixMilli(run.CreatedAt)))

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 7.0, fields["score"])

	failedFields := map[string]any{}
	for _, f := range fw.points[1].FieldList() {
		failedFields[f.Key] = f.Value
	}
	assert.NotContains(t, failedFields, "score")

	tags := map[string]string{}
	for _, tag := range fw.points[1].TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, "setup", tags["failure"])
	assert.Equal(t, "run-1", tags["run_id"])

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.RecordResult(ctx, "run-1", okResult("a", 1)), ErrSinkClosed)
}

func TestInfluxSink_FlushFailureKeepsPoints(t *testing.T) {
	fw := &fakePointWriter{err: errors.New("influx down")}
	s := newInfluxSink(nil, fw, "bench")
	ctx := context.Background()

	require.NoError(t, s.RecordResult(ctx, "run", okResult("a", 1)))
	assert.Error(t, s.Flush(ctx))
	assert.Equal(t, 1, s.Pending())

	fw.err = nil
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, "bench", fw.points[0].Name())
}

func TestInfluxConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, InfluxConfig{}.Validate(), ErrInvalidConfig)
	assert.NoError(t, InfluxConfig{URL: "http://localhost:8086", Org: "o", Bucket: "b"}.Validate())
	_, err := NewInfluxSink(InfluxConfig{URL: "http://localhost:8086"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// -----------------------------------------------------------------------------
// Init
// -----------------------------------------------------------------------------

func TestInit(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "none"
		cfg.MetricExporter = "none"
		shutdown, err := Init(context.Background(), cfg)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("stdout", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "stdout"
		cfg.MetricExporter = "none"
		shutdown, err := Init(context.Background(), cfg)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("stdout metrics clears scrape handler", func(t *testing.T) {
		setMetricsHandler(http.NotFoundHandler())
		cfg := DefaultConfig()
		cfg.TraceExporter = "none"
		cfg.MetricExporter = "stdout"
		shutdown, err := Init(context.Background(), cfg)
		require.NoError(t, err)
		assert.Nil(t, MetricsHandler())
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("invalid metric exporter starts nothing", func(t *testing.T) {
		setMetricsHandler(nil)
		cfg := DefaultConfig()
		cfg.TraceExporter = "stdout"
		cfg.MetricExporter = "statsd"
		before := otel.GetTracerProvider()
		_, err := Init(context.Background(), cfg)
		assert.ErrorIs(t, err, ErrUnknownExporter)
		assert.Same(t, before, otel.GetTracerProvider())
	})

	t.Run("unknown exporter", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "zipkin"
		_, err := Init(context.Background(), cfg)
		assert.ErrorIs(t, err, ErrUnknownExporter)

		cfg.TraceExporter = "none"
		cfg.MetricExporter = "statsd"
		_, err = Init(context.Background(), cfg)
		assert.ErrorIs(t, err, ErrUnknownExporter)
	})
}
