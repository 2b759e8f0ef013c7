// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/benchkit/cmd/benchkit/config"
	"github.com/AleutianAI/benchkit/services/harness"
	"github.com/AleutianAI/benchkit/services/harness/clock"
	"github.com/AleutianAI/benchkit/services/harness/engine"
	"github.com/AleutianAI/benchkit/services/harness/persist"
	"github.com/AleutianAI/benchkit/services/harness/report"
	"github.com/AleutianAI/benchkit/services/harness/telemetry"
)

// persistConcurrency bounds parallel uploads to report destinations.
const persistConcurrency = 4

// suite runs the registered benchmarks with one configuration and stores
// the resulting report.
type suite struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *harness.Registry
	sink     telemetry.Sink
	archive  *persist.Archive
}

// run executes the suite and persists the report. The report is returned
// even when the run was cancelled or persistence failed.
func (s *suite) run(ctx context.Context) (*report.Report, error) {
	runner, err := s.runner()
	if err != nil {
		return nil, err
	}
	include, err := s.cfg.IncludePattern()
	if err != nil {
		return nil, err
	}
	src := s.registry.Filter(include)
	if src.Count() == 0 {
		return nil, fmt.Errorf("no benchmarks match %q", s.cfg.Include)
	}

	rep, runErr := runner.Run(ctx, src)
	if rep == nil {
		return nil, runErr
	}
	persistErr := s.persist(context.WithoutCancel(ctx), rep)
	return rep, errors.Join(runErr, persistErr)
}

func (s *suite) runner() (*engine.Runner, error) {
	opts, err := s.cfg.EngineOptions()
	if err != nil {
		return nil, err
	}
	kind, err := clock.ParseKind(s.cfg.Clock)
	if err != nil {
		return nil, err
	}
	clk, err := clock.Detect(kind)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		engine.WithClock(clk),
		engine.WithLogger(s.logger),
	)
	if s.sink != nil {
		opts = append(opts, engine.WithSink(s.sink))
	}
	return engine.New(opts...)
}

// destinations lists every place the report goes.
func (s *suite) destinations() []string {
	var dests []string
	if s.cfg.HasDestination() {
		for _, d := range strings.Split(s.cfg.ReportDestination, persist.DestSeparator) {
			if d = strings.TrimSpace(d); d != "" {
				dests = append(dests, d)
			}
		}
	}
	if s.archive != nil {
		dests = append(dests, "archive:")
	}
	return dests
}

func (s *suite) persist(ctx context.Context, rep *report.Report) error {
	dests := s.destinations()
	if len(dests) == 0 {
		return nil
	}

	router := persist.NewRouter()
	if s.archive != nil {
		router.Handle("archive", s.archive)
	}
	gcs := &lazyGCS{cfg: persist.GCSConfig{CredentialsFile: s.cfg.GCS.CredentialsFile}}
	defer gcs.Close()
	router.Handle("gs", gcs)

	dest := persist.JoinDests(dests...)
	if err := report.Persist(ctx, persist.NewMulti(router, persistConcurrency), dest, rep); err != nil {
		return fmt.Errorf("persist report: %w", err)
	}
	s.logger.Info("report written", "run_id", rep.RunID, "destinations", dest)
	return nil
}

// lazyGCS creates the storage client on first use so runs without gs://
// destinations never need cloud credentials.
type lazyGCS struct {
	cfg  persist.GCSConfig
	once sync.Once
	w    *persist.GCSWriter
	err  error
}

func (l *lazyGCS) Write(ctx context.Context, dest string, data []byte) error {
	l.once.Do(func() {
		l.w, l.err = persist.NewGCSWriter(ctx, l.cfg)
	})
	if l.err != nil {
		return l.err
	}
	return l.w.Write(ctx, dest, data)
}

func (l *lazyGCS) Close() error {
	if l.w == nil {
		return nil
	}
	return l.w.Close()
}

// buildSinks assembles the telemetry sinks selected by the configuration.
// The OpenTelemetry sink is always present; it records into the global
// meter provider, which is a no-op unless a metric exporter is active.
func buildSinks(cfg config.Config, extra ...telemetry.Sink) (telemetry.Sink, error) {
	otelSink, err := telemetry.NewOTelSink(telemetry.OTelConfig{ServiceVersion: cfg.Telemetry.ServiceVersion})
	if err != nil {
		return nil, err
	}
	sinks := append([]telemetry.Sink{otelSink}, extra...)

	if cfg.Influx != nil {
		influx, err := telemetry.NewInfluxSink(cfg.Influx.InfluxSinkConfig())
		if err != nil {
			_ = otelSink.Close()
			return nil, err
		}
		sinks = append(sinks, influx)
	}
	return telemetry.NewCompositeSink(sinks...)
}
