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
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/benchkit/cmd/benchkit/config"
	"github.com/AleutianAI/benchkit/services/harness/persist"
	"github.com/AleutianAI/benchkit/services/harness/telemetry"
)

// ErrBenchmarksFailed is returned by run --fail-on-error when any benchmark
// failed.
var ErrBenchmarksFailed = errors.New("benchmarks failed")

type runFlags struct {
	warmup      int
	iterations  int
	batch       int64
	maxBatch    int64
	mode        string
	budget      time.Duration
	confidence  float64
	unit        string
	raw         bool
	percentiles []float64
	include     string
	out         string
	archive     string
	clock       string
	format      string
	watch       bool
	failOnError bool
}

func newRunCmd(c *cli) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark suite and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runSuite(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&f.warmup, "warmup", 0, "warmup iterations per benchmark")
	fl.IntVarP(&f.iterations, "iterations", "i", 0, "measurement iterations per benchmark")
	fl.Int64VarP(&f.batch, "batch", "b", 0, "operations per timed iteration")
	fl.Int64Var(&f.maxBatch, "max-batch", 0, "batch size cap when growing under a time budget")
	fl.StringVarP(&f.mode, "mode", "m", "", "override mode: throughput, avgtime, singleshot")
	fl.DurationVar(&f.budget, "budget", 0, "per-iteration time budget (0 disables)")
	fl.Float64Var(&f.confidence, "confidence", 0, "confidence level of the error margin, in (0,1)")
	fl.StringVarP(&f.unit, "unit", "u", "", "time unit: ns, us, ms, s")
	fl.BoolVar(&f.raw, "raw", false, "include per-iteration raw data in the report")
	fl.Float64SliceVar(&f.percentiles, "percentiles", nil, "percentiles to report, e.g. 50,90,99")
	fl.StringVar(&f.include, "include", "", "regular expression selecting benchmarks")
	fl.StringVarP(&f.out, "out", "o", "", "report destinations, comma separated (path, file://, gs://)")
	fl.StringVar(&f.archive, "archive", "", "badger directory to archive the report in")
	fl.StringVar(&f.clock, "clock", "", "timer: auto, raw, monotonic, wall")
	fl.StringVar(&f.format, "format", formatAuto, "output format: auto, table, json")
	fl.BoolVarP(&f.watch, "watch", "w", false, "re-run whenever the config file changes")
	fl.BoolVar(&f.failOnError, "fail-on-error", false, "exit non-zero when any benchmark failed")
	return cmd
}

// apply overlays explicitly set flags on cfg.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("warmup") {
		cfg.WarmupIterations = f.warmup
	}
	if fl.Changed("iterations") {
		cfg.MeasurementIterations = f.iterations
	}
	if fl.Changed("batch") {
		cfg.BatchSize = f.batch
	}
	if fl.Changed("max-batch") {
		cfg.MaxBatchSize = f.maxBatch
	}
	if fl.Changed("mode") {
		cfg.Mode = f.mode
	}
	if fl.Changed("budget") {
		cfg.TimeBudgetPerIteration = config.Duration(f.budget)
	}
	if fl.Changed("confidence") {
		cfg.ConfidenceLevel = f.confidence
	}
	if fl.Changed("unit") {
		cfg.TimeUnit = f.unit
	}
	if fl.Changed("raw") {
		cfg.RawData = f.raw
	}
	if fl.Changed("percentiles") {
		cfg.Percentiles = f.percentiles
	}
	if fl.Changed("include") {
		cfg.Include = f.include
	}
	if fl.Changed("out") {
		cfg.ReportDestination = f.out
	}
	if fl.Changed("archive") {
		cfg.Archive = f.archive
	}
	if fl.Changed("clock") {
		cfg.Clock = f.clock
	}
	return cfg.Validate()
}

func (c *cli) runSuite(cmd *cobra.Command, f *runFlags) error {
	ctx := cmd.Context()
	cfg := c.cfg
	if err := f.apply(cmd, &cfg); err != nil {
		return err
	}
	if _, err := resolveFormat(f.format, cmd.OutOrStdout()); err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	sink, err := buildSinks(cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	var archive *persist.Archive
	if cfg.Archive != "" {
		archive, err = openArchive(cfg.Archive, c.log())
		if err != nil {
			return err
		}
		defer archive.Close()
	}

	s := &suite{cfg: cfg, logger: c.log(), registry: c.registry, sink: sink, archive: archive}
	if err := c.runOnce(ctx, cmd.OutOrStdout(), s, f); err != nil || !f.watch {
		return err
	}

	path := c.configPath
	if path == "" {
		path = config.DefaultFileName
	}
	w, err := config.NewWatcher(path, config.WatchOptions{Logger: c.log()})
	if err != nil {
		return err
	}
	c.log().Info("watching config", "path", path)
	return w.Run(ctx, func(next config.Config) {
		if err := f.apply(cmd, &next); err != nil {
			c.log().Warn("config reload rejected", "error", err)
			return
		}
		s.cfg = next
		if err := c.runOnce(ctx, cmd.OutOrStdout(), s, f); err != nil {
			c.log().Warn("run failed", "error", err)
		}
	})
}

func (c *cli) runOnce(ctx context.Context, out io.Writer, s *suite, f *runFlags) error {
	rep, err := s.run(ctx)
	if rep != nil {
		if rerr := renderReport(out, rep, f.format); rerr != nil {
			return errors.Join(err, rerr)
		}
	}
	if err != nil {
		return err
	}
	if f.failOnError && rep.Failures() > 0 {
		return fmt.Errorf("%w: %d of %d", ErrBenchmarksFailed, rep.Failures(), len(rep.Benchmarks))
	}
	return nil
}

func openArchive(dir string, logger *slog.Logger) (*persist.Archive, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	cfg := persist.DefaultArchiveConfig(abs)
	cfg.Logger = logger.With("component", "archive")
	archive, err := persist.OpenArchive(cfg)
	if err != nil {
		logger.Warn("open archive failed", "path", abs, "error", err)
		return nil, fmt.Errorf("open archive %s: %w", abs, err)
	}
	return archive, nil
}
