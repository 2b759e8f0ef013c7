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
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/benchkit/services/harness/api"
	"github.com/AleutianAI/benchkit/services/harness/persist"
	"github.com/AleutianAI/benchkit/services/harness/report"
	"github.com/AleutianAI/benchkit/services/harness/telemetry"
)

func newShowCmd(c *cli) *cobra.Command {
	var (
		format  string
		archive string
	)
	cmd := &cobra.Command{
		Use:   "show <file|run-id>",
		Short: "Render a saved report",
		Long: `Render a report file, or a report from the archive when --archive is
given. Output is a table on a terminal and JSON otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if archive == "" {
				archive = c.cfg.Archive
			}
			rep, err := c.loadReport(cmd.Context(), args[0], archive)
			if err != nil {
				return err
			}
			return renderReport(cmd.OutOrStdout(), rep, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatAuto, "output format: auto, table, json")
	cmd.Flags().StringVar(&archive, "archive", "", "look the run ID up in this archive")
	return cmd
}

// loadReport reads ref as a file, or as a run ID when an archive is given
// and no such file exists.
func (c *cli) loadReport(ctx context.Context, ref, archiveDir string) (*report.Report, error) {
	data, err := os.ReadFile(ref)
	if err == nil {
		return report.Deserialize(data)
	}
	if archiveDir == "" || !os.IsNotExist(err) {
		return nil, fmt.Errorf("read report: %w", err)
	}

	archive, err := openArchive(archiveDir, c.log())
	if err != nil {
		return nil, err
	}
	defer archive.Close()
	return archive.Get(ctx, ref)
}

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		archiveDir string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if archiveDir == "" {
				archiveDir = c.cfg.Archive
			}
			if archiveDir == "" {
				return fmt.Errorf("no archive configured: pass --archive or set archive in the config")
			}
			archive, err := openArchive(archiveDir, c.log())
			if err != nil {
				return err
			}
			defer archive.Close()

			entries, err := archive.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeHistory(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&archiveDir, "archive", "", "badger archive directory")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list (0 for all)")
	return cmd
}

func writeHistory(w io.Writer, entries []persist.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tCREATED\tBENCHMARKS\tFAILURES")
	for _, e := range entries {
		created := time.UnixMilli(e.CreatedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", e.RunID, created, e.Benchmarks, e.Failures)
	}
	return tw.Flush()
}

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr       string
		archiveDir string
		interval   time.Duration
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve archived reports and metrics over HTTP",
		Long: `Serve the report archive read-only over HTTP. With --interval the suite
is also run periodically; each run is archived and its scores are exported
on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			var wg sync.WaitGroup

			cfg := c.cfg
			if addr != "" {
				cfg.Serve.Addr = addr
			}
			if archiveDir != "" {
				cfg.Archive = archiveDir
			}
			if cfg.Archive == "" {
				return fmt.Errorf("no archive configured: pass --archive or set archive in the config")
			}

			shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

			archive, err := openArchive(cfg.Archive, c.log())
			if err != nil {
				return err
			}
			defer archive.Close()

			if interval > 0 {
				promCfg := telemetry.DefaultPrometheusConfig()
				promCfg.Registry = prometheus.DefaultRegisterer
				promSink, err := telemetry.NewPrometheusSink(promCfg)
				if err != nil {
					return err
				}
				sink, err := buildSinks(cfg, promSink)
				if err != nil {
					return err
				}
				defer sink.Close()

				s := &suite{cfg: cfg, logger: c.log(), registry: c.registry, sink: sink, archive: archive}
				wg.Add(1)
				go func() {
					defer wg.Done()
					c.runEvery(ctx, s, interval)
				}()
			}

			router := api.NewRouter(api.RouterConfig{
				ServiceName: cfg.Telemetry.ServiceName,
				Metrics:     telemetry.MetricsHandler(),
				Debug:       debug,
			}, api.NewHandlers(archive, c.log()))
			err = api.Serve(ctx, cfg.Serve.Addr, router, c.log())
			cancel()
			wg.Wait()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&archiveDir, "archive", "", "badger archive directory")
	cmd.Flags().DurationVar(&interval, "interval", 0, "also run the suite at this interval (0 disables)")
	cmd.Flags().BoolVar(&debug, "debug", false, "log every request")
	return cmd
}

// runEvery runs s immediately and then once per interval until ctx ends.
func (c *cli) runEvery(ctx context.Context, s *suite, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if rep, err := s.run(ctx); err != nil {
			c.log().Warn("scheduled run failed", "error", err)
		} else {
			c.log().Info("scheduled run complete", "run_id", rep.RunID, "failures", rep.Failures())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
