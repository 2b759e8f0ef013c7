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
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/benchkit/cmd/benchkit/config"
	"github.com/AleutianAI/benchkit/pkg/logging"
	"github.com/AleutianAI/benchkit/services/harness"
)

// cli holds state shared by every command of one invocation.
type cli struct {
	configPath string
	logLevel   string
	logDir     string
	logJSON    bool

	cfg      config.Config
	logger   *logging.Logger
	registry *harness.Registry
}

func newRootCmd() *cobra.Command {
	return newRootCmdFor(harness.DefaultRegistry)
}

// newRootCmdFor builds the command tree over reg.
func newRootCmdFor(reg *harness.Registry) *cobra.Command {
	c := &cli{registry: reg}

	root := &cobra.Command{
		Use:           "benchkit",
		Short:         "Run micro-benchmarks and compare their reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.logger == nil {
				return nil
			}
			return c.logger.Close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "config file (default ./"+config.DefaultFileName+" when present)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&c.logDir, "log-dir", "", "also write JSON logs to this directory")
	flags.BoolVar(&c.logJSON, "log-json", false, "write console logs as JSON")

	root.AddCommand(
		newListCmd(c),
		newRunCmd(c),
		newShowCmd(c),
		newHistoryCmd(c),
		newServeCmd(c),
		newInitCmd(c),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.logDir != "" {
		cfg.Logging.Dir = c.logDir
	}
	if c.logJSON {
		cfg.Logging.JSON = true
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "benchkit",
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(c.logger.Slog())
	return nil
}

func (c *cli) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger.Slog()
}

func newListCmd(c *cli) *cobra.Command {
	var include string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered benchmarks in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if include != "" {
				c.cfg.Include = include
			}
			re, err := c.cfg.IncludePattern()
			if err != nil {
				return err
			}
			return writeList(cmd.OutOrStdout(), c.registry.Filter(re))
		},
	}
	cmd.Flags().StringVar(&include, "include", "", "regular expression selecting benchmarks")
	return cmd
}

func writeList(w io.Writer, reg *harness.Registry) error {
	for _, def := range reg.ListBenchmarks() {
		if _, err := fmt.Fprintf(w, "%-28s %s\n", def.Name(), def.Mode()); err != nil {
			return err
		}
	}
	return nil
}

func newInitCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFileName
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			c.log().Info("config written", "path", path)
			return nil
		},
	}
}
