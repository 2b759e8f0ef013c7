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
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/benchkit/services/harness"
	"github.com/AleutianAI/benchkit/services/harness/probes"
	"github.com/AleutianAI/benchkit/services/harness/report"
)

func execute(t *testing.T, reg *harness.Registry, args ...string) (string, error) {
	t.Helper()
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	t.Setenv("OTEL_TRACES_EXPORTER", "none")

	root := newRootCmdFor(reg)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func probeRegistry(t *testing.T) *harness.Registry {
	t.Helper()
	reg := harness.NewRegistry()
	require.NoError(t, probes.Register(reg))
	return reg
}

func TestList(t *testing.T) {
	out, err := execute(t, probeRegistry(t), "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], probes.NameSqrt))

	out, err = execute(t, probeRegistry(t), "list", "--include", `^math\.`)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)
}

func TestRun_PersistAndBrowse(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "out", "report.json")
	archive := filepath.Join(dir, "archive")

	out, err := execute(t, probeRegistry(t), "run",
		"--warmup", "0",
		"--iterations", "3",
		"--include", `^math\.sqrt$`,
		"--unit", "ns",
		"--format", "json",
		"--out", file,
		"--archive", archive,
	)
	require.NoError(t, err)

	rep, err := report.Deserialize([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, []string{probes.NameSqrt}, rep.Names())
	assert.Equal(t, 3, rep.Settings.Measurement)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	saved, err := report.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, saved.RunID)
	assert.Equal(t, string(data), out, "json output is exactly the canonical encoding")

	out, err = execute(t, probeRegistry(t), "history", "--archive", archive)
	require.NoError(t, err)
	assert.Contains(t, out, rep.RunID)

	out, err = execute(t, probeRegistry(t), "show", file, "--format", "json")
	require.NoError(t, err)
	shown, err := report.Deserialize([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, shown.RunID)
	assert.Equal(t, string(data), out)

	out, err = execute(t, probeRegistry(t), "show", rep.RunID, "--archive", archive, "--format", "table")
	require.NoError(t, err)
	assert.Contains(t, out, probes.NameSqrt)
	assert.Contains(t, out, rep.RunID)
}

func TestRun_FailOnError(t *testing.T) {
	reg := harness.NewRegistry()
	require.NoError(t, reg.Register(harness.MustDefinition("broken", harness.ModeAverageTime,
		func() error { return errors.New("nope") })))

	out, err := execute(t, reg, "run", "--warmup", "0", "--iterations", "1", "--format", "json")
	require.NoError(t, err)
	rep, err := report.Deserialize([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failures())

	_, err = execute(t, reg, "run", "--warmup", "0", "--iterations", "1", "--format", "json", "--fail-on-error")
	assert.ErrorIs(t, err, ErrBenchmarksFailed)
}

func TestRun_InvalidFlags(t *testing.T) {
	tests := [][]string{
		{"run", "--iterations", "0"},
		{"run", "--confidence", "1.5"},
		{"run", "--mode", "sometimes"},
		{"run", "--format", "yaml"},
		{"run", "--include", "^nothing$"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args[1:], " "), func(t *testing.T) {
			_, err := execute(t, probeRegistry(t), args...)
			assert.Error(t, err)
		})
	}
}

func TestRun_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
warmupIterations: 0
measurementIterations: 2
mode: singleshot
timeUnit: us
include: "^map\\."
`), 0o644))

	out, err := execute(t, probeRegistry(t), "--config", path, "run", "--format", "json")
	require.NoError(t, err)
	rep, err := report.Deserialize([]byte(out))
	require.NoError(t, err)
	require.Equal(t, []string{probes.NameMapInsert}, rep.Names())
	res := rep.Benchmarks[0]
	assert.Equal(t, harness.ModeSingleShot, res.Mode)
	assert.Equal(t, "us/op", res.Unit)
	assert.Equal(t, 1, res.Samples)
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchkit.yaml")
	_, err := execute(t, probeRegistry(t), "init", path)
	require.NoError(t, err)

	out, err := execute(t, probeRegistry(t), "--config", path, "list")
	require.NoError(t, err)
	assert.Contains(t, out, probes.NameSqrt)
}

func TestHistory_NoArchive(t *testing.T) {
	_, err := execute(t, probeRegistry(t), "history")
	assert.Error(t, err)
}
