// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probes_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/benchkit/services/harness"
	"github.com/AleutianAI/benchkit/services/harness/clock"
	"github.com/AleutianAI/benchkit/services/harness/engine"
	"github.com/AleutianAI/benchkit/services/harness/probes"
	"github.com/AleutianAI/benchkit/services/harness/report"
)

var probeNames = []string{
	probes.NameSqrt,
	probes.NameCos,
	probes.NameSHA256,
	probes.NameJSON,
	probes.NameMapInsert,
}

func TestDefaultRegistryHasProbes(t *testing.T) {
	for _, name := range probeNames {
		_, ok := harness.DefaultRegistry.Get(name)
		assert.True(t, ok, name)
	}
}

func TestRegister_FreshRegistry(t *testing.T) {
	reg := harness.NewRegistry()
	require.NoError(t, probes.Register(reg))
	assert.Equal(t, probeNames, reg.Names())

	err := probes.Register(reg)
	assert.ErrorIs(t, err, harness.ErrAlreadyRegistered)
}

func TestProbes_SetupMeasureTeardown(t *testing.T) {
	ctx := context.Background()
	for _, def := range probes.All() {
		t.Run(def.Name(), func(t *testing.T) {
			for _, h := range def.Setup() {
				require.NoError(t, h(ctx))
			}
			for i := 0; i < 3; i++ {
				require.NoError(t, def.Measure()())
			}
			for _, h := range def.Teardown() {
				require.NoError(t, h(ctx))
			}
		})
	}
}

func TestProbes_SqrtUsesSetupState(t *testing.T) {
	def := probes.All()[0]
	require.Equal(t, probes.NameSqrt, def.Name())
	for _, h := range def.Setup() {
		require.NoError(t, h(context.Background()))
	}
	require.NoError(t, def.Measure()())
	assert.InDelta(t, 1.7320508075688772, probes.Sink, 1e-12)
}

func TestProbes_RunThroughEngine(t *testing.T) {
	clk := clock.NewManual()
	clk.SetStep(time.Microsecond)
	reg := harness.NewRegistry()
	require.NoError(t, probes.Register(reg))

	r, err := engine.New(
		engine.WithClock(clk),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithWarmup(1),
		engine.WithIterations(3),
		engine.WithEnvironment(report.Environment{Clock: clk.Name()}),
	)
	require.NoError(t, err)

	rep, err := r.Run(context.Background(), reg)
	require.NoError(t, err)
	assert.Equal(t, probeNames, rep.Names())
	assert.Zero(t, rep.Failures())

	sha, ok := rep.Lookup(probes.NameSHA256)
	require.True(t, ok)
	assert.Equal(t, "ops/ns", sha.Unit)
	assert.Equal(t, "4096", sha.Params["blockSize"])
}
