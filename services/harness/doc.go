// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package harness defines the building blocks of a benchkit suite.
//
// # Overview
//
// A benchmark is described by a Definition: a qualified name, a Mode, an
// ordered list of setup hooks, one measured Operation, and an ordered list
// of teardown hooks. Definitions are immutable once built and are handed
// to the execution engine through a Registry, whose insertion order is the
// order benchmarks run in and the order they appear in the report.
//
// # Lifecycle
//
// Every benchmark moves through the states
//
//	Created -> SettingUp -> Ready -> Measuring -> TearingDown -> Done
//
// with Errored reachable from SettingUp, Measuring, and TearingDown.
// Lifecycle enforces these transitions. Failures are described by a
// LifecycleError whose FailureKind places the failure in the taxonomy
// (setup, teardown, measurement, clock, cancelled).
//
// # Registration
//
//	func init() {
//	    harness.MustRegister(harness.NewDefinition(
//	        "math.Sqrt", harness.ModeThroughput, measure,
//	        harness.WithSetup(fill),
//	    ))
//	}
//
// Thread Safety: Registry is safe for concurrent use. Definitions are
// immutable and may be shared freely.
package harness
