// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command benchkit runs micro-benchmark suites and browses their reports.
//
// Usage:
//
//	benchkit list
//	benchkit run --iterations 20 --unit us --out report.json
//	benchkit run --archive ~/.benchkit/archive --watch
//	benchkit show report.json
//	benchkit history --archive ~/.benchkit/archive
//	benchkit serve --archive ~/.benchkit/archive --interval 15m
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/AleutianAI/benchkit/services/harness/probes"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
