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
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/AleutianAI/benchkit/services/harness/report"
)

// Output formats.
const (
	formatAuto  = "auto"
	formatTable = "table"
	formatJSON  = "json"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// terminalWidth returns the width of w, or zero when unknown.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// resolveFormat maps "auto" to table on a terminal and JSON otherwise.
func resolveFormat(format string, w io.Writer) (string, error) {
	switch strings.ToLower(format) {
	case "", formatAuto:
		if isTerminal(w) {
			return formatTable, nil
		}
		return formatJSON, nil
	case formatTable, formatJSON:
		return strings.ToLower(format), nil
	}
	return "", fmt.Errorf("unknown output format %q (want auto, table, or json)", format)
}

// renderReport writes rep to w in the requested format.
func renderReport(w io.Writer, rep *report.Report, format string) error {
	format, err := resolveFormat(format, w)
	if err != nil {
		return err
	}
	if format == formatJSON {
		data, err := report.Serialize(rep)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	f := report.NewConsoleFormatter(
		report.WithWidth(terminalWidth(w)),
		report.WithStyle(isTerminal(w)),
	)
	return f.Write(w, rep)
}
