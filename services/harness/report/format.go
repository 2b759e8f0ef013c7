// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Palette used for console tables.
var (
	colorAccent  = lipgloss.Color("#20B9B4")
	colorBorder  = lipgloss.Color("#16858E")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")
)

// ConsoleFormatter renders reports for humans.
//
// Numbers are formatted for a locale through golang.org/x/text, so the
// output is for display only and must never be parsed back as data.
type ConsoleFormatter struct {
	lang      language.Tag
	printer   *message.Printer
	precision int
	width     int
	styled    bool
}

// FormatterOption configures a ConsoleFormatter.
type FormatterOption func(*ConsoleFormatter)

// WithLanguage selects the locale for number formatting. Default: English.
func WithLanguage(tag language.Tag) FormatterOption {
	return func(f *ConsoleFormatter) { f.lang = tag }
}

// WithPrecision sets the number of fraction digits. Default: 3.
func WithPrecision(digits int) FormatterOption {
	return func(f *ConsoleFormatter) {
		if digits >= 0 {
			f.precision = digits
		}
	}
}

// WithWidth caps the table width. Zero leaves the table at natural width.
func WithWidth(width int) FormatterOption {
	return func(f *ConsoleFormatter) { f.width = width }
}

// WithStyle enables colored headers and status cells.
func WithStyle(enabled bool) FormatterOption {
	return func(f *ConsoleFormatter) { f.styled = enabled }
}

// NewConsoleFormatter creates a formatter.
func NewConsoleFormatter(opts ...FormatterOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		lang:      language.English,
		precision: 3,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.printer = message.NewPrinter(f.lang)
	return f
}

// FormatNumber formats v with the configured locale and precision.
func (f *ConsoleFormatter) FormatNumber(v float64) string {
	return f.printer.Sprint(number.Decimal(v, number.Scale(f.precision)))
}

// FormatScore formats an optional value, rendering nil as "n/a".
func (f *ConsoleFormatter) FormatScore(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return f.FormatNumber(*v)
}

// Format renders the report as a header block, a results table, and a list
// of failures and warnings.
func (f *ConsoleFormatter) Format(r *Report) string {
	var b strings.Builder

	created := time.UnixMilli(r.CreatedAt).UTC().Format(time.RFC3339)
	fmt.Fprintf(&b, "run %s  %s  %s/%s  %s  cpus=%d  confidence=%s\n",
		r.RunID, created, r.Env.OS, r.Env.Arch, r.Env.GoVersion, r.Env.CPUs,
		f.printer.Sprint(number.Percent(r.ConfidenceLevel)))
	if r.NonMonotonicClock {
		b.WriteString(f.style(colorWarning).Render("clock: non-monotonic"))
		b.WriteString("\n")
	}

	rows := make([][]string, 0, len(r.Benchmarks))
	for _, res := range r.Benchmarks {
		errCell := "n/a"
		if res.ScoreError != nil {
			errCell = "± " + f.FormatNumber(*res.ScoreError)
		}
		rows = append(rows, []string{
			res.Name,
			string(res.Mode),
			strconv.Itoa(res.Samples),
			f.FormatScore(res.Score),
			errCell,
			res.Unit,
			status(res),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.style(colorBorder)).
		Headers("Benchmark", "Mode", "Cnt", "Score", "Error", "Units", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			base := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return base.Inherit(f.style(colorAccent)).Bold(f.styled)
			}
			if col >= 2 && col <= 4 {
				base = base.Align(lipgloss.Right)
			}
			if col == 6 && row >= 0 && row < len(r.Benchmarks) {
				res := r.Benchmarks[row]
				switch {
				case res.Failed():
					return base.Inherit(f.style(colorError))
				case res.LowResolution || res.BudgetExceeded || len(res.Warnings) > 0:
					return base.Inherit(f.style(colorWarning))
				}
			}
			return base
		})
	if f.width > 0 {
		t = t.Width(f.width)
	}
	b.WriteString(t.Render())
	b.WriteString("\n")

	for _, res := range r.Benchmarks {
		if res.Failure != nil {
			fmt.Fprintf(&b, "%s %s: %s failure: %s\n",
				f.style(colorError).Render("x"), res.Name, res.Failure.Kind, res.Failure.Message)
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "%s %s: %s\n", f.style(colorMuted).Render("!"), res.Name, w)
		}
	}
	return b.String()
}

// Write renders r to w.
func (f *ConsoleFormatter) Write(w io.Writer, r *Report) error {
	_, err := io.WriteString(w, f.Format(r))
	return err
}

func (f *ConsoleFormatter) style(c lipgloss.Color) lipgloss.Style {
	if !f.styled {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(c)
}

func status(res Result) string {
	switch {
	case res.Failure != nil:
		return "FAILED (" + string(res.Failure.Kind) + ")"
	case res.LowResolution:
		return "low-resolution"
	case res.BudgetExceeded:
		return "budget exceeded"
	default:
		return "ok"
	}
}
