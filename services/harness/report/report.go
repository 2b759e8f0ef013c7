// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report holds the benchmark report model and its canonical
// encoding.
//
// A Report is an ordered list of Results, one per benchmark, in execution
// order. It is append-only while a suite runs and frozen afterwards.
// Serialize produces the versioned JSON document; Deserialize is its exact
// inverse. ConsoleFormatter renders a human-readable table and is never
// used for the canonical encoding.
package report

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/benchkit/services/harness"
)

// SchemaVersion is the version written by Serialize and required by
// Deserialize.
const SchemaVersion = 1

var (
	// ErrFrozen indicates an attempt to modify a frozen report.
	ErrFrozen = errors.New("report is frozen")

	// ErrUnsupportedSchema indicates an unknown schemaVersion on decode.
	ErrUnsupportedSchema = errors.New("unsupported report schema version")

	// ErrMalformed indicates a document that decodes but is not a valid report.
	ErrMalformed = errors.New("malformed report")

	// ErrInvalidTimeUnit indicates an unknown time unit.
	ErrInvalidTimeUnit = errors.New("invalid time unit")
)

// -----------------------------------------------------------------------------
// Time units
// -----------------------------------------------------------------------------

// TimeUnit is the unit scores are reported in.
type TimeUnit string

const (
	Nanoseconds  TimeUnit = "ns"
	Microseconds TimeUnit = "us"
	Milliseconds TimeUnit = "ms"
	Seconds      TimeUnit = "s"
)

// Valid reports whether u is a known unit.
func (u TimeUnit) Valid() bool {
	switch u {
	case Nanoseconds, Microseconds, Milliseconds, Seconds:
		return true
	}
	return false
}

// Nanos returns the number of nanoseconds in one u.
func (u TimeUnit) Nanos() float64 {
	switch u {
	case Microseconds:
		return 1e3
	case Milliseconds:
		return 1e6
	case Seconds:
		return 1e9
	default:
		return 1
	}
}

// ParseTimeUnit converts a configuration string to a TimeUnit.
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ns", "nanoseconds":
		return Nanoseconds, nil
	case "us", "µs", "microseconds":
		return Microseconds, nil
	case "ms", "milliseconds":
		return Milliseconds, nil
	case "s", "seconds":
		return Seconds, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTimeUnit, s)
}

// UnitFor returns the score unit string for a mode: "ops/<u>" for
// throughput, "<u>/op" otherwise.
func UnitFor(mode harness.Mode, u TimeUnit) string {
	if mode == harness.ModeThroughput {
		return "ops/" + string(u)
	}
	return string(u) + "/op"
}

// CheckUnit verifies that unit is structurally consistent with mode and
// returns the time unit it names.
func CheckUnit(mode harness.Mode, unit string) (TimeUnit, error) {
	var raw string
	switch mode {
	case harness.ModeThroughput:
		if !strings.HasPrefix(unit, "ops/") {
			return "", fmt.Errorf("throughput unit %q must be ops/<time>", unit)
		}
		raw = strings.TrimPrefix(unit, "ops/")
	case harness.ModeAverageTime, harness.ModeSingleShot:
		if !strings.HasSuffix(unit, "/op") {
			return "", fmt.Errorf("%s unit %q must be <time>/op", mode, unit)
		}
		raw = strings.TrimSuffix(unit, "/op")
	default:
		return "", fmt.Errorf("unknown mode %q", string(mode))
	}
	u := TimeUnit(raw)
	if !u.Valid() {
		return "", fmt.Errorf("%w: %q in unit %q", ErrInvalidTimeUnit, raw, unit)
	}
	return u, nil
}

// PercentileKey formats a percentile for use as a map key: 50 -> "50",
// 99.9 -> "99.9".
func PercentileKey(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// -----------------------------------------------------------------------------
// Model
// -----------------------------------------------------------------------------

// Failure records why a benchmark produced no score.
type Failure struct {
	Kind    harness.FailureKind `json:"kind"`
	Message string              `json:"message"`
}

// Result is one benchmark's outcome.
//
// Score and ScoreError are nil when undefined: on failure, on low
// resolution, and (for ScoreError) when fewer than two samples exist.
// Empty collections are nil so that encoding round-trips exactly.
type Result struct {
	Name           string             `json:"name"`
	Mode           harness.Mode       `json:"mode"`
	Unit           string             `json:"unit"`
	Score          *float64           `json:"score"`
	ScoreError     *float64           `json:"scoreError"`
	RawData        []float64          `json:"rawData,omitempty"`
	Percentiles    map[string]float64 `json:"percentiles,omitempty"`
	Samples        int                `json:"samples"`
	BatchSize      int64              `json:"batchSize"`
	LowResolution  bool               `json:"lowResolution,omitempty"`
	BudgetExceeded bool               `json:"budgetExceeded,omitempty"`
	Failure        *Failure           `json:"failure,omitempty"`
	Warnings       []string           `json:"warnings,omitempty"`
	Params         map[string]string  `json:"params,omitempty"`
}

// Failed reports whether the benchmark failed.
func (r Result) Failed() bool { return r.Failure != nil }

// Float returns a pointer to v, for building Score and ScoreError.
func Float(v float64) *float64 { return &v }

// Environment describes the host a report was produced on.
type Environment struct {
	GoVersion         string `json:"goVersion"`
	OS                string `json:"os"`
	Arch              string `json:"arch"`
	CPUs              int    `json:"cpus"`
	Hostname          string `json:"hostname,omitempty"`
	Clock             string `json:"clock"`
	ClockResolutionNs int64  `json:"clockResolutionNs,omitempty"`
}

// Settings records the iteration configuration a report was produced with.
type Settings struct {
	Warmup       int      `json:"warmupIterations"`
	Measurement  int      `json:"measurementIterations"`
	BatchSize    int64    `json:"batchSize"`
	TimeBudgetNs int64    `json:"timeBudgetNs,omitempty"`
	MaxBatchSize int64    `json:"maxBatchSize"`
	TimeUnit     TimeUnit `json:"timeUnit"`
}

// Report is the ordered collection of results from one suite run.
//
// Thread Safety: Not safe for concurrent mutation. The engine appends from
// a single goroutine; after Freeze the report is read-only.
type Report struct {
	SchemaVersion     int         `json:"schemaVersion"`
	RunID             string      `json:"runId"`
	CreatedAt         int64       `json:"createdAt"`
	ConfidenceLevel   float64     `json:"confidenceLevel"`
	NonMonotonicClock bool        `json:"nonMonotonicClock"`
	Env               Environment `json:"env"`
	Settings          Settings    `json:"settings"`
	Benchmarks        []Result    `json:"benchmarks"`

	frozen bool
}

// New creates an empty, unfrozen report.
func New(runID string, createdAtMs int64, confidence float64) *Report {
	return &Report{
		SchemaVersion:   SchemaVersion,
		RunID:           runID,
		CreatedAt:       createdAtMs,
		ConfidenceLevel: confidence,
	}
}

// Append adds a result at the end of the report.
func (r *Report) Append(res Result) error {
	if r.frozen {
		return fmt.Errorf("%w: cannot append %q", ErrFrozen, res.Name)
	}
	r.Benchmarks = append(r.Benchmarks, res)
	return nil
}

// Freeze makes the report read-only. Idempotent.
func (r *Report) Freeze() { r.frozen = true }

// Frozen reports whether Freeze was called.
func (r *Report) Frozen() bool { return r.frozen }

// Lookup returns the result with the given benchmark name.
func (r *Report) Lookup(name string) (Result, bool) {
	for _, res := range r.Benchmarks {
		if res.Name == name {
			return res, true
		}
	}
	return Result{}, false
}

// Names returns benchmark names in report order.
func (r *Report) Names() []string {
	out := make([]string, len(r.Benchmarks))
	for i, res := range r.Benchmarks {
		out[i] = res.Name
	}
	return out
}

// Failures counts failed results.
func (r *Report) Failures() int {
	n := 0
	for _, res := range r.Benchmarks {
		if res.Failed() {
			n++
		}
	}
	return n
}

// validate checks one result for encodability.
func (res Result) validate() error {
	if res.Name == "" {
		return errors.New("empty benchmark name")
	}
	if !res.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", string(res.Mode))
	}
	if _, err := CheckUnit(res.Mode, res.Unit); err != nil {
		return err
	}
	if res.Failure != nil && !res.Failure.Kind.Valid() {
		return fmt.Errorf("invalid failure kind %q", string(res.Failure.Kind))
	}
	if res.Score != nil {
		if !finite(*res.Score) {
			return fmt.Errorf("score is not finite: %v", *res.Score)
		}
		if *res.Score < 0 {
			return fmt.Errorf("score is negative: %v", *res.Score)
		}
	}
	if res.ScoreError != nil && (!finite(*res.ScoreError) || *res.ScoreError < 0) {
		return fmt.Errorf("score error is invalid: %v", *res.ScoreError)
	}
	for i, v := range res.RawData {
		if !finite(v) {
			return fmt.Errorf("rawData[%d] is not finite", i)
		}
	}
	for k, v := range res.Percentiles {
		if !finite(v) {
			return fmt.Errorf("percentile %s is not finite", k)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
