// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats reduces raw timing samples to a summary.
//
// All arithmetic is done in nanoseconds per operation. Unit conversion
// happens later, when results are built for the report.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/AleutianAI/benchkit/services/harness"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNoSamples indicates that no samples were supplied.
	ErrNoSamples = errors.New("no samples collected")

	// ErrInvalidConfidence indicates a confidence level outside (0, 1).
	ErrInvalidConfidence = errors.New("confidence level must be in (0, 1)")

	// ErrInvalidPercentile indicates a percentile outside [0, 100].
	ErrInvalidPercentile = errors.New("percentile must be in [0, 100]")
)

// DefaultConfidenceLevel is the confidence level used when none is given.
const DefaultConfidenceLevel = 0.99

// -----------------------------------------------------------------------------
// Summary
// -----------------------------------------------------------------------------

// Summary is the aggregate of one benchmark's measurement samples.
type Summary struct {
	// N is the number of samples.
	N int

	// Mean is the arithmetic mean of per-operation durations, in ns.
	Mean float64

	// StdDev is the sample standard deviation (n-1 denominator), in ns.
	// Only meaningful when ErrorDefined is true.
	StdDev float64

	// Error is the half-width of the confidence interval around Mean, in ns.
	// Only meaningful when ErrorDefined is true.
	Error float64

	// ErrorDefined is false when fewer than two samples were available.
	ErrorDefined bool

	// Min and Max are the extreme per-operation durations, in ns.
	Min float64
	Max float64

	// LowResolution is set when every sample measured zero elapsed time.
	// Mean is zero in that case and callers must not derive a score from it.
	LowResolution bool

	// PerOp holds the per-operation duration of each sample, in sample order.
	PerOp []float64

	// ConfidenceLevel is the level Error was computed at.
	ConfidenceLevel float64
}

// Summarize aggregates measurement samples.
//
// Description:
//
//	Each sample contributes duration/ops nanoseconds. The point estimate is
//	the arithmetic mean; the error margin is z * s / sqrt(n) where z is the
//	two-sided normal quantile for the confidence level and s the sample
//	standard deviation. With fewer than two samples the error is undefined.
//
// Inputs:
//   - samples: Measurement samples only. Warmup samples must not be passed.
//   - confidence: Confidence level in (0, 1), e.g. 0.99.
//
// Outputs:
//   - Summary: The aggregate.
//   - error: ErrNoSamples or ErrInvalidConfidence.
//
// Thread Safety: Stateless, safe for concurrent use.
func Summarize(samples []harness.Sample, confidence float64) (Summary, error) {
	if len(samples) == 0 {
		return Summary{}, ErrNoSamples
	}
	if !(confidence > 0 && confidence < 1) {
		return Summary{}, fmt.Errorf("%w: %v", ErrInvalidConfidence, confidence)
	}

	perOp := make([]float64, len(samples))
	allZero := true
	for i, s := range samples {
		perOp[i] = s.PerOp()
		if s.Duration > 0 {
			allZero = false
		}
	}

	sum := Summary{
		N:               len(perOp),
		PerOp:           perOp,
		ConfidenceLevel: confidence,
		LowResolution:   allZero,
	}
	sum.Min, sum.Max = minMax(perOp)
	sum.Mean = mean(perOp)

	if sum.N >= 2 {
		sum.StdDev = math.Sqrt(variance(perOp, sum.Mean))
		sum.Error = ZScore(confidence) * sum.StdDev / math.Sqrt(float64(sum.N))
		sum.ErrorDefined = true
	}
	return sum, nil
}

// ZScore returns the two-sided standard normal quantile for a confidence
// level, e.g. 2.5758 for 0.99 and 1.9600 for 0.95.
func ZScore(confidence float64) float64 {
	return math.Sqrt2 * math.Erfinv(confidence)
}

// Percentiles returns the nearest-rank percentiles of values.
//
// Description:
//
//	values is copied and sorted. For each p the result is the element at
//	rank ceil(p/100 * n), clamped to [1, n], so p=0 yields the minimum and
//	p=100 the maximum.
//
// Outputs:
//   - []float64: One value per requested percentile, in request order.
//   - error: ErrNoSamples or ErrInvalidPercentile.
func Percentiles(values []float64, ps []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, ErrNoSamples
	}
	for _, p := range ps {
		if math.IsNaN(p) || p < 0 || p > 100 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPercentile, p)
		}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = nearestRank(sorted, p)
	}
	return out, nil
}

// nearestRank returns the p-th percentile of an ascending slice.
func nearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	rank := int(math.Ceil(p / 100 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// variance returns the sample variance with Bessel's correction.
func variance(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSquaredDiff float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiff += diff * diff
	}
	return sumSquaredDiff / float64(len(values)-1)
}

func minMax(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
