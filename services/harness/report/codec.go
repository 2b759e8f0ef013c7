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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// EncodingError reports a structurally invalid result found at serialize
// time. Output produced alongside it must be treated as invalid.
type EncodingError struct {
	Benchmark string
	Index     int
	Reason    error
}

// Error implements error.
func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode report: benchmark %d (%q): %v", e.Index, e.Benchmark, e.Reason)
}

// Unwrap returns the reason.
func (e *EncodingError) Unwrap() error { return e.Reason }

// Serialize encodes r in the canonical wire format and freezes it.
//
// Description:
//
//	The output is indented JSON with a trailing newline. The benchmarks
//	array is always present, in report order. Serialize fails only with an
//	*EncodingError, when a result's mode/unit combination or a numeric value
//	cannot be represented; in that case no bytes are returned.
//
//	Before encoding, r is rewritten into the form Deserialize produces: a
//	zero schema version becomes SchemaVersion and empty collections become
//	nil, so Deserialize(Serialize(r)) equals r.
//
// Outputs:
//   - []byte: The encoded report.
//   - error: *EncodingError on a malformed result.
func Serialize(r *Report) ([]byte, error) {
	if r == nil {
		return nil, &EncodingError{Index: -1, Reason: errors.New("nil report")}
	}
	if r.SchemaVersion != 0 && r.SchemaVersion != SchemaVersion {
		return nil, &EncodingError{Index: -1, Reason: fmt.Errorf("%w: %d", ErrUnsupportedSchema, r.SchemaVersion)}
	}
	for i, res := range r.Benchmarks {
		if err := res.validate(); err != nil {
			return nil, &EncodingError{Benchmark: res.Name, Index: i, Reason: err}
		}
	}
	r.canonicalize()
	r.Freeze()

	wire := *r
	if wire.Benchmarks == nil {
		wire.Benchmarks = []Result{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&wire); err != nil {
		return nil, &EncodingError{Index: -1, Reason: err}
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a report produced by Serialize. The returned report
// is frozen.
//
// Outputs:
//   - *Report: The decoded report.
//   - error: ErrUnsupportedSchema for unknown versions, ErrMalformed for
//     documents that are not valid reports, or the JSON syntax error.
func Deserialize(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if r.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, r.SchemaVersion)
	}
	for i, res := range r.Benchmarks {
		if err := res.validate(); err != nil {
			return nil, fmt.Errorf("%w: benchmark %d (%q): %v", ErrMalformed, i, res.Name, err)
		}
	}
	if len(r.Benchmarks) == 0 {
		r.Benchmarks = nil
	}
	r.Freeze()
	return &r, nil
}

// canonicalize replaces representations the wire format cannot tell apart
// with the one Deserialize returns.
func (r *Report) canonicalize() {
	if r.SchemaVersion == 0 {
		r.SchemaVersion = SchemaVersion
	}
	if len(r.Benchmarks) == 0 {
		r.Benchmarks = nil
	}
	for i := range r.Benchmarks {
		res := &r.Benchmarks[i]
		if len(res.RawData) == 0 {
			res.RawData = nil
		}
		if len(res.Percentiles) == 0 {
			res.Percentiles = nil
		}
		if len(res.Warnings) == 0 {
			res.Warnings = nil
		}
		if len(res.Params) == 0 {
			res.Params = nil
		}
	}
}

// Writer persists encoded reports.
//
// Write must store exactly data at dest or fail without leaving a partially
// written destination behind.
type Writer interface {
	Write(ctx context.Context, dest string, data []byte) error
}

// Persist serializes r and hands the bytes to w. Nothing is written when
// serialization fails.
func Persist(ctx context.Context, w Writer, dest string, r *Report) error {
	data, err := Serialize(r)
	if err != nil {
		return err
	}
	if err := w.Write(ctx, dest, data); err != nil {
		return fmt.Errorf("persist report to %s: %w", dest, err)
	}
	return nil
}
