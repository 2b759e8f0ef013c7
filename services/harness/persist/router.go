// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/benchkit/services/harness/report"
)

// Router dispatches writes by destination scheme.
//
// A destination without "scheme://" is a local path and goes to the "file"
// writer. "archive:" alone (no path) is accepted for the archive writer.
//
// Thread Safety: Safe for concurrent use.
type Router struct {
	mu      sync.RWMutex
	writers map[string]report.Writer
}

// NewRouter returns a router with a FileWriter registered for "file".
func NewRouter() *Router {
	return &Router{
		writers: map[string]report.Writer{
			"file": NewFileWriter(),
		},
	}
}

// Handle registers w for scheme, replacing any previous writer.
func (r *Router) Handle(scheme string, w report.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[strings.ToLower(scheme)] = w
}

// Write implements report.Writer.
func (r *Router) Write(ctx context.Context, dest string, data []byte) error {
	if strings.TrimSpace(dest) == "" {
		return ErrEmptyDestination
	}
	scheme := Scheme(dest)

	r.mu.RLock()
	w, ok := r.writers[scheme]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoWriter, scheme)
	}
	return w.Write(ctx, dest, data)
}

// Scheme returns the lower-cased scheme of dest, or "file" for plain paths.
func Scheme(dest string) string {
	if i := strings.Index(dest, "://"); i > 0 {
		return strings.ToLower(dest[:i])
	}
	if strings.EqualFold(dest, "archive:") {
		return "archive"
	}
	return "file"
}

// DestSeparator separates destinations in a Multi destination string.
const DestSeparator = ","

// Multi writes one payload to several destinations concurrently.
//
// The destination passed to Write is a DestSeparator-joined list. Every
// destination is attempted; failures are joined so a slow or failing
// target does not hide the others.
type Multi struct {
	w     report.Writer
	limit int
}

// NewMulti wraps w. limit bounds concurrent writes; zero or less means one
// goroutine per destination.
func NewMulti(w report.Writer, limit int) *Multi {
	return &Multi{w: w, limit: limit}
}

// JoinDests builds a Multi destination string.
func JoinDests(dests ...string) string {
	return strings.Join(dests, DestSeparator)
}

// Write implements report.Writer.
func (m *Multi) Write(ctx context.Context, dest string, data []byte) error {
	var dests []string
	for _, d := range strings.Split(dest, DestSeparator) {
		if d = strings.TrimSpace(d); d != "" {
			dests = append(dests, d)
		}
	}
	if len(dests) == 0 {
		return ErrEmptyDestination
	}

	var g errgroup.Group
	if m.limit > 0 {
		g.SetLimit(m.limit)
	}

	var mu sync.Mutex
	var errs []error
	for _, d := range dests {
		g.Go(func() error {
			if err := m.w.Write(ctx, d, data); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", d, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
