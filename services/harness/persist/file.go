// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persist implements report writers.
//
// Every writer satisfies report.Writer: it stores exactly the bytes it is
// given or fails without leaving a partial destination. FileWriter renames a
// synced temp file into place, GCSWriter aborts the upload on error so no
// object is created, and Archive commits a single badger transaction.
// Router dispatches on the destination scheme and Multi fans one payload
// out to several destinations.
package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrEmptyDestination indicates an empty destination string.
	ErrEmptyDestination = errors.New("destination must not be empty")

	// ErrNoWriter indicates no writer is registered for a scheme.
	ErrNoWriter = errors.New("no writer for destination scheme")
)

// FileWriter writes reports to the local file system atomically.
type FileWriter struct {
	// Perm is the mode of the final file. Default: 0644.
	Perm os.FileMode

	// MkdirAll creates missing parent directories when true.
	MkdirAll bool
}

// NewFileWriter returns a FileWriter that creates parent directories.
func NewFileWriter() *FileWriter {
	return &FileWriter{Perm: 0644, MkdirAll: true}
}

// Write stores data at dest via temp file, fsync, and rename.
//
// Description:
//
//	The temp file lives in the destination directory so the final rename
//	stays on one file system. On any failure the temp file is removed and
//	the destination is left untouched.
//
// Thread Safety: Safe for concurrent use; concurrent writes to the same
// path resolve last-rename-wins with each version complete.
func (w *FileWriter) Write(ctx context.Context, dest string, data []byte) error {
	path := strings.TrimPrefix(dest, "file://")
	if path == "" {
		return ErrEmptyDestination
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	dir := filepath.Dir(path)
	if w.MkdirAll {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	tempFile, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync report: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}

	perm := w.Perm
	if perm == 0 {
		perm = 0644
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return fmt.Errorf("chmod report: %w", err)
	}

	// A cancellation that arrived during the write still aborts before the
	// destination becomes visible.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}

	success = true
	return nil
}
