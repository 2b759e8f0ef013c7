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
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/benchkit/services/harness/report"
)

const (
	reportPrefix = "report/"
	indexPrefix  = "idx/"
)

// ErrReportNotFound indicates an unknown run ID.
var ErrReportNotFound = errors.New("report not found")

// ArchiveConfig configures the report history store.
type ArchiveConfig struct {
	// Path is the badger directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the archive in memory. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often to run value log GC. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultArchiveConfig returns a durable on-disk configuration.
func DefaultArchiveConfig(path string) ArchiveConfig {
	return ArchiveConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryArchiveConfig returns a configuration for tests.
func InMemoryArchiveConfig() ArchiveConfig {
	return ArchiveConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Entry summarizes one archived report.
type Entry struct {
	RunID      string `json:"runId"`
	CreatedAt  int64  `json:"createdAt"`
	Benchmarks int    `json:"benchmarks"`
	Failures   int    `json:"failures"`
}

// Archive stores serialized reports in badger, keyed by run ID, with a
// secondary index ordered by creation time.
//
// Thread Safety: Safe for concurrent use.
type Archive struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
	logger *slog.Logger
}

// OpenArchive opens or creates an archive.
func OpenArchive(cfg ArchiveConfig) (*Archive, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("archive path must not be empty")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger archive: %w", err)
	}

	a := &Archive{db: db, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		a.stopGC = make(chan struct{})
		a.doneGC = make(chan struct{})
		go a.runGC(cfg.GCInterval, ratio)
	}
	return a, nil
}

func (a *Archive) runGC(interval time.Duration, ratio float64) {
	defer close(a.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopGC:
			return
		case <-ticker.C:
			err := a.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && a.logger != nil {
				a.logger.Warn("archive value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops GC and closes the database.
func (a *Archive) Close() error {
	if a.stopGC != nil {
		close(a.stopGC)
		<-a.doneGC
		a.stopGC = nil
	}
	return a.db.Close()
}

// Put serializes and stores r.
func (a *Archive) Put(ctx context.Context, r *report.Report) error {
	data, err := report.Serialize(r)
	if err != nil {
		return err
	}
	return a.store(ctx, r, data)
}

// Write implements report.Writer. The destination is ignored; the key is
// derived from the report's run ID, so data must be a serialized report.
func (a *Archive) Write(ctx context.Context, _ string, data []byte) error {
	r, err := report.Deserialize(data)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return a.store(ctx, r, data)
}

func (a *Archive) store(ctx context.Context, r *report.Report, data []byte) error {
	if r.RunID == "" {
		return errors.New("archive: report has no run ID")
	}
	return a.update(ctx, func(txn *badger.Txn) error {
		key := []byte(reportPrefix + r.RunID)
		prev, err := previousCreatedAt(txn, key)
		if err != nil {
			return err
		}
		if prev != nil && *prev != r.CreatedAt {
			if err := txn.Delete(indexKey(*prev, r.RunID)); err != nil {
				return err
			}
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(indexKey(r.CreatedAt, r.RunID), []byte(entryValue(r)))
	})
}

// previousCreatedAt returns the creation time of the report already stored
// under key, or nil when there is none.
func previousCreatedAt(txn *badger.Txn, key []byte) (*int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	old, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	r, err := report.Deserialize(old)
	if err != nil {
		return nil, fmt.Errorf("archive: decode stored report %s: %w", key, err)
	}
	return &r.CreatedAt, nil
}

// Get loads a report by run ID.
func (a *Archive) Get(ctx context.Context, runID string) (*report.Report, error) {
	data, err := a.GetRaw(ctx, runID)
	if err != nil {
		return nil, err
	}
	return report.Deserialize(data)
}

// GetRaw loads the serialized bytes of a report.
func (a *Archive) GetRaw(ctx context.Context, runID string) ([]byte, error) {
	var data []byte
	err := a.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(reportPrefix + runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrReportNotFound, runID)
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns all entries.
func (a *Archive) List(ctx context.Context, limit int) ([]Entry, error) {
	var out []Entry
	err := a.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(indexPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks from the largest key under the prefix.
		seek := append([]byte(indexPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			e, err := parseEntry(string(it.Item().Key()), string(val))
			if err != nil {
				return err
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// Delete removes a report and its index entry.
func (a *Archive) Delete(ctx context.Context, runID string) error {
	r, err := a.Get(ctx, runID)
	if err != nil {
		return err
	}
	return a.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(reportPrefix + runID)); err != nil {
			return err
		}
		return txn.Delete(indexKey(r.CreatedAt, runID))
	})
}

func (a *Archive) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := a.db.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

func (a *Archive) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := a.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// indexKey orders entries by creation time; the zero padding keeps
// lexicographic and numeric order equal.
func indexKey(createdAt int64, runID string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", indexPrefix, createdAt, runID))
}

func entryValue(r *report.Report) string {
	return fmt.Sprintf("%d/%d", len(r.Benchmarks), r.Failures())
}

func parseEntry(key, val string) (Entry, error) {
	var e Entry
	rest := strings.TrimPrefix(key, indexPrefix)
	ts, runID, ok := strings.Cut(rest, "/")
	if !ok {
		return e, fmt.Errorf("archive: malformed index key %q", key)
	}
	createdAt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return e, fmt.Errorf("archive: malformed index key %q: %w", key, err)
	}
	benches, failures, ok := strings.Cut(val, "/")
	if !ok {
		return e, fmt.Errorf("archive: malformed index value %q", val)
	}
	e.RunID = runID
	e.CreatedAt = createdAt
	if e.Benchmarks, err = strconv.Atoi(benches); err != nil {
		return e, fmt.Errorf("archive: malformed index value %q: %w", val, err)
	}
	if e.Failures, err = strconv.Atoi(failures); err != nil {
		return e, fmt.Errorf("archive: malformed index value %q: %w", val, err)
	}
	return e, nil
}
