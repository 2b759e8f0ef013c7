// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// WatchOptions configures a Watcher.
type WatchOptions struct {
	// Debounce is the quiet period after the last event before reloading.
	// Default: 200ms
	Debounce time.Duration

	// MinInterval is the minimum time between reloads. Default: 1s
	MinInterval time.Duration

	// Logger receives reload errors. Default: slog.Default()
	Logger *slog.Logger
}

// Watcher reloads a configuration file when it changes.
//
// The parent directory is watched so that editors that replace the file
// by rename are still observed.
type Watcher struct {
	path     string
	debounce time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher starts watching path.
func NewWatcher(path string, opts WatchOptions) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		debounce: opts.Debounce,
		limiter:  rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		logger:   opts.Logger,
		watcher:  fw,
	}, nil
}

// Run delivers each successfully reloaded configuration to onChange until
// ctx is cancelled. Invalid files are logged and skipped. Run closes the
// watcher before returning.
func (w *Watcher) Run(ctx context.Context, onChange func(Config)) error {
	defer w.watcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watch error", "path", w.path, "error", err)

		case <-timerC:
			timer, timerC = nil, nil
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload rejected", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
			onChange(cfg)
		}
	}
}
