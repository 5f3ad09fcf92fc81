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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce coalesces the bursts of events editors produce on save.
const defaultDebounce = 250 * time.Millisecond

// JobWatcher calls a function whenever a job file changes.
//
// # Description
//
// The parent directory is watched rather than the file itself, so editors
// that save by renaming a temporary file over the original keep
// triggering. Events for other files in the directory are ignored.
//
// # Thread Safety
//
// Start should only be called once. onChange is never called
// concurrently with itself.
type JobWatcher struct {
	path     string
	debounce time.Duration
	onChange func()
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// NewJobWatcher creates a watcher for the job file at path.
//
// # Inputs
//
//   - path: Job file to watch.
//   - debounce: Quiet period before onChange runs. Zero uses 250ms.
//   - onChange: Called after the file settles.
//   - logger: Destination for watcher errors.
//
// # Outputs
//
//   - *JobWatcher: Ready-to-start watcher.
//   - error: Non-nil if the watcher or the directory watch cannot be created.
func NewJobWatcher(path string, debounce time.Duration, onChange func(), logger *slog.Logger) (*JobWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &JobWatcher{
		path:     abs,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		watcher:  watcher,
	}, nil
}

// Start blocks until ctx is cancelled or the watcher is closed.
func (w *JobWatcher) Start(ctx context.Context) {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("job file changed", slog.String("path", event.Name), slog.String("op", event.Op.String()))
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("job watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			w.onChange()

		case <-ctx.Done():
			return
		}
	}
}

func (w *JobWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// Stop releases the watcher. Safe to call multiple times.
func (w *JobWatcher) Stop() error {
	return w.watcher.Close()
}
