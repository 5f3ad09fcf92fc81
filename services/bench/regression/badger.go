// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces baseline keys so the database can be shared.
const keyPrefix = "baseline/"

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// BadgerConfig configures an owned BadgerDB database.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory. Data is lost on Close.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
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

// -----------------------------------------------------------------------------
// Badger Store
// -----------------------------------------------------------------------------

// BadgerBaselineStore persists baselines in BadgerDB as JSON under the
// "baseline/" key prefix.
//
// Thread Safety: Safe for concurrent use.
type BadgerBaselineStore struct {
	db     *badger.DB
	owned  bool
	now    func() time.Time
	mu     sync.Mutex
	closed bool
}

// OpenBadgerStore opens a database and returns a store that owns it.
//
// Description:
//
//	Opens BadgerDB at cfg.Path, creating the directory with 0750
//	permissions, or in memory when cfg.InMemory is set. Close closes
//	the database.
//
// Inputs:
//
//	cfg - Database configuration.
//
// Outputs:
//
//	*BadgerBaselineStore - The store.
//	error                - Non-nil if the directory or database cannot be opened.
//
// Example:
//
//	store, err := regression.OpenBadgerStore(regression.BadgerConfig{
//	    Path: filepath.Join(home, ".aleutianbench", "baselines"),
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func OpenBadgerStore(cfg BadgerConfig) (*BadgerBaselineStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required unless in memory")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create baseline directory %s: %w", cfg.Path, err)
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
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	store := NewBadgerBaselineStore(db)
	store.owned = true
	return store, nil
}

// NewBadgerBaselineStore wraps an open database. The caller keeps
// ownership and must close db after the store.
func NewBadgerBaselineStore(db *badger.DB) *BadgerBaselineStore {
	return &BadgerBaselineStore{db: db, now: time.Now}
}

func baselineKey(benchmark string) []byte {
	return []byte(keyPrefix + benchmark)
}

func (s *BadgerBaselineStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get implements Baseline.
func (s *BadgerBaselineStore) Get(ctx context.Context, benchmark string) (*BaselineData, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var data *BaselineData
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		data, err = readBaseline(txn, benchmark)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// readBaseline loads and decodes one key inside a transaction.
func readBaseline(txn *badger.Txn, benchmark string) (*BaselineData, error) {
	item, err := txn.Get(baselineKey(benchmark))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrBaselineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read baseline %s: %w", benchmark, err)
	}

	var data BaselineData
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &data)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidBaseline, benchmark, err)
	}
	return &data, nil
}

// Set implements Baseline. CreatedAt of an existing entry is preserved.
func (s *BadgerBaselineStore) Set(ctx context.Context, benchmark string, data *BaselineData) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: nil baseline", ErrInvalidBaseline)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		previous, err := readBaseline(txn, benchmark)
		if err != nil && !errors.Is(err, ErrBaselineNotFound) && !errors.Is(err, ErrInvalidBaseline) {
			return err
		}

		stored := data.clone()
		stored.Benchmark = benchmark
		stamp(stored, previous, s.now())

		val, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("encode baseline %s: %w", benchmark, err)
		}
		if err := txn.Set(baselineKey(benchmark), val); err != nil {
			return fmt.Errorf("write baseline %s: %w", benchmark, err)
		}
		return nil
	})
}

// List implements Baseline.
func (s *BadgerBaselineStore) List(ctx context.Context) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			names = append(names, strings.TrimPrefix(key, keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Baseline.
func (s *BadgerBaselineStore) Delete(ctx context.Context, benchmark string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := baselineKey(benchmark)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrBaselineNotFound
			}
			return fmt.Errorf("read baseline %s: %w", benchmark, err)
		}
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("delete baseline %s: %w", benchmark, err)
		}
		return nil
	})
}

// Close closes the database if the store owns it. Safe to call twice.
func (s *BadgerBaselineStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.db.Close()
	}
	return nil
}

var _ Baseline = (*BadgerBaselineStore)(nil)
