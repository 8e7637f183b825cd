// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

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

// keyPrefix starts every record key: run:{run_id}:{cycle:016d}.
const keyPrefix = "run:"

// StoreConfig holds configuration for a BadgerStore.
type StoreConfig struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string `yaml:"path" json:"path"`

	// InMemory keeps all records in RAM. Useful for tests and the server.
	InMemory bool `yaml:"in_memory" json:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes" json:"sync_writes"`

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration `yaml:"gc_interval" json:"gc_interval"`

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio" json:"gc_discard_ratio" validate:"gte=0,lte=1"`

	// Logger receives badger's internal logs. Nil silences them.
	Logger *slog.Logger `yaml:"-" json:"-"`
}

// DefaultStoreConfig returns a persistent configuration rooted at path.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryStoreConfig returns a configuration with no disk I/O.
func InMemoryStoreConfig() StoreConfig {
	return StoreConfig{InMemory: true}
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

// BadgerStore persists records in an embedded badger database.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	stopGC chan struct{}
	gcDone chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenStore opens a BadgerStore.
//
// Description:
//
//	Opens the database at cfg.Path, creating the directory if needed, or
//	in memory when cfg.InMemory is set. Starts a value log GC loop when
//	GCInterval is positive and the store is on disk.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*BadgerStore - Open store. Caller must Close it.
//	error - Non-nil if the path is missing or the database cannot open.
func OpenStore(cfg StoreConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("trace store path is required for persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create trace directory %s: %w", cfg.Path, err)
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
		return nil, fmt.Errorf("open trace database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &BadgerStore{db: db, logger: logger, closed: make(chan struct{})}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// OpenInMemoryStore opens a store with InMemoryStoreConfig.
func OpenInMemoryStore() (*BadgerStore, error) {
	return OpenStore(InMemoryStoreConfig())
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("trace store value log GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

// recordKey builds run:{run_id}:{cycle:016d}. Zero padding keeps badger's
// byte order equal to cycle order.
func recordKey(runID string, cycle uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%016d", keyPrefix, runID, cycle))
}

func runPrefix(runID string) []byte {
	return []byte(keyPrefix + runID + ":")
}

// parseRunID extracts the run ID from a record key.
func parseRunID(key []byte) (string, bool) {
	k := strings.TrimPrefix(string(key), keyPrefix)
	i := strings.LastIndexByte(k, ':')
	if i <= 0 || len(k) == len(string(key)) {
		return "", false
	}
	return k[:i], true
}

func (s *BadgerStore) checkOpen(ctx context.Context) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return nil
}

// Record stores one record.
func (s *BadgerStore) Record(ctx context.Context, rec Record) error {
	return s.RecordBatch(ctx, []Record{rec})
}

// RecordBatch stores records in a single transaction.
func (s *BadgerStore) RecordBatch(ctx context.Context, recs []Record) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.RunID == "" {
			return ErrEmptyRunID
		}
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, rec := range recs {
		val, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if err := wb.Set(recordKey(rec.RunID, rec.Cycle), val); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush records: %w", err)
	}
	return nil
}

// Load returns every record for runID in cycle order.
//
// Outputs:
//
//	[]Record - Records, oldest first.
//	error - ErrRunNotFound if the run has no records.
func (s *BadgerStore) Load(ctx context.Context, runID string) ([]Record, error) {
	if runID == "" {
		return nil, ErrEmptyRunID
	}
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := runPrefix(runID)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode record %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return out, nil
}

// Runs summarizes every stored run, most recent first.
func (s *BadgerStore) Runs(ctx context.Context) ([]RunSummary, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}

	byID := make(map[string]*RunSummary)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(keyPrefix)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, ok := parseRunID(it.Item().Key())
			if !ok {
				continue
			}
			sum, seen := byID[id]
			if seen {
				sum.Cycles++
				continue
			}
			// The first key of a run holds its earliest cycle.
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode record %s: %w", it.Item().Key(), err)
			}
			byID[id] = &RunSummary{RunID: id, Scenario: rec.Scenario, Cycles: 1, Started: rec.Time}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]RunSummary, 0, len(byID))
	for _, sum := range byID {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].Started.After(out[j].Started)
	})
	return out, nil
}

// Delete removes every record for runID.
func (s *BadgerStore) Delete(ctx context.Context, runID string) error {
	if runID == "" {
		return ErrEmptyRunID
	}
	if err := s.checkOpen(ctx); err != nil {
		return err
	}

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := runPrefix(runID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush deletes: %w", err)
	}
	return nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}
