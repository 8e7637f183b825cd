// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch reports scenario file changes so scenarios can be re-run
// while they are being edited.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFIFO/services/sim/scenario"
	"github.com/fsnotify/fsnotify"
)

// ErrNoPaths is returned when a Watcher is created without paths.
var ErrNoPaths = errors.New("watch: no paths")

// Op is the kind of change observed on a scenario file.
type Op int

const (
	OpWrite Op = iota
	OpCreate
	OpRemove
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	default:
		return "write"
	}
}

// Change is one changed scenario file after debouncing.
type Change struct {
	Path string
	Op   Op
}

// Handler receives a debounced batch of changes, sorted by path. Each path
// appears once, with its most recent operation.
type Handler func(ctx context.Context, changes []Change)

// Options configures a Watcher.
type Options struct {
	// Debounce is how long to wait for more changes before calling the
	// handler. Default: 200ms.
	Debounce time.Duration

	// Logger receives watch errors. Default: slog.Default().
	Logger *slog.Logger
}

// Watcher watches scenario files and directories.
//
// Directories are watched non-recursively, matching scenario.LoadDir.
// Files are watched through their parent directory so that editors which
// replace files on save are still seen.
type Watcher struct {
	fsw      *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	logger   *slog.Logger

	// files restricts events to explicitly named files; dirs accepts any
	// scenario file in a watched directory.
	files map[string]bool
	dirs  map[string]bool

	changes  chan Change
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Watcher for paths, each a scenario file or directory.
func New(paths []string, handler Handler, opts Options) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fsw:      fsw,
		handler:  handler,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
		changes:  make(chan Change, 256),
		done:     make(chan struct{}),
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		dir := abs
		if info.IsDir() {
			w.dirs[abs] = true
		} else {
			w.files[abs] = true
			dir = filepath.Dir(abs)
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Start begins delivering changes to the handler until ctx ends or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
}

// Stop halts the watcher and waits for a running handler to return.
// Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
	w.wg.Wait()
}

// relevant reports whether path is a watched scenario file.
func (w *Watcher) relevant(path string) bool {
	if w.files[path] {
		return true
	}
	return w.dirs[filepath.Dir(path)] && scenario.IsScenarioFile(path)
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			path, err := filepath.Abs(event.Name)
			if err != nil || !w.relevant(path) {
				continue
			}
			var op Op
			switch {
			case event.Has(fsnotify.Create):
				op = OpCreate
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				op = OpRemove
			case event.Has(fsnotify.Write):
				op = OpWrite
			default:
				continue
			}
			select {
			case w.changes <- Change{Path: path, Op: op}:
			default:
				w.logger.Warn("scenario change dropped, buffer full", slog.String("path", path))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("scenario watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	pending := make(map[string]Op)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 || w.handler == nil {
			clear(pending)
			return
		}
		batch := make([]Change, 0, len(pending))
		for p, op := range pending {
			batch = append(batch, Change{Path: p, Op: op})
		}
		clear(pending)
		sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
		w.handler(ctx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case c := <-w.changes:
			pending[c.Path] = c.Op
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

// Paths returns the scenario files to reload for a batch: every changed
// path that still exists.
func Paths(changes []Change) []string {
	var out []string
	for _, c := range changes {
		if c.Op == OpRemove {
			continue
		}
		if _, err := os.Stat(c.Path); err == nil {
			out = append(out, c.Path)
		}
	}
	return out
}
