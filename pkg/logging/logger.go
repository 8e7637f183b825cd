// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package logging builds the slog loggers used by fifosim.
//
// A Logger writes to up to three sinks at once:
//
//   - the console (stderr unless Config.Output says otherwise), text or JSON
//   - a daily JSON file in Config.LogDir, e.g. fifosim_2025-06-01.log
//   - a LogExporter, fed from a queue drained by one goroutine
//
// Most code never sees a Logger. cmd/fifosim builds one, installs
// logger.Slog() as the slog default, and hands *slog.Logger downward.
//
//	logger := logging.New(logging.Config{Level: logging.LevelDebug, Service: "fifosim"})
//	defer logger.Close()
//	logger.Info("scenario finished", "scenario", name, "cycles", n)
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is a log severity. Levels order Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug logs every edge.
	LevelDebug Level = iota
	// LevelInfo logs run boundaries and server lifecycle.
	LevelInfo
	// LevelWarn logs failed scenarios and lost trace writes.
	LevelWarn
	// LevelError logs failed operations.
	LevelError
)

var levels = [...]struct {
	name string
	slog slog.Level
}{
	LevelDebug: {"DEBUG", slog.LevelDebug},
	LevelInfo:  {"INFO", slog.LevelInfo},
	LevelWarn:  {"WARN", slog.LevelWarn},
	LevelError: {"ERROR", slog.LevelError},
}

func (l Level) valid() bool { return l >= LevelDebug && l <= LevelError }

func (l Level) String() string {
	if !l.valid() {
		return "UNKNOWN"
	}
	return levels[l].name
}

func (l Level) toSlogLevel() slog.Level {
	if !l.valid() {
		return slog.LevelInfo
	}
	return levels[l].slog
}

func fromSlogLevel(s slog.Level) Level {
	switch {
	case s >= slog.LevelError:
		return LevelError
	case s >= slog.LevelWarn:
		return LevelWarn
	case s >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// ParseLevel reads a level name, ignoring case. "" means info and "warning"
// is accepted for warn.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	switch name {
	case "":
		return LevelInfo, nil
	case "WARNING":
		return LevelWarn, nil
	}
	for l := range levels {
		if levels[l].name == name {
			return Level(l), nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Config configures a Logger. The zero value logs info and above as text
// on stderr.
type Config struct {
	Level Level

	// LogDir, when set, adds a JSON file sink named
	// "{Service}_{YYYY-MM-DD}.log". A leading "~" is the home directory.
	LogDir string

	// Service is attached to every entry as "service".
	Service string

	// JSON selects the JSON console format. The file sink is always JSON.
	JSON bool

	// Quiet drops the console sink.
	Quiet bool

	// Output replaces stderr as the console sink.
	Output io.Writer

	// Exporter receives a copy of every enabled entry.
	Exporter LogExporter
}

// LogExporter ships entries to an external system.
//
// Export is called from the logger's drain goroutine, one entry at a time.
// Flush and Close are called once, from Logger.Close, after the queue
// has drained.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is one exported log line.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// exportQueue bounds entries waiting for the exporter. When it is full
// new entries are dropped.
const exportQueue = 256

// Logger owns the sinks behind a *slog.Logger. Close it when LogDir or
// Exporter is set.
type Logger struct {
	slog *slog.Logger
	root *sinks
}

// sinks is the state shared by a Logger and the children made by With.
type sinks struct {
	mu       sync.Mutex
	file     *os.File
	exporter LogExporter
	queue    chan LogEntry
	drained  chan struct{}
	closed   bool
}

// New builds a Logger from cfg.
//
// A LogDir that cannot be created or opened is skipped and the logger
// keeps its other sinks.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}
	root := &sinks{}

	var fan fanout
	if !cfg.Quiet {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		if cfg.JSON {
			fan = append(fan, slog.NewJSONHandler(out, opts))
		} else {
			fan = append(fan, slog.NewTextHandler(out, opts))
		}
	}
	if cfg.LogDir != "" {
		if f, err := openLogFile(cfg.LogDir, cfg.Service, time.Now()); err == nil {
			root.file = f
			fan = append(fan, slog.NewJSONHandler(f, opts))
		}
	}
	if cfg.Exporter != nil {
		root.exporter = cfg.Exporter
		root.queue = make(chan LogEntry, exportQueue)
		root.drained = make(chan struct{})
		go root.drain()
		fan = append(fan, &exportHandler{level: opts.Level, service: cfg.Service, sinks: root})
	}

	var h slog.Handler = fan
	switch len(fan) {
	case 0:
		h = slog.NewTextHandler(io.Discard, opts)
	case 1:
		h = fan[0]
	}
	if cfg.Service != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	return &Logger{slog: slog.New(h), root: root}
}

func openLogFile(dir, service string, day time.Time) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	if service == "" {
		service = "fifosim"
	}
	name := service + "_" + day.Format("2006-01-02") + ".log"
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// Default is an info-level stderr logger for the "fifosim" service.
func Default() *Logger {
	return New(Config{Service: "fifosim"})
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child that adds args to every entry. Children share the
// parent's sinks, so only the parent is closed.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), root: l.root}
}

// Slog returns the logger as a *slog.Logger.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Close drains the export queue, flushes and closes the exporter, then
// syncs and closes the log file. Entries logged after Close reach only the
// console. Every failure is returned, joined.
func (l *Logger) Close() error {
	return l.root.close()
}

func (s *sinks) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.queue != nil {
		close(s.queue)
	}
	s.mu.Unlock()

	var errs []error
	if s.exporter != nil {
		<-s.drained
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := s.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}
	if s.file != nil {
		if err := s.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := s.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	return errors.Join(errs...)
}

// enqueue hands e to the drain goroutine unless the logger is closed or
// the queue is full.
func (s *sinks) enqueue(e LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
	}
}

func (s *sinks) drain() {
	defer close(s.drained)
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.exporter.Export(ctx, e)
		cancel()
	}
}

// fanout sends each record to every member that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}

// exportHandler turns slog records into LogEntry values for the exporter.
// Groups flatten into dotted keys.
type exportHandler struct {
	level   slog.Leveler
	service string
	prefix  string
	attrs   []slog.Attr
	sinks   *sinks
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *exportHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		flatten(attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(attrs, h.prefix, a)
		return true
	})
	// The service attribute is carried on the entry itself.
	delete(attrs, "service")
	h.sinks.enqueue(LogEntry{
		Timestamp: r.Time,
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Service:   h.service,
		Attrs:     attrs,
	})
	return nil
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func flatten(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			flatten(dst, p, ga)
		}
		return
	}
	dst[prefix+a.Key] = v.Any()
}

// expandPath replaces a leading "~" with the home directory.
func expandPath(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

// BufferedExporter keeps entries in memory.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
	flushed int
}

func NewBufferedExporter() *BufferedExporter { return &BufferedExporter{} }

func (e *BufferedExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	e.entries = append(e.entries, entry)
	e.mu.Unlock()
	return nil
}

// Flush records how many entries had arrived at flush time.
func (e *BufferedExporter) Flush(context.Context) error {
	e.mu.Lock()
	e.flushed = len(e.entries)
	e.mu.Unlock()
	return nil
}

func (e *BufferedExporter) Close() error { return nil }

// Entries returns a copy of what has been exported so far.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]LogEntry(nil), e.entries...)
}

// Flushed returns the entry count seen by the last Flush.
func (e *BufferedExporter) Flushed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushed
}

var _ LogExporter = (*BufferedExporter)(nil)
