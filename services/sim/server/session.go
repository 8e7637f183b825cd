// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/AleutianAI/AleutianFIFO/pkg/pinbus"
	"github.com/AleutianAI/AleutianFIFO/services/sim"
	"github.com/AleutianAI/AleutianFIFO/services/sim/trace"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// watchBuffer is the per-watcher event queue. Slow watchers lose events
// rather than stall stepping.
const watchBuffer = 64

// Session is one live FIFO instance.
//
// Thread Safety: All methods serialize on the session mutex.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	sim      *sim.Simulator
	bus      *pinbus.Binding
	limiter  *rate.Limiter
	watchers map[chan WatchEvent]struct{}
}

// Info returns the session's ID and current snapshot.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{ID: s.ID, CreatedAt: s.CreatedAt, Snapshot: s.sim.Snapshot()}
}

// Allow reports whether another step request fits the session's rate.
func (s *Session) Allow() bool {
	return s.limiter.Allow()
}

// Step applies in for cycles edges (at least one).
func (s *Session) Step(ctx context.Context, in fifo.Inputs, cycles int) ([]fifo.StepResult, fifo.Snapshot, error) {
	if cycles < 1 {
		cycles = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]fifo.StepResult, 0, cycles)
	for i := 0; i < cycles; i++ {
		if err := ctx.Err(); err != nil {
			return results, s.sim.Snapshot(), err
		}
		res, err := s.sim.Step(ctx, in)
		results = append(results, res)
		s.publish(stepEvent(res))
		if err != nil {
			return results, s.sim.Snapshot(), err
		}
	}
	return results, s.sim.Snapshot(), nil
}

// Pins clocks the pin binding for cycles edges and returns the bus after
// the last one.
func (s *Session) Pins(ctx context.Context, in pinbus.Pins, cycles int) (pinbus.Pins, fifo.StepResult, error) {
	if cycles < 1 {
		cycles = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out pinbus.Pins
	for i := 0; i < cycles; i++ {
		if err := ctx.Err(); err != nil {
			return out, s.bus.Last(), err
		}
		out = s.bus.Edge(in)
		res, err := s.sim.Publish(ctx, pinbus.Decode(in), s.bus.Last())
		s.publish(stepEvent(res))
		if err != nil {
			return out, res, err
		}
	}
	return out, s.bus.Last(), nil
}

// Reset applies a reset edge.
func (s *Session) Reset(ctx context.Context) (fifo.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.sim.Reset(ctx)
	s.publish(stepEvent(res))
	return res, err
}

// ClearErrors drops latched overflow and underflow flags.
func (s *Session) ClearErrors() fifo.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sim.ClearErrors()
	snap := s.sim.Snapshot()
	s.publish(WatchEvent{Type: "clear", Snapshot: &snap})
	return snap
}

// Watch subscribes to the session's events. The first event is a snapshot.
// Call the returned function to unsubscribe; it closes the channel.
func (s *Session) Watch() (<-chan WatchEvent, func()) {
	ch := make(chan WatchEvent, watchBuffer)

	s.mu.Lock()
	snap := s.sim.Snapshot()
	ch <- WatchEvent{Type: "snapshot", Snapshot: &snap}
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.watchers[ch]; ok {
				delete(s.watchers, ch)
				close(ch)
			}
		})
	}
}

// publish must be called with s.mu held.
func (s *Session) publish(ev WatchEvent) {
	for ch := range s.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// closeWatchers must be called with s.mu held.
func (s *Session) closeWatchers() {
	for ch := range s.watchers {
		delete(s.watchers, ch)
		close(ch)
	}
}

func stepEvent(res fifo.StepResult) WatchEvent {
	typ := "step"
	if res.Reset {
		typ = "reset"
	}
	return WatchEvent{Type: typ, Result: &res}
}

// =============================================================================
// Manager
// =============================================================================

// ManagerConfig configures a SessionManager.
type ManagerConfig struct {
	// Defaults is used when a create request names no depth.
	Defaults fifo.Config

	// SampleStages is the default pin binding depth.
	SampleStages int

	// MaxSessions bounds live sessions. Zero means 64.
	MaxSessions int

	// StepRate and StepBurst bound step requests per session per second.
	// Zero rate disables limiting.
	StepRate  float64
	StepBurst int

	// Recorder receives every session edge, with the session ID as run ID.
	Recorder trace.Recorder

	Logger *slog.Logger
}

// SessionManager owns live sessions.
//
// Thread Safety: Safe for concurrent use.
type SessionManager struct {
	cfg ManagerConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty manager.
func NewSessionManager(cfg ManagerConfig) *SessionManager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 64
	}
	if cfg.Defaults.Depth == 0 {
		cfg.Defaults = fifo.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = trace.Discard
	}
	return &SessionManager{cfg: cfg, sessions: make(map[string]*Session)}
}

// configFor resolves a create request against the defaults.
func (m *SessionManager) configFor(req CreateSessionRequest) (fifo.Config, int, error) {
	cfg := m.cfg.Defaults
	if req.Depth > 0 {
		cfg = fifo.ConfigForDepth(req.Depth)
		cfg.FlagMode = m.cfg.Defaults.FlagMode
	}
	if req.LowWatermark != nil {
		cfg.LowWatermark = *req.LowWatermark
	}
	if req.HighWatermark != nil {
		cfg.HighWatermark = *req.HighWatermark
	}
	if req.FlagMode != "" {
		mode, err := fifo.ParseFlagMode(req.FlagMode)
		if err != nil {
			return fifo.Config{}, 0, err
		}
		cfg.FlagMode = mode
	}
	cfg.CheckInvariants = cfg.CheckInvariants || req.CheckInvariants

	stages := m.cfg.SampleStages
	if req.SampleStages != nil {
		stages = *req.SampleStages
	}
	return cfg, stages, cfg.Validate()
}

// Create starts a session.
//
// Outputs:
//
//	*Session - The new session, in the reset state.
//	error - fifo.ErrInvalidConfig or ErrTooManySessions.
func (m *SessionManager) Create(req CreateSessionRequest) (*Session, error) {
	cfg, stages, err := m.configFor(req)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	simulator, err := sim.New(cfg, sim.Options{
		RunID:    id,
		Scenario: "session",
		Logger:   m.cfg.Logger,
		Recorder: m.cfg.Recorder,
	})
	if err != nil {
		return nil, err
	}
	bus, err := pinbus.New(simulator.Controller(), stages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fifo.ErrInvalidConfig, err)
	}

	limit := rate.Inf
	if m.cfg.StepRate > 0 {
		limit = rate.Limit(m.cfg.StepRate)
	}
	burst := m.cfg.StepBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		sim:       simulator,
		bus:       bus,
		limiter:   rate.NewLimiter(limit, burst),
		watchers:  make(map[chan WatchEvent]struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManySessions, m.cfg.MaxSessions)
	}
	m.sessions[id] = s
	return s, nil
}

// Get returns a session by ID.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns every session, oldest first.
func (m *SessionManager) List() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Delete removes a session and closes its watchers.
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.mu.Lock()
	s.closeWatchers()
	s.mu.Unlock()
	return nil
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
