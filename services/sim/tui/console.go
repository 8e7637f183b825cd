// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui provides the interactive FIFO console.
//
// # Description
//
// The console drives a sim.Simulator one edge per key press and shows the
// count, pointers, output register and status flags after every edge,
// with a short history of recent edges.
//
// # Thread Safety
//
// ConsoleModel is designed for single-threaded use within the bubbletea
// event loop.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/AleutianAI/AleutianFIFO/pkg/ux"
	"github.com/AleutianAI/AleutianFIFO/services/sim"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// HistorySize is the number of edges kept in the on-screen history.
const HistorySize = 12

// Entry is one edge in the console history.
type Entry struct {
	Op     string
	Data   uint8
	Result fifo.StepResult
}

func (e Entry) describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%-5d %-5s", e.Result.Cycle, e.Op)
	switch e.Op {
	case "write", "both":
		fmt.Fprintf(&b, " 0x%02X", e.Data)
	default:
		b.WriteString("     ")
	}
	fmt.Fprintf(&b, "  count %d  out 0x%02X  %s", e.Result.Count, e.Result.Output, e.Result.Status.String())
	return b.String()
}

// ConsoleModel is the bubbletea model for the FIFO console.
type ConsoleModel struct {
	ctx   context.Context
	sim   *sim.Simulator
	input textinput.Model

	// next is the value the next write pushes. It increments after each
	// write so repeated 'w' presses push distinct items.
	next uint8

	history  []Entry
	err      error
	showHelp bool
	quitting bool
	styled   bool
}

// NewConsole creates a console around s. styled selects lipgloss rendering.
func NewConsole(ctx context.Context, s *sim.Simulator, styled bool) ConsoleModel {
	ti := textinput.New()
	ti.Placeholder = "0x00"
	ti.CharLimit = 4
	ti.Width = 6
	ti.Prompt = "value> "
	return ConsoleModel{
		ctx:    ctx,
		sim:    s,
		input:  ti,
		next:   1,
		styled: styled,
	}
}

// Run starts the console and blocks until the user quits or ctx ends.
func Run(ctx context.Context, s *sim.Simulator, styled bool) error {
	p := tea.NewProgram(NewConsole(ctx, s, styled), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// Init implements tea.Model.
func (m ConsoleModel) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m ConsoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if key.Type == tea.KeyCtrlC {
		m.quitting = true
		return m, tea.Quit
	}
	if m.input.Focused() {
		return m.updateInput(key)
	}

	switch key.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "w":
		m.apply("write", fifo.Inputs{Write: true, Data: m.next})
		m.next++
	case "r":
		m.apply("read", fifo.Inputs{Read: true})
	case "b":
		m.apply("both", fifo.Inputs{Write: true, Data: m.next, Read: true})
		m.next++
	case " ", "space":
		m.apply("idle", fifo.Inputs{})
	case "x":
		m.apply("reset", fifo.Inputs{Reset: true})
	case "c":
		m.sim.ClearErrors()
		m.err = nil
	case "i", "/":
		m.input.SetValue("")
		cmd := m.input.Focus()
		return m, cmd
	case "?":
		m.showHelp = !m.showHelp
	}
	return m, nil
}

func (m ConsoleModel) updateInput(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEnter:
		v, err := ParseValue(m.input.Value())
		if err != nil {
			m.err = err
		} else {
			m.next = v
			m.err = nil
		}
		m.input.Blur()
		return m, nil
	case tea.KeyEsc:
		m.input.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(key)
	return m, cmd
}

func (m *ConsoleModel) apply(op string, in fifo.Inputs) {
	res, err := m.sim.Step(m.ctx, in)
	m.err = err
	m.history = append([]Entry{{Op: op, Data: in.Data, Result: res}}, m.history...)
	if len(m.history) > HistorySize {
		m.history = m.history[:HistorySize]
	}
}

// History returns recent edges, newest first.
func (m ConsoleModel) History() []Entry { return m.history }

// Next returns the value the next write pushes.
func (m ConsoleModel) Next() uint8 { return m.next }

// Err returns the last error, if any.
func (m ConsoleModel) Err() error { return m.err }

// ParseValue parses a data byte written as decimal or 0x-prefixed hex.
func ParseValue(s string) (uint8, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: want 0-255 or 0x00-0xFF", s)
	}
	return uint8(v), nil
}

func (m ConsoleModel) style(s lipgloss.Style, text string) string {
	if !m.styled {
		return text
	}
	return s.Render(text)
}

// View implements tea.Model.
func (m ConsoleModel) View() string {
	if m.quitting {
		return ""
	}
	snap := m.sim.Snapshot()
	cfg := snap.Config

	var b strings.Builder
	b.WriteString(m.style(ux.Styles.Title, "FIFO console"))
	fmt.Fprintf(&b, "  depth %d  low %d  high %d  flags %s\n\n",
		cfg.Depth, cfg.LowWatermark, cfg.HighWatermark, cfg.FlagMode)

	fmt.Fprintf(&b, "count   %s\n", ux.FillGauge(snap.Count, cfg.Depth, 16, m.styled))
	fmt.Fprintf(&b, "ptrs    wr %d  rd %d  cycle %d\n", snap.WritePtr, snap.ReadPtr, snap.Cycle)
	fmt.Fprintf(&b, "output  %s\n", m.style(ux.Styles.Highlight, fmt.Sprintf("0x%02X", snap.Output)))
	fmt.Fprintf(&b, "status  %s  (0x%02X)\n", ux.StatusChips(snap.Status, m.styled), uint8(snap.Status.Pack()))
	fmt.Fprintf(&b, "items   %s\n", formatItems(snap.Items))
	fmt.Fprintf(&b, "next    0x%02X\n", m.next)

	if m.input.Focused() {
		b.WriteString("\n" + m.input.View() + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + m.style(ux.Styles.Error, "error: "+m.err.Error()) + "\n")
	}

	if len(m.history) > 0 {
		b.WriteString("\n" + m.style(ux.Styles.Subtitle, "history") + "\n")
		for _, e := range m.history {
			line := e.describe()
			if e.Result.Status.Overflow || e.Result.Status.Underflow {
				line = m.style(ux.Styles.Warning, line)
			}
			b.WriteString("  " + line + "\n")
		}
	}

	b.WriteString("\n")
	if m.showHelp {
		b.WriteString(m.style(ux.Styles.Muted,
			"w write next value   r read   b write+read   space idle edge\n"+
				"x reset   c clear errors   i or / set next value   q quit"))
	} else {
		b.WriteString(m.style(ux.Styles.Muted, "w r b space x c i q  (? for help)"))
	}
	b.WriteString("\n")
	return b.String()
}

func formatItems(items []fifo.Item) string {
	if len(items) == 0 {
		return "[]"
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%02X", it)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
