// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders fifosim terminal output.
//
// Output has three modes. Styled uses the lipgloss palette and icons, Plain
// prints the same lines without escape codes, and JSON emits machine
// readable documents only. DetectMode picks Styled for terminals and Plain
// otherwise.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles is the shared style set.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style

	FlagOn  lipgloss.Style
	FlagOff lipgloss.Style
	FlagBad lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),

	FlagOn:  lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	FlagOff: lipgloss.NewStyle().Foreground(ColorSlate),
	FlagBad: lipgloss.NewStyle().Bold(true).Foreground(ColorError),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render colors the icon.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Mode selects how a Printer renders.
type Mode int

const (
	ModeStyled Mode = iota
	ModePlain
	ModeJSON
)

// ParseMode accepts "styled", "plain", "json" or "auto". "auto" and ""
// return ok=false so the caller can fall back to DetectMode.
func ParseMode(s string) (Mode, bool, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ModeStyled, false, nil
	case "styled", "color":
		return ModeStyled, true, nil
	case "plain", "text":
		return ModePlain, true, nil
	case "json":
		return ModeJSON, true, nil
	}
	return ModeStyled, false, fmt.Errorf("unknown output mode %q", s)
}

// DetectMode returns ModeStyled when f is a terminal and NO_COLOR is unset,
// ModePlain otherwise.
func DetectMode(f *os.File) Mode {
	if os.Getenv("NO_COLOR") != "" || f == nil {
		return ModePlain
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return ModeStyled
	}
	return ModePlain
}

// Printer writes mode-aware output.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter creates a Printer.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode { return p.mode }

// Styled reports whether escape codes are emitted.
func (p *Printer) Styled() bool { return p.mode == ModeStyled }

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.w }

func (p *Printer) render(s lipgloss.Style, text string) string {
	if p.mode != ModeStyled {
		return text
	}
	return s.Render(text)
}

func (p *Printer) line(format string, args ...any) {
	if p.mode == ModeJSON {
		return
	}
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Title prints a heading.
func (p *Printer) Title(text string) {
	p.line("%s", p.render(Styles.Title, text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if p.Styled() {
		p.line("%s %s", IconSuccess.Render(), Styles.Success.Render(text))
		return
	}
	p.line("OK: %s", text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if p.Styled() {
		p.line("%s %s", IconWarning.Render(), Styles.Warning.Render(text))
		return
	}
	p.line("WARN: %s", text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if p.Styled() {
		p.line("%s %s", IconError.Render(), Styles.Error.Render(text))
		return
	}
	p.line("FAIL: %s", text)
}

// Info prints an indented detail line.
func (p *Printer) Info(text string) {
	if p.Styled() {
		p.line("%s %s", Styles.Muted.Render("│"), text)
		return
	}
	p.line("  %s", text)
}

// Muted prints a de-emphasized line.
func (p *Printer) Muted(text string) {
	p.line("%s", p.render(Styles.Muted, text))
}

// Box prints content under a title, boxed when styled.
func (p *Printer) Box(title, content string) {
	if !p.Styled() {
		p.line("%s:\n%s", title, content)
		return
	}
	p.line("%s", Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// JSON writes v as indented JSON. It is the only output in ModeJSON and is
// also usable in the other modes.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Summary prints pass and fail totals.
func (p *Printer) Summary(passed, failed int) {
	if !p.Styled() {
		p.line("SUMMARY: passed=%d failed=%d total=%d", passed, failed, passed+failed)
		return
	}
	p.line("\n%s %s  %s %s  %s %s",
		Styles.Success.Render(fmt.Sprint(passed)), Styles.Muted.Render("passed"),
		Styles.Error.Render(fmt.Sprint(failed)), Styles.Muted.Render("failed"),
		Styles.Bold.Render(fmt.Sprint(passed+failed)), Styles.Muted.Render("total"),
	)
}

// FillGauge renders count/depth as a bar of width cells.
func FillGauge(count, depth, width int, styled bool) string {
	if depth <= 0 || width <= 0 {
		return ""
	}
	filled := count * width / depth
	if count > 0 && filled == 0 {
		filled = 1
	}
	bar := strings.Repeat("█", filled)
	rest := strings.Repeat("░", width-filled)
	if styled {
		bar = Styles.Success.Render(bar)
		rest = Styles.Muted.Render(rest)
	}
	return fmt.Sprintf("%s%s %d/%d", bar, rest, count, depth)
}
