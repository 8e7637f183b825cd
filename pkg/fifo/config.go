// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fifo

import (
	"fmt"
	"strings"
)

// =============================================================================
// Flag Mode
// =============================================================================

// FlagMode selects how the overflow and underflow bits behave over time.
type FlagMode int

const (
	// FlagsTransient reports overflow/underflow for exactly the cycle the
	// rejected request was presented. This is the default.
	FlagsTransient FlagMode = iota

	// FlagsSticky latches overflow until a write is accepted and underflow
	// until a read is accepted. ClearErrors and reset clear both.
	FlagsSticky
)

// String returns "transient", "sticky", or "unknown".
func (m FlagMode) String() string {
	switch m {
	case FlagsTransient:
		return "transient"
	case FlagsSticky:
		return "sticky"
	default:
		return "unknown"
	}
}

// ParseFlagMode converts a mode name to a FlagMode.
//
// The empty string maps to FlagsTransient so that omitted configuration
// fields keep the default behavior.
func ParseFlagMode(s string) (FlagMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "transient":
		return FlagsTransient, nil
	case "sticky":
		return FlagsSticky, nil
	default:
		return FlagsTransient, fmt.Errorf("%w: %q", ErrUnknownFlagMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m FlagMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *FlagMode) UnmarshalText(text []byte) error {
	mode, err := ParseFlagMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds the construction-time constants of a controller.
//
// Depth and the watermarks are fixed for the lifetime of a Controller, the
// way they would be synthesis parameters of the circuit.
type Config struct {
	// Depth is the buffer capacity in items. Must be at least 1.
	Depth int `json:"depth" yaml:"depth"`

	// LowWatermark raises almost_empty when count <= LowWatermark.
	LowWatermark int `json:"low_watermark" yaml:"low_watermark"`

	// HighWatermark raises almost_full when count >= HighWatermark.
	HighWatermark int `json:"high_watermark" yaml:"high_watermark"`

	// FlagMode selects transient or sticky overflow/underflow reporting.
	FlagMode FlagMode `json:"flag_mode" yaml:"flag_mode"`

	// CheckInvariants enables internal-consistency assertions after every
	// edge. A violation panics with an error wrapping ErrInvariant.
	CheckInvariants bool `json:"check_invariants" yaml:"check_invariants"`
}

// DefaultConfig returns a four-entry FIFO with watermarks at 1 and 3.
func DefaultConfig() Config {
	return Config{
		Depth:         4,
		LowWatermark:  1,
		HighWatermark: 3,
		FlagMode:      FlagsTransient,
	}
}

// ConfigForDepth returns a config with the conventional watermarks for the
// given depth: 2 and depth-2, clamped into [0, depth].
func ConfigForDepth(depth int) Config {
	low, high := 2, depth-2
	if low > depth {
		low = depth
	}
	if high < low {
		high = low
	}
	return Config{
		Depth:         depth,
		LowWatermark:  low,
		HighWatermark: high,
	}
}

// Validate checks that 1 <= Depth and 0 <= Low <= High <= Depth.
func (c Config) Validate() error {
	if c.Depth < 1 {
		return fmt.Errorf("%w: depth %d must be at least 1", ErrInvalidConfig, c.Depth)
	}
	if c.LowWatermark < 0 || c.LowWatermark > c.Depth {
		return fmt.Errorf("%w: low watermark %d outside [0, %d]", ErrInvalidConfig, c.LowWatermark, c.Depth)
	}
	if c.HighWatermark < 0 || c.HighWatermark > c.Depth {
		return fmt.Errorf("%w: high watermark %d outside [0, %d]", ErrInvalidConfig, c.HighWatermark, c.Depth)
	}
	if c.LowWatermark > c.HighWatermark {
		return fmt.Errorf("%w: low watermark %d above high watermark %d",
			ErrInvalidConfig, c.LowWatermark, c.HighWatermark)
	}
	switch c.FlagMode {
	case FlagsTransient, FlagsSticky:
	default:
		return fmt.Errorf("%w: %w: %d", ErrInvalidConfig, ErrUnknownFlagMode, int(c.FlagMode))
	}
	return nil
}
