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
// Status Bus
// =============================================================================

// StatusBits is the packed form of the status bus.
//
// Bit order (LSB first):
//
//	bit 0  empty
//	bit 1  almost_empty
//	bit 2  almost_full
//	bit 3  full
//	bit 4  overflow
//	bit 5  underflow
//
// Bits 6 and 7 are always zero.
type StatusBits uint8

// Packed status bit masks.
const (
	BitEmpty StatusBits = 1 << iota
	BitAlmostEmpty
	BitAlmostFull
	BitFull
	BitOverflow
	BitUnderflow

	// StatusMask covers all six defined bits.
	StatusMask StatusBits = BitEmpty | BitAlmostEmpty | BitAlmostFull | BitFull | BitOverflow | BitUnderflow
)

// flagNames maps flag names to bits in bit order.
var flagNames = []struct {
	name string
	bit  StatusBits
}{
	{"empty", BitEmpty},
	{"almost_empty", BitAlmostEmpty},
	{"almost_full", BitAlmostFull},
	{"full", BitFull},
	{"overflow", BitOverflow},
	{"underflow", BitUnderflow},
}

// ParseFlag returns the bit for a flag name such as "almost_full".
// Hyphens are accepted in place of underscores.
func ParseFlag(name string) (StatusBits, error) {
	n := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for _, f := range flagNames {
		if f.name == n {
			return f.bit, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFlag, name)
}

// FlagNames returns the six flag names in bit order.
func FlagNames() []string {
	names := make([]string, len(flagNames))
	for i, f := range flagNames {
		names[i] = f.name
	}
	return names
}

// Has reports whether every bit in mask is set.
func (b StatusBits) Has(mask StatusBits) bool {
	return b&mask == mask
}

// Unpack expands packed bits into a StatusBus. Undefined bits are ignored.
func (b StatusBits) Unpack() StatusBus {
	return StatusBus{
		Empty:       b.Has(BitEmpty),
		AlmostEmpty: b.Has(BitAlmostEmpty),
		AlmostFull:  b.Has(BitAlmostFull),
		Full:        b.Has(BitFull),
		Overflow:    b.Has(BitOverflow),
		Underflow:   b.Has(BitUnderflow),
	}
}

// String lists the set flags separated by "|", or "none".
func (b StatusBits) String() string {
	var set []string
	for _, f := range flagNames {
		if b.Has(f.bit) {
			set = append(set, f.name)
		}
	}
	if len(set) == 0 {
		return "none"
	}
	return strings.Join(set, "|")
}

// StatusBus is the decoded status output of the controller.
type StatusBus struct {
	Empty       bool `json:"empty"`
	AlmostEmpty bool `json:"almost_empty"`
	AlmostFull  bool `json:"almost_full"`
	Full        bool `json:"full"`
	Overflow    bool `json:"overflow"`
	Underflow   bool `json:"underflow"`
}

// Pack encodes the bus into StatusBits.
func (s StatusBus) Pack() StatusBits {
	var b StatusBits
	if s.Empty {
		b |= BitEmpty
	}
	if s.AlmostEmpty {
		b |= BitAlmostEmpty
	}
	if s.AlmostFull {
		b |= BitAlmostFull
	}
	if s.Full {
		b |= BitFull
	}
	if s.Overflow {
		b |= BitOverflow
	}
	if s.Underflow {
		b |= BitUnderflow
	}
	return b
}

// String returns the packed representation's flag list.
func (s StatusBus) String() string {
	return s.Pack().String()
}

// =============================================================================
// Flag Unit
// =============================================================================

// Flags derives the status bus from the live count and this cycle's reject
// conditions. It is a pure function: the controller owns count, this only
// reads it.
//
// Watermark flags are inclusive, so almost_empty is set whenever empty is
// and almost_full whenever full is.
func Flags(cfg Config, count int, overflow, underflow bool) StatusBus {
	return StatusBus{
		Empty:       count == 0,
		AlmostEmpty: count <= cfg.LowWatermark,
		AlmostFull:  count >= cfg.HighWatermark,
		Full:        count == cfg.Depth,
		Overflow:    overflow,
		Underflow:   underflow,
	}
}
