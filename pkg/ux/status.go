// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"strings"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
)

// StatusChips renders all six flags in bit order. Set flags are
// highlighted, error flags in red; plain mode marks set flags with '+'.
func StatusChips(s fifo.StatusBus, styled bool) string {
	bits := s.Pack()
	chips := make([]string, 0, 6)
	for _, name := range fifo.FlagNames() {
		mask, _ := fifo.ParseFlag(name)
		on := bits.Has(mask)
		if !styled {
			if on {
				chips = append(chips, "+"+name)
			} else {
				chips = append(chips, "-"+name)
			}
			continue
		}
		switch {
		case on && (mask == fifo.BitOverflow || mask == fifo.BitUnderflow):
			chips = append(chips, Styles.FlagBad.Render(name))
		case on:
			chips = append(chips, Styles.FlagOn.Render(name))
		default:
			chips = append(chips, Styles.FlagOff.Render(name))
		}
	}
	return strings.Join(chips, " ")
}
