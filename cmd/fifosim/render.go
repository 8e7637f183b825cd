// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/AleutianAI/AleutianFIFO/pkg/ux"
	"github.com/AleutianAI/AleutianFIFO/services/sim"
	"github.com/AleutianAI/AleutianFIFO/services/sim/trace"
)

func renderReports(p *ux.Printer, reports []*sim.Report) error {
	if p.Mode() == ux.ModeJSON {
		return p.JSON(reports)
	}
	passed := 0
	for _, r := range reports {
		line := fmt.Sprintf("%s  (%d cycles, %d checks, %s)",
			r.Scenario, r.Cycles, r.Checks, r.Duration.Round(time.Microsecond))
		if r.Passed {
			passed++
			p.Success(line)
			continue
		}
		p.Error(line)
		for _, m := range r.Mismatches {
			text := m.String()
			if m.Comment != "" {
				text += "  # " + m.Comment
			}
			p.Info(text)
		}
	}
	p.Summary(passed, len(reports)-passed)
	return nil
}

func renderRuns(p *ux.Printer, runs []trace.RunSummary) error {
	if p.Mode() == ux.ModeJSON {
		return p.JSON(runs)
	}
	if len(runs) == 0 {
		p.Muted("no recorded runs")
		return nil
	}
	p.Title("Recorded runs")
	w := p.Writer()
	writeLine(w, "%-36s  %-28s  %8s  %s", "RUN ID", "SCENARIO", "CYCLES", "STARTED")
	for _, r := range runs {
		writeLine(w, "%-36s  %-28s  %8d  %s",
			r.RunID, r.Scenario, r.Cycles, r.Started.Local().Format(time.DateTime))
	}
	return nil
}

func renderRecords(p *ux.Printer, recs []trace.Record) error {
	if p.Mode() == ux.ModeJSON {
		return p.JSON(recs)
	}
	if len(recs) > 0 {
		p.Title(fmt.Sprintf("Run %s  %s", recs[0].RunID, recs[0].Scenario))
	}
	w := p.Writer()
	writeLine(w, "%8s  %-10s  %5s  %6s  %s", "CYCLE", "INPUTS", "COUNT", "OUTPUT", "STATUS")
	for _, r := range recs {
		writeLine(w, "%8d  %-10s  %5d  0x%02X    %s",
			r.Cycle, formatInputs(r.Inputs), r.Result.Count, r.Result.Output,
			ux.StatusChips(r.Result.Status, p.Styled()))
	}
	return nil
}

// formatInputs renders one edge's requests, e.g. "W 0x05 R".
func formatInputs(in fifo.Inputs) string {
	if in.Reset {
		return "reset"
	}
	var parts []string
	if in.Write {
		parts = append(parts, fmt.Sprintf("W 0x%02X", in.Data))
	}
	if in.Read {
		parts = append(parts, "R")
	}
	if len(parts) == 0 {
		return "idle"
	}
	return strings.Join(parts, " ")
}
