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
	"github.com/AleutianAI/AleutianFIFO/pkg/fifo"
	"github.com/AleutianAI/AleutianFIFO/services/sim"
	"github.com/AleutianAI/AleutianFIFO/services/sim/tui"
	"github.com/spf13/cobra"
)

func newConsoleCmd(a *app) *cobra.Command {
	var (
		depth  int
		sticky bool
		record bool
	)
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Step a FIFO interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			cfg := a.cfg.FIFO
			if depth > 0 {
				cfg = fifo.ConfigForDepth(depth)
			}
			if sticky {
				cfg.FlagMode = fifo.FlagsSticky
			}

			rec, _, err := a.recorders(record, false)
			if err != nil {
				return err
			}
			defer a.closeRecorder(rec)

			s, err := sim.New(cfg, sim.Options{
				Scenario: "console",
				Logger:   a.logger(),
				Recorder: rec,
			})
			if err != nil {
				return err
			}
			if record {
				a.logger().Info("recording console session", "run_id", s.RunID())
			}
			return tui.Run(ctx, s, a.printer.Styled())
		},
	}
	f := cmd.Flags()
	f.IntVar(&depth, "depth", 0, "buffer depth with conventional watermarks (default from config)")
	f.BoolVar(&sticky, "sticky", false, "latch overflow and underflow until cleared")
	f.BoolVar(&record, "record", false, "record every edge to the trace store")
	return cmd
}
