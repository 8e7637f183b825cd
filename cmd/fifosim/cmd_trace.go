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
	"github.com/spf13/cobra"
)

func newTraceCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded runs",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "trace store directory (default from config)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(path)
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.Runs(cmd.Context())
			if err != nil {
				return err
			}
			return renderRuns(a.printer, runs)
		},
	}

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print every recorded edge of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(path)
			if err != nil {
				return err
			}
			defer store.Close()
			recs, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderRecords(a.printer, recs)
		},
	}

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(path)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer.Success("deleted run " + args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}
