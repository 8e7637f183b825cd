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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianFIFO/services/sim"
	"github.com/AleutianAI/AleutianFIFO/services/sim/scenario"
	"github.com/AleutianAI/AleutianFIFO/services/sim/watch"
	"github.com/spf13/cobra"
)

type runOptions struct {
	builtin        bool
	watch          bool
	record         bool
	influx         bool
	concurrency    int
	stopOnMismatch bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [file or directory...]",
		Short: "Run verification scenarios",
		Long: `Run YAML verification scenarios and report every expectation mismatch.

With no paths the built-in scenarios run. --builtin adds them to the given
paths. The command exits non-zero when any scenario fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			return a.run(ctx, args, opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.builtin, "builtin", false, "also run the built-in scenarios")
	f.BoolVarP(&opts.watch, "watch", "w", false, "re-run scenario files when they change")
	f.BoolVar(&opts.record, "record", false, "record every edge to the trace store")
	f.BoolVar(&opts.influx, "influx", false, "export every edge to InfluxDB")
	f.IntVarP(&opts.concurrency, "concurrency", "j", 0, "scenarios run in parallel (default one per CPU)")
	f.BoolVar(&opts.stopOnMismatch, "stop-on-mismatch", false, "end each scenario at its first failing step")
	return cmd
}

// collectScenarios loads paths and prepends the builtins when requested or
// when no paths are given.
func collectScenarios(ctx context.Context, paths []string, builtin bool) ([]*scenario.Scenario, error) {
	var all []*scenario.Scenario
	if builtin || len(paths) == 0 {
		all = append(all, scenario.Builtin()...)
	}
	if len(paths) > 0 {
		loaded, err := scenario.LoadPaths(ctx, paths)
		if err != nil {
			return nil, err
		}
		all = append(all, loaded...)
	}
	return all, nil
}

func (a *app) run(ctx context.Context, paths []string, opts runOptions) error {
	if opts.watch && len(paths) == 0 {
		return errors.New("--watch needs at least one scenario file or directory")
	}

	rec, _, err := a.recorders(opts.record, opts.influx)
	if err != nil {
		return err
	}
	defer a.closeRecorder(rec)

	runner := &sim.Runner{
		Recorder:       rec,
		Logger:         a.logger(),
		Concurrency:    opts.concurrency,
		StopOnMismatch: opts.stopOnMismatch,
	}

	scenarios, err := collectScenarios(ctx, paths, opts.builtin)
	if err != nil {
		return err
	}
	passed, err := a.runAndRender(ctx, runner, scenarios)
	if err != nil {
		return err
	}
	if !opts.watch {
		if !passed {
			return errScenariosFailed
		}
		return nil
	}
	return a.watchAndRun(ctx, runner, paths)
}

func (a *app) runAndRender(ctx context.Context, runner *sim.Runner, scenarios []*scenario.Scenario) (bool, error) {
	reports, err := runner.RunAll(ctx, scenarios)
	if err != nil {
		return false, err
	}
	if err := renderReports(a.printer, reports); err != nil {
		return false, err
	}
	return sim.AllPassed(reports), nil
}

// watchAndRun re-runs changed scenario files until ctx ends. Load errors
// are reported and the watch continues.
func (a *app) watchAndRun(ctx context.Context, runner *sim.Runner, paths []string) error {
	log := a.logger()
	handler := func(ctx context.Context, changes []watch.Change) {
		var files []string
		for _, c := range changes {
			if c.Op != watch.OpRemove && scenario.IsScenarioFile(c.Path) {
				files = append(files, c.Path)
			}
		}
		if len(files) == 0 {
			return
		}
		a.printer.Title(fmt.Sprintf("%d changed file(s)", len(files)))
		scenarios, err := scenario.LoadPaths(ctx, files)
		if err != nil {
			a.printer.Error(err.Error())
			return
		}
		if _, err := a.runAndRender(ctx, runner, scenarios); err != nil && ctx.Err() == nil {
			log.Warn("watch run failed", slog.String("error", err.Error()))
		}
	}

	w, err := watch.New(paths, handler, watch.Options{Logger: log})
	if err != nil {
		return err
	}
	w.Start(ctx)
	defer w.Stop()

	a.printer.Muted("watching for changes, ctrl+c to stop")
	<-ctx.Done()
	return nil
}
