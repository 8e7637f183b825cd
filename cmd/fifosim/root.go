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
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianFIFO/cmd/fifosim/config"
	"github.com/AleutianAI/AleutianFIFO/pkg/logging"
	"github.com/AleutianAI/AleutianFIFO/pkg/ux"
	"github.com/AleutianAI/AleutianFIFO/services/sim/trace"
	"github.com/spf13/cobra"
)

// errScenariosFailed makes the process exit non-zero after the failing
// reports have already been printed.
var errScenariosFailed = errors.New("one or more scenarios failed")

const serviceName = "fifosim"

// skipConfigAnnotation marks commands that must run without a loadable
// config file.
const skipConfigAnnotation = "fifosim/skip-config"

// app holds state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	output     string

	cfg     *config.FIFOSimConfig
	log     *logging.Logger
	printer *ux.Printer
}

func (a *app) logger() *slog.Logger {
	if a.log == nil {
		return slog.Default()
	}
	return a.log.Slog()
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "fifosim",
		Short: "Synchronous FIFO behavioral model and verification harness",
		Long: `fifosim drives a cycle-accurate model of an 8-bit synchronous FIFO.

It runs YAML verification scenarios, records every clock edge to a trace
store, serves an HTTP session API and offers an interactive console.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.aleutian/fifosim.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "auto", "output mode (auto, styled, plain, json)")

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newConsoleCmd(a),
		newTraceCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	mode, explicit, err := ux.ParseMode(a.output)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !explicit {
		mode = ux.ModePlain
		if f, ok := out.(*os.File); ok {
			mode = ux.DetectMode(f)
		}
	}
	a.printer = ux.NewPrinter(out, mode)

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg

	lc := cfg.Logging.LoggerConfig(serviceName)
	lc.Output = cmd.ErrOrStderr()
	a.log = logging.New(lc)
	slog.SetDefault(a.log.Slog())
	return nil
}

// openStore opens the badger trace store from config. path overrides the
// configured directory when set.
func (a *app) openStore(path string) (*trace.BadgerStore, error) {
	sc := a.cfg.Trace.Store.StoreConfig
	if path != "" {
		sc.Path = path
		sc.InMemory = false
	}
	sc.Logger = a.logger()
	store, err := trace.OpenStore(sc)
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}
	return store, nil
}

// recorders builds the recorder chain for a command. The returned store is
// nil unless recording to badger was requested.
func (a *app) recorders(record, influx bool) (trace.Recorder, *trace.BadgerStore, error) {
	var (
		recs  []trace.Recorder
		store *trace.BadgerStore
	)
	if record {
		s, err := a.openStore("")
		if err != nil {
			return nil, nil, err
		}
		store = s
		recs = append(recs, s)
	}
	if influx || a.cfg.Trace.Influx.Enabled {
		recs = append(recs, trace.NewInfluxSink(a.cfg.Trace.Influx.InfluxConfig))
	}
	return trace.Multi(recs...), store, nil
}

// closeRecorder closes rec and logs instead of failing the command.
func (a *app) closeRecorder(rec trace.Recorder) {
	if err := rec.Close(); err != nil {
		a.logger().Warn("close trace recorder", slog.String("error", err.Error()))
	}
}

func writeLine(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
