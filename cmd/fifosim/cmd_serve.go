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
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianFIFO/services/sim"
	"github.com/AleutianAI/AleutianFIFO/services/sim/server"
	"github.com/AleutianAI/AleutianFIFO/services/sim/telemetry"
	"github.com/AleutianAI/AleutianFIFO/services/sim/trace"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	port     int
	inMemory bool
	influx   bool
}

func newServeCmd(a *app) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the FIFO session API",
		Long: `Serve the HTTP session API under /v1/fifo, Prometheus metrics on /metrics
and WebSocket step streams on /v1/fifo/sessions/:id/watch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			return a.serve(ctx, opts)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.port, "port", "p", 0, "listen port (default from config)")
	f.BoolVar(&opts.inMemory, "in-memory", false, "keep traces in memory instead of on disk")
	f.BoolVar(&opts.influx, "influx", false, "export every edge to InfluxDB")
	return cmd
}

func (a *app) serve(ctx context.Context, opts serveOptions) error {
	log := a.logger()
	cfg := a.cfg

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Error("failed to shutdown telemetry", slog.String("error", err.Error()))
		}
	}()

	var (
		store *trace.BadgerStore
		recs  []trace.Recorder
	)
	switch {
	case opts.inMemory:
		store, err = trace.OpenInMemoryStore()
	case cfg.Trace.Store.Enabled:
		store, err = a.openStore("")
	}
	if err != nil {
		return err
	}
	if store != nil {
		recs = append(recs, store)
	}
	if opts.influx || cfg.Trace.Influx.Enabled {
		recs = append(recs, trace.NewInfluxSink(cfg.Trace.Influx.InfluxConfig))
	}
	rec := trace.Multi(recs...)
	defer a.closeRecorder(rec)

	sessions := server.NewSessionManager(server.ManagerConfig{
		Defaults:     cfg.FIFO,
		SampleStages: cfg.Bus.SampleStages,
		MaxSessions:  cfg.Server.MaxSessions,
		StepRate:     cfg.Server.StepRate,
		StepBurst:    cfg.Server.StepBurst,
		Recorder:     rec,
		Logger:       log,
	})
	runner := &sim.Runner{Recorder: rec, Logger: log}

	// A nil *BadgerStore in the interface would look enabled.
	var ts server.TraceStore
	if store != nil {
		ts = store
	}
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(server.NewHandlers(sessions, runner, ts), cfg.Telemetry.ServiceName, log)

	port := cfg.Server.Port
	if opts.port != 0 {
		port = opts.port
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting fifosim server", slog.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down fifosim server")
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
