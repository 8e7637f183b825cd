// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	ErrNilContext      = errors.New("telemetry: nil context")
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Exporter names accepted in Config.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

// Config selects where spans and FIFO metrics go.
type Config struct {
	ServiceName    string `yaml:"service_name" json:"service_name"`
	ServiceVersion string `yaml:"service_version" json:"service_version"`
	Environment    string `yaml:"environment" json:"environment"`

	// TraceExporter is otlp, stdout or none. Empty means none.
	TraceExporter string `yaml:"trace_exporter" json:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`

	// MetricExporter is prometheus, stdout or none. Empty means none.
	MetricExporter string `yaml:"metric_exporter" json:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`

	// OTLPEndpoint is host:port of an OTLP gRPC collector.
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure" json:"otlp_insecure"`

	// StdoutWriter receives stdout exporter output instead of os.Stdout.
	StdoutWriter io.Writer `yaml:"-" json:"-"`
}

// DefaultConfig exposes Prometheus metrics and exports no spans. The
// standard OTEL_* variables and ALEUTIAN_ENV override the defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "fifosim",
		ServiceVersion: "1.0.0",
		Environment:    envOr("ALEUTIAN_ENV", "development"),
		TraceExporter:  envOr("OTEL_TRACES_EXPORTER", ExporterNone),
		MetricExporter: envOr("OTEL_METRICS_EXPORTER", ExporterPrometheus),
		OTLPEndpoint:   envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
	}
}

func (c Config) stdout() io.Writer {
	if c.StdoutWriter != nil {
		return c.StdoutWriter
	}
	return os.Stdout
}

func (c Config) resource() *resource.Resource {
	return resource.NewWithAttributes("",
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.ServiceVersion),
		attribute.String("deployment.environment", c.Environment),
	)
}

// closer is one teardown step registered while Init builds providers.
type closer func(context.Context) error

// closers run in reverse registration order.
type closers []closer

func (cs *closers) add(c closer) { *cs = append(*cs, c) }

func (cs closers) run(ctx context.Context) error {
	var errs []error
	for _, c := range slices.Backward(cs) {
		errs = append(errs, c(ctx))
	}
	return errors.Join(errs...)
}

// Init installs global tracer and meter providers for cfg.
//
// Outputs:
//
//	shutdown - Flushes and stops what Init started. Always call it.
//	error - ErrNilContext, ErrUnknownExporter or an exporter failure.
//	        Nothing is left running when Init fails.
//
// Call Init once, at startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	var cs closers
	defer func() {
		if err != nil {
			_ = cs.run(ctx)
		}
	}()

	res := cfg.resource()
	if enabled(cfg.TraceExporter) {
		build, ok := spanExporters[cfg.TraceExporter]
		if !ok {
			return nil, fmt.Errorf("init tracer: %w: %s", ErrUnknownExporter, cfg.TraceExporter)
		}
		exp, err := build(ctx, cfg, &cs)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		tp := trace.NewTracerProvider(
			trace.WithBatcher(exp),
			trace.WithResource(res),
			trace.WithSampler(trace.AlwaysSample()),
		)
		cs.add(tp.Shutdown)
		otel.SetTracerProvider(tp)
	}

	if enabled(cfg.MetricExporter) {
		build, ok := metricReaders[cfg.MetricExporter]
		if !ok {
			return nil, fmt.Errorf("init meter: %w: %s", ErrUnknownExporter, cfg.MetricExporter)
		}
		reader, err := build(cfg)
		if err != nil {
			return nil, fmt.Errorf("init meter: %w", err)
		}
		mp := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader))
		cs.add(mp.Shutdown)
		otel.SetMeterProvider(mp)
	}

	return cs.run, nil
}

func enabled(name string) bool { return name != "" && name != ExporterNone }

var spanExporters = map[string]func(context.Context, Config, *closers) (trace.SpanExporter, error){
	ExporterOTLP:   otlpExporter,
	ExporterStdout: func(_ context.Context, cfg Config, _ *closers) (trace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(cfg.stdout()), stdouttrace.WithPrettyPrint())
	},
}

// otlpExporter dials the collector itself when TLS is off so the
// connection can be closed on shutdown.
func otlpExporter(ctx context.Context, cfg Config, cs *closers) (trace.SpanExporter, error) {
	if !cfg.OTLPInsecure {
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial otlp collector %s: %w", cfg.OTLPEndpoint, err)
	}
	cs.add(func(context.Context) error { return conn.Close() })
	return otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
}

var metricReaders = map[string]func(Config) (metric.Reader, error){
	ExporterPrometheus: func(Config) (metric.Reader, error) {
		reader, err := promexporter.New()
		if err != nil {
			return nil, err
		}
		// promexporter registers on the default registry, which also holds
		// the promauto counters of other packages.
		var h http.Handler = promhttp.Handler()
		metricsHandler.Store(&h)
		return reader, nil
	},
	ExporterStdout: func(cfg Config) (metric.Reader, error) {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.stdout()), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		return metric.NewPeriodicReader(exp), nil
	},
}

var metricsHandler atomic.Pointer[http.Handler]

// MetricsHandler serves /metrics once Init has enabled the Prometheus
// exporter. Before that it returns nil.
func MetricsHandler() http.Handler {
	if h := metricsHandler.Load(); h != nil {
		return *h
	}
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
