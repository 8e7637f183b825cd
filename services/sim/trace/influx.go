// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"context"
	"fmt"
	"os"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement written for each cycle.
const Measurement = "fifo_cycle"

// InfluxConfig configures an InfluxSink. Empty fields fall back to the
// INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG and INFLUXDB_BUCKET
// environment variables, then to local development defaults.
type InfluxConfig struct {
	URL    string `yaml:"url" json:"url"`
	Token  string `yaml:"token" json:"-"`
	Org    string `yaml:"org" json:"org"`
	Bucket string `yaml:"bucket" json:"bucket"`

	// BatchSize is the number of points buffered before a write. Default 100.
	BatchSize int `yaml:"batch_size" json:"batch_size" validate:"gte=0"`
}

func envOr(v, key, def string) string {
	if v != "" {
		return v
	}
	if e := os.Getenv(key); e != "" {
		return e
	}
	return def
}

// withDefaults fills empty fields.
func (c InfluxConfig) withDefaults() InfluxConfig {
	c.URL = envOr(c.URL, "INFLUXDB_URL", "http://localhost:8086")
	c.Token = envOr(c.Token, "INFLUXDB_TOKEN", "")
	c.Org = envOr(c.Org, "INFLUXDB_ORG", "aleutian")
	c.Bucket = envOr(c.Bucket, "INFLUXDB_BUCKET", "fifosim")
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// InfluxSink writes one fifo_cycle point per record.
//
// Points are tagged with run_id and scenario and carry the fill level,
// packed status, output register and accept bits as fields. They are
// buffered and written with the blocking write API when the buffer fills
// or the sink is flushed.
//
// Thread Safety: Safe for concurrent use.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	batch    int

	mu      sync.Mutex
	pending []*write.Point
	closed  bool
}

// NewInfluxSink creates a sink. No connection is made until the first write.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	cfg = cfg.withDefaults()
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		batch:    cfg.BatchSize,
	}
}

// Point converts a record to an InfluxDB point.
func Point(rec Record) *write.Point {
	res := rec.Result
	return influxdb2.NewPointWithMeasurement(Measurement).
		AddTag("run_id", rec.RunID).
		AddTag("scenario", rec.Scenario).
		AddField("cycle", int64(rec.Cycle)).
		AddField("count", res.Count).
		AddField("status", int64(res.Status.Pack())).
		AddField("output", int64(res.Output)).
		AddField("write_accepted", res.WriteAccepted).
		AddField("read_accepted", res.ReadAccepted).
		AddField("overflow", res.Status.Overflow).
		AddField("underflow", res.Status.Underflow).
		SetTime(rec.Time)
}

// Record buffers a point and writes the batch once it is full.
func (s *InfluxSink) Record(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return ErrEmptyRunID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pending = append(s.pending, Point(rec))
	if len(s.pending) < s.batch {
		return nil
	}
	return s.flushLocked(ctx)
}

// Flush writes any buffered points.
func (s *InfluxSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *InfluxSink) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	points := s.pending
	s.pending = nil
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write %d points to influxdb: %w", len(points), err)
	}
	return nil
}

// Close flushes buffered points and releases the client.
func (s *InfluxSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.flushLocked(context.Background())
	s.client.Close()
	return err
}
