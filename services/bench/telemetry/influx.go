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
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/AleutianBench/services/bench/engine"
)

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// DefaultInfluxConfig returns the local development defaults.
func DefaultInfluxConfig() *InfluxConfig {
	return &InfluxConfig{
		URL:         "http://localhost:8086",
		Org:         "aleutian",
		Bucket:      "benchmarks",
		Measurement: "benchmark_results",
	}
}

// Validate checks that the connection fields are set.
func (c *InfluxConfig) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if c.Org == "" {
		errs = append(errs, errors.New("org is required"))
	}
	if c.Bucket == "" {
		errs = append(errs, errors.New("bucket is required"))
	}
	return errors.Join(errs...)
}

// InfluxSink writes one point per result to InfluxDB.
//
// Description:
//
//	Points are written through the blocking write API so RecordResult
//	reports write errors directly. Tags hold the benchmark name, clock
//	and state; statistics are fields. Failed runs add stage, phase and
//	category tags and a message field.
//
// Thread Safety: Safe for concurrent use.
type InfluxSink struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string

	mu     sync.RWMutex
	closed bool
}

// NewInfluxSink connects to the configured server.
func NewInfluxSink(config *InfluxConfig) (*InfluxSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	client := influxdb2.NewClient(config.URL, config.Token)
	s := NewInfluxSinkWithWriter(client.WriteAPIBlocking(config.Org, config.Bucket), config.Measurement)
	s.client = client
	return s, nil
}

// NewInfluxSinkWithWriter wraps an existing write API. The sink does not
// own a client, so Close leaves the writer usable.
func NewInfluxSinkWithWriter(writer api.WriteAPIBlocking, measurement string) *InfluxSink {
	if measurement == "" {
		measurement = DefaultInfluxConfig().Measurement
	}
	return &InfluxSink{writer: writer, measurement: measurement}
}

func (s *InfluxSink) open() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

func (s *InfluxSink) timestamp(result *engine.Result) time.Time {
	if result.StartedAt.IsZero() {
		return time.Now()
	}
	return result.StartedAt
}

// RecordResult writes the statistics of result.
func (s *InfluxSink) RecordResult(ctx context.Context, result *engine.Result) error {
	if err := checkArgs(ctx, result); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}

	tags := map[string]string{
		"benchmark": benchmarkName(result),
		"state":     result.State.String(),
	}
	if result.Clock != "" {
		tags["clock"] = result.Clock
	}
	fields := map[string]interface{}{
		"run_id":           result.RunID,
		"duration_seconds": result.Duration.Seconds(),
		"launches":         result.LaunchCount,
		"invocation_count": result.InvocationCount,
		"unroll_factor":    result.UnrollFactor,
		"overhead_ns":      result.OverheadPerOperation,
		"outliers_removed": len(result.RemovedOutliers),
		"warnings":         len(result.Warnings),
	}
	if st := result.Statistics; st != nil {
		fields["n"] = st.N
		fields["mean_ns"] = st.Mean
		fields["median_ns"] = st.Median
		fields["stddev_ns"] = st.StandardDeviation
		fields["min_ns"] = st.Min
		fields["max_ns"] = st.Max
		fields["p95_ns"] = st.Percentiles.P95
		fields["ci_lower_ns"] = result.ConfidenceInterval.Lower
		fields["ci_upper_ns"] = result.ConfidenceInterval.Upper
	}
	if m := result.Memory; m != nil {
		fields["bytes_per_op"] = m.BytesPerOperation()
		fields["allocs_per_op"] = m.AllocationsPerOperation()
		fields["gc_count"] = int64(m.GCCount)
	}

	p := influxdb2.NewPoint(s.measurement, tags, fields, s.timestamp(result))
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("writing result point: %w", err)
	}
	return nil
}

// RecordFailure writes a point describing the failure.
func (s *InfluxSink) RecordFailure(ctx context.Context, result *engine.Result) error {
	if err := checkArgs(ctx, result); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}

	stage, phase, category := failureLabels(result)
	message := "benchmark failed"
	if result.Failure != nil {
		message = result.Failure.Message()
	}

	p := influxdb2.NewPointWithMeasurement(s.measurement).
		AddTag("benchmark", benchmarkName(result)).
		AddTag("state", engine.StateFailed.String()).
		AddTag("stage", stage).
		AddTag("phase", phase).
		AddTag("category", category).
		AddField("run_id", result.RunID).
		AddField("message", message).
		AddField("measurements", len(result.Measurements)).
		SetTime(s.timestamp(result))
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("writing failure point: %w", err)
	}
	return nil
}

// Flush flushes the writer's batch, if batching was enabled on it.
func (s *InfluxSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := s.open(); err != nil {
		return err
	}
	return s.writer.Flush(ctx)
}

// Close closes the client if the sink created it. Idempotent.
func (s *InfluxSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// Verify interface compliance at compile time.
var _ Sink = (*InfluxSink)(nil)
