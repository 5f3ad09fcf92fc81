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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianBench/services/bench/engine"
)

const otelScope = "github.com/AleutianAI/AleutianBench/services/bench/telemetry"

var (
	// ErrOTelInitFailed is returned when OpenTelemetry initialization fails.
	ErrOTelInitFailed = errors.New("opentelemetry initialization failed")

	// ErrInvalidOTelConfig is returned when the OTel configuration is invalid.
	ErrInvalidOTelConfig = errors.New("invalid opentelemetry configuration")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// OTelConfig configures the OpenTelemetry sink.
type OTelConfig struct {
	// ServiceName is the service name for telemetry.
	// Required.
	ServiceName string

	// ServiceVersion is recorded as the instrumentation version.
	// Optional.
	ServiceVersion string

	// TracerProvider is the tracer provider to use.
	// If nil, uses the global tracer provider.
	TracerProvider trace.TracerProvider

	// MeterProvider is the meter provider to use.
	// If nil, uses the global meter provider.
	MeterProvider metric.MeterProvider

	// TraceEnabled enables one span per recorded result.
	// Default: true.
	TraceEnabled bool

	// MetricsEnabled enables metric recording.
	// Default: true.
	MetricsEnabled bool
}

// DefaultOTelConfig returns a configuration with both tracing and metrics
// enabled.
func DefaultOTelConfig() *OTelConfig {
	return &OTelConfig{
		ServiceName:    "aleutianbench",
		ServiceVersion: "1.0.0",
		TraceEnabled:   true,
		MetricsEnabled: true,
	}
}

// Validate checks that the configuration is valid.
func (c *OTelConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service name is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// OpenTelemetry Sink
// -----------------------------------------------------------------------------

// OTelSink exports results via OpenTelemetry metrics and spans.
//
// Description:
//
//	Every instrument carries a "benchmark.name" attribute. The sink does
//	not own the providers: Flush and Close leave them running and the
//	caller shuts them down.
//
// Thread Safety: Safe for concurrent use.
type OTelSink struct {
	config *OTelConfig
	tracer trace.Tracer
	meter  metric.Meter

	runDuration metric.Float64Histogram
	mean        metric.Float64Gauge
	stddev      metric.Float64Gauge
	p95         metric.Float64Gauge
	bytesPerOp  metric.Float64Gauge
	iterations  metric.Int64Counter
	outliers    metric.Int64Counter
	warnings    metric.Int64Counter
	failures    metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewOTelSink creates a sink using the configured or global providers.
//
// Outputs:
//   - *OTelSink: Never nil on success.
//   - error: ErrInvalidOTelConfig or ErrOTelInitFailed.
func NewOTelSink(config *OTelConfig) (*OTelSink, error) {
	if config == nil {
		return nil, ErrInvalidOTelConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidOTelConfig, err)
	}

	cfg := *config
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	sink := &OTelSink{
		config: &cfg,
		tracer: tp.Tracer(otelScope, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		meter:  mp.Meter(otelScope, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
	}
	if cfg.MetricsEnabled {
		if err := sink.initializeMetrics(); err != nil {
			return nil, errors.Join(ErrOTelInitFailed, err)
		}
	}
	return sink, nil
}

// initializeMetrics creates all metric instruments.
func (s *OTelSink) initializeMetrics() error {
	var err, e error

	s.runDuration, e = s.meter.Float64Histogram("bench.run.duration",
		metric.WithDescription("Wall-clock duration of benchmark runs"),
		metric.WithUnit("s"))
	err = errors.Join(err, e)

	s.mean, e = s.meter.Float64Gauge("bench.mean",
		metric.WithDescription("Mean time per operation of the latest run"),
		metric.WithUnit("ns"))
	err = errors.Join(err, e)

	s.stddev, e = s.meter.Float64Gauge("bench.stddev",
		metric.WithDescription("Standard deviation of the time per operation"),
		metric.WithUnit("ns"))
	err = errors.Join(err, e)

	s.p95, e = s.meter.Float64Gauge("bench.p95",
		metric.WithDescription("95th percentile of the time per operation"),
		metric.WithUnit("ns"))
	err = errors.Join(err, e)

	s.bytesPerOp, e = s.meter.Float64Gauge("bench.allocated_bytes_per_op",
		metric.WithDescription("Heap bytes allocated per operation"),
		metric.WithUnit("By"))
	err = errors.Join(err, e)

	s.iterations, e = s.meter.Int64Counter("bench.iterations",
		metric.WithDescription("Workload iterations recorded"))
	err = errors.Join(err, e)

	s.outliers, e = s.meter.Int64Counter("bench.outliers.removed",
		metric.WithDescription("Outliers removed from workload samples"))
	err = errors.Join(err, e)

	s.warnings, e = s.meter.Int64Counter("bench.warnings",
		metric.WithDescription("Advisory warnings attached to results"))
	err = errors.Join(err, e)

	s.failures, e = s.meter.Int64Counter("bench.failures",
		metric.WithDescription("Failed benchmark runs"))
	err = errors.Join(err, e)

	return err
}

func (s *OTelSink) open() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

func benchmarkName(result *engine.Result) string {
	if result.Benchmark == "" {
		return "unknown"
	}
	return result.Benchmark
}

// RecordResult records the result's statistics.
func (s *OTelSink) RecordResult(ctx context.Context, result *engine.Result) error {
	if err := checkArgs(ctx, result); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}

	attrs := []attribute.KeyValue{
		attribute.String("benchmark.name", benchmarkName(result)),
		attribute.String("benchmark.clock", result.Clock),
	}

	if s.config.TraceEnabled {
		_, span := s.tracer.Start(ctx, "bench.result",
			trace.WithAttributes(attrs...),
			trace.WithTimestamp(result.StartedAt),
		)
		span.SetAttributes(
			attribute.String("run.id", result.RunID),
			attribute.Int("run.launches", result.LaunchCount),
			attribute.Int64("run.invocation_count", result.InvocationCount),
			attribute.Int("run.warnings", len(result.Warnings)),
		)
		if st := result.Statistics; st != nil {
			span.SetAttributes(
				attribute.Float64("stats.mean_ns", st.Mean),
				attribute.Float64("stats.stddev_ns", st.StandardDeviation),
				attribute.Float64("stats.ci_lower_ns", result.ConfidenceInterval.Lower),
				attribute.Float64("stats.ci_upper_ns", result.ConfidenceInterval.Upper),
			)
		}
		for _, w := range result.Warnings {
			span.AddEvent("warning", trace.WithAttributes(
				attribute.String("warning.kind", string(w.Kind)),
				attribute.String("warning.message", w.Message),
			))
		}
		span.End()
	}

	if s.config.MetricsEnabled {
		attrSet := metric.WithAttributes(attrs...)
		s.runDuration.Record(ctx, result.Duration.Seconds(), attrSet)
		s.iterations.Add(ctx, int64(len(result.WorkloadMeasurements())), attrSet)
		s.outliers.Add(ctx, int64(len(result.RemovedOutliers)), attrSet)
		if st := result.Statistics; st != nil {
			s.mean.Record(ctx, st.Mean, attrSet)
			s.stddev.Record(ctx, st.StandardDeviation, attrSet)
			s.p95.Record(ctx, st.Percentiles.P95, attrSet)
		}
		if m := result.Memory; m != nil {
			s.bytesPerOp.Record(ctx, m.BytesPerOperation(), attrSet)
		}
		for _, w := range result.Warnings {
			s.warnings.Add(ctx, 1, metric.WithAttributes(
				attribute.String("benchmark.name", benchmarkName(result)),
				attribute.String("warning.kind", string(w.Kind)),
			))
		}
	}
	return nil
}

// RecordFailure records a failed run as an error span and a failure count.
func (s *OTelSink) RecordFailure(ctx context.Context, result *engine.Result) error {
	if err := checkArgs(ctx, result); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}

	stage, phase, category := failureLabels(result)
	attrs := []attribute.KeyValue{
		attribute.String("benchmark.name", benchmarkName(result)),
		attribute.String("failure.stage", stage),
		attribute.String("failure.phase", phase),
		attribute.String("failure.category", category),
	}

	if s.config.TraceEnabled {
		_, span := s.tracer.Start(ctx, "bench.failure", trace.WithAttributes(attrs...))
		if f := result.Failure; f != nil {
			span.RecordError(f)
			span.SetStatus(codes.Error, f.Message())
		} else {
			span.SetStatus(codes.Error, "benchmark failed")
		}
		span.End()
	}

	if s.config.MetricsEnabled {
		s.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	return nil
}

// Flush is a no-op; the caller flushes the providers it owns.
func (s *OTelSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return s.open()
}

// Close marks the sink closed without shutting down the providers.
// Idempotent.
func (s *OTelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Verify interface compliance at compile time.
var _ Sink = (*OTelSink)(nil)
