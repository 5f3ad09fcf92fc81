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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AleutianBench/services/bench/engine"
)

// otherLabel replaces label values beyond the cardinality limit.
const otherLabel = "_other"

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// PrometheusConfig configures the Prometheus sink.
type PrometheusConfig struct {
	// Namespace is the metrics namespace. Required.
	Namespace string

	// Subsystem is the metrics subsystem. Required.
	Subsystem string

	// Registry is the registerer to use. If nil, uses
	// prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// DurationBuckets defines histogram buckets for run durations
	// (seconds). If nil, uses default buckets.
	DurationBuckets []float64

	// MaxLabelCardinality is the maximum number of distinct benchmark
	// names tracked. Further names are reported as "_other".
	// Default: 1000
	MaxLabelCardinality int
}

// DefaultPrometheusConfig returns a configuration with sensible defaults.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace:           "aleutianbench",
		Subsystem:           "bench",
		DurationBuckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		MaxLabelCardinality: 1000,
	}
}

// Validate checks that the required fields are set.
func (c *PrometheusConfig) Validate() error {
	if c.Namespace == "" {
		return errors.New("namespace is required")
	}
	if c.Subsystem == "" {
		return errors.New("subsystem is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Prometheus Sink
// -----------------------------------------------------------------------------

// PrometheusSink exports results as Prometheus metrics.
//
// Description:
//
//	Per-benchmark statistics are gauges holding the latest result; run,
//	iteration, warning and failure counts are counters. Metrics are
//	registered on creation and unregistered on Close when the registerer
//	is a *prometheus.Registry. The CLI pushes a dedicated registry to a
//	Pushgateway after each run.
//
// Thread Safety: Safe for concurrent use.
type PrometheusSink struct {
	config   *PrometheusConfig
	registry prometheus.Registerer

	mean          *prometheus.GaugeVec
	stddev        *prometheus.GaugeVec
	percentile    *prometheus.GaugeVec
	ciBound       *prometheus.GaugeVec
	bytesPerOp    *prometheus.GaugeVec
	allocsPerOp   *prometheus.GaugeVec
	runs          *prometheus.CounterVec
	iterations    *prometheus.CounterVec
	outliers      *prometheus.CounterVec
	warnings      *prometheus.CounterVec
	failures      *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	collectors    []prometheus.Collector
	mu            sync.RWMutex
	closed        bool
	labelMu       sync.Mutex
	seenLabels    map[string]struct{}
	maxLabelCount int
}

// NewPrometheusSink creates and registers the sink's collectors.
//
// Inputs:
//   - config: Prometheus configuration. Must not be nil.
//
// Outputs:
//   - *PrometheusSink: Never nil on success.
//   - error: ErrInvalidConfig or ErrRegistrationFailed.
func NewPrometheusSink(config *PrometheusConfig) (*PrometheusSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	cfg := *config
	if cfg.DurationBuckets == nil {
		cfg.DurationBuckets = DefaultPrometheusConfig().DurationBuckets
	}
	if cfg.MaxLabelCardinality <= 0 {
		cfg.MaxLabelCardinality = 1000
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	s := &PrometheusSink{
		config:        &cfg,
		registry:      registry,
		seenLabels:    make(map[string]struct{}),
		maxLabelCount: cfg.MaxLabelCardinality,
	}

	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, append([]string{"benchmark"}, labels...))
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, append([]string{"benchmark"}, labels...))
	}

	s.mean = gauge("mean_ns_per_op", "Mean time per operation of the latest run in nanoseconds")
	s.stddev = gauge("stddev_ns_per_op", "Standard deviation of the time per operation in nanoseconds")
	s.percentile = gauge("percentile_ns_per_op", "Percentiles of the time per operation in nanoseconds", "percentile")
	s.ciBound = gauge("confidence_interval_ns_per_op", "Confidence interval bounds of the mean in nanoseconds", "bound")
	s.bytesPerOp = gauge("allocated_bytes_per_op", "Heap bytes allocated per operation")
	s.allocsPerOp = gauge("allocations_per_op", "Heap allocations per operation")
	s.runs = counter("runs_total", "Total benchmark runs by final state", "state")
	s.iterations = counter("workload_iterations_total", "Total workload iterations recorded")
	s.outliers = counter("outliers_removed_total", "Total outliers removed from workload samples")
	s.warnings = counter("warnings_total", "Total advisory warnings by kind", "kind")
	s.failures = counter("failures_total", "Total failed runs", "stage", "phase", "category")
	s.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of benchmark runs in seconds",
		Buckets:   cfg.DurationBuckets,
	}, []string{"benchmark"})

	s.collectors = []prometheus.Collector{
		s.mean, s.stddev, s.percentile, s.ciBound, s.bytesPerOp, s.allocsPerOp,
		s.runs, s.iterations, s.outliers, s.warnings, s.failures, s.runDuration,
	}
	for _, c := range s.collectors {
		if err := registry.Register(c); err != nil {
			var alreadyErr prometheus.AlreadyRegisteredError
			if !errors.As(err, &alreadyErr) {
				return nil, errors.Join(ErrRegistrationFailed, err)
			}
		}
	}
	return s, nil
}

func (s *PrometheusSink) open() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

// RecordResult sets the statistic gauges and increments the counters.
func (s *PrometheusSink) RecordResult(ctx context.Context, result *engine.Result) error {
	if err := checkArgs(ctx, result); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}

	name := s.sanitizeLabel(result.Benchmark)
	s.runs.WithLabelValues(name, result.State.String()).Inc()
	s.runDuration.WithLabelValues(name).Observe(result.Duration.Seconds())
	s.iterations.WithLabelValues(name).Add(float64(len(result.WorkloadMeasurements())))
	s.outliers.WithLabelValues(name).Add(float64(len(result.RemovedOutliers)))
	for _, w := range result.Warnings {
		s.warnings.WithLabelValues(name, string(w.Kind)).Inc()
	}

	if st := result.Statistics; st != nil {
		s.mean.WithLabelValues(name).Set(st.Mean)
		s.stddev.WithLabelValues(name).Set(st.StandardDeviation)
		p := st.Percentiles
		for label, v := range map[string]float64{
			"p0": p.P0, "p25": p.P25, "p50": p.P50, "p90": p.P90, "p95": p.P95, "p100": p.P100,
		} {
			s.percentile.WithLabelValues(name, label).Set(v)
		}
		s.ciBound.WithLabelValues(name, "lower").Set(result.ConfidenceInterval.Lower)
		s.ciBound.WithLabelValues(name, "upper").Set(result.ConfidenceInterval.Upper)
	}
	if m := result.Memory; m != nil {
		s.bytesPerOp.WithLabelValues(name).Set(m.BytesPerOperation())
		s.allocsPerOp.WithLabelValues(name).Set(m.AllocationsPerOperation())
	}
	return nil
}

// RecordFailure increments the run and failure counters.
func (s *PrometheusSink) RecordFailure(ctx context.Context, result *engine.Result) error {
	if err := checkArgs(ctx, result); err != nil {
		return err
	}
	if err := s.open(); err != nil {
		return err
	}

	name := s.sanitizeLabel(result.Benchmark)
	stage, phase, category := failureLabels(result)
	s.runs.WithLabelValues(name, engine.StateFailed.String()).Inc()
	s.failures.WithLabelValues(name, stage, phase, category).Inc()
	return nil
}

// Flush is a no-op; Prometheus metrics are pull-based.
func (s *PrometheusSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return s.open()
}

// Close unregisters the collectors. Idempotent.
func (s *PrometheusSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if reg, ok := s.registry.(*prometheus.Registry); ok {
		for _, c := range s.collectors {
			reg.Unregister(c)
		}
	}
	return nil
}

// sanitizeLabel maps benchmark names beyond the cardinality limit to
// "_other". Empty names become "unknown".
func (s *PrometheusSink) sanitizeLabel(v string) string {
	if v == "" {
		v = "unknown"
	}
	s.labelMu.Lock()
	defer s.labelMu.Unlock()

	if _, ok := s.seenLabels[v]; ok {
		return v
	}
	if len(s.seenLabels) >= s.maxLabelCount {
		return otherLabel
	}
	s.seenLabels[v] = struct{}{}
	return v
}

// Verify interface compliance at compile time.
var _ Sink = (*PrometheusSink)(nil)
