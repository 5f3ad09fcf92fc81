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
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestPrometheusSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	config := DefaultPrometheusConfig()
	config.Registry = reg
	sink, err := NewPrometheusSink(config)
	if err != nil {
		t.Fatalf("NewPrometheusSink() error = %v", err)
	}
	return sink, reg
}

func TestPrometheusConfig_Validate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		if err := DefaultPrometheusConfig().Validate(); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	t.Run("empty namespace", func(t *testing.T) {
		config := DefaultPrometheusConfig()
		config.Namespace = ""
		if err := config.Validate(); err == nil {
			t.Error("Validate() should fail for empty namespace")
		}
	})

	t.Run("empty subsystem", func(t *testing.T) {
		config := DefaultPrometheusConfig()
		config.Subsystem = ""
		if err := config.Validate(); err == nil {
			t.Error("Validate() should fail for empty subsystem")
		}
	})
}

func TestNewPrometheusSink_InvalidConfig(t *testing.T) {
	if _, err := NewPrometheusSink(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewPrometheusSink(nil) error = %v, want ErrInvalidConfig", err)
	}

	config := DefaultPrometheusConfig()
	config.Namespace = ""
	if _, err := NewPrometheusSink(config); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestNewPrometheusSink_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	config := DefaultPrometheusConfig()
	config.Registry = reg

	if _, err := NewPrometheusSink(config); err != nil {
		t.Fatalf("first sink error = %v", err)
	}
	if _, err := NewPrometheusSink(config); err != nil {
		t.Errorf("second sink on the same registry error = %v, want nil", err)
	}
}

func TestPrometheusSink_RecordResult(t *testing.T) {
	sink, _ := newTestPrometheusSink(t)
	defer sink.Close()
	r := newResult(t, "sum")

	if err := sink.RecordResult(context.Background(), r); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	if got := testutil.ToFloat64(sink.mean.WithLabelValues("sum")); got != 100 {
		t.Errorf("mean = %v, want 100", got)
	}
	wantStdDev := r.Statistics.StandardDeviation
	if got := testutil.ToFloat64(sink.stddev.WithLabelValues("sum")); math.Abs(got-wantStdDev) > 1e-9 {
		t.Errorf("stddev = %v, want %v", got, wantStdDev)
	}
	if got := testutil.ToFloat64(sink.percentile.WithLabelValues("sum", "p50")); got != 100 {
		t.Errorf("p50 = %v, want 100", got)
	}
	if got := testutil.ToFloat64(sink.percentile.WithLabelValues("sum", "p100")); got != 110 {
		t.Errorf("p100 = %v, want 110", got)
	}
	if got := testutil.ToFloat64(sink.ciBound.WithLabelValues("sum", "lower")); got != r.ConfidenceInterval.Lower {
		t.Errorf("ci lower = %v, want %v", got, r.ConfidenceInterval.Lower)
	}
	if got := testutil.ToFloat64(sink.bytesPerOp.WithLabelValues("sum")); got != 64 {
		t.Errorf("bytes/op = %v, want 64", got)
	}
	if got := testutil.ToFloat64(sink.allocsPerOp.WithLabelValues("sum")); got != 2 {
		t.Errorf("allocs/op = %v, want 2", got)
	}
	if got := testutil.ToFloat64(sink.iterations.WithLabelValues("sum")); got != 5 {
		t.Errorf("iterations = %v, want 5", got)
	}
	if got := testutil.ToFloat64(sink.runs.WithLabelValues("sum", "Complete")); got != 1 {
		t.Errorf("runs = %v, want 1", got)
	}
	kinds := make(map[string]bool)
	for _, w := range r.Warnings {
		kinds[string(w.Kind)] = true
	}
	if got := testutil.CollectAndCount(sink.warnings); got != len(kinds) {
		t.Errorf("warning series = %d, want %d", got, len(kinds))
	}
}

func TestPrometheusSink_RecordFailure(t *testing.T) {
	sink, _ := newTestPrometheusSink(t)
	defer sink.Close()

	if err := sink.RecordFailure(context.Background(), newFailedResult("sum")); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	if got := testutil.ToFloat64(sink.failures.WithLabelValues("sum", "Warmup", "Invoke", "invocation")); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(sink.runs.WithLabelValues("sum", "Failed")); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(sink.mean); got != 0 {
		t.Errorf("mean series = %d, want 0 after a failure only", got)
	}
}

func TestPrometheusSink_LabelCardinality(t *testing.T) {
	reg := prometheus.NewRegistry()
	config := DefaultPrometheusConfig()
	config.Registry = reg
	config.MaxLabelCardinality = 2
	sink, err := NewPrometheusSink(config)
	if err != nil {
		t.Fatalf("NewPrometheusSink() error = %v", err)
	}

	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d", "a"} {
		if err := sink.RecordResult(ctx, newResult(t, name)); err != nil {
			t.Fatalf("RecordResult(%s) error = %v", name, err)
		}
	}

	if got := testutil.ToFloat64(sink.runs.WithLabelValues("a", "Complete")); got != 2 {
		t.Errorf("runs{a} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(sink.runs.WithLabelValues(otherLabel, "Complete")); got != 2 {
		t.Errorf("runs{_other} = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(sink.mean); got != 3 {
		t.Errorf("mean series = %d, want 3 (a, b, _other)", got)
	}
}

func TestPrometheusSink_EmptyName(t *testing.T) {
	sink, _ := newTestPrometheusSink(t)
	r := newResult(t, "")
	if err := sink.RecordResult(context.Background(), r); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}
	if got := testutil.ToFloat64(sink.mean.WithLabelValues("unknown")); got != 100 {
		t.Errorf("mean{unknown} = %v, want 100", got)
	}
}

func TestPrometheusSink_Close(t *testing.T) {
	sink, reg := newTestPrometheusSink(t)
	if err := sink.RecordResult(context.Background(), newResult(t, "sum")); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) != 0 {
		t.Errorf("gathered %d families after Close, want 0", len(families))
	}

	ctx := context.Background()
	if err := sink.RecordResult(ctx, newResult(t, "sum")); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("RecordResult() error = %v, want ErrSinkClosed", err)
	}
	if err := sink.Flush(ctx); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Flush() error = %v, want ErrSinkClosed", err)
	}
}
