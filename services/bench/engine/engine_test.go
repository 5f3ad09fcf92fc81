// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/AleutianBench/services/bench/clock"
	"github.com/AleutianAI/AleutianBench/services/bench/measure"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

var errBoom = errors.New("boom")

// allocSink keeps allocations on the heap.
var allocSink []byte

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(clock.Nanosecond)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	all := append([]Option{WithClock(clk), WithLogger(logger)}, opts...)
	return New(all...), clk
}

// fixedJob skips the pilot and uses exact stage lengths.
func fixedJob(warmup, iterations int, opts ...JobOption) Job {
	base := []JobOption{
		WithWarmupCount(warmup),
		WithIterationCount(iterations),
		WithInvocationCount(1),
		WithForceGC(false),
	}
	return NewJob(append(base, opts...)...)
}

func advancing(clk *clock.Manual, ns int64) func() error {
	return func() error {
		clk.Advance(ns)
		return nil
	}
}

func TestEngine_Scenario(t *testing.T) {
	e, clk := newTestEngine(t)
	d := Descriptor{Name: "fixed", Invoke: advancing(clk, 100)}

	res, err := e.Run(context.Background(), d, fixedJob(2, 3))
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StateComplete, res.State)
	assert.Len(t, res.Measurements, 5)
	assert.Len(t, measure.Filter(res.Measurements, measure.StageWarmup, measure.ModeWorkload), 2)
	assert.Len(t, res.WorkloadMeasurements(), 3)

	require.NotNil(t, res.Statistics)
	assert.Equal(t, 3, res.Statistics.N)
	assert.InDelta(t, 100, res.Statistics.Mean, 1e-9)
	assert.InDelta(t, 0, res.Statistics.StandardDeviation, 1e-9)
	assert.Equal(t, int64(1), res.InvocationCount)
	assert.Equal(t, "Manual", res.Clock)
	assert.NotEmpty(t, res.RunID)
	assert.True(t, res.HasWarning(WarningShortIteration))
	assert.False(t, res.HasWarning(WarningNonConvergence))
	assert.NoError(t, res.Err())

	for i, m := range res.WorkloadMeasurements() {
		assert.Equal(t, i+1, m.IterationIndex())
		assert.Equal(t, 1, m.LaunchIndex())
	}
}

func TestEngine_GlobalSetupFailure(t *testing.T) {
	e, clk := newTestEngine(t)
	cleaned := false
	d := Descriptor{
		Name:          "setup-fails",
		Invoke:        advancing(clk, 100),
		GlobalSetup:   func() error { return errBoom },
		GlobalCleanup: func() error { cleaned = true; return nil },
	}

	res, err := e.Run(context.Background(), d, fixedJob(2, 3))
	require.Error(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StateFailed, res.State)
	assert.Empty(t, res.WorkloadMeasurements())
	assert.Nil(t, res.Statistics)
	assert.ErrorIs(t, err, ErrSetupFailure)
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, cleaned, "global cleanup must not run when setup failed")

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, PhaseGlobalSetup, f.Phase)
	assert.Equal(t, "boom", f.Message())
	assert.Same(t, f, res.Failure)
}

func TestEngine_CallbackOrder(t *testing.T) {
	e, clk := newTestEngine(t)
	var calls []string
	push := func(name string) func() error {
		return func() error {
			calls = append(calls, name)
			return nil
		}
	}
	d := Descriptor{
		Name: "order",
		Invoke: func() error {
			calls = append(calls, "invoke")
			clk.Advance(10)
			return nil
		},
		GlobalSetup:      push("global-setup"),
		GlobalCleanup:    push("global-cleanup"),
		IterationSetup:   push("iteration-setup"),
		IterationCleanup: push("iteration-cleanup"),
	}
	job := fixedJob(1, 2, WithInvocationCount(2))

	_, err := e.Run(context.Background(), d, job)
	require.NoError(t, err)

	want := []string{"global-setup"}
	for i := 0; i < 3; i++ {
		want = append(want, "iteration-setup", "invoke", "invoke", "iteration-cleanup")
	}
	want = append(want, "global-cleanup")
	assert.Equal(t, want, calls)
}

func TestEngine_InvocationFailure(t *testing.T) {
	tests := []struct {
		name    string
		invoke  func(calls int) error
		wantMsg string
	}{
		{
			name: "returned error",
			invoke: func(calls int) error {
				if calls == 3 {
					return errBoom
				}
				return nil
			},
			wantMsg: "boom",
		},
		{
			name: "panic",
			invoke: func(calls int) error {
				if calls == 3 {
					panic("kaboom")
				}
				return nil
			},
			wantMsg: "panic: kaboom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, clk := newTestEngine(t)
			calls := 0
			cleaned := false
			d := Descriptor{
				Name: "fails",
				Invoke: func() error {
					calls++
					clk.Advance(100)
					return tt.invoke(calls)
				},
				GlobalCleanup: func() error { cleaned = true; return nil },
			}

			res, err := e.Run(context.Background(), d, fixedJob(1, 5))
			require.Error(t, err)
			assert.Equal(t, StateFailed, res.State)
			assert.ErrorIs(t, err, ErrInvocationFailure)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.True(t, cleaned, "global cleanup runs after a failed stage")
			assert.Len(t, res.Measurements, 2)

			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, measure.StageWorkload, f.Stage)
			assert.Equal(t, PhaseInvoke, f.Phase)
		})
	}
}

func TestEngine_IterationCallbackFailures(t *testing.T) {
	tests := []struct {
		name      string
		configure func(d *Descriptor)
		wantErr   error
		wantPhase Phase
	}{
		{
			name:      "iteration setup",
			configure: func(d *Descriptor) { d.IterationSetup = func() error { return errBoom } },
			wantErr:   ErrSetupFailure,
			wantPhase: PhaseIterationSetup,
		},
		{
			name:      "iteration cleanup",
			configure: func(d *Descriptor) { d.IterationCleanup = func() error { return errBoom } },
			wantErr:   ErrCleanupFailure,
			wantPhase: PhaseIterationCleanup,
		},
		{
			name:      "global cleanup",
			configure: func(d *Descriptor) { d.GlobalCleanup = func() error { return errBoom } },
			wantErr:   ErrCleanupFailure,
			wantPhase: PhaseGlobalCleanup,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, clk := newTestEngine(t)
			d := Descriptor{Name: "callbacks", Invoke: advancing(clk, 100)}
			tt.configure(&d)

			res, err := e.Run(context.Background(), d, fixedJob(1, 3))
			require.Error(t, err)
			assert.Equal(t, StateFailed, res.State)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, errBoom)

			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, tt.wantPhase, f.Phase)
		})
	}
}

func TestEngine_FailureJoinsCleanupError(t *testing.T) {
	e, clk := newTestEngine(t)
	errCleanup := errors.New("cleanup broke")
	d := Descriptor{
		Name:          "both",
		Invoke:        func() error { clk.Advance(1); return errBoom },
		GlobalCleanup: func() error { return errCleanup },
	}

	_, err := e.Run(context.Background(), d, fixedJob(1, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvocationFailure)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, errCleanup)
}

func TestEngine_PilotResolutionStrategy(t *testing.T) {
	e, clk := newTestEngine(t)
	d := Descriptor{Name: "pilot", Invoke: advancing(clk, 100)}
	job := NewJob(
		WithWarmupCount(1),
		WithIterationCount(2),
		WithMinIterationTime(1600),
		WithForceGC(false),
	)

	res, err := e.Run(context.Background(), d, job)
	require.NoError(t, err)

	pilot := measure.Filter(res.Measurements, measure.StagePilot, measure.ModeWorkload)
	require.Len(t, pilot, 5)
	for i, want := range []int64{1, 2, 4, 8, 16} {
		assert.Equal(t, want, pilot[i].Operations())
	}
	assert.Equal(t, int64(16), res.InvocationCount)
	for _, m := range res.WorkloadMeasurements() {
		assert.Equal(t, int64(16), m.Operations())
		assert.InDelta(t, 1600, m.Nanoseconds(), 1e-9)
	}
}

func TestEngine_PilotTargetStrategy(t *testing.T) {
	e, clk := newTestEngine(t)
	d := Descriptor{Name: "target", Invoke: advancing(clk, 100)}
	job := NewJob(
		WithWarmupCount(1),
		WithIterationCount(2),
		WithIterationTime(1000),
		WithForceGC(false),
	)

	res, err := e.Run(context.Background(), d, job)
	require.NoError(t, err)

	pilot := measure.Filter(res.Measurements, measure.StagePilot, measure.ModeWorkload)
	require.Len(t, pilot, 2)
	assert.Equal(t, int64(1), pilot[0].Operations())
	assert.Equal(t, int64(10), pilot[1].Operations())
	assert.Equal(t, int64(10), res.InvocationCount)
}

func TestEngine_PilotCap(t *testing.T) {
	e, clk := newTestEngine(t)
	d := Descriptor{Name: "capped", Invoke: advancing(clk, 100)}
	job := NewJob(
		WithWarmupCount(1),
		WithIterationCount(2),
		WithForceGC(false),
	)
	job.MaxInvokeCount = 4

	res, err := e.Run(context.Background(), d, job)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.InvocationCount)
	assert.True(t, res.HasWarning(WarningPilotCapReached))
	assert.Len(t, measure.Filter(res.Measurements, measure.StagePilot, measure.ModeWorkload), 3)
}

func TestEngine_UnrollFactor(t *testing.T) {
	e, clk := newTestEngine(t)
	d := Descriptor{Name: "unrolled", Invoke: advancing(clk, 100)}
	job := NewJob(
		WithWarmupCount(1),
		WithIterationCount(2),
		WithUnrollFactor(4),
		WithIterationTime(1000),
		WithForceGC(false),
	)

	res, err := e.Run(context.Background(), d, job)
	require.NoError(t, err)
	assert.Equal(t, int64(12), res.InvocationCount)
	for _, m := range res.Measurements {
		assert.Zero(t, m.Operations()%4, "operations %d not a multiple of the unroll factor", m.Operations())
	}
}

func TestEngine_AutoWarmupNonConvergence(t *testing.T) {
	e, clk := newTestEngine(t)
	calls := 0
	d := Descriptor{
		Name: "noisy",
		Invoke: func() error {
			calls++
			if calls%2 == 0 {
				clk.Advance(300)
			} else {
				clk.Advance(100)
			}
			return nil
		},
	}
	job := fixedJob(0, 4, WithAutoWarmup(), WithWarmupBounds(2, 8))

	res, err := e.Run(context.Background(), d, job)
	require.NoError(t, err, "non-convergence is a warning, not a failure")
	assert.Equal(t, StateComplete, res.State)
	assert.True(t, res.HasWarning(WarningNonConvergence))
	assert.Len(t, measure.Filter(res.Measurements, measure.StageWarmup, measure.ModeWorkload), 8)
}

func TestEngine_AutoWarmupConverges(t *testing.T) {
	e, clk := newTestEngine(t)
	d := Descriptor{Name: "steady", Invoke: advancing(clk, 100)}
	job := fixedJob(0, 3, WithAutoWarmup())

	res, err := e.Run(context.Background(), d, job)
	require.NoError(t, err)
	assert.False(t, res.HasWarning(WarningNonConvergence))
	assert.Len(t, measure.Filter(res.Measurements, measure.StageWarmup, measure.ModeWorkload), DefaultMinWarmupIterationCount)
}

func TestEngine_AutoWorkloadConverges(t *testing.T) {
	e, clk := newTestEngine(t)
	d := Descriptor{Name: "steady", Invoke: advancing(clk, 100)}
	job := fixedJob(1, 1, WithAutoIterations())

	res, err := e.Run(context.Background(), d, job)
	require.NoError(t, err)
	assert.Len(t, res.WorkloadMeasurements(), DefaultMinIterationCount)
	assert.False(t, res.HasWarning(WarningNonConvergence))
}

func TestEngine_MultiLaunchPooling(t *testing.T) {
	e, clk := newTestEngine(t)
	setups := 0
	d := Descriptor{
		Name:        "launches",
		Invoke:      advancing(clk, 100),
		GlobalSetup: func() error { setups++; return nil },
	}

	res, err := e.Run(context.Background(), d, fixedJob(1, 3, WithLaunchCount(3)))
	require.NoError(t, err)

	assert.Equal(t, 3, setups)
	assert.Equal(t, 3, res.LaunchCount)
	assert.Len(t, res.Measurements, 12)
	assert.Equal(t, 9, res.Statistics.N)

	seen := map[int]int{}
	for _, m := range res.WorkloadMeasurements() {
		seen[m.LaunchIndex()]++
	}
	assert.Equal(t, map[int]int{1: 3, 2: 3, 3: 3}, seen)

	summaries, err := res.LaunchSummaries()
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	for _, s := range summaries {
		assert.Equal(t, 3, s.N)
		assert.InDelta(t, 100, s.Mean, 1e-9)
	}
}

func TestEngine_OverheadSubtraction(t *testing.T) {
	e, clk := newTestEngine(t)
	saved := overheadInvoke
	overheadInvoke = advancing(clk, 10)
	t.Cleanup(func() { overheadInvoke = saved })

	d := Descriptor{Name: "overhead", Invoke: advancing(clk, 100)}
	res, err := e.Run(context.Background(), d, fixedJob(2, 3, WithOverhead(true)))
	require.NoError(t, err)

	assert.Len(t, measure.Filter(res.Measurements, measure.StageWarmup, measure.ModeOverhead), 2)
	assert.Len(t, measure.Filter(res.Measurements, measure.StageWorkload, measure.ModeOverhead), 3)
	assert.InDelta(t, 10, res.OverheadPerOperation, 1e-9)
	assert.InDelta(t, 90, res.Statistics.Mean, 1e-9)
	assert.False(t, res.HasWarning(WarningZeroMeasurement))
}

func TestEngine_OverheadIndistinguishable(t *testing.T) {
	e, clk := newTestEngine(t)
	saved := overheadInvoke
	overheadInvoke = advancing(clk, 100)
	t.Cleanup(func() { overheadInvoke = saved })

	d := Descriptor{Name: "empty", Invoke: advancing(clk, 100)}
	res, err := e.Run(context.Background(), d, fixedJob(1, 3, WithOverhead(true)))
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Statistics.Mean, 1e-9)
	assert.True(t, res.HasWarning(WarningZeroMeasurement))
}

func TestEngine_OutliersRemoved(t *testing.T) {
	e, clk := newTestEngine(t)
	durations := []int64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 1000}
	calls := 0
	d := Descriptor{
		Name: "outliers",
		Invoke: func() error {
			clk.Advance(durations[calls%len(durations)])
			calls++
			return nil
		},
	}

	res, err := e.Run(context.Background(), d, fixedJob(0, len(durations)))
	require.NoError(t, err)
	assert.Equal(t, 11, res.RawStatistics.N)
	assert.Equal(t, 10, res.Statistics.N)
	assert.Equal(t, []float64{1000}, res.RemovedOutliers)
	assert.InDelta(t, 100, res.Statistics.Mean, 1e-9)
	assert.True(t, res.HasWarning(WarningOutliers))
}

func TestEngine_CollectMemory(t *testing.T) {
	e, clk := newTestEngine(t)
	d := Descriptor{
		Name: "allocs",
		Invoke: func() error {
			allocSink = make([]byte, 64)
			clk.Advance(100)
			return nil
		},
	}

	res, err := e.Run(context.Background(), d, fixedJob(1, 2, WithInvocationCount(10), WithMemory(true)))
	require.NoError(t, err)
	require.NotNil(t, res.Memory)
	assert.Equal(t, int64(10), res.Memory.Operations)
	assert.GreaterOrEqual(t, res.Memory.Allocations, uint64(10))
	assert.GreaterOrEqual(t, res.Memory.BytesPerOperation(), 64.0)
	assert.Len(t, res.Measurements, 3, "the memory iteration is not recorded")
}

func TestEngine_OperationsPerInvoke(t *testing.T) {
	e, clk := newTestEngine(t)
	d := Descriptor{Name: "batched", Invoke: advancing(clk, 1600), OperationsPerInvoke: 16}

	res, err := e.Run(context.Background(), d, fixedJob(0, 2))
	require.NoError(t, err)
	for _, m := range res.WorkloadMeasurements() {
		assert.Equal(t, int64(16), m.Operations())
	}
	assert.InDelta(t, 100, res.Statistics.Mean, 1e-9)
}

func TestEngine_Cancelled(t *testing.T) {
	e, clk := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Run(ctx, Descriptor{Name: "cancelled", Invoke: advancing(clk, 100)}, fixedJob(2, 3))
	require.Error(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, err, context.Canceled)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, PhaseCancelled, f.Phase)
}

func TestEngine_Observer(t *testing.T) {
	var seen []measure.Measurement
	e, clk := newTestEngine(t, WithObserver(ObserverFunc(func(m measure.Measurement) {
		seen = append(seen, m)
	})))

	res, err := e.Run(context.Background(), Descriptor{Name: "observed", Invoke: advancing(clk, 100)}, fixedJob(2, 3))
	require.NoError(t, err)
	assert.Equal(t, res.Measurements, seen)
}

func TestEngine_Validation(t *testing.T) {
	e, clk := newTestEngine(t)

	t.Run("invalid job", func(t *testing.T) {
		job := fixedJob(1, 1)
		job.UnrollFactor = 0
		res, err := e.Run(context.Background(), Descriptor{Name: "x", Invoke: advancing(clk, 1)}, job)
		require.Error(t, err)
		assert.Equal(t, StateFailed, res.State)
		assert.ErrorIs(t, err, ErrInvalidJob)
		assert.NotErrorIs(t, err, ErrSetupFailure)
	})

	t.Run("missing invoke", func(t *testing.T) {
		res, err := e.Run(context.Background(), Descriptor{Name: "x"}, fixedJob(1, 1))
		require.Error(t, err)
		assert.Equal(t, StateFailed, res.State)
		assert.ErrorIs(t, err, ErrInvalidDescriptor)
		assert.NotErrorIs(t, err, ErrInvalidJob)
	})

	t.Run("launch index", func(t *testing.T) {
		l, err := e.RunLaunch(context.Background(), Descriptor{Name: "x", Invoke: advancing(clk, 1)}, fixedJob(1, 1), 0)
		require.Error(t, err)
		require.NotNil(t, l)
		assert.ErrorIs(t, err, ErrInvalidJob)
	})
}

func TestEngine_RunLaunch(t *testing.T) {
	e, clk := newTestEngine(t)
	d := Descriptor{Name: "single", Invoke: advancing(clk, 100)}

	l, err := e.RunLaunch(context.Background(), d, fixedJob(1, 3), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, l.Index)
	assert.Len(t, l.Measurements, 4)
	for _, m := range l.Measurements {
		assert.Equal(t, 4, m.LaunchIndex())
	}

	res, err := BuildResult(d.Name, fixedJob(1, 3), []*Launch{l})
	require.NoError(t, err)
	assert.InDelta(t, 100, res.Statistics.Mean, 1e-9)
}

func TestEngine_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	e, clk := newTestEngine(t, WithTracerProvider(tp))
	_, err := e.Run(context.Background(), Descriptor{Name: "traced", Invoke: advancing(clk, 100)}, fixedJob(1, 2, WithLaunchCount(2)))
	require.NoError(t, err)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"engine.Engine.runLaunch", "engine.Engine.runLaunch", "engine.Engine.Run"}, names)
}

func TestBuildResult_EmptySampleSet(t *testing.T) {
	_, err := BuildResult("empty", DefaultJob(), []*Launch{{Index: 1}})
	assert.ErrorIs(t, err, stats.ErrEmptySampleSet)
}

func TestAutocorrect(t *testing.T) {
	tests := []struct {
		n      int64
		unroll int
		want   int64
	}{
		{1, 1, 1},
		{0, 1, 1},
		{1, 4, 4},
		{10, 4, 12},
		{16, 16, 16},
		{17, 16, 32},
		{5, 0, 5},
	}
	for _, tt := range tests {
		if got := autocorrect(tt.n, tt.unroll); got != tt.want {
			t.Errorf("autocorrect(%d, %d) = %d, want %d", tt.n, tt.unroll, got, tt.want)
		}
	}
}
