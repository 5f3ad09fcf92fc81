// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine schedules benchmark iterations through the Pilot, Warmup
// and Workload stages and turns the timings into a Result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianBench/services/bench/clock"
	"github.com/AleutianAI/AleutianBench/services/bench/measure"
)

const instrumentationName = "aleutianbench.engine"

// maxPilotIterations bounds the pilot stage when it targets an iteration
// time and the estimate keeps oscillating.
const maxPilotIterations = 64

// resolutionSamples is the number of clock reads used to estimate the
// clock resolution at construction.
const resolutionSamples = 1000

// Observer receives every measurement as soon as its iteration completes.
//
// Thread Safety: OnMeasurement is called from the scheduler goroutine and
// must not block for long; it runs between iterations, outside the timed
// region.
type Observer interface {
	OnMeasurement(m measure.Measurement)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(m measure.Measurement)

// OnMeasurement implements Observer.
func (f ObserverFunc) OnMeasurement(m measure.Measurement) { f(m) }

// Engine runs benchmarks.
//
// Description:
//
//	An Engine owns a clock, a logger and optional observers. Every call to
//	Run or RunLaunch creates its own run state, so one Engine may run
//	several benchmarks in sequence. Running benchmarks concurrently on one
//	host is allowed but will distort the timings.
//
// Thread Safety:
//
//	Engine is safe for concurrent use.
type Engine struct {
	clock      clock.Clock
	resolution float64
	logger     *slog.Logger
	observers  []Observer
	tracer     trace.Tracer
	meter      metric.Meter

	metricsOnce       sync.Once
	iterationsTotal   metric.Int64Counter
	iterationDuration metric.Float64Histogram
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock. Nil is ignored.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver adds an observer. Nil is ignored.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithTracerProvider sets the provider spans are recorded with. Nil is
// ignored.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithMeterProvider sets the provider iteration metrics are recorded with.
// Nil is ignored.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		if mp != nil {
			e.meter = mp.Meter(instrumentationName)
		}
	}
}

// New creates an Engine.
//
// Description:
//
//	Defaults to clock.Default(), slog.Default() and the global otel
//	providers. The clock resolution is measured once here and reused by
//	every pilot stage.
//
// Example:
//
//	e := engine.New(engine.WithLogger(logger))
//	res, err := e.Run(ctx, engine.Func("sum", sum), engine.DefaultJob())
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:  clock.Default(),
		logger: slog.Default(),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolution = clock.MeasureResolution(e.clock, resolutionSamples)
	return e
}

// Clock returns the clock the engine measures with.
func (e *Engine) Clock() clock.Clock { return e.clock }

// Resolution returns the measured clock resolution in nanoseconds.
func (e *Engine) Resolution() float64 { return e.resolution }

func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		var err error
		e.iterationsTotal, err = e.meter.Int64Counter("bench_iterations_total",
			metric.WithDescription("Benchmark iterations executed"))
		if err != nil {
			e.logger.Warn("failed to create iteration counter", slog.String("error", err.Error()))
		}
		e.iterationDuration, err = e.meter.Float64Histogram("bench_iteration_duration_ns",
			metric.WithDescription("Benchmark iteration duration"),
			metric.WithUnit("ns"))
		if err != nil {
			e.logger.Warn("failed to create iteration histogram", slog.String("error", err.Error()))
		}
	})
}

// -----------------------------------------------------------------------------
// Run
// -----------------------------------------------------------------------------

// Run executes job.LaunchCount in-process launches of d and pools them.
//
// Description:
//
//	Validates d and job, runs every launch in order and summarizes the
//	pooled workload measurements. Soft problems such as a warmup that hit
//	its cap are attached as warnings; they never fail the run.
//
// Inputs:
//
//	ctx - Checked between iterations. Cancellation fails the run with
//	      PhaseCancelled.
//	d   - The benchmark to run.
//	job - Run configuration.
//
// Outputs:
//
//	*Result - Never nil. Holds every measurement taken, even on failure.
//	error   - Non-nil exactly when Result.State is StateFailed. It is the
//	          *Failure and matches ErrSetupFailure, ErrInvocationFailure,
//	          ErrCleanupFailure or the caller's own error via errors.Is.
func (e *Engine) Run(ctx context.Context, d Descriptor, job Job) (*Result, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.Engine.Run",
		trace.WithAttributes(
			attribute.String("bench.name", d.Name),
			attribute.Int("bench.launch_count", job.LaunchCount),
		),
	)
	defer span.End()

	finish := func(r *Result) (*Result, error) {
		r.RunID = uuid.NewString()
		r.Clock = e.clock.Name()
		r.StartedAt = started
		r.Duration = time.Since(started)
		if r.Failure != nil {
			span.RecordError(r.Failure)
			span.SetStatus(codes.Error, r.Failure.Phase.String())
			e.logger.Error("benchmark failed",
				slog.String("benchmark", d.Name),
				slog.String("phase", r.Failure.Phase.String()),
				slog.String("error", r.Failure.Message()))
			return r, r.Failure
		}
		span.SetAttributes(
			attribute.Int("bench.measurements", len(r.Measurements)),
			attribute.Int("bench.warnings", len(r.Warnings)),
			attribute.Float64("bench.mean_ns", r.Statistics.Mean),
		)
		span.SetStatus(codes.Ok, "")
		e.logger.Info("benchmark complete",
			slog.String("benchmark", d.Name),
			slog.Float64("mean_ns", r.Statistics.Mean),
			slog.Float64("stddev_ns", r.Statistics.StandardDeviation),
			slog.Int("n", r.Statistics.N),
			slog.Int("warnings", len(r.Warnings)))
		return r, nil
	}

	if f := validate(d, job); f != nil {
		return finish(FailedResult(d.Name, job, nil, f))
	}

	launches := make([]*Launch, 0, job.LaunchCount)
	for i := 1; i <= job.LaunchCount; i++ {
		l, f := e.runLaunch(ctx, d, job, i)
		launches = append(launches, l)
		if f != nil {
			return finish(FailedResult(d.Name, job, launches, f))
		}
	}

	r, err := BuildResult(d.Name, job, launches)
	if err != nil {
		return finish(FailedResult(d.Name, job, launches,
			newFailure(d.Name, measure.StageWorkload, PhaseSummarize, err)))
	}
	return finish(r)
}

// RunLaunch executes a single launch with the given 1-based index.
//
// Description:
//
//	Used by out-of-process hosts, which run one launch per child process
//	and pool the results with BuildResult.
//
// Outputs:
//
//	*Launch - Never nil. Holds the measurements taken before any failure.
//	error   - A *Failure, or nil.
func (e *Engine) RunLaunch(ctx context.Context, d Descriptor, job Job, launchIndex int) (*Launch, error) {
	if f := validate(d, job); f != nil {
		return &Launch{Index: launchIndex}, f
	}
	if launchIndex < 1 {
		return &Launch{Index: launchIndex}, newFailure(d.Name, measure.StageUnknown, PhaseValidation,
			fmt.Errorf("%w: launch index %d must be at least 1", ErrInvalidJob, launchIndex))
	}
	l, f := e.runLaunch(ctx, d, job, launchIndex)
	if f != nil {
		return l, f
	}
	return l, nil
}

func validate(d Descriptor, job Job) *Failure {
	if err := d.Validate(); err != nil {
		return newFailure(d.Name, measure.StageUnknown, PhaseValidation, err)
	}
	if err := job.Validate(); err != nil {
		return newFailure(d.Name, measure.StageUnknown, PhaseValidation, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Launch
// -----------------------------------------------------------------------------

// runState is owned by one launch for its lifetime.
type runState struct {
	d           Descriptor
	job         Job
	launch      *Launch
	stage       measure.Stage
	invokeCount int64
}

func (st *runState) fail(phase Phase, err error) *Failure {
	return newFailure(st.d.Name, st.stage, phase, err)
}

func (st *runState) warn(w Warning) {
	st.launch.Warnings = append(st.launch.Warnings, w)
}

func (e *Engine) runLaunch(ctx context.Context, d Descriptor, job Job, index int) (*Launch, *Failure) {
	ctx, span := e.tracer.Start(ctx, "engine.Engine.runLaunch",
		trace.WithAttributes(
			attribute.String("bench.name", d.Name),
			attribute.Int("bench.launch_index", index),
		),
	)
	defer span.End()

	st := &runState{
		d:   d,
		job: job,
		launch: &Launch{
			Index:        index,
			UnrollFactor: job.UnrollFactor,
		},
	}

	if err := safeCall(d.GlobalSetup); err != nil {
		f := st.fail(PhaseGlobalSetup, err)
		span.RecordError(f)
		span.SetStatus(codes.Error, f.Phase.String())
		return st.launch, f
	}

	f := e.runStages(ctx, st)

	st.stage = measure.StageUnknown
	if err := safeCall(d.GlobalCleanup); err != nil {
		if f == nil {
			f = st.fail(PhaseGlobalCleanup, err)
		} else {
			f.Err = errors.Join(f.Err, fmt.Errorf("global cleanup: %w", err))
		}
	}

	if f != nil {
		span.RecordError(f)
		span.SetStatus(codes.Error, f.Phase.String())
		return st.launch, f
	}
	span.SetAttributes(
		attribute.Int64("bench.invocation_count", st.launch.InvocationCount),
		attribute.Int("bench.measurements", len(st.launch.Measurements)),
	)
	return st.launch, nil
}

func (e *Engine) runStages(ctx context.Context, st *runState) *Failure {
	job := st.job

	if job.InvocationCount.IsAuto() {
		if f := e.runPilot(ctx, st); f != nil {
			return f
		}
	} else {
		st.invokeCount = int64(job.InvocationCount)
	}
	st.launch.InvocationCount = st.invokeCount

	if job.EvaluateOverhead {
		if f := e.runStage(ctx, st, measure.StageWarmup, measure.ModeOverhead, warmupCriterion(job)); f != nil {
			return f
		}
		if f := e.runStage(ctx, st, measure.StageWorkload, measure.ModeOverhead, workloadCriterion(job, 0)); f != nil {
			return f
		}
	}

	if f := e.runStage(ctx, st, measure.StageWarmup, measure.ModeWorkload, warmupCriterion(job)); f != nil {
		return f
	}
	if f := e.runStage(ctx, st, measure.StageWorkload, measure.ModeWorkload, workloadCriterion(job, st.launch.overheadPerOperation())); f != nil {
		return f
	}

	if job.CollectMemory {
		mem, f := e.measureMemory(ctx, st)
		if f != nil {
			return f
		}
		st.launch.Memory = mem
	}
	return nil
}

// runStage runs iterations until crit stops the stage.
func (e *Engine) runStage(ctx context.Context, st *runState, stage measure.Stage, mode measure.Mode, crit StoppingCriterion) *Failure {
	st.stage = stage
	var ms []measure.Measurement
	for {
		d := crit.Evaluate(ms)
		if d.Stop {
			if !d.Converged {
				st.warn(nonConvergence(stage, mode, d))
				e.logger.Warn("stage did not converge",
					slog.String("benchmark", st.d.Name),
					slog.String("stage", mode.String()+stage.String()),
					slog.String("reason", d.Reason))
			} else {
				e.logger.Debug("stage complete",
					slog.String("benchmark", st.d.Name),
					slog.String("stage", mode.String()+stage.String()),
					slog.Int("iterations", len(ms)),
					slog.String("reason", d.Reason))
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return st.fail(PhaseCancelled, err)
		}
		m, f := e.runIteration(st, stage, mode, len(ms)+1, st.invokeCount)
		if f != nil {
			return f
		}
		ms = append(ms, m)
	}
}

// -----------------------------------------------------------------------------
// Pilot
// -----------------------------------------------------------------------------

// runPilot chooses the invocation count of the launch.
//
// Description:
//
//	Without a target iteration time the count doubles from MinInvokeCount
//	until an iteration is long enough that twice the clock resolution is
//	within MaxRelativeError of it and it lasts at least MinIterationTime.
//	With a target the count is scaled by target/actual until it stops
//	changing by more than one or has decreased three times.
//
//	Every count is rounded up to a multiple of UnrollFactor.
func (e *Engine) runPilot(ctx context.Context, st *runState) *Failure {
	st.stage = measure.StagePilot
	job := st.job
	count := autocorrect(job.MinInvokeCount, job.UnrollFactor)

	if job.IterationTime > 0 {
		target := float64(job.IterationTime)
		downCount := 0
		for i := 1; ; i++ {
			if err := ctx.Err(); err != nil {
				return st.fail(PhaseCancelled, err)
			}
			m, f := e.runIteration(st, measure.StagePilot, measure.ModeWorkload, i, count)
			if f != nil {
				return f
			}
			next := count * 2
			if actual := m.Nanoseconds(); actual > 0 {
				next = int64(float64(count)*target/actual + 0.5)
			}
			next = autocorrect(max(job.MinInvokeCount, min(next, job.MaxInvokeCount)), job.UnrollFactor)
			if next < count {
				downCount++
			}
			if abs64(next-count) <= 1 || downCount >= 3 {
				st.invokeCount = next
				return nil
			}
			count = next
			if i >= maxPilotIterations {
				st.warn(newWarning(WarningPilotCapReached,
					"pilot did not settle after %d iterations; using %d invocations", i, count))
				st.invokeCount = count
				return nil
			}
		}
	}

	minTime := float64(job.MinIterationTime)
	for i := 1; ; i++ {
		if err := ctx.Err(); err != nil {
			return st.fail(PhaseCancelled, err)
		}
		m, f := e.runIteration(st, measure.StagePilot, measure.ModeWorkload, i, count)
		if f != nil {
			return f
		}
		elapsed := m.Nanoseconds()
		if 2*e.resolution < elapsed*job.MaxRelativeError && elapsed >= minTime {
			st.invokeCount = count
			return nil
		}
		if count >= job.MaxInvokeCount {
			st.warn(newWarning(WarningPilotCapReached,
				"invocation count reached the maximum of %d", job.MaxInvokeCount))
			st.invokeCount = count
			return nil
		}
		count = autocorrect(min(count*2, job.MaxInvokeCount), job.UnrollFactor)
	}
}

// autocorrect rounds n up to a positive multiple of unroll.
func autocorrect(n int64, unroll int) int64 {
	u := int64(max(unroll, 1))
	if n < u {
		return u
	}
	if r := n % u; r != 0 {
		n += u - r
	}
	return n
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// -----------------------------------------------------------------------------
// Iteration
// -----------------------------------------------------------------------------

// runIteration times count invocations and records the measurement.
func (e *Engine) runIteration(st *runState, stage measure.Stage, mode measure.Mode, index int, count int64) (measure.Measurement, *Failure) {
	invoke := st.d.Invoke
	if mode == measure.ModeOverhead {
		invoke = overheadInvoke
	}

	if mode == measure.ModeWorkload {
		if err := safeCall(st.d.IterationSetup); err != nil {
			return measure.Measurement{}, st.fail(PhaseIterationSetup, err)
		}
	}

	elapsed, err := e.timeInvocations(invoke, count, st.job.UnrollFactor)
	if err != nil {
		return measure.Measurement{}, st.fail(PhaseInvoke, err)
	}

	if mode == measure.ModeWorkload {
		if err := safeCall(st.d.IterationCleanup); err != nil {
			return measure.Measurement{}, st.fail(PhaseIterationCleanup, err)
		}
	}

	if st.job.ForceGC {
		runtime.GC()
	}

	m, err := measure.New(stage, mode, st.launch.Index, index, count*st.d.operationsPerInvoke(), elapsed)
	if err != nil {
		return measure.Measurement{}, st.fail(PhaseInvoke, err)
	}
	st.launch.Measurements = append(st.launch.Measurements, m)
	e.record(st, m)
	return m, nil
}

// timeInvocations runs invoke count times in passes of unroll calls
// between two clock reads. A panic in invoke is returned as an error.
func (e *Engine) timeInvocations(invoke func() error, count int64, unroll int) (ns float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	unroll = max(unroll, 1)
	passes := count / int64(unroll)

	start := e.clock.Timestamp()
	for i := int64(0); i < passes; i++ {
		for j := 0; j < unroll; j++ {
			if err := invoke(); err != nil {
				return 0, err
			}
		}
	}
	end := e.clock.Timestamp()

	return clock.ElapsedNanoseconds(e.clock, start, end), nil
}

func (e *Engine) record(st *runState, m measure.Measurement) {
	e.initMetrics()
	attrs := metric.WithAttributes(
		attribute.String("benchmark", st.d.Name),
		attribute.String("stage", m.Stage().String()),
		attribute.String("mode", m.Mode().String()),
	)
	ctx := context.Background()
	if e.iterationsTotal != nil {
		e.iterationsTotal.Add(ctx, 1, attrs)
	}
	if e.iterationDuration != nil {
		e.iterationDuration.Record(ctx, m.Nanoseconds(), attrs)
	}

	e.logger.Debug("iteration", slog.String("benchmark", st.d.Name), slog.String("measurement", m.String()))
	for _, o := range e.observers {
		o.OnMeasurement(m)
	}
}

// safeCall runs an optional callback and converts a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return runCallback(fn)
}
