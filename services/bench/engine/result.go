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
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/measure"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// State is the terminal state of a run.
type State int

const (
	StateComplete State = iota
	StateFailed
)

// String returns "Complete" or "Failed".
func (s State) String() string {
	if s == StateFailed {
		return "Failed"
	}
	return "Complete"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// MemoryStats holds allocation counters observed during the diagnoser
// iteration.
type MemoryStats struct {
	Operations     int64  `json:"operations"`
	AllocatedBytes uint64 `json:"allocated_bytes"`
	Allocations    uint64 `json:"allocations"`
	GCCount        uint32 `json:"gc_count"`
}

// BytesPerOperation returns AllocatedBytes / Operations.
func (m MemoryStats) BytesPerOperation() float64 {
	if m.Operations <= 0 {
		return 0
	}
	return float64(m.AllocatedBytes) / float64(m.Operations)
}

// AllocationsPerOperation returns Allocations / Operations.
func (m MemoryStats) AllocationsPerOperation() float64 {
	if m.Operations <= 0 {
		return 0
	}
	return float64(m.Allocations) / float64(m.Operations)
}

// Add returns the sum of m and o.
func (m MemoryStats) Add(o MemoryStats) MemoryStats {
	return MemoryStats{
		Operations:     m.Operations + o.Operations,
		AllocatedBytes: m.AllocatedBytes + o.AllocatedBytes,
		Allocations:    m.Allocations + o.Allocations,
		GCCount:        m.GCCount + o.GCCount,
	}
}

// Launch is the outcome of one Pilot -> Warmup -> Workload sequence.
type Launch struct {
	Index           int                   `json:"index"`
	Measurements    []measure.Measurement `json:"measurements"`
	InvocationCount int64                 `json:"invocation_count"`
	UnrollFactor    int                   `json:"unroll_factor"`
	Memory          *MemoryStats          `json:"memory,omitempty"`
	Warnings        []Warning             `json:"warnings,omitempty"`
}

// overheadPerOperation returns the median per-operation time of the
// overhead workload iterations, or 0 if none were taken.
func (l *Launch) overheadPerOperation() float64 {
	var overhead []float64
	for _, m := range l.Measurements {
		if m.Stage() == measure.StageWorkload && m.IsOverhead() {
			overhead = append(overhead, m.NanosecondsPerOperation())
		}
	}
	if len(overhead) == 0 {
		return 0
	}
	s, err := stats.Summarize(overhead)
	if err != nil {
		return 0
	}
	return s.Median
}

// Result is the outcome of Engine.Run.
//
// Measurements always holds every iteration of every stage and launch.
// Statistics is computed from the Workload-stage, Workload-mode iterations
// after overhead subtraction and the outlier policy; RawStatistics covers
// the same iterations without outlier removal. Both are nil when the run
// failed.
type Result struct {
	RunID     string        `json:"run_id"`
	Benchmark string        `json:"benchmark"`
	State     State         `json:"state"`
	Job       Job           `json:"job"`
	Clock     string        `json:"clock"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Measurements []measure.Measurement `json:"measurements"`
	Launches     []*Launch             `json:"-"`

	Statistics         *stats.Summary `json:"statistics,omitempty"`
	RawStatistics      *stats.Summary `json:"raw_statistics,omitempty"`
	ConfidenceInterval stats.Interval `json:"confidence_interval"`
	RemovedOutliers    []float64      `json:"removed_outliers,omitempty"`

	InvocationCount      int64        `json:"invocation_count"`
	UnrollFactor         int          `json:"unroll_factor"`
	LaunchCount          int          `json:"launch_count"`
	OverheadPerOperation float64      `json:"overhead_per_operation"`
	Memory               *MemoryStats `json:"memory,omitempty"`

	Warnings []Warning `json:"warnings,omitempty"`
	Failure  *Failure  `json:"-"`
}

// Err returns the failure, or nil for a complete run.
func (r *Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// WorkloadMeasurements returns the Workload-stage, Workload-mode
// measurements of all launches.
func (r *Result) WorkloadMeasurements() []measure.Measurement {
	return measure.Filter(r.Measurements, measure.StageWorkload, measure.ModeWorkload)
}

// HasWarning reports whether a warning of kind is attached.
func (r *Result) HasWarning(kind WarningKind) bool {
	for _, w := range r.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}

// Samples returns the overhead-adjusted per-operation workload times of
// all launches, before outlier removal.
func (r *Result) Samples() []float64 {
	var out []float64
	for _, l := range r.Launches {
		out = append(out, launchSamples(l)...)
	}
	return out
}

// LaunchSummaries summarizes each launch separately, for callers that do
// not want launches pooled.
func (r *Result) LaunchSummaries() ([]*stats.Summary, error) {
	out := make([]*stats.Summary, 0, len(r.Launches))
	for _, l := range r.Launches {
		s, err := stats.Summarize(launchSamples(l))
		if err != nil {
			return nil, fmt.Errorf("launch %d: %w", l.Index, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func launchSamples(l *Launch) []float64 {
	workload := measure.Filter(l.Measurements, measure.StageWorkload, measure.ModeWorkload)
	return measure.PerOperation(subtractOverhead(workload, l.overheadPerOperation()))
}

// subtractOverhead returns ms with perOp nanoseconds per operation taken
// off each elapsed time. Times below the overhead clamp to 0.
func subtractOverhead(ms []measure.Measurement, perOp float64) []measure.Measurement {
	if perOp == 0 {
		return ms
	}
	out := make([]measure.Measurement, len(ms))
	for i, m := range ms {
		out[i] = m.WithNanoseconds(m.Nanoseconds() - perOp*float64(m.Operations()))
	}
	return out
}

// FailedResult returns a StateFailed result that keeps every measurement
// the launches collected before f occurred.
func FailedResult(benchmark string, job Job, launches []*Launch, f *Failure) *Result {
	r := &Result{
		Benchmark:   benchmark,
		State:       StateFailed,
		Job:         job,
		Launches:    launches,
		LaunchCount: len(launches),
		Failure:     f,
	}
	for _, l := range launches {
		if l == nil {
			continue
		}
		r.Measurements = append(r.Measurements, l.Measurements...)
		r.Warnings = append(r.Warnings, l.Warnings...)
		r.InvocationCount = l.InvocationCount
		r.UnrollFactor = l.UnrollFactor
	}
	return r
}

// BuildResult pools launches into a Result.
//
// Description:
//
//	Concatenates the measurements of every launch, subtracts each
//	launch's median overhead from its workload iterations, summarizes the
//	pooled values with and without the outlier policy and runs the
//	warning analysis.
//
// Inputs:
//
//	benchmark - Name of the benchmark.
//	job       - The job the launches ran with.
//	launches  - Completed launches, in order.
//
// Outputs:
//
//	*Result - The pooled result in StateComplete.
//	error   - stats.ErrEmptySampleSet when no workload iteration exists.
func BuildResult(benchmark string, job Job, launches []*Launch) (*Result, error) {
	r := &Result{
		Benchmark:   benchmark,
		State:       StateComplete,
		Job:         job,
		Launches:    launches,
		LaunchCount: len(launches),
	}

	var overheadTotal float64
	for _, l := range launches {
		r.Measurements = append(r.Measurements, l.Measurements...)
		r.Warnings = append(r.Warnings, l.Warnings...)
		r.InvocationCount = l.InvocationCount
		r.UnrollFactor = l.UnrollFactor
		overheadTotal += l.overheadPerOperation()
		if l.Memory != nil {
			total := MemoryStats{}
			if r.Memory != nil {
				total = *r.Memory
			}
			total = total.Add(*l.Memory)
			r.Memory = &total
		}
	}
	if len(launches) > 0 {
		r.OverheadPerOperation = overheadTotal / float64(len(launches))
	}

	samples := r.Samples()
	raw, err := stats.Summarize(samples)
	if err != nil {
		return nil, fmt.Errorf("summarizing %s: %w", benchmark, err)
	}
	r.RawStatistics = raw

	kept, removed, err := job.OutlierPolicy().Apply(samples)
	if err != nil {
		return nil, fmt.Errorf("applying outlier policy to %s: %w", benchmark, err)
	}
	r.RemovedOutliers = removed
	if r.Statistics, err = stats.Summarize(kept); err != nil {
		return nil, fmt.Errorf("summarizing %s: %w", benchmark, err)
	}

	level := job.ConfidenceLevel
	if !level.Valid() {
		level = stats.L999
	}
	r.ConfidenceInterval = r.Statistics.StudentConfidenceInterval(level)

	r.Warnings = append(r.Warnings, analyze(r)...)
	return r, nil
}
