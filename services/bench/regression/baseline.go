// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regression

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/engine"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrBaselineNotFound indicates no baseline exists for a benchmark.
	ErrBaselineNotFound = errors.New("baseline not found")

	// ErrInvalidBaseline indicates stored baseline data could not be used.
	ErrInvalidBaseline = errors.New("invalid baseline")

	// ErrStoreClosed indicates the store was used after Close.
	ErrStoreClosed = errors.New("baseline store closed")
)

// -----------------------------------------------------------------------------
// Baseline Data
// -----------------------------------------------------------------------------

// MemoryBaseline holds the allocation profile of a baseline run.
type MemoryBaseline struct {
	BytesPerOp  float64 `json:"bytes_per_op"`
	AllocsPerOp float64 `json:"allocs_per_op"`
}

// BaselineData is the stored reference for one benchmark.
//
// All timing values are nanoseconds per operation after outlier removal.
// Samples keeps the individual workload values so later runs can be
// tested for significance instead of compared by mean alone.
type BaselineData struct {
	Benchmark string    `json:"benchmark"`
	Version   string    `json:"version,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Clock     string    `json:"clock,omitempty"`

	Mean    float64   `json:"mean_ns"`
	Median  float64   `json:"median_ns"`
	StdDev  float64   `json:"stddev_ns"`
	P95     float64   `json:"p95_ns"`
	Samples []float64 `json:"samples"`

	Memory *MemoryBaseline `json:"memory,omitempty"`

	SampleCount int               `json:"sample_count"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate checks that the baseline can be compared against.
func (b *BaselineData) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil baseline", ErrInvalidBaseline)
	}
	if b.Benchmark == "" {
		return fmt.Errorf("%w: benchmark name is required", ErrInvalidBaseline)
	}
	if b.SampleCount != len(b.Samples) {
		return fmt.Errorf("%w: sample count %d does not match %d samples",
			ErrInvalidBaseline, b.SampleCount, len(b.Samples))
	}
	return nil
}

// clone returns a deep copy.
func (b *BaselineData) clone() *BaselineData {
	out := *b
	out.Samples = append([]float64(nil), b.Samples...)
	if b.Memory != nil {
		m := *b.Memory
		out.Memory = &m
	}
	if b.Metadata != nil {
		out.Metadata = make(map[string]string, len(b.Metadata))
		for k, v := range b.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// FromResult builds baseline data from a complete run.
//
// Description:
//
//	Copies the summary statistics and the outlier-filtered workload
//	samples. The memory section is set only when the run measured
//	allocations.
//
// Inputs:
//
//	result - A run in StateComplete with statistics.
//
// Outputs:
//
//	*BaselineData - The baseline, with CreatedAt and UpdatedAt unset.
//	error         - ErrInvalidBaseline for nil, failed or empty results.
func FromResult(result *engine.Result) (*BaselineData, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: nil result", ErrInvalidBaseline)
	}
	if result.State != engine.StateComplete {
		return nil, fmt.Errorf("%w: run of %q is %s", ErrInvalidBaseline, result.Benchmark, result.State)
	}
	if result.Statistics == nil {
		return nil, fmt.Errorf("%w: run of %q has no statistics", ErrInvalidBaseline, result.Benchmark)
	}

	s := result.Statistics
	b := &BaselineData{
		Benchmark:   result.Benchmark,
		RunID:       result.RunID,
		Clock:       result.Clock,
		Mean:        s.Mean,
		Median:      s.Median,
		StdDev:      s.StandardDeviation,
		P95:         s.Percentiles.P95,
		Samples:     s.Sorted(),
		SampleCount: s.N,
	}
	if result.Memory != nil && result.Memory.Operations > 0 {
		b.Memory = &MemoryBaseline{
			BytesPerOp:  result.Memory.BytesPerOperation(),
			AllocsPerOp: result.Memory.AllocationsPerOperation(),
		}
	}
	return b, nil
}

// -----------------------------------------------------------------------------
// Baseline Store Interface
// -----------------------------------------------------------------------------

// Baseline stores reference results keyed by benchmark name.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Baseline interface {
	// Get returns the baseline for a benchmark or ErrBaselineNotFound.
	Get(ctx context.Context, benchmark string) (*BaselineData, error)

	// Set stores or replaces the baseline for a benchmark.
	Set(ctx context.Context, benchmark string, data *BaselineData) error

	// List returns the stored benchmark names in ascending order.
	List(ctx context.Context) ([]string, error)

	// Delete removes a baseline or returns ErrBaselineNotFound.
	Delete(ctx context.Context, benchmark string) error
}

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// MemoryBaselineStore keeps baselines in a map. Useful for tests and for
// comparing runs within one process.
//
// Thread Safety: Safe for concurrent use.
type MemoryBaselineStore struct {
	mu        sync.RWMutex
	baselines map[string]*BaselineData
	now       func() time.Time
}

// NewMemoryBaseline creates an empty in-memory store.
func NewMemoryBaseline() *MemoryBaselineStore {
	return &MemoryBaselineStore{
		baselines: make(map[string]*BaselineData),
		now:       time.Now,
	}
}

// Get implements Baseline.
func (m *MemoryBaselineStore) Get(ctx context.Context, benchmark string) (*BaselineData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.baselines[benchmark]
	if !ok {
		return nil, ErrBaselineNotFound
	}
	return data.clone(), nil
}

// Set implements Baseline.
func (m *MemoryBaselineStore) Set(ctx context.Context, benchmark string, data *BaselineData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: nil baseline", ErrInvalidBaseline)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := data.clone()
	stored.Benchmark = benchmark
	stamp(stored, m.baselines[benchmark], m.now())
	m.baselines[benchmark] = stored
	return nil
}

// List implements Baseline.
func (m *MemoryBaselineStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.baselines))
	for name := range m.baselines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Baseline.
func (m *MemoryBaselineStore) Delete(ctx context.Context, benchmark string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.baselines[benchmark]; !ok {
		return ErrBaselineNotFound
	}
	delete(m.baselines, benchmark)
	return nil
}

// stamp sets UpdatedAt and keeps the original CreatedAt across replacements.
func stamp(data, previous *BaselineData, now time.Time) {
	data.UpdatedAt = now
	switch {
	case previous != nil && !previous.CreatedAt.IsZero():
		data.CreatedAt = previous.CreatedAt
	case data.CreatedAt.IsZero():
		data.CreatedAt = now
	}
}

var _ Baseline = (*MemoryBaselineStore)(nil)
