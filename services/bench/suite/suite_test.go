// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package suite

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"github.com/AleutianAI/AleutianBench/services/bench/host"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, len(Benchmarks()), reg.Len())

	for _, b := range reg.List() {
		assert.NotEmpty(t, b.Description, b.Name)
		assert.NotEmpty(t, b.Tags, b.Name)
		assert.Equal(t, b.Name, b.Descriptor().Name)
		assert.NoError(t, b.Descriptor().Validate(), b.Name)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	reg := NewRegistry()
	err := Register(reg)
	assert.ErrorIs(t, err, host.ErrAlreadyRegistered)
}

func TestBenchmarks_Run(t *testing.T) {
	eng := engine.New(engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	job := engine.NewJob(
		engine.WithWarmupCount(1),
		engine.WithIterationCount(3),
		engine.WithInvocationCount(10),
		engine.WithForceGC(false),
		engine.WithMinIterationTime(0),
		engine.WithOutlierMode(stats.DontRemove),
	)

	for _, b := range Benchmarks() {
		t.Run(b.Name, func(t *testing.T) {
			r, err := eng.Run(context.Background(), b.Descriptor(), job)
			require.NoError(t, err)
			assert.Equal(t, engine.StateComplete, r.State)
			assert.Equal(t, 3, r.Statistics.N)
		})
	}
}

func TestBenchmarks_Match(t *testing.T) {
	reg := NewRegistry()
	got, err := reg.Match("strings/*")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "strings/builder", got[0].Name)
	assert.Equal(t, "strings/concat", got[1].Name)
}
