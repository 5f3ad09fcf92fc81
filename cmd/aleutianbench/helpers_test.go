// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianBench/cmd/aleutianbench/config"
	"github.com/AleutianAI/AleutianBench/pkg/logging"
	"github.com/AleutianAI/AleutianBench/services/bench/clock"
	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"github.com/AleutianAI/AleutianBench/services/bench/host"
	"github.com/stretchr/testify/require"
)

// testSink keeps the sum benchmark's work observable.
var testSink int

const testJobYAML = `warmup_count: 1
iteration_count: 12
invocation_count: 10
min_iteration_time: 0s
force_gc: false
outlier_mode: dont-remove
`

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func testRegistry() *host.Registry {
	reg := host.NewRegistry()
	reg.MustRegister(host.Benchmark{
		Name: "sum",
		Tags: []string{"cpu"},
		New: func() engine.Descriptor {
			return engine.Func("sum", func() {
				total := 0
				for i := 0; i < 1000; i++ {
					total += i
				}
				testSink = total
			})
		},
	})
	reg.MustRegister(host.Benchmark{
		Name: "broken",
		Tags: []string{"fail"},
		New: func() engine.Descriptor {
			return engine.Descriptor{
				Name:   "broken",
				Invoke: func() error { return errors.New("boom") },
			}
		},
	})
	return reg
}

func testConfig(t *testing.T) config.BenchConfig {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Logging.LogDir = ""
	cfg.Baseline.Dir = filepath.Join(t.TempDir(), "baselines")
	return cfg
}

func writeJobFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestRunner(t *testing.T, cfg config.BenchConfig, opts runOptions, out io.Writer) *runner {
	t.Helper()
	r, err := newRunner(context.Background(), cfg, opts, testRegistry(), quietLogger(), out)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// fixedResult runs a benchmark whose iterations each take ns nanoseconds
// on a manual clock.
func fixedResult(t *testing.T, name string, ns int64) *engine.Result {
	t.Helper()
	clk := clock.NewManual(clock.Nanosecond)
	eng := engine.New(
		engine.WithClock(clk),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	d := engine.Descriptor{
		Name: name,
		Invoke: func() error {
			clk.Advance(ns)
			return nil
		},
	}
	job := engine.NewJob(
		engine.WithWarmupCount(2),
		engine.WithIterationCount(3),
		engine.WithInvocationCount(1),
		engine.WithForceGC(false),
		engine.WithMinIterationTime(0),
	)
	res, err := eng.Run(context.Background(), d, job)
	require.NoError(t, err)
	return res
}
