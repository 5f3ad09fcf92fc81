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
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

func TestParseCount(t *testing.T) {
	tests := []struct {
		in      string
		want    Count
		wantErr bool
	}{
		{"auto", Auto, false},
		{"AUTO", Auto, false},
		{"", Auto, false},
		{"0", 0, false},
		{" 12 ", 12, false},
		{"-3", 0, true},
		{"many", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseCount(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCount(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseCount(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCount_YAML(t *testing.T) {
	type wrapper struct {
		Warmup Count `yaml:"warmup"`
		Iters  Count `yaml:"iters"`
	}

	var w wrapper
	if err := yaml.Unmarshal([]byte("warmup: auto\niters: 7\n"), &w); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !w.Warmup.IsAuto() || w.Iters != 7 {
		t.Fatalf("got %+v", w)
	}

	out, err := yaml.Marshal(w)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got := string(out); got != "warmup: auto\niters: 7\n" {
		t.Errorf("Marshal = %q", got)
	}

	if err := yaml.Unmarshal([]byte("warmup: -1x\n"), &w); err == nil {
		t.Error("expected error for malformed count")
	}
}

func TestDefaultJob_Valid(t *testing.T) {
	j := DefaultJob()
	if err := j.Validate(); err != nil {
		t.Fatalf("DefaultJob().Validate() = %v", err)
	}
	if !j.WarmupCount.IsAuto() || !j.InvocationCount.IsAuto() {
		t.Error("warmup and invocation count should default to auto")
	}
	if j.IterationCount != DefaultIterationCount {
		t.Errorf("IterationCount = %v, want %d", j.IterationCount, DefaultIterationCount)
	}
	if j.OutlierMode != stats.RemoveUpper {
		t.Errorf("OutlierMode = %v, want remove-upper", j.OutlierMode)
	}
}

func TestJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(j *Job)
		wantErr string
	}{
		{"zero unroll", func(j *Job) { j.UnrollFactor = 0 }, "UnrollFactor"},
		{"zero launches", func(j *Job) { j.LaunchCount = 0 }, "LaunchCount"},
		{"zero iterations", func(j *Job) { j.IterationCount = 0 }, "iteration count"},
		{"invocation not multiple of unroll", func(j *Job) {
			j.InvocationCount = 10
			j.UnrollFactor = 4
		}, "not a multiple"},
		{"zero invocations", func(j *Job) { j.InvocationCount = 0 }, "invocation count"},
		{"relative error too large", func(j *Job) { j.MaxRelativeError = 1.5 }, "MaxRelativeError"},
		{"warmup bounds inverted", func(j *Job) {
			j.MinWarmupIterationCount = 10
			j.MaxWarmupIterationCount = 5
		}, "MaxWarmupIterationCount"},
		{"negative count", func(j *Job) { j.WarmupCount = -5 }, "WarmupCount"},
		{"bad strategy", func(j *Job) { j.WarmupStrategy = "guess" }, "WarmupStrategy"},
		{"unknown outlier mode", func(j *Job) { j.OutlierMode = stats.OutlierMode(42) }, "outlier mode"},
		{"zero confidence level", func(j *Job) { j.ConfidenceLevel = 0 }, "confidence level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := DefaultJob()
			tt.mutate(&j)
			err := j.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidJob) {
				t.Errorf("error %v does not wrap ErrInvalidJob", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestJobOptions(t *testing.T) {
	j := NewJob(
		WithWarmupCount(3),
		WithIterationCount(20),
		WithInvocationCount(64),
		WithUnrollFactor(16),
		WithLaunchCount(2),
		WithMaxRelativeError(0.01),
		WithMinIterationTime(time.Second),
		WithConfidenceLevel(stats.L95),
		WithOutlierMode(stats.DontRemove),
		WithOverhead(true),
		WithMemory(true),
		WithWarmupStrategy(WarmupFluctuation),
	)
	if err := j.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if j.WarmupCount != 3 || j.IterationCount != 20 || j.InvocationCount != 64 || j.UnrollFactor != 16 {
		t.Errorf("counts not applied: %+v", j)
	}
	if j.LaunchCount != 2 || j.MaxRelativeError != 0.01 || j.MinIterationTime != time.Second {
		t.Errorf("bounds not applied: %+v", j)
	}
	if j.ConfidenceLevel != stats.L95 || j.OutlierMode != stats.DontRemove {
		t.Errorf("reporting not applied: %+v", j)
	}
	if !j.EvaluateOverhead || !j.CollectMemory || j.WarmupStrategy != WarmupFluctuation {
		t.Errorf("flags not applied: %+v", j)
	}
}

func TestJobOptions_IgnoreInvalid(t *testing.T) {
	want := DefaultJob()
	got := want.With(
		WithWarmupCount(-1),
		WithIterationCount(0),
		WithInvocationCount(-2),
		WithUnrollFactor(0),
		WithLaunchCount(0),
		WithMaxRelativeError(2),
		WithMinIterationTime(-time.Second),
		WithIterationTime(0),
		WithWarmupBounds(1, 0),
		WithIterationBounds(5, 2),
		WithWarmupStrategy("other"),
		WithConfidenceLevel(0),
	)
	if got != want {
		t.Errorf("invalid options changed the job:\n got %+v\nwant %+v", got, want)
	}
}

func TestJob_YAMLRoundTrip(t *testing.T) {
	in := NewJob(WithIterationCount(12), WithAutoWarmup(), WithConfidenceLevel(stats.L99))
	data, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "warmup_count: auto") {
		t.Errorf("expected auto warmup in:\n%s", data)
	}

	var out Job
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}
