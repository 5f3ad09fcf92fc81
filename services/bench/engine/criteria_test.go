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
	"testing"

	"github.com/AleutianAI/AleutianBench/services/bench/measure"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

func samples(values ...float64) []measure.Measurement {
	out := make([]measure.Measurement, len(values))
	for i, v := range values {
		out[i] = measure.MustNew(measure.StageWarmup, measure.ModeWorkload, 1, i+1, 1, v)
	}
	return out
}

func alternating(n int, low, high float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = low
		} else {
			out[i] = high
		}
	}
	return out
}

func TestFixedCount(t *testing.T) {
	c := FixedCount(3)
	for n := 0; n < 3; n++ {
		if d := c.Evaluate(samples(make([]float64, n)...)); d.Stop {
			t.Errorf("stopped after %d iterations", n)
		}
	}
	d := c.Evaluate(samples(1, 2, 3))
	if !d.Stop || !d.Converged {
		t.Errorf("Evaluate(3) = %+v, want converged stop", d)
	}
	if c.MaxIterations() != 3 {
		t.Errorf("MaxIterations = %d", c.MaxIterations())
	}
	if d := FixedCount(0).Evaluate(nil); !d.Stop {
		t.Error("FixedCount(0) should stop immediately")
	}
}

func TestRelativeErrorWarmup(t *testing.T) {
	c := RelativeErrorWarmup{MinCount: 3, MaxCount: 6, Window: 3, MaxRelativeError: 0.05}

	tests := []struct {
		name          string
		values        []float64
		wantStop      bool
		wantConverged bool
	}{
		{"below minimum", []float64{100, 100}, false, false},
		{"flat at minimum", []float64{100, 100, 100}, true, true},
		{"settled window", []float64{500, 300, 101, 100, 100}, true, true},
		{"noisy below cap", alternating(4, 100, 300), false, false},
		{"noisy at cap", alternating(6, 100, 300), true, false},
		{"settles at cap", []float64{900, 500, 300, 100, 100, 100}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Evaluate(samples(tt.values...))
			if d.Stop != tt.wantStop || d.Converged != tt.wantConverged {
				t.Errorf("Evaluate = %+v, want stop=%v converged=%v", d, tt.wantStop, tt.wantConverged)
			}
		})
	}
}

func TestFluctuationWarmup(t *testing.T) {
	c := FluctuationWarmup{MinCount: 2, MaxCount: 10, MinFluctuations: 4}

	tests := []struct {
		name          string
		values        []float64
		wantStop      bool
		wantConverged bool
	}{
		{"below minimum", []float64{100}, false, false},
		{"zigzag", []float64{100, 110, 100, 110, 100}, true, true},
		{"monotonic", []float64{100, 101, 102, 103, 104}, false, false},
		{"flat counts every step", []float64{100, 100, 100, 100, 100}, true, true},
		{"cap", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Evaluate(samples(tt.values...))
			if d.Stop != tt.wantStop || d.Converged != tt.wantConverged {
				t.Errorf("Evaluate = %+v, want stop=%v converged=%v", d, tt.wantStop, tt.wantConverged)
			}
		})
	}
}

func TestAutoWorkload(t *testing.T) {
	c := AutoWorkload{MinCount: 3, MaxCount: 8, MaxRelativeError: 0.05, Policy: stats.OutlierPolicy{Mode: stats.RemoveUpper}}

	if d := c.Evaluate(samples(100, 100)); d.Stop {
		t.Errorf("stopped below minimum: %+v", d)
	}
	if d := c.Evaluate(samples(100, 100, 100)); !d.Stop || !d.Converged {
		t.Errorf("flat sample should converge: %+v", d)
	}
	if d := c.Evaluate(samples(alternating(5, 100, 300)...)); d.Stop {
		t.Errorf("noisy sample should keep going: %+v", d)
	}
	if d := c.Evaluate(samples(alternating(8, 100, 300)...)); !d.Stop || d.Converged {
		t.Errorf("noisy sample at cap should stop unconverged: %+v", d)
	}
}

func TestAutoWorkload_SubtractsOverhead(t *testing.T) {
	ms := samples(alternating(6, 1000, 1010)...)
	raw := AutoWorkload{MinCount: 3, MaxCount: 20, MaxRelativeError: 0.05, Policy: stats.OutlierPolicy{Mode: stats.DontRemove}}

	if d := raw.Evaluate(ms); !d.Stop || !d.Converged {
		t.Fatalf("raw times should converge: %+v", d)
	}

	adjusted := raw
	adjusted.OverheadPerOperation = 900
	if d := adjusted.Evaluate(ms); d.Stop {
		t.Errorf("overhead-adjusted times are noisier than the bound and should keep going: %+v", d)
	}
}

func TestSubtractOverhead(t *testing.T) {
	ms := []measure.Measurement{
		measure.MustNew(measure.StageWorkload, measure.ModeWorkload, 1, 1, 4, 400),
		measure.MustNew(measure.StageWorkload, measure.ModeWorkload, 1, 2, 4, 20),
	}
	got := measure.PerOperation(subtractOverhead(ms, 10))
	if got[0] != 90 || got[1] != 0 {
		t.Errorf("subtractOverhead() per op = %v, want [90 0]", got)
	}
	if ms[0].Nanoseconds() != 400 {
		t.Errorf("input modified: %v", ms[0].Nanoseconds())
	}
}

func TestCriterionSelection(t *testing.T) {
	if _, ok := warmupCriterion(fixedJob(3, 1)).(FixedCount); !ok {
		t.Error("fixed warmup count should select FixedCount")
	}
	if _, ok := warmupCriterion(DefaultJob()).(RelativeErrorWarmup); !ok {
		t.Error("default warmup should select RelativeErrorWarmup")
	}
	if _, ok := warmupCriterion(NewJob(WithWarmupStrategy(WarmupFluctuation))).(FluctuationWarmup); !ok {
		t.Error("fluctuation strategy should select FluctuationWarmup")
	}
	if _, ok := workloadCriterion(DefaultJob(), 0).(FixedCount); !ok {
		t.Error("default workload should be fixed")
	}
	if _, ok := workloadCriterion(NewJob(WithAutoIterations()), 0).(AutoWorkload); !ok {
		t.Error("auto iterations should select AutoWorkload")
	}
	if c, ok := workloadCriterion(NewJob(WithAutoIterations()), 12.5).(AutoWorkload); !ok || c.OverheadPerOperation != 12.5 {
		t.Errorf("workloadCriterion overhead = %+v, want 12.5", c)
	}
}
