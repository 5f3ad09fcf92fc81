// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"errors"
	"testing"
)

func TestCategorizeEffectSize(t *testing.T) {
	tests := []struct {
		d    float64
		want EffectSizeCategory
	}{
		{0, EffectNegligible},
		{0.19, EffectNegligible},
		{0.3, EffectSmall},
		{-0.6, EffectMedium},
		{0.8, EffectLarge},
		{-2.5, EffectLarge},
	}
	for _, tt := range tests {
		if got := CategorizeEffectSize(tt.d); got != tt.want {
			t.Errorf("CategorizeEffectSize(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestCohensD(t *testing.T) {
	if got := CohensD(nil, []float64{1}); got != 0 {
		t.Errorf("CohensD(empty) = %v, want 0", got)
	}
	if got := CohensD([]float64{1, 1}, []float64{2, 2}); got != 0 {
		t.Errorf("CohensD(zero variance) = %v, want 0", got)
	}
	if got := CohensD([]float64{1, 2, 3}, []float64{4, 5, 6}); !approxEqual(got, 3, 1e-12) {
		t.Errorf("CohensD() = %v, want 3", got)
	}
}

func TestCompare(t *testing.T) {
	baseline := []float64{100, 101, 99, 100, 102, 98, 100, 101}
	slower := make([]float64, len(baseline))
	for i, v := range baseline {
		slower[i] = v + 20
	}

	t.Run("significant slowdown", func(t *testing.T) {
		c, err := Compare(baseline, slower, L95)
		if err != nil {
			t.Fatalf("Compare() error = %v", err)
		}
		if !c.Significant {
			t.Errorf("Significant = false, p = %v", c.PValue)
		}
		if !approxEqual(c.DiffPercent, 2000.0/100.125, 1e-9) {
			t.Errorf("DiffPercent = %v", c.DiffPercent)
		}
		if c.Ratio <= 1 {
			t.Errorf("Ratio = %v, want > 1", c.Ratio)
		}
		if c.EffectSizeCategory != EffectLarge {
			t.Errorf("EffectSizeCategory = %v, want large", c.EffectSizeCategory)
		}
		if c.TStatistic == 0 || c.DegreesOfFreedom <= 0 {
			t.Errorf("T/DoF = %v/%v", c.TStatistic, c.DegreesOfFreedom)
		}
	})

	t.Run("identical samples", func(t *testing.T) {
		c, err := Compare(baseline, baseline, L95)
		if err != nil {
			t.Fatalf("Compare() error = %v", err)
		}
		if c.Significant {
			t.Errorf("Significant = true, p = %v", c.PValue)
		}
		if !approxEqual(c.PValue, 1, 1e-9) {
			t.Errorf("PValue = %v, want 1", c.PValue)
		}
	})

	t.Run("constant samples", func(t *testing.T) {
		c, err := Compare([]float64{5, 5, 5}, []float64{5, 5}, L99)
		if err != nil {
			t.Fatalf("Compare() error = %v", err)
		}
		if c.PValue != 1 || c.Significant {
			t.Errorf("PValue/Significant = %v/%v, want 1/false", c.PValue, c.Significant)
		}
	})

	t.Run("constant samples with different means", func(t *testing.T) {
		c, err := Compare([]float64{5, 5, 5}, []float64{7, 7}, L99)
		if err != nil {
			t.Fatalf("Compare() error = %v", err)
		}
		if !c.Significant {
			t.Error("Significant = false, want true")
		}
	})

	t.Run("insufficient samples", func(t *testing.T) {
		_, err := Compare([]float64{1}, slower, L95)
		if !errors.Is(err, ErrInsufficientSamples) {
			t.Errorf("Compare() error = %v, want ErrInsufficientSamples", err)
		}
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := Compare(baseline, slower, ConfidenceLevel(0))
		if !errors.Is(err, ErrInvalidConfidenceLevel) {
			t.Errorf("Compare() error = %v, want ErrInvalidConfidenceLevel", err)
		}
	})
}
