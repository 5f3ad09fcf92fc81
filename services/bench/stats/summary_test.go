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
	"math"
	"reflect"
	"testing"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestSummarize_Empty(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
	}{
		{"nil", nil},
		{"empty", []float64{}},
		{"only NaN", []float64{math.NaN(), math.NaN()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Summarize(tt.samples)
			if !errors.Is(err, ErrEmptySampleSet) {
				t.Errorf("Summarize() error = %v, want ErrEmptySampleSet", err)
			}
			if s != nil {
				t.Errorf("Summarize() = %+v, want nil summary", s)
			}
		})
	}
}

func TestSummarize_SingleValue(t *testing.T) {
	s, err := Summarize([]float64{42})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	if s.Q1 != 42 || s.Median != 42 || s.Q3 != 42 {
		t.Errorf("Q1/Median/Q3 = %v/%v/%v, want 42/42/42", s.Q1, s.Median, s.Q3)
	}
	if s.StandardDeviation != 0 || s.Variance != 0 || s.StandardError != 0 {
		t.Errorf("dispersion = %v/%v/%v, want zeros", s.StandardDeviation, s.Variance, s.StandardError)
	}
	if s.Mean != 42 || s.Min != 42 || s.Max != 42 {
		t.Errorf("Mean/Min/Max = %v/%v/%v, want 42", s.Mean, s.Min, s.Max)
	}
	if len(s.Outliers) != 0 {
		t.Errorf("Outliers = %v, want none", s.Outliers)
	}
}

func TestSummarize_BesselCorrection(t *testing.T) {
	s, err := Summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	if s.Mean != 5 {
		t.Errorf("Mean = %v, want 5", s.Mean)
	}
	if !approxEqual(s.StandardDeviation, math.Sqrt(32.0/7.0), 1e-12) {
		t.Errorf("StandardDeviation = %v, want %v", s.StandardDeviation, math.Sqrt(32.0/7.0))
	}
	if !approxEqual(s.StandardDeviation, 2.138090, 5e-6) {
		t.Errorf("StandardDeviation = %.6f, want 2.13809 to 5 places", s.StandardDeviation)
	}
	if !approxEqual(s.Variance, 32.0/7.0, 1e-12) {
		t.Errorf("Variance = %v, want %v", s.Variance, 32.0/7.0)
	}
	if !approxEqual(s.StandardError, s.StandardDeviation/math.Sqrt(8), 1e-12) {
		t.Errorf("StandardError = %v, want stddev/sqrt(8)", s.StandardError)
	}
}

func TestSummarize_Quartiles(t *testing.T) {
	tests := []struct {
		name        string
		samples     []float64
		q1, med, q3 float64
	}{
		{"two values", []float64{3, 1}, 1, 2, 3},
		{"odd excludes median", []float64{5, 4, 3, 2, 1}, 1.5, 3, 4.5},
		{"even", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 4, 4.5, 6},
		{"ten values", []float64{1, 2, 2, 2, 3, 3, 3, 4, 4, 100}, 2, 3, 4},
		{"seven values", []float64{1, 2, 3, 4, 5, 6, 7}, 2, 4, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Summarize(tt.samples)
			if err != nil {
				t.Fatalf("Summarize() error = %v", err)
			}
			if s.Q1 != tt.q1 {
				t.Errorf("Q1 = %v, want %v", s.Q1, tt.q1)
			}
			if s.Median != tt.med {
				t.Errorf("Median = %v, want %v", s.Median, tt.med)
			}
			if s.Q3 != tt.q3 {
				t.Errorf("Q3 = %v, want %v", s.Q3, tt.q3)
			}
			if s.InterquartileRange != tt.q3-tt.q1 {
				t.Errorf("IQR = %v, want %v", s.InterquartileRange, tt.q3-tt.q1)
			}
		})
	}
}

func TestSummarize_TukeyFences(t *testing.T) {
	s, err := Summarize([]float64{1, 2, 2, 2, 3, 3, 3, 4, 4, 100})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	if s.LowerFence != -1 || s.UpperFence != 7 {
		t.Errorf("fences = [%v, %v], want [-1, 7]", s.LowerFence, s.UpperFence)
	}
	if !(100 > s.UpperFence) {
		t.Errorf("100 should exceed upper fence %v", s.UpperFence)
	}
	if !reflect.DeepEqual(s.Outliers, []float64{100}) {
		t.Errorf("Outliers = %v, want [100]", s.Outliers)
	}
	if !reflect.DeepEqual(s.UpperOutliers, []float64{100}) {
		t.Errorf("UpperOutliers = %v, want [100]", s.UpperOutliers)
	}
	if len(s.LowerOutliers) != 0 {
		t.Errorf("LowerOutliers = %v, want none", s.LowerOutliers)
	}
	if !s.IsOutlier(100) || s.IsOutlier(4) {
		t.Error("IsOutlier classification wrong")
	}
}

func TestSummarize_Idempotent(t *testing.T) {
	samples := []float64{9.5, 1.25, 3, 3, 7.75, 100, 2, 0.5}
	original := append([]float64(nil), samples...)

	first, err := Summarize(samples)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	second, err := Summarize(samples)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Summarize() not idempotent:\n%+v\n%+v", first, second)
	}
	bits := func(s *Summary) []uint64 {
		return []uint64{
			math.Float64bits(s.Mean), math.Float64bits(s.StandardDeviation),
			math.Float64bits(s.Q1), math.Float64bits(s.Q3),
			math.Float64bits(s.ConfidenceInterval.Margin),
		}
	}
	if !reflect.DeepEqual(bits(first), bits(second)) {
		t.Error("Summarize() results differ bitwise")
	}
	if !reflect.DeepEqual(samples, original) {
		t.Errorf("Summarize() modified its input: %v", samples)
	}
}

func TestSummarize_DropsNaN(t *testing.T) {
	s, err := Summarize([]float64{1, math.NaN(), 3})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if s.N != 2 || s.Mean != 2 {
		t.Errorf("N/Mean = %d/%v, want 2/2", s.N, s.Mean)
	}
}

func TestSummarize_ShapeAndCV(t *testing.T) {
	symmetric, err := Summarize([]float64{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if !approxEqual(symmetric.Skewness, 0, 1e-12) {
		t.Errorf("Skewness = %v, want 0", symmetric.Skewness)
	}

	skewed, err := Summarize([]float64{1, 1, 1, 1, 10})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if skewed.Skewness <= 0 {
		t.Errorf("Skewness = %v, want > 0 for right tail", skewed.Skewness)
	}
	if skewed.CoefficientOfVariation() <= 0 {
		t.Errorf("CoefficientOfVariation() = %v, want > 0", skewed.CoefficientOfVariation())
	}

	flat, _ := Summarize([]float64{0, 0})
	if flat.CoefficientOfVariation() != 0 {
		t.Errorf("CoefficientOfVariation() of zero mean = %v, want 0", flat.CoefficientOfVariation())
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.25, 2},
		{0.5, 3},
		{0.9, 4.6},
		{1, 5},
		{-1, 1},
		{2, 5},
	}

	for _, tt := range tests {
		got := Percentile(sorted, tt.p)
		if !approxEqual(got, tt.want, 1e-9) {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}

	if got := Percentile(nil, 0.5); got != 0 {
		t.Errorf("Percentile(nil) = %v, want 0", got)
	}
	if got := Percentile([]float64{7}, 0.3); got != 7 {
		t.Errorf("Percentile(single) = %v, want 7", got)
	}
}

func TestSummary_Percentiles(t *testing.T) {
	s, err := Summarize([]float64{5, 4, 3, 2, 1})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if s.Percentiles.P0 != 1 || s.Percentiles.P50 != 3 || s.Percentiles.P100 != 5 {
		t.Errorf("Percentiles = %+v", s.Percentiles)
	}
	if s.Percentile(0.25) != 2 {
		t.Errorf("Percentile(0.25) = %v, want 2", s.Percentile(0.25))
	}
}

func TestSummary_SortedIsCopy(t *testing.T) {
	s, _ := Summarize([]float64{3, 1, 2})
	sorted := s.Sorted()
	if !reflect.DeepEqual(sorted, []float64{1, 2, 3}) {
		t.Fatalf("Sorted() = %v", sorted)
	}
	sorted[0] = 99
	if s.Min != 1 || s.Sorted()[0] != 1 {
		t.Error("Sorted() exposed internal state")
	}
}
