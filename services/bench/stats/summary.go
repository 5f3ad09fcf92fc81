// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats turns raw per-operation timings into summary statistics.
//
// # Quartiles
//
// Quartiles use the exclusive median-of-halves method: Q1 is the median of
// the first floor(n/2) sorted values and Q3 is the median of the values
// from index (n+1)/2 onward, so the median element of an odd-sized sample
// belongs to neither half. Downstream consumers rely on this convention.
//
// # Dispersion
//
// Variance uses Bessel's correction (n-1) and is 0 for a single value.
//
// # Thread Safety
//
// Every function in this package is stateless. A Summary is immutable once
// returned and may be shared between goroutines.
package stats

import (
	"errors"
	"math"
	"sort"
)

var (
	// ErrEmptySampleSet indicates an attempt to summarize zero samples.
	ErrEmptySampleSet = errors.New("empty sample set")

	// ErrInsufficientSamples indicates too few samples for a two-sample test.
	ErrInsufficientSamples = errors.New("insufficient samples")

	// ErrInvalidConfidenceLevel indicates an unsupported confidence level.
	ErrInvalidConfidenceLevel = errors.New("invalid confidence level")

	// ErrUnknownBinRule indicates an unsupported histogram bin size rule.
	ErrUnknownBinRule = errors.New("unknown bin size rule")
)

// TukeyFactor is the IQR multiplier that defines the outlier fences.
const TukeyFactor = 1.5

// Summary holds descriptive statistics of a sample.
//
// All fields are computed once by Summarize. The sorted values are kept
// privately so that outlier selection and percentile lookups do not need
// the original slice.
type Summary struct {
	N                  int         `json:"n"`
	Min                float64     `json:"min"`
	Max                float64     `json:"max"`
	Mean               float64     `json:"mean"`
	Median             float64     `json:"median"`
	Q1                 float64     `json:"q1"`
	Q3                 float64     `json:"q3"`
	InterquartileRange float64     `json:"iqr"`
	LowerFence         float64     `json:"lower_fence"`
	UpperFence         float64     `json:"upper_fence"`
	LowerOutliers      []float64   `json:"lower_outliers,omitempty"`
	UpperOutliers      []float64   `json:"upper_outliers,omitempty"`
	Outliers           []float64   `json:"outliers,omitempty"`
	Variance           float64     `json:"variance"`
	StandardDeviation  float64     `json:"stddev"`
	StandardError      float64     `json:"stderr"`
	Skewness           float64     `json:"skewness"`
	Kurtosis           float64     `json:"kurtosis"`
	Percentiles        Percentiles `json:"percentiles"`

	// ConfidenceInterval is the z-based interval at the 99.9% level.
	ConfidenceInterval Interval `json:"confidence_interval"`

	sorted []float64
}

// Summarize computes the summary statistics of samples.
//
// Description:
//
//	Drops NaN values, sorts a copy of the rest and derives every
//	statistic from it. The input slice is not modified. Calling
//	Summarize twice on the same input yields identical results.
//
// Inputs:
//
//	samples - Values to summarize, typically nanoseconds per operation.
//
// Outputs:
//
//	*Summary - The statistics.
//	error    - ErrEmptySampleSet if no non-NaN value remains.
//
// Example:
//
//	s, err := stats.Summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(s.Mean, s.StandardDeviation) // 5 2.138...
func Summarize(samples []float64) (*Summary, error) {
	sorted := make([]float64, 0, len(samples))
	for _, v := range samples {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return nil, ErrEmptySampleSet
	}
	sort.Float64s(sorted)

	n := len(sorted)
	s := &Summary{
		N:      n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Median: median(sorted),
		sorted: sorted,
	}

	if n == 1 {
		s.Q1, s.Q3 = s.Median, s.Median
	} else {
		s.Q1 = median(sorted[:n/2])
		s.Q3 = median(sorted[(n+1)/2:])
	}
	s.InterquartileRange = s.Q3 - s.Q1
	s.LowerFence = s.Q1 - TukeyFactor*s.InterquartileRange
	s.UpperFence = s.Q3 + TukeyFactor*s.InterquartileRange

	s.Mean = mean(sorted)
	s.Variance = variance(sorted, s.Mean)
	s.StandardDeviation = math.Sqrt(s.Variance)
	s.StandardError = s.StandardDeviation / math.Sqrt(float64(n))
	s.Skewness, s.Kurtosis = shape(sorted, s.Mean, s.StandardDeviation)

	for _, v := range sorted {
		switch {
		case v < s.LowerFence:
			s.LowerOutliers = append(s.LowerOutliers, v)
			s.Outliers = append(s.Outliers, v)
		case v > s.UpperFence:
			s.UpperOutliers = append(s.UpperOutliers, v)
			s.Outliers = append(s.Outliers, v)
		}
	}

	s.Percentiles = newPercentiles(sorted)
	s.ConfidenceInterval = s.ConfidenceIntervalAt(L999)
	return s, nil
}

// Sorted returns a copy of the summarized values in ascending order.
func (s *Summary) Sorted() []float64 {
	out := make([]float64, len(s.sorted))
	copy(out, s.sorted)
	return out
}

// IsOutlier reports whether v lies outside the Tukey fences.
func (s *Summary) IsOutlier(v float64) bool {
	return v < s.LowerFence || v > s.UpperFence
}

// IsLowerOutlier reports whether v lies below the lower fence.
func (s *Summary) IsLowerOutlier(v float64) bool { return v < s.LowerFence }

// IsUpperOutlier reports whether v lies above the upper fence.
func (s *Summary) IsUpperOutlier(v float64) bool { return v > s.UpperFence }

// CoefficientOfVariation returns StandardDeviation / Mean, or 0 when the
// mean is 0.
func (s *Summary) CoefficientOfVariation() float64 {
	if s.Mean == 0 {
		return 0
	}
	return s.StandardDeviation / s.Mean
}

// WithoutOutliers returns the sorted values that mode keeps.
func (s *Summary) WithoutOutliers(mode OutlierMode) []float64 {
	out := make([]float64, 0, len(s.sorted))
	for _, v := range s.sorted {
		if !mode.Removes(s, v) {
			out = append(out, v)
		}
	}
	return out
}

// Percentile returns the p-th percentile (0 <= p <= 1) of the summarized
// values using linear interpolation.
func (s *Summary) Percentile(p float64) float64 {
	return Percentile(s.sorted, p)
}

// -----------------------------------------------------------------------------
// Percentiles
// -----------------------------------------------------------------------------

// Percentiles holds the percentiles reported with every summary.
type Percentiles struct {
	P0   float64 `json:"p0"`
	P25  float64 `json:"p25"`
	P50  float64 `json:"p50"`
	P67  float64 `json:"p67"`
	P80  float64 `json:"p80"`
	P85  float64 `json:"p85"`
	P90  float64 `json:"p90"`
	P95  float64 `json:"p95"`
	P100 float64 `json:"p100"`
}

func newPercentiles(sorted []float64) Percentiles {
	return Percentiles{
		P0:   Percentile(sorted, 0),
		P25:  Percentile(sorted, 0.25),
		P50:  Percentile(sorted, 0.50),
		P67:  Percentile(sorted, 0.67),
		P80:  Percentile(sorted, 0.80),
		P85:  Percentile(sorted, 0.85),
		P90:  Percentile(sorted, 0.90),
		P95:  Percentile(sorted, 0.95),
		P100: Percentile(sorted, 1),
	}
}

// Percentile calculates the p-th percentile of sorted values using linear
// interpolation. p is clamped to [0, 1]. Returns 0 for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	p = math.Max(0, math.Min(1, p))

	index := p * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}

	fraction := index - float64(lower)
	return sorted[lower]*(1-fraction) + sorted[upper]*fraction
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// median of an already sorted, non-empty slice.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// variance is the Bessel-corrected sample variance.
func variance(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSquaredDiff float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiff += diff * diff
	}
	return sumSquaredDiff / float64(len(values)-1)
}

// shape returns skewness and kurtosis from the central moments. Both are 0
// for a sample without spread.
func shape(values []float64, mean, stddev float64) (skewness, kurtosis float64) {
	if stddev == 0 {
		return 0, 0
	}
	var m3, m4 float64
	for _, v := range values {
		d := v - mean
		d2 := d * d
		m3 += d2 * d
		m4 += d2 * d2
	}
	n := float64(len(values))
	m3 /= n
	m4 /= n
	return m3 / math.Pow(stddev, 3), m4 / math.Pow(stddev, 4)
}
