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
	"fmt"
	"math"

	mstats "github.com/aclements/go-moremath/stats"
)

// EffectSizeCategory categorizes effect sizes using Cohen's conventions.
//
// Description:
//
//	Cohen's d thresholds: negligible (<0.2), small (0.2-0.5), medium
//	(0.5-0.8), large (>=0.8).
type EffectSizeCategory int

const (
	EffectNegligible EffectSizeCategory = iota
	EffectSmall
	EffectMedium
	EffectLarge
)

// String returns the category name.
func (e EffectSizeCategory) String() string {
	switch e {
	case EffectNegligible:
		return "negligible"
	case EffectSmall:
		return "small"
	case EffectMedium:
		return "medium"
	case EffectLarge:
		return "large"
	default:
		return "unknown"
	}
}

// CategorizeEffectSize returns the category for |d|.
func CategorizeEffectSize(d float64) EffectSizeCategory {
	absD := math.Abs(d)
	switch {
	case absD < 0.2:
		return EffectNegligible
	case absD < 0.5:
		return EffectSmall
	case absD < 0.8:
		return EffectMedium
	default:
		return EffectLarge
	}
}

// CohensD returns the standardized difference (mean(b) - mean(a)) / pooled
// stddev. Returns 0 when either sample is empty or the pooled stddev is 0.
func CohensD(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a)+len(b) < 3 {
		return 0
	}
	meanA, meanB := mean(a), mean(b)
	varA, varB := variance(a, meanA), variance(b, meanB)

	n1, n2 := float64(len(a)), float64(len(b))
	pooled := math.Sqrt(((n1-1)*varA + (n2-1)*varB) / (n1 + n2 - 2))
	if pooled == 0 {
		return 0
	}
	return (meanB - meanA) / pooled
}

// Comparison is the outcome of comparing a candidate sample against a
// baseline.
type Comparison struct {
	BaselineMean       float64            `json:"baseline_mean"`
	CandidateMean      float64            `json:"candidate_mean"`
	Ratio              float64            `json:"ratio"`
	DiffPercent        float64            `json:"diff_percent"`
	TStatistic         float64            `json:"t_statistic"`
	DegreesOfFreedom   float64            `json:"dof"`
	PValue             float64            `json:"p_value"`
	EffectSize         float64            `json:"effect_size"`
	EffectSizeCategory EffectSizeCategory `json:"effect_size_category"`
	Level              ConfidenceLevel    `json:"level"`
	Significant        bool               `json:"significant"`
}

// Compare runs a two-sided Welch t-test of candidate against baseline.
//
// Description:
//
//	Significant is set when the p-value is below 1 - level. Two samples
//	without variance are compared by their means: equal means give p = 1,
//	different means give p = 0.
//
// Inputs:
//
//	baseline, candidate - At least two values each.
//	level               - Confidence level of the test.
//
// Outputs:
//
//	*Comparison - Test statistics, ratio and effect size.
//	error       - ErrInsufficientSamples or ErrInvalidConfidenceLevel.
func Compare(baseline, candidate []float64, level ConfidenceLevel) (*Comparison, error) {
	if !level.Valid() {
		return nil, ErrInvalidConfidenceLevel
	}
	if len(baseline) < 2 || len(candidate) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 values per sample, got %d and %d",
			ErrInsufficientSamples, len(baseline), len(candidate))
	}

	c := &Comparison{
		BaselineMean:  mean(baseline),
		CandidateMean: mean(candidate),
		Level:         level,
	}
	if c.BaselineMean != 0 {
		c.Ratio = c.CandidateMean / c.BaselineMean
		c.DiffPercent = (c.CandidateMean - c.BaselineMean) / c.BaselineMean * 100
	}
	c.EffectSize = CohensD(baseline, candidate)
	c.EffectSizeCategory = CategorizeEffectSize(c.EffectSize)

	res, err := mstats.TwoSampleWelchTTest(
		mstats.Sample{Xs: baseline},
		mstats.Sample{Xs: candidate},
		mstats.LocationDiffers,
	)
	switch {
	case errors.Is(err, mstats.ErrZeroVariance):
		if c.BaselineMean == c.CandidateMean {
			c.PValue = 1
		}
	case err != nil:
		return nil, fmt.Errorf("welch t-test: %w", err)
	default:
		c.TStatistic = res.T
		c.DegreesOfFreedom = res.DoF
		c.PValue = res.P
	}

	c.Significant = c.PValue < 1-level.Probability()
	return c, nil
}
