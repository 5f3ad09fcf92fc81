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
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// -----------------------------------------------------------------------------
// Regression Types
// -----------------------------------------------------------------------------

// RegressionType identifies the compared metric.
type RegressionType int

const (
	// RegressionNone marks findings not tied to a metric.
	RegressionNone RegressionType = iota

	// RegressionMean is the mean time per operation.
	RegressionMean

	// RegressionP95 is the 95th percentile time per operation.
	RegressionP95

	// RegressionMemory is allocated bytes per operation.
	RegressionMemory

	// RegressionAllocations is allocations per operation.
	RegressionAllocations
)

// String returns the string representation.
func (r RegressionType) String() string {
	switch r {
	case RegressionNone:
		return "none"
	case RegressionMean:
		return "mean"
	case RegressionP95:
		return "p95"
	case RegressionMemory:
		return "memory"
	case RegressionAllocations:
		return "allocations"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r RegressionType) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Severity indicates how severe a regression is.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation.
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// -----------------------------------------------------------------------------
// Detection Result
// -----------------------------------------------------------------------------

// Regression describes one finding. Change is relative to the baseline,
// positive when the benchmark got slower or allocates more.
type Regression struct {
	Type          RegressionType `json:"type"`
	Severity      Severity       `json:"severity"`
	Benchmark     string         `json:"benchmark"`
	BaselineValue float64        `json:"baseline_value"`
	CurrentValue  float64        `json:"current_value"`
	Change        float64        `json:"change"`
	Threshold     float64        `json:"threshold"`
	Message       string         `json:"message"`
}

// DetectionResult holds the findings of one comparison.
type DetectionResult struct {
	Benchmark string
	Baseline  *BaselineData

	// Regressions block the gate; Warnings and Improvements do not.
	Regressions  []Regression
	Warnings     []Regression
	Improvements []Regression

	// Comparison is the Welch test of the mean, nil when it was skipped.
	Comparison *stats.Comparison

	Pass        bool
	MaxSeverity Severity
	AnalyzedAt  time.Time
}

// HasRegressions returns true if any regressions were detected.
func (r *DetectionResult) HasRegressions() bool {
	return len(r.Regressions) > 0
}

// HasWarnings returns true if any warnings were detected.
func (r *DetectionResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

func (r *DetectionResult) addRegression(reg Regression) {
	r.Regressions = append(r.Regressions, reg)
	r.Pass = false
	if reg.Severity > r.MaxSeverity {
		r.MaxSeverity = reg.Severity
	}
}

func (r *DetectionResult) addWarning(reg Regression) {
	reg.Severity = SeverityWarning
	r.Warnings = append(r.Warnings, reg)
	if r.MaxSeverity < SeverityWarning {
		r.MaxSeverity = SeverityWarning
	}
}

// -----------------------------------------------------------------------------
// Detector
// -----------------------------------------------------------------------------

// DetectorConfig configures regression detection. Thresholds are ratios,
// 0.10 allows a 10% increase.
type DetectorConfig struct {
	// MeanThreshold is the allowed increase of the mean time per operation.
	MeanThreshold float64

	// P95Threshold is the allowed increase of the 95th percentile.
	P95Threshold float64

	// MemoryThreshold is the allowed increase of bytes and allocations
	// per operation.
	MemoryThreshold float64

	// CriticalThreshold escalates a regression to SeverityCritical.
	CriticalThreshold float64

	// WarnThresholdRatio is the share of a threshold at which to warn.
	WarnThresholdRatio float64

	// ConfidenceLevel is the level of the Welch test on the mean.
	ConfidenceLevel stats.ConfidenceLevel

	// MinSamples is the number of samples per side needed for the test.
	// With fewer, the mean is judged by the threshold alone.
	MinSamples int
}

// DefaultDetectorConfig returns sensible defaults.
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		MeanThreshold:      0.10,
		P95Threshold:       0.15,
		MemoryThreshold:    0.10,
		CriticalThreshold:  1.00,
		WarnThresholdRatio: 0.80,
		ConfidenceLevel:    stats.L99,
		MinSamples:         10,
	}
}

// Detector compares runs against baselines.
//
// Thread Safety: Safe for concurrent use (stateless).
type Detector struct {
	config *DetectorConfig
}

// NewDetector creates a detector. A nil config uses the defaults.
func NewDetector(config *DetectorConfig) *Detector {
	if config == nil {
		config = DefaultDetectorConfig()
	}
	if !config.ConfidenceLevel.Valid() {
		config.ConfidenceLevel = stats.L99
	}
	if config.MinSamples < 2 {
		config.MinSamples = 2
	}
	return &Detector{config: config}
}

// DetectResult compares a complete run against a baseline.
func (d *Detector) DetectResult(baseline *BaselineData, result *engine.Result) (*DetectionResult, error) {
	current, err := FromResult(result)
	if err != nil {
		return nil, err
	}
	return d.Detect(baseline, current), nil
}

// Detect compares current against baseline.
//
// Description:
//
//	The mean is a regression when it rose by more than MeanThreshold and
//	a Welch test at ConfidenceLevel finds the difference significant.
//	A rise past the threshold that is not significant is a warning. A
//	drop past the threshold that is significant is an improvement. The
//	95th percentile and the memory profile are judged by threshold only.
//	Metrics whose baseline value is zero are skipped.
//
// Inputs:
//
//	baseline - The stored reference.
//	current  - Data of the new run, usually from FromResult.
//
// Outputs:
//
//	*DetectionResult - Findings. Never nil.
//
// Thread Safety: Safe for concurrent use.
func (d *Detector) Detect(baseline, current *BaselineData) *DetectionResult {
	result := &DetectionResult{
		Benchmark:  current.Benchmark,
		Baseline:   baseline,
		Pass:       true,
		AnalyzedAt: time.Now(),
	}

	d.checkMean(result, baseline, current)
	d.checkThreshold(result, RegressionP95, baseline.P95, current.P95, d.config.P95Threshold)

	if baseline.Memory != nil && current.Memory != nil {
		d.checkThreshold(result, RegressionMemory,
			baseline.Memory.BytesPerOp, current.Memory.BytesPerOp, d.config.MemoryThreshold)
		d.checkThreshold(result, RegressionAllocations,
			baseline.Memory.AllocsPerOp, current.Memory.AllocsPerOp, d.config.MemoryThreshold)
	}

	return result
}

// checkMean applies the threshold and the significance test to the mean.
func (d *Detector) checkMean(result *DetectionResult, baseline, current *BaselineData) {
	if baseline.Mean == 0 {
		return
	}
	threshold := d.config.MeanThreshold
	change := (current.Mean - baseline.Mean) / baseline.Mean
	reg := Regression{
		Type:          RegressionMean,
		Benchmark:     result.Benchmark,
		BaselineValue: baseline.Mean,
		CurrentValue:  current.Mean,
		Change:        change,
		Threshold:     threshold,
	}

	significant := true
	tested := false
	if len(baseline.Samples) >= d.config.MinSamples && len(current.Samples) >= d.config.MinSamples {
		cmp, err := stats.Compare(baseline.Samples, current.Samples, d.config.ConfidenceLevel)
		if err == nil {
			result.Comparison = cmp
			significant = cmp.Significant
			tested = true
		}
	}
	if !tested {
		result.addWarning(Regression{
			Type:      RegressionNone,
			Benchmark: result.Benchmark,
			Message: fmt.Sprintf("Insufficient samples for significance test: %d and %d < %d",
				len(baseline.Samples), len(current.Samples), d.config.MinSamples),
		})
	}

	switch {
	case change > threshold && significant:
		reg.Severity = d.severity(change)
		reg.Message = fmt.Sprintf("%s increased by %.1f%% (threshold: %.1f%%)",
			reg.Type, change*100, threshold*100)
		result.addRegression(reg)
	case change > threshold:
		reg.Message = fmt.Sprintf("%s increased by %.1f%% but is not statistically significant (p=%.4f, t=%.4f)",
			reg.Type, change*100, result.Comparison.PValue, result.Comparison.TStatistic)
		result.addWarning(reg)
	case change > threshold*d.config.WarnThresholdRatio:
		reg.Message = fmt.Sprintf("%s increased by %.1f%% (approaching threshold: %.1f%%)",
			reg.Type, change*100, threshold*100)
		result.addWarning(reg)
	case change < -threshold && significant:
		reg.Message = fmt.Sprintf("%s decreased by %.1f%%", reg.Type, -change*100)
		result.Improvements = append(result.Improvements, reg)
	}
}

// checkThreshold judges a metric by its relative change alone.
func (d *Detector) checkThreshold(result *DetectionResult, regType RegressionType,
	baseline, current, threshold float64) {

	if baseline == 0 {
		return
	}
	change := (current - baseline) / baseline
	reg := Regression{
		Type:          regType,
		Benchmark:     result.Benchmark,
		BaselineValue: baseline,
		CurrentValue:  current,
		Change:        change,
		Threshold:     threshold,
	}

	switch {
	case change > threshold:
		reg.Severity = d.severity(change)
		reg.Message = fmt.Sprintf("%s increased by %.1f%% (threshold: %.1f%%)",
			regType, change*100, threshold*100)
		result.addRegression(reg)
	case change > threshold*d.config.WarnThresholdRatio:
		reg.Message = fmt.Sprintf("%s increased by %.1f%% (approaching threshold: %.1f%%)",
			regType, change*100, threshold*100)
		result.addWarning(reg)
	case change < -threshold:
		reg.Message = fmt.Sprintf("%s decreased by %.1f%%", regType, -change*100)
		result.Improvements = append(result.Improvements, reg)
	}
}

func (d *Detector) severity(change float64) Severity {
	if d.config.CriticalThreshold > 0 && change > d.config.CriticalThreshold {
		return SeverityCritical
	}
	return SeverityError
}
