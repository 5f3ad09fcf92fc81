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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// -----------------------------------------------------------------------------
// Count
// -----------------------------------------------------------------------------

// Count is an iteration or invocation count that may be left to the engine.
type Count int64

// Auto lets the engine choose the count adaptively.
const Auto Count = -1

// Fixed returns a fixed count of n.
func Fixed(n int64) Count { return Count(n) }

// IsAuto reports whether the engine chooses the count.
func (c Count) IsAuto() bool { return c < 0 }

// String returns "auto" or the decimal count.
func (c Count) String() string {
	if c.IsAuto() {
		return "auto"
	}
	return strconv.FormatInt(int64(c), 10)
}

// ParseCount parses "auto" or a non-negative integer.
func ParseCount(s string) (Count, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "auto") || s == "" {
		return Auto, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("count must be \"auto\" or a non-negative integer, got %q", s)
	}
	return Count(n), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Count) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseCount(value.Value)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (c Count) MarshalYAML() (any, error) {
	if c.IsAuto() {
		return "auto", nil
	}
	return int64(c), nil
}

// -----------------------------------------------------------------------------
// Warmup strategy
// -----------------------------------------------------------------------------

// WarmupStrategy selects the convergence test of an auto warmup.
type WarmupStrategy string

const (
	// WarmupRelativeError stops once the relative standard error of the most
	// recent WarmupWindow iterations drops below MaxRelativeError.
	WarmupRelativeError WarmupStrategy = "relative-error"

	// WarmupFluctuation stops once the direction of consecutive iteration
	// times has changed MinFluctuationCount times.
	WarmupFluctuation WarmupStrategy = "fluctuation"
)

// -----------------------------------------------------------------------------
// Job
// -----------------------------------------------------------------------------

// Job configures how a benchmark is run.
type Job struct {
	// WarmupCount is the number of warmup iterations, or Auto.
	WarmupCount Count `yaml:"warmup_count" json:"warmup_count" validate:"count"`

	// IterationCount is the number of workload iterations, or Auto.
	IterationCount Count `yaml:"iteration_count" json:"iteration_count" validate:"count"`

	// InvocationCount is the number of invocations per iteration, or Auto
	// to let the pilot stage choose it.
	InvocationCount Count `yaml:"invocation_count" json:"invocation_count" validate:"count"`

	// UnrollFactor is the number of invocations per inner loop pass. The
	// invocation count is always a multiple of it.
	UnrollFactor int `yaml:"unroll_factor" json:"unroll_factor" validate:"gte=1,lte=1024"`

	// MinInvokeCount is the pilot's starting invocation count.
	MinInvokeCount int64 `yaml:"min_invoke_count" json:"min_invoke_count" validate:"gte=1"`

	// MaxInvokeCount caps the pilot's invocation count.
	MaxInvokeCount int64 `yaml:"max_invoke_count" json:"max_invoke_count" validate:"gtefield=MinInvokeCount"`

	WarmupStrategy          WarmupStrategy `yaml:"warmup_strategy" json:"warmup_strategy" validate:"oneof=relative-error fluctuation"`
	MinWarmupIterationCount int            `yaml:"min_warmup_iteration_count" json:"min_warmup_iteration_count" validate:"gte=2"`
	MaxWarmupIterationCount int            `yaml:"max_warmup_iteration_count" json:"max_warmup_iteration_count" validate:"gtefield=MinWarmupIterationCount"`
	WarmupWindow            int            `yaml:"warmup_window" json:"warmup_window" validate:"gte=2"`
	MinFluctuationCount     int            `yaml:"min_fluctuation_count" json:"min_fluctuation_count" validate:"gte=1"`

	MinIterationCount int `yaml:"min_iteration_count" json:"min_iteration_count" validate:"gte=2"`
	MaxIterationCount int `yaml:"max_iteration_count" json:"max_iteration_count" validate:"gtefield=MinIterationCount"`

	// MaxRelativeError is the convergence threshold shared by the pilot,
	// the warmup and the auto workload.
	MaxRelativeError float64 `yaml:"max_relative_error" json:"max_relative_error" validate:"gt=0,lt=1"`

	// MinIterationTime is the shortest acceptable iteration when the pilot
	// chooses the invocation count.
	MinIterationTime time.Duration `yaml:"min_iteration_time" json:"min_iteration_time" validate:"gte=0"`

	// IterationTime, when positive, makes the pilot aim for iterations of
	// exactly this duration instead of using MinIterationTime.
	IterationTime time.Duration `yaml:"iteration_time" json:"iteration_time" validate:"gte=0"`

	LaunchCount int `yaml:"launch_count" json:"launch_count" validate:"gte=1,lte=100"`

	OutlierMode        stats.OutlierMode     `yaml:"outlier_mode" json:"outlier_mode"`
	MaxOutlierFraction float64               `yaml:"max_outlier_fraction" json:"max_outlier_fraction" validate:"gt=0,lte=1"`
	ConfidenceLevel    stats.ConfidenceLevel `yaml:"confidence_level" json:"confidence_level"`

	// HighStdDevThreshold is the StdDev/Mean ratio above which a
	// HighRelativeStdDev warning is attached.
	HighStdDevThreshold float64 `yaml:"high_stddev_threshold" json:"high_stddev_threshold" validate:"gt=0"`

	EvaluateOverhead bool `yaml:"evaluate_overhead" json:"evaluate_overhead"`
	CollectMemory    bool `yaml:"collect_memory" json:"collect_memory"`
	ForceGC          bool `yaml:"force_gc" json:"force_gc"`
}

// Default job values.
const (
	DefaultIterationCount          = 10
	DefaultMinWarmupIterationCount = 6
	DefaultMaxWarmupIterationCount = 50
	DefaultWarmupWindow            = 5
	DefaultMinFluctuationCount     = 4
	DefaultMinIterationCount       = 15
	DefaultMaxIterationCount       = 100
	DefaultMaxRelativeError        = 0.05
	DefaultMinIterationTime        = 100 * time.Millisecond
	DefaultMaxInvokeCount          = int64(1) << 40
	DefaultHighStdDevThreshold     = 0.2
)

// DefaultJob returns a job with auto warmup, auto invocation count and a
// fixed workload of DefaultIterationCount iterations.
func DefaultJob() Job {
	return Job{
		WarmupCount:             Auto,
		IterationCount:          DefaultIterationCount,
		InvocationCount:         Auto,
		UnrollFactor:            1,
		MinInvokeCount:          1,
		MaxInvokeCount:          DefaultMaxInvokeCount,
		WarmupStrategy:          WarmupRelativeError,
		MinWarmupIterationCount: DefaultMinWarmupIterationCount,
		MaxWarmupIterationCount: DefaultMaxWarmupIterationCount,
		WarmupWindow:            DefaultWarmupWindow,
		MinFluctuationCount:     DefaultMinFluctuationCount,
		MinIterationCount:       DefaultMinIterationCount,
		MaxIterationCount:       DefaultMaxIterationCount,
		MaxRelativeError:        DefaultMaxRelativeError,
		MinIterationTime:        DefaultMinIterationTime,
		LaunchCount:             1,
		OutlierMode:             stats.RemoveUpper,
		MaxOutlierFraction:      stats.DefaultMaxRemovedFraction,
		ConfidenceLevel:         stats.L999,
		HighStdDevThreshold:     DefaultHighStdDevThreshold,
		ForceGC:                 true,
	}
}

// NewJob returns DefaultJob with opts applied in order.
func NewJob(opts ...JobOption) Job {
	j := DefaultJob()
	for _, opt := range opts {
		opt(&j)
	}
	return j
}

// With returns a copy of j with opts applied.
func (j Job) With(opts ...JobOption) Job {
	for _, opt := range opts {
		opt(&j)
	}
	return j
}

// OutlierPolicy returns the reporting outlier policy of j.
func (j Job) OutlierPolicy() stats.OutlierPolicy {
	return stats.OutlierPolicy{Mode: j.OutlierMode, MaxRemovedFraction: j.MaxOutlierFraction}
}

var jobValidate *validator.Validate

func init() {
	jobValidate = validator.New()
	_ = jobValidate.RegisterValidation("count", validateCount)
}

// validateCount accepts Auto or any non-negative count.
func validateCount(fl validator.FieldLevel) bool {
	return fl.Field().Int() >= int64(Auto)
}

// Validate checks j for values the engine cannot run.
//
// Description:
//
//	Applies the struct tag rules, then the cross-field rules that tags
//	cannot express: a fixed workload needs at least one iteration, a
//	fixed invocation count must be a positive multiple of UnrollFactor,
//	and the outlier mode and confidence level must be known.
//
// Outputs:
//
//	error - Wraps ErrInvalidJob with the offending fields, nil if valid.
func (j Job) Validate() error {
	if err := jobValidate.Struct(j); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidJob, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	if !j.IterationCount.IsAuto() && j.IterationCount < 1 {
		return fmt.Errorf("%w: iteration count must be at least 1", ErrInvalidJob)
	}
	if !j.InvocationCount.IsAuto() {
		if j.InvocationCount < 1 {
			return fmt.Errorf("%w: invocation count must be at least 1", ErrInvalidJob)
		}
		if int64(j.InvocationCount)%int64(j.UnrollFactor) != 0 {
			return fmt.Errorf("%w: invocation count %d is not a multiple of unroll factor %d",
				ErrInvalidJob, j.InvocationCount, j.UnrollFactor)
		}
	}
	if j.OutlierMode.String() == "unknown" {
		return fmt.Errorf("%w: unknown outlier mode %d", ErrInvalidJob, int(j.OutlierMode))
	}
	if !j.ConfidenceLevel.Valid() {
		return fmt.Errorf("%w: unsupported confidence level", ErrInvalidJob)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Job Options
// -----------------------------------------------------------------------------

// JobOption configures a Job.
//
// Description:
//
//	JobOption functions are applied in order, so later options override
//	earlier ones. Out-of-range values are ignored.
type JobOption func(*Job)

// WithWarmupCount sets a fixed warmup count. Negative values are ignored;
// use WithAutoWarmup for adaptive warmup.
func WithWarmupCount(n int) JobOption {
	return func(j *Job) {
		if n >= 0 {
			j.WarmupCount = Count(n)
		}
	}
}

// WithAutoWarmup lets the warmup run until it converges.
func WithAutoWarmup() JobOption {
	return func(j *Job) { j.WarmupCount = Auto }
}

// WithIterationCount sets a fixed workload iteration count.
func WithIterationCount(n int) JobOption {
	return func(j *Job) {
		if n > 0 {
			j.IterationCount = Count(n)
		}
	}
}

// WithAutoIterations lets the workload run until its confidence interval
// is narrow enough.
func WithAutoIterations() JobOption {
	return func(j *Job) { j.IterationCount = Auto }
}

// WithInvocationCount fixes the invocations per iteration, which skips the
// pilot stage.
func WithInvocationCount(n int64) JobOption {
	return func(j *Job) {
		if n > 0 {
			j.InvocationCount = Count(n)
		}
	}
}

// WithUnrollFactor sets the inner loop unroll factor.
func WithUnrollFactor(n int) JobOption {
	return func(j *Job) {
		if n > 0 {
			j.UnrollFactor = n
		}
	}
}

// WithWarmupStrategy selects the auto warmup convergence test.
func WithWarmupStrategy(s WarmupStrategy) JobOption {
	return func(j *Job) {
		if s == WarmupRelativeError || s == WarmupFluctuation {
			j.WarmupStrategy = s
		}
	}
}

// WithWarmupBounds sets the auto warmup iteration bounds.
func WithWarmupBounds(minCount, maxCount int) JobOption {
	return func(j *Job) {
		if minCount >= 2 && maxCount >= minCount {
			j.MinWarmupIterationCount = minCount
			j.MaxWarmupIterationCount = maxCount
		}
	}
}

// WithIterationBounds sets the auto workload iteration bounds.
func WithIterationBounds(minCount, maxCount int) JobOption {
	return func(j *Job) {
		if minCount >= 2 && maxCount >= minCount {
			j.MinIterationCount = minCount
			j.MaxIterationCount = maxCount
		}
	}
}

// WithMaxRelativeError sets the convergence threshold.
func WithMaxRelativeError(v float64) JobOption {
	return func(j *Job) {
		if v > 0 && v < 1 {
			j.MaxRelativeError = v
		}
	}
}

// WithMinIterationTime sets the shortest acceptable pilot iteration.
func WithMinIterationTime(d time.Duration) JobOption {
	return func(j *Job) {
		if d >= 0 {
			j.MinIterationTime = d
		}
	}
}

// WithIterationTime makes the pilot target iterations of duration d.
func WithIterationTime(d time.Duration) JobOption {
	return func(j *Job) {
		if d > 0 {
			j.IterationTime = d
		}
	}
}

// WithLaunchCount sets how many launches are pooled.
func WithLaunchCount(n int) JobOption {
	return func(j *Job) {
		if n > 0 {
			j.LaunchCount = n
		}
	}
}

// WithOutlierMode sets which outliers are excluded from statistics.
func WithOutlierMode(m stats.OutlierMode) JobOption {
	return func(j *Job) { j.OutlierMode = m }
}

// WithConfidenceLevel sets the level of the reported interval.
func WithConfidenceLevel(l stats.ConfidenceLevel) JobOption {
	return func(j *Job) {
		if l.Valid() {
			j.ConfidenceLevel = l
		}
	}
}

// WithOverhead enables timing of an empty body that is subtracted from
// the workload.
func WithOverhead(enabled bool) JobOption {
	return func(j *Job) { j.EvaluateOverhead = enabled }
}

// WithMemory enables the allocation diagnoser iteration.
func WithMemory(enabled bool) JobOption {
	return func(j *Job) { j.CollectMemory = enabled }
}

// WithForceGC toggles the collection run between iterations.
func WithForceGC(enabled bool) JobOption {
	return func(j *Job) { j.ForceGC = enabled }
}
