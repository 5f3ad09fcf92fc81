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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrGateFailed indicates the regression gate did not pass.
	ErrGateFailed = errors.New("regression gate failed")
)

// -----------------------------------------------------------------------------
// Gate Configuration
// -----------------------------------------------------------------------------

// GateConfig configures the regression gate.
type GateConfig struct {
	// DetectorConfig configures detection.
	DetectorConfig *DetectorConfig

	// UpdateBaselineOnPass stores the run as the new baseline when the
	// check passes, including the first run of a benchmark.
	// Default: false
	UpdateBaselineOnPass bool

	// RequireBaseline fails if no baseline exists.
	// Default: false (missing baseline = pass)
	RequireBaseline bool

	// AllowedRegressions is the maximum regressions before failing.
	// Default: 0 (any regression fails)
	AllowedRegressions int

	// FailOnWarnings fails the gate on warnings.
	// Default: false
	FailOnWarnings bool

	// Version is recorded on baselines the gate writes.
	Version string

	Logger *slog.Logger
}

// DefaultGateConfig returns sensible defaults.
func DefaultGateConfig() *GateConfig {
	return &GateConfig{
		DetectorConfig: DefaultDetectorConfig(),
		Logger:         slog.Default(),
	}
}

// GateOption configures the gate.
type GateOption func(*GateConfig)

// WithMeanThreshold sets the mean threshold.
func WithMeanThreshold(threshold float64) GateOption {
	return func(c *GateConfig) {
		if threshold > 0 {
			c.DetectorConfig.MeanThreshold = threshold
		}
	}
}

// WithMemoryThreshold sets the memory threshold.
func WithMemoryThreshold(threshold float64) GateOption {
	return func(c *GateConfig) {
		if threshold > 0 {
			c.DetectorConfig.MemoryThreshold = threshold
		}
	}
}

// WithUpdateBaseline enables baseline update on pass.
func WithUpdateBaseline(enabled bool) GateOption {
	return func(c *GateConfig) {
		c.UpdateBaselineOnPass = enabled
	}
}

// WithRequireBaseline requires baseline to exist.
func WithRequireBaseline(required bool) GateOption {
	return func(c *GateConfig) {
		c.RequireBaseline = required
	}
}

// WithAllowedRegressions sets allowed regression count.
func WithAllowedRegressions(count int) GateOption {
	return func(c *GateConfig) {
		if count >= 0 {
			c.AllowedRegressions = count
		}
	}
}

// WithFailOnWarnings enables failing on warnings.
func WithFailOnWarnings(fail bool) GateOption {
	return func(c *GateConfig) {
		c.FailOnWarnings = fail
	}
}

// WithBaselineVersion sets the version written to new baselines.
func WithBaselineVersion(version string) GateOption {
	return func(c *GateConfig) {
		c.Version = version
	}
}

// WithGateLogger sets the logger.
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(c *GateConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// -----------------------------------------------------------------------------
// Gate
// -----------------------------------------------------------------------------

// Gate checks benchmark runs against stored baselines.
//
// Description:
//
//	Gate loads the baseline of the benchmark, runs the detector and
//	decides whether the run passes. It is what `aleutianbench run
//	--compare` uses to fail a CI job.
//
// Thread Safety: Safe for concurrent use.
type Gate struct {
	baseline Baseline
	detector *Detector
	config   *GateConfig
	logger   *slog.Logger
}

// NewGate creates a gate over a baseline store.
//
// Inputs:
//   - baseline: Baseline store. Must not be nil.
//   - opts: Configuration options.
//
// Outputs:
//   - *Gate: The new gate. Never nil.
func NewGate(baseline Baseline, opts ...GateOption) *Gate {
	config := DefaultGateConfig()
	for _, opt := range opts {
		opt(config)
	}

	return &Gate{
		baseline: baseline,
		detector: NewDetector(config.DetectorConfig),
		config:   config,
		logger:   config.Logger,
	}
}

// GateDecision contains the gate check result.
type GateDecision struct {
	Pass         bool
	Benchmark    string
	Regressions  []Regression
	Warnings     []Regression
	Improvements []Regression

	// Detection is nil when no baseline was compared.
	Detection *DetectionResult

	BaselineUpdated bool
	Report          string
	Duration        time.Duration
	Timestamp       time.Time
}

// Check evaluates a run against its baseline.
//
// Inputs:
//   - ctx: Context for cancellation. Must not be nil.
//   - result: A complete run.
//
// Outputs:
//   - *GateDecision: The gate decision.
//   - error: Non-nil only if the check could not be performed.
//
// Thread Safety: Safe for concurrent use.
func (g *Gate) Check(ctx context.Context, result *engine.Result) (*GateDecision, error) {
	if ctx == nil {
		return nil, errors.New("context must not be nil")
	}
	current, err := FromResult(result)
	if err != nil {
		return nil, err
	}
	current.Version = g.config.Version
	name := current.Benchmark

	ctx, span := otel.Tracer("regression").Start(ctx, "regression.Gate.Check",
		trace.WithAttributes(
			attribute.String("benchmark", name),
		),
	)
	defer span.End()

	start := time.Now()
	decision := &GateDecision{
		Benchmark: name,
		Timestamp: start,
	}

	baselineData, err := g.baseline.Get(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrBaselineNotFound) {
			span.RecordError(err)
			return nil, fmt.Errorf("load baseline %s: %w", name, err)
		}
		if g.config.RequireBaseline {
			decision.Pass = false
			decision.Report = "Baseline not found and RequireBaseline is enabled"
			decision.Duration = time.Since(start)
			span.SetStatus(codes.Error, "baseline missing")
			return decision, nil
		}

		if g.config.UpdateBaselineOnPass {
			decision.BaselineUpdated = g.store(ctx, current)
		}
		decision.Pass = true
		decision.Report = "No baseline found - first run"
		decision.Duration = time.Since(start)
		return decision, nil
	}

	detection := g.detector.Detect(baselineData, current)
	decision.Detection = detection
	decision.Regressions = detection.Regressions
	decision.Warnings = detection.Warnings
	decision.Improvements = detection.Improvements

	switch {
	case len(detection.Regressions) > g.config.AllowedRegressions:
		decision.Pass = false
	case g.config.FailOnWarnings && len(detection.Warnings) > 0:
		decision.Pass = false
	default:
		decision.Pass = true
		if g.config.UpdateBaselineOnPass {
			if current.Version == "" {
				current.Version = baselineData.Version
			}
			decision.BaselineUpdated = g.store(ctx, current)
		}
	}

	decision.Report = g.generateReport(decision, baselineData, current)
	decision.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Bool("pass", decision.Pass),
		attribute.Int("regressions", len(decision.Regressions)),
		attribute.Int("warnings", len(decision.Warnings)),
		attribute.Int("improvements", len(decision.Improvements)),
		attribute.Bool("baseline_updated", decision.BaselineUpdated),
	)
	if !decision.Pass {
		span.SetStatus(codes.Error, "regression detected")
	}

	g.logger.Info("regression gate check completed",
		slog.String("benchmark", name),
		slog.Bool("pass", decision.Pass),
		slog.Int("regressions", len(decision.Regressions)),
		slog.Int("warnings", len(decision.Warnings)),
	)

	return decision, nil
}

// CheckAll checks several runs and returns the decisions by benchmark.
// Failed runs are skipped.
func (g *Gate) CheckAll(ctx context.Context, results []*engine.Result) (map[string]*GateDecision, error) {
	decisions := make(map[string]*GateDecision)

	for _, r := range results {
		if err := ctx.Err(); err != nil {
			return decisions, err
		}
		if r == nil || r.State != engine.StateComplete {
			continue
		}

		decision, err := g.Check(ctx, r)
		if err != nil {
			return decisions, err
		}
		decisions[r.Benchmark] = decision
	}

	return decisions, nil
}

// Passed returns ErrGateFailed naming every failing benchmark, or nil.
func Passed(decisions map[string]*GateDecision) error {
	var failed []string
	for name, d := range decisions {
		if !d.Pass {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	sort.Strings(failed)
	return fmt.Errorf("%w: %s", ErrGateFailed, strings.Join(failed, ", "))
}

// store writes data as the new baseline. Failures are logged, not returned.
func (g *Gate) store(ctx context.Context, data *BaselineData) bool {
	if err := g.baseline.Set(ctx, data.Benchmark, data); err != nil {
		g.logger.Warn("failed to update baseline",
			slog.String("benchmark", data.Benchmark),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// generateReport creates a markdown report.
func (g *Gate) generateReport(decision *GateDecision, baseline, current *BaselineData) string {
	var sb strings.Builder

	sb.WriteString("# Regression Gate Report\n\n")

	if decision.Pass {
		sb.WriteString("**Status: PASS**\n\n")
	} else {
		sb.WriteString("**Status: FAIL**\n\n")
	}

	sb.WriteString(fmt.Sprintf("Benchmark: %s\n", decision.Benchmark))
	sb.WriteString(fmt.Sprintf("Timestamp: %s\n\n", decision.Timestamp.Format(time.RFC3339)))

	sb.WriteString("## Metrics Comparison\n\n")
	sb.WriteString("| Metric | Baseline | Current | Change |\n")
	sb.WriteString("|--------|----------|---------|--------|\n")

	sb.WriteString(fmt.Sprintf("| Mean | %.2f ns/op | %.2f ns/op | %+.1f%% |\n",
		baseline.Mean, current.Mean, percentChange(baseline.Mean, current.Mean)))
	sb.WriteString(fmt.Sprintf("| Median | %.2f ns/op | %.2f ns/op | %+.1f%% |\n",
		baseline.Median, current.Median, percentChange(baseline.Median, current.Median)))
	sb.WriteString(fmt.Sprintf("| P95 | %.2f ns/op | %.2f ns/op | %+.1f%% |\n",
		baseline.P95, current.P95, percentChange(baseline.P95, current.P95)))
	if baseline.Memory != nil && current.Memory != nil {
		sb.WriteString(fmt.Sprintf("| Memory | %.0f B/op | %.0f B/op | %+.1f%% |\n",
			baseline.Memory.BytesPerOp, current.Memory.BytesPerOp,
			percentChange(baseline.Memory.BytesPerOp, current.Memory.BytesPerOp)))
		sb.WriteString(fmt.Sprintf("| Allocations | %.1f allocs/op | %.1f allocs/op | %+.1f%% |\n",
			baseline.Memory.AllocsPerOp, current.Memory.AllocsPerOp,
			percentChange(baseline.Memory.AllocsPerOp, current.Memory.AllocsPerOp)))
	}

	if d := decision.Detection; d != nil && d.Comparison != nil {
		sb.WriteString(fmt.Sprintf("\nWelch t-test at %s: t=%.4f, p=%.4f, effect size %s\n",
			d.Comparison.Level, d.Comparison.TStatistic, d.Comparison.PValue, d.Comparison.EffectSizeCategory))
	}

	if len(decision.Regressions) > 0 {
		sb.WriteString("\n## Regressions\n\n")
		for _, r := range decision.Regressions {
			sb.WriteString(fmt.Sprintf("- **%s** [%s]: %s\n", r.Type, r.Severity, r.Message))
		}
	}

	if len(decision.Warnings) > 0 {
		sb.WriteString("\n## Warnings\n\n")
		for _, w := range decision.Warnings {
			sb.WriteString(fmt.Sprintf("- **%s**: %s\n", w.Type, w.Message))
		}
	}

	if len(decision.Improvements) > 0 {
		sb.WriteString("\n## Improvements\n\n")
		for _, i := range decision.Improvements {
			sb.WriteString(fmt.Sprintf("- **%s**: %s\n", i.Type, i.Message))
		}
	}

	if decision.BaselineUpdated {
		sb.WriteString("\n*Baseline updated with current metrics.*\n")
	}

	return sb.String()
}

func percentChange(baseline, current float64) float64 {
	if baseline == 0 {
		return 0
	}
	return ((current - baseline) / baseline) * 100
}
