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
	"fmt"

	"github.com/AleutianAI/AleutianBench/services/bench/measure"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// Decision is the verdict of a StoppingCriterion.
type Decision struct {
	// Stop ends the stage.
	Stop bool

	// Converged is false when the stage stopped only because it hit its
	// iteration cap.
	Converged bool

	// Reason describes the verdict for logs.
	Reason string
}

func keepGoing(reason string) Decision { return Decision{Reason: reason} }

func converged(reason string) Decision {
	return Decision{Stop: true, Converged: true, Reason: reason}
}

func capped(n int) Decision {
	return Decision{Stop: true, Reason: fmt.Sprintf("reached the maximum of %d iterations", n)}
}

// StoppingCriterion decides when a stage has collected enough iterations.
//
// Evaluate is called with the measurements of the current stage before
// each iteration, starting with an empty slice.
type StoppingCriterion interface {
	Evaluate(ms []measure.Measurement) Decision
	MaxIterations() int
}

// FixedCount stops after exactly n iterations.
type FixedCount int

// Evaluate implements StoppingCriterion.
func (n FixedCount) Evaluate(ms []measure.Measurement) Decision {
	if len(ms) >= int(n) {
		return converged(fmt.Sprintf("%d iterations completed", n))
	}
	return keepGoing("")
}

// MaxIterations implements StoppingCriterion.
func (n FixedCount) MaxIterations() int { return int(n) }

// -----------------------------------------------------------------------------
// Warmup
// -----------------------------------------------------------------------------

// RelativeErrorWarmup stops once the relative standard error of the last
// Window per-operation times is below MaxRelativeError.
//
// This is a heuristic: a flat window means the iteration times stopped
// drifting, not that the code path reached a true steady state.
type RelativeErrorWarmup struct {
	MinCount         int
	MaxCount         int
	Window           int
	MaxRelativeError float64
}

// Evaluate implements StoppingCriterion.
func (c RelativeErrorWarmup) Evaluate(ms []measure.Measurement) Decision {
	n := len(ms)
	if n >= c.MaxCount {
		if d := c.check(ms); d.Stop {
			return d
		}
		return capped(c.MaxCount)
	}
	if n < c.MinCount {
		return keepGoing("below minimum iteration count")
	}
	return c.check(ms)
}

func (c RelativeErrorWarmup) check(ms []measure.Measurement) Decision {
	window := c.Window
	if window < 2 {
		window = 2
	}
	if len(ms) < window {
		window = len(ms)
	}
	if window < 2 {
		return keepGoing("not enough iterations")
	}
	s, err := stats.Summarize(measure.PerOperation(ms[len(ms)-window:]))
	if err != nil {
		return keepGoing(err.Error())
	}
	rse := 0.0
	if s.Mean != 0 {
		rse = s.StandardError / s.Mean
	}
	if rse < c.MaxRelativeError {
		return converged(fmt.Sprintf("relative standard error %.4f below %.4f", rse, c.MaxRelativeError))
	}
	return keepGoing(fmt.Sprintf("relative standard error %.4f", rse))
}

// MaxIterations implements StoppingCriterion.
func (c RelativeErrorWarmup) MaxIterations() int { return c.MaxCount }

// FluctuationWarmup stops once consecutive iteration times have changed
// direction MinFluctuations times. An unchanged time counts as a change.
type FluctuationWarmup struct {
	MinCount        int
	MaxCount        int
	MinFluctuations int
}

// Evaluate implements StoppingCriterion.
func (c FluctuationWarmup) Evaluate(ms []measure.Measurement) Decision {
	n := len(ms)
	if n >= c.MaxCount {
		return capped(c.MaxCount)
	}
	if n < c.MinCount {
		return keepGoing("below minimum iteration count")
	}

	direction := -1
	fluctuations := 0
	for i := 1; i < n; i++ {
		current := sign(ms[i].NanosecondsPerOperation() - ms[i-1].NanosecondsPerOperation())
		if current != direction || current == 0 {
			direction = current
			fluctuations++
		}
	}
	if fluctuations >= c.MinFluctuations {
		return converged(fmt.Sprintf("%d fluctuations observed", fluctuations))
	}
	return keepGoing(fmt.Sprintf("%d fluctuations observed", fluctuations))
}

// MaxIterations implements StoppingCriterion.
func (c FluctuationWarmup) MaxIterations() int { return c.MaxCount }

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// -----------------------------------------------------------------------------
// Workload
// -----------------------------------------------------------------------------

// AutoWorkload stops once the 99.9% Student-t margin of the
// outlier-filtered per-operation times is within MaxRelativeError of the
// mean. OverheadPerOperation is subtracted first, so the stop rule judges
// the same samples the result reports.
type AutoWorkload struct {
	MinCount             int
	MaxCount             int
	MaxRelativeError     float64
	Policy               stats.OutlierPolicy
	OverheadPerOperation float64
}

// Evaluate implements StoppingCriterion.
func (c AutoWorkload) Evaluate(ms []measure.Measurement) Decision {
	n := len(ms)
	if n >= c.MaxCount {
		return capped(c.MaxCount)
	}
	if n < c.MinCount {
		return keepGoing("below minimum iteration count")
	}

	kept, _, err := c.Policy.Apply(measure.PerOperation(subtractOverhead(ms, c.OverheadPerOperation)))
	if err != nil {
		return keepGoing(err.Error())
	}
	s, err := stats.Summarize(kept)
	if err != nil {
		return keepGoing(err.Error())
	}
	margin := s.StudentConfidenceInterval(stats.L999).RelativeMargin()
	if margin <= c.MaxRelativeError {
		return converged(fmt.Sprintf("relative margin %.4f within %.4f", margin, c.MaxRelativeError))
	}
	return keepGoing(fmt.Sprintf("relative margin %.4f above %.4f", margin, c.MaxRelativeError))
}

// MaxIterations implements StoppingCriterion.
func (c AutoWorkload) MaxIterations() int { return c.MaxCount }

// -----------------------------------------------------------------------------
// Selection
// -----------------------------------------------------------------------------

func warmupCriterion(job Job) StoppingCriterion {
	if !job.WarmupCount.IsAuto() {
		return FixedCount(job.WarmupCount)
	}
	if job.WarmupStrategy == WarmupFluctuation {
		return FluctuationWarmup{
			MinCount:        job.MinWarmupIterationCount,
			MaxCount:        job.MaxWarmupIterationCount,
			MinFluctuations: job.MinFluctuationCount,
		}
	}
	return RelativeErrorWarmup{
		MinCount:         job.MinWarmupIterationCount,
		MaxCount:         job.MaxWarmupIterationCount,
		Window:           job.WarmupWindow,
		MaxRelativeError: job.MaxRelativeError,
	}
}

// workloadCriterion selects the workload rule. overheadPerOp is the
// launch's measured overhead, 0 for the overhead stage itself.
func workloadCriterion(job Job, overheadPerOp float64) StoppingCriterion {
	if !job.IterationCount.IsAuto() {
		return FixedCount(job.IterationCount)
	}
	return AutoWorkload{
		MinCount:             job.MinIterationCount,
		MaxCount:             job.MaxIterationCount,
		MaxRelativeError:     job.MaxRelativeError,
		Policy:               job.OutlierPolicy(),
		OverheadPerOperation: overheadPerOp,
	}
}
