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
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/measure"
)

// WarningKind names a soft condition attached to a complete result.
type WarningKind string

const (
	WarningNonConvergence     WarningKind = "NonConvergence"
	WarningOutliers           WarningKind = "Outliers"
	WarningHighRelativeStdDev WarningKind = "HighRelativeStdDev"
	WarningShortIteration     WarningKind = "ShortIteration"
	WarningPilotCapReached    WarningKind = "PilotCapReached"
	WarningZeroMeasurement    WarningKind = "ZeroMeasurement"
)

// Warning is an advisory annotation. It never changes the result state.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// String returns "Kind: Message".
func (w Warning) String() string {
	return string(w.Kind) + ": " + w.Message
}

func newWarning(kind WarningKind, format string, args ...any) Warning {
	return Warning{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// analyze derives the result-level warnings.
func analyze(r *Result) []Warning {
	var out []Warning
	s := r.Statistics

	if detected := len(r.RawStatistics.Outliers); detected > 0 {
		removed := len(r.RemovedOutliers)
		if removed > 0 {
			out = append(out, newWarning(WarningOutliers,
				"%d outliers were removed (%s), %d outliers were detected",
				removed, formatValues(r.RemovedOutliers), detected))
		} else {
			out = append(out, newWarning(WarningOutliers, "%d outliers were detected", detected))
		}
	}

	if s.Mean > 0 {
		if ratio := s.StandardDeviation / s.Mean; ratio > r.Job.HighStdDevThreshold {
			out = append(out, newWarning(WarningHighRelativeStdDev,
				"StdDev is %.0f%% of Mean", ratio*100))
		}
	}

	if r.Job.MinIterationTime > 0 {
		workload := r.WorkloadMeasurements()
		if len(workload) > 0 {
			shortest := workload[0].Nanoseconds()
			for _, m := range workload[1:] {
				shortest = min(shortest, m.Nanoseconds())
			}
			if shortest < float64(r.Job.MinIterationTime) {
				out = append(out, newWarning(WarningShortIteration,
					"The minimum observed iteration time is %s which is below %s; increase the invocation count",
					time.Duration(shortest), r.Job.MinIterationTime))
			}
		}
	}

	if r.Job.EvaluateOverhead && s.Median == 0 {
		out = append(out, newWarning(WarningZeroMeasurement,
			"The method duration is indistinguishable from the empty method duration"))
	}

	return out
}

func formatValues(values []float64) string {
	const maxShown = 5
	parts := make([]string, 0, min(len(values), maxShown)+1)
	for i, v := range values {
		if i == maxShown {
			parts = append(parts, "...")
			break
		}
		parts = append(parts, fmt.Sprintf("%.2f ns", v))
	}
	return strings.Join(parts, ", ")
}

func nonConvergence(stage measure.Stage, mode measure.Mode, d Decision) Warning {
	return newWarning(WarningNonConvergence, "%s %s stage did not converge: %s", mode, stage, d.Reason)
}
