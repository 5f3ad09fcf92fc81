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
	"strings"

	"github.com/AleutianAI/AleutianBench/services/bench/measure"
)

var (
	// ErrSetupFailure indicates a GlobalSetup or IterationSetup callback failed.
	ErrSetupFailure = errors.New("setup failed")

	// ErrInvocationFailure indicates the benchmarked operation failed or panicked.
	ErrInvocationFailure = errors.New("invocation failed")

	// ErrCleanupFailure indicates a GlobalCleanup or IterationCleanup callback failed.
	ErrCleanupFailure = errors.New("cleanup failed")

	// ErrInvalidJob indicates a job configuration that cannot be run.
	ErrInvalidJob = errors.New("invalid job")

	// ErrInvalidDescriptor indicates a descriptor without an operation.
	ErrInvalidDescriptor = errors.New("invalid descriptor")
)

// Phase identifies the callback or step that failed.
type Phase int

const (
	PhaseValidation Phase = iota
	PhaseGlobalSetup
	PhaseIterationSetup
	PhaseInvoke
	PhaseIterationCleanup
	PhaseGlobalCleanup
	PhaseSummarize
	PhaseCancelled
	PhaseLaunch
)

var phaseNames = []string{
	PhaseValidation:       "Validation",
	PhaseGlobalSetup:      "GlobalSetup",
	PhaseIterationSetup:   "IterationSetup",
	PhaseInvoke:           "Invoke",
	PhaseIterationCleanup: "IterationCleanup",
	PhaseGlobalCleanup:    "GlobalCleanup",
	PhaseSummarize:        "Summarize",
	PhaseCancelled:        "Cancelled",
	PhaseLaunch:           "Launch",
}

// String returns the phase name.
func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "Unknown"
}

// ParsePhase is the inverse of Phase.String.
func ParsePhase(s string) (Phase, bool) {
	for i, name := range phaseNames {
		if strings.EqualFold(name, s) {
			return Phase(i), true
		}
	}
	return 0, false
}

// category maps a phase to its taxonomy sentinel. Phases without a
// category return nil.
func (p Phase) category() error {
	switch p {
	case PhaseGlobalSetup, PhaseIterationSetup:
		return ErrSetupFailure
	case PhaseInvoke:
		return ErrInvocationFailure
	case PhaseIterationCleanup, PhaseGlobalCleanup:
		return ErrCleanupFailure
	default:
		return nil
	}
}

// Failure describes why a run ended in StateFailed.
//
// errors.Is matches both the taxonomy sentinel of the phase (for example
// ErrSetupFailure) and the original error returned by user code.
type Failure struct {
	Benchmark string
	Stage     measure.Stage
	Phase     Phase
	Err       error
}

func newFailure(benchmark string, stage measure.Stage, phase Phase, err error) *Failure {
	return &Failure{Benchmark: benchmark, Stage: stage, Phase: phase, Err: err}
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Stage == measure.StageUnknown {
		return fmt.Sprintf("benchmark %s: %s failed: %v", f.Benchmark, f.Phase, f.Err)
	}
	return fmt.Sprintf("benchmark %s: %s failed in %s stage: %v", f.Benchmark, f.Phase, f.Stage, f.Err)
}

// Unwrap exposes the phase category and the original error.
func (f *Failure) Unwrap() []error {
	if cat := f.Phase.category(); cat != nil && !errors.Is(f.Err, cat) {
		return []error{cat, f.Err}
	}
	return []error{f.Err}
}

// Message returns the original error text without the benchmark prefix.
func (f *Failure) Message() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}
