// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package measure defines the Measurement record produced for every timed
// iteration, together with its text line encoding.
//
// A Measurement is immutable. It is created by the engine after each timed
// iteration and then only read.
//
// # Line Format
//
// Measurements travel between a child benchmark process and its host as
// text lines:
//
//	WorkloadWorkload   3: 16 op, 1600.00 ns, 100.0000 ns/op
//
// The first token is the mode name immediately followed by the stage name.
package measure

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrInvalidOperations indicates an operation count below 1.
	ErrInvalidOperations = errors.New("operations must be at least 1")

	// ErrInvalidNanoseconds indicates a negative or NaN elapsed time.
	ErrInvalidNanoseconds = errors.New("nanoseconds must be a non-negative number")

	// ErrInvalidIndex indicates a launch or iteration index below 1.
	ErrInvalidIndex = errors.New("launch and iteration indices must be at least 1")

	// ErrMalformedLine indicates a line that is not a measurement.
	ErrMalformedLine = errors.New("malformed measurement line")
)

// -----------------------------------------------------------------------------
// Stage and Mode
// -----------------------------------------------------------------------------

// Stage is the engine stage an iteration belongs to.
type Stage int

const (
	StageUnknown Stage = iota
	StagePilot
	StageWarmup
	StageWorkload
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StagePilot:
		return "Pilot"
	case StageWarmup:
		return "Warmup"
	case StageWorkload:
		return "Workload"
	default:
		return "Unknown"
	}
}

// ParseStage is the inverse of Stage.String. Unrecognized names yield
// StageUnknown and false.
func ParseStage(s string) (Stage, bool) {
	for _, stage := range stages {
		if strings.EqualFold(stage.String(), s) {
			return stage, true
		}
	}
	return StageUnknown, s == StageUnknown.String()
}

// Mode distinguishes timing of the empty overhead body from timing of the
// real workload.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeOverhead
	ModeWorkload
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeOverhead:
		return "Overhead"
	case ModeWorkload:
		return "Workload"
	default:
		return "Unknown"
	}
}

var (
	stages = []Stage{StagePilot, StageWarmup, StageWorkload}
	modes  = []Mode{ModeOverhead, ModeWorkload}
)

// -----------------------------------------------------------------------------
// Measurement
// -----------------------------------------------------------------------------

// Measurement is one observed timing sample of Operations invocations.
type Measurement struct {
	stage          Stage
	mode           Mode
	launchIndex    int
	iterationIndex int
	operations     int64
	nanoseconds    float64
}

// New validates its arguments and returns a Measurement.
//
// Description:
//
//	Enforces operations >= 1, nanoseconds >= 0 and indices >= 1. The
//	returned value cannot be modified afterwards.
//
// Inputs:
//
//	stage, mode    - Where the sample was taken.
//	launchIndex    - 1-based launch number.
//	iterationIndex - 1-based iteration number within the stage.
//	operations     - Number of invocations folded into the sample.
//	nanoseconds    - Total elapsed time of those invocations.
//
// Outputs:
//
//	Measurement - The sample.
//	error       - Non-nil if any argument violates the invariants.
func New(stage Stage, mode Mode, launchIndex, iterationIndex int, operations int64, nanoseconds float64) (Measurement, error) {
	if operations < 1 {
		return Measurement{}, fmt.Errorf("%w: got %d", ErrInvalidOperations, operations)
	}
	if math.IsNaN(nanoseconds) || nanoseconds < 0 {
		return Measurement{}, fmt.Errorf("%w: got %v", ErrInvalidNanoseconds, nanoseconds)
	}
	if launchIndex < 1 || iterationIndex < 1 {
		return Measurement{}, fmt.Errorf("%w: launch %d, iteration %d", ErrInvalidIndex, launchIndex, iterationIndex)
	}
	return Measurement{
		stage:          stage,
		mode:           mode,
		launchIndex:    launchIndex,
		iterationIndex: iterationIndex,
		operations:     operations,
		nanoseconds:    nanoseconds,
	}, nil
}

// MustNew is like New but panics on invalid input. Intended for tests and
// literals known to be valid.
func MustNew(stage Stage, mode Mode, launchIndex, iterationIndex int, operations int64, nanoseconds float64) Measurement {
	m, err := New(stage, mode, launchIndex, iterationIndex, operations, nanoseconds)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Measurement) Stage() Stage         { return m.stage }
func (m Measurement) Mode() Mode           { return m.mode }
func (m Measurement) LaunchIndex() int     { return m.launchIndex }
func (m Measurement) IterationIndex() int  { return m.iterationIndex }
func (m Measurement) Operations() int64    { return m.operations }
func (m Measurement) Nanoseconds() float64 { return m.nanoseconds }
func (m Measurement) IsWorkload() bool     { return m.stage == StageWorkload && m.mode == ModeWorkload }
func (m Measurement) IsOverhead() bool     { return m.mode == ModeOverhead }

// NanosecondsPerOperation returns Nanoseconds / Operations.
func (m Measurement) NanosecondsPerOperation() float64 {
	return m.nanoseconds / float64(m.operations)
}

// WithNanoseconds returns a copy carrying a different elapsed time.
// Negative and NaN values clamp to 0.
func (m Measurement) WithNanoseconds(ns float64) Measurement {
	if math.IsNaN(ns) || ns < 0 {
		ns = 0
	}
	m.nanoseconds = ns
	return m
}

// String encodes m in the line format.
func (m Measurement) String() string {
	name := m.mode.String() + m.stage.String()
	return fmt.Sprintf("%-17s %3d: %d op, %.2f ns, %.4f ns/op",
		name, m.iterationIndex, m.operations, m.nanoseconds, m.NanosecondsPerOperation())
}

// jsonMeasurement is the exported shape of a Measurement.
type jsonMeasurement struct {
	Stage          string  `json:"stage"`
	Mode           string  `json:"mode"`
	LaunchIndex    int     `json:"launch_index"`
	IterationIndex int     `json:"iteration_index"`
	Operations     int64   `json:"operations"`
	Nanoseconds    float64 `json:"nanoseconds"`
	NsPerOp        float64 `json:"ns_per_op"`
}

// MarshalJSON implements json.Marshaler.
func (m Measurement) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonMeasurement{
		Stage:          m.stage.String(),
		Mode:           m.mode.String(),
		LaunchIndex:    m.launchIndex,
		IterationIndex: m.iterationIndex,
		Operations:     m.operations,
		Nanoseconds:    m.nanoseconds,
		NsPerOp:        m.NanosecondsPerOperation(),
	})
}

// Parse decodes a line produced by Measurement.String.
//
// Description:
//
//	The launch index is not part of the line and is supplied by the
//	caller, which knows which launch produced the output. The ns/op
//	column is ignored and recomputed.
//
// Inputs:
//
//	line        - A single line, surrounding whitespace allowed.
//	launchIndex - Launch the line belongs to.
//
// Outputs:
//
//	Measurement - The decoded sample.
//	error       - ErrMalformedLine or a validation error.
func Parse(line string, launchIndex int) (Measurement, error) {
	head, tail, ok := strings.Cut(strings.TrimSpace(line), ":")
	if !ok {
		return Measurement{}, fmt.Errorf("%w: missing ':' in %q", ErrMalformedLine, line)
	}

	headFields := strings.Fields(head)
	if len(headFields) != 2 {
		return Measurement{}, fmt.Errorf("%w: bad header %q", ErrMalformedLine, head)
	}
	mode, stage, ok := parseName(headFields[0])
	if !ok {
		return Measurement{}, fmt.Errorf("%w: unknown stage %q", ErrMalformedLine, headFields[0])
	}
	iteration, err := strconv.Atoi(headFields[1])
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: bad iteration index: %v", ErrMalformedLine, err)
	}

	var (
		ops     int64
		ns      float64
		haveOps bool
		haveNs  bool
	)
	for _, part := range strings.Split(tail, ",") {
		fields := strings.Fields(part)
		if len(fields) != 2 {
			continue
		}
		switch fields[1] {
		case "op":
			ops, err = strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return Measurement{}, fmt.Errorf("%w: bad operations: %v", ErrMalformedLine, err)
			}
			haveOps = true
		case "ns":
			ns, err = strconv.ParseFloat(fields[0], 64)
			if err != nil {
				return Measurement{}, fmt.Errorf("%w: bad nanoseconds: %v", ErrMalformedLine, err)
			}
			haveNs = true
		}
	}
	if !haveOps || !haveNs {
		return Measurement{}, fmt.Errorf("%w: missing op or ns in %q", ErrMalformedLine, line)
	}

	return New(stage, mode, launchIndex, iteration, ops, ns)
}

func parseName(name string) (Mode, Stage, bool) {
	for _, mode := range modes {
		rest, ok := strings.CutPrefix(name, mode.String())
		if !ok {
			continue
		}
		for _, stage := range stages {
			if rest == stage.String() {
				return mode, stage, true
			}
		}
	}
	return ModeUnknown, StageUnknown, false
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// Filter returns the measurements matching stage and mode, in order.
func Filter(ms []Measurement, stage Stage, mode Mode) []Measurement {
	var out []Measurement
	for _, m := range ms {
		if m.stage == stage && m.mode == mode {
			out = append(out, m)
		}
	}
	return out
}

// PerOperation returns the ns/op value of each measurement.
func PerOperation(ms []Measurement) []float64 {
	out := make([]float64, len(ms))
	for i, m := range ms {
		out[i] = m.NanosecondsPerOperation()
	}
	return out
}

