// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package host

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"github.com/AleutianAI/AleutianBench/services/bench/measure"
)

// Child protocol line prefixes. Every other non-empty line is a
// measurement in measure.Measurement.String format.
const (
	prefixClock           = "// Clock:"
	prefixInvocationCount = "// InvocationCount:"
	prefixMemory          = "// Memory:"
	prefixWarning         = "// Warning:"
	prefixFailure         = "// Failure:"
	lineDone              = "// Done"
)

var (
	// ErrIncompleteLaunch indicates the child output ended without the
	// completion marker. The launch is lost.
	ErrIncompleteLaunch = errors.New("child output ended before completion marker")

	// ErrProtocol indicates a malformed protocol line.
	ErrProtocol = errors.New("malformed child protocol line")
)

// -----------------------------------------------------------------------------
// Writer
// -----------------------------------------------------------------------------

// ProtocolWriter encodes one launch as protocol lines.
//
// Description:
//
//	ProtocolWriter implements engine.Observer, so measurements are streamed
//	while the launch runs. WriteTrailer emits the launch summary and the
//	completion marker. The first write error is kept and returned by every
//	later call.
//
// Thread Safety: Safe for concurrent use.
type ProtocolWriter struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

// NewProtocolWriter returns a writer emitting lines to w.
func NewProtocolWriter(w io.Writer) *ProtocolWriter {
	return &ProtocolWriter{w: w}
}

func (p *ProtocolWriter) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

// OnMeasurement implements engine.Observer.
func (p *ProtocolWriter) OnMeasurement(m measure.Measurement) {
	p.line("%s", m.String())
}

// WriteClock announces the clock the child measures with.
func (p *ProtocolWriter) WriteClock(name string) error {
	p.line("%s %s", prefixClock, name)
	return p.Err()
}

// WriteTrailer writes the summary lines of l followed by the completion
// marker. err is the launch error, if any.
func (p *ProtocolWriter) WriteTrailer(l *engine.Launch, err error) error {
	if l != nil {
		p.line("%s %d %d", prefixInvocationCount, l.InvocationCount, l.UnrollFactor)
		if m := l.Memory; m != nil {
			p.line("%s %d %d %d %d", prefixMemory, m.AllocatedBytes, m.Allocations, m.GCCount, m.Operations)
		}
		for _, w := range l.Warnings {
			p.line("%s %s: %s", prefixWarning, w.Kind, oneLine(w.Message))
		}
	}
	if err != nil {
		stage, phase := measure.StageUnknown, engine.PhaseLaunch
		var f *engine.Failure
		if errors.As(err, &f) {
			stage, phase = f.Stage, f.Phase
			err = f.Err
		}
		p.line("%s %s: %s: %s", prefixFailure, stage, phase, oneLine(err.Error()))
	}
	p.line("%s", lineDone)
	return p.Err()
}

// Err returns the first write error.
func (p *ProtocolWriter) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// -----------------------------------------------------------------------------
// Reader
// -----------------------------------------------------------------------------

// ChildReport is the decoded output of one child launch.
type ChildReport struct {
	Launch  *engine.Launch
	Clock   string
	Failure *engine.Failure

	// Ignored holds lines that were neither protocol nor measurement
	// lines, such as output printed by the benchmark itself.
	Ignored []string
}

// DecodeLaunch reads the protocol output of one launch.
//
// Description:
//
//	Lines are processed in order until the completion marker. Unknown
//	"//" lines are skipped so newer children can add fields. A Failure
//	line is decoded into an *engine.Failure whose Err carries the child's
//	message.
//
// Inputs:
//
//	r           - Child stdout.
//	benchmark   - Benchmark name, used for the decoded failure.
//	launchIndex - Launch index assigned by the parent.
//
// Outputs:
//
//	*ChildReport - Everything decoded so far. Never nil.
//	error        - ErrIncompleteLaunch if the marker is missing,
//	               ErrProtocol for a malformed protocol line, or a read
//	               error.
func DecodeLaunch(r io.Reader, benchmark string, launchIndex int) (*ChildReport, error) {
	report := &ChildReport{Launch: &engine.Launch{Index: launchIndex, UnrollFactor: 1}}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == lineDone {
			return report, nil
		}
		if err := report.decodeLine(line, benchmark); err != nil {
			return report, err
		}
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("reading child output: %w", err)
	}
	return report, ErrIncompleteLaunch
}

func (c *ChildReport) decodeLine(line, benchmark string) error {
	l := c.Launch
	switch {
	case strings.HasPrefix(line, prefixClock):
		c.Clock = strings.TrimSpace(strings.TrimPrefix(line, prefixClock))

	case strings.HasPrefix(line, prefixInvocationCount):
		fields := strings.Fields(strings.TrimPrefix(line, prefixInvocationCount))
		if len(fields) != 2 {
			return fmt.Errorf("%w: %q", ErrProtocol, line)
		}
		n, err1 := strconv.ParseInt(fields[0], 10, 64)
		u, err2 := strconv.Atoi(fields[1])
		if err := errors.Join(err1, err2); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrProtocol, line, err)
		}
		l.InvocationCount, l.UnrollFactor = n, u

	case strings.HasPrefix(line, prefixMemory):
		fields := strings.Fields(strings.TrimPrefix(line, prefixMemory))
		if len(fields) != 4 {
			return fmt.Errorf("%w: %q", ErrProtocol, line)
		}
		bytes, err1 := strconv.ParseUint(fields[0], 10, 64)
		allocs, err2 := strconv.ParseUint(fields[1], 10, 64)
		gcs, err3 := strconv.ParseUint(fields[2], 10, 32)
		ops, err4 := strconv.ParseInt(fields[3], 10, 64)
		if err := errors.Join(err1, err2, err3, err4); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrProtocol, line, err)
		}
		l.Memory = &engine.MemoryStats{
			Operations:     ops,
			AllocatedBytes: bytes,
			Allocations:    allocs,
			GCCount:        uint32(gcs),
		}

	case strings.HasPrefix(line, prefixWarning):
		kind, msg, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, prefixWarning)), ": ")
		if !ok {
			return fmt.Errorf("%w: %q", ErrProtocol, line)
		}
		l.Warnings = append(l.Warnings, engine.Warning{Kind: engine.WarningKind(kind), Message: msg})

	case strings.HasPrefix(line, prefixFailure):
		parts := strings.SplitN(strings.TrimSpace(strings.TrimPrefix(line, prefixFailure)), ": ", 3)
		if len(parts) != 3 {
			return fmt.Errorf("%w: %q", ErrProtocol, line)
		}
		stage, ok1 := measure.ParseStage(parts[0])
		phase, ok2 := engine.ParsePhase(parts[1])
		if !ok1 || !ok2 {
			return fmt.Errorf("%w: %q", ErrProtocol, line)
		}
		c.Failure = &engine.Failure{
			Benchmark: benchmark,
			Stage:     stage,
			Phase:     phase,
			Err:       errors.New(parts[2]),
		}

	case strings.HasPrefix(line, "//"):
		// Unknown annotation.

	default:
		m, err := measure.Parse(line, l.Index)
		if err != nil {
			c.Ignored = append(c.Ignored, line)
			return nil
		}
		l.Measurements = append(l.Measurements, m)
	}
	return nil
}
