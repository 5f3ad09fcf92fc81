// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"sync"

	"github.com/AleutianAI/AleutianBench/services/bench/engine"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilData is returned when a nil result is provided.
	ErrNilData = errors.New("result must not be nil")

	// ErrSinkClosed is returned when attempting to use a closed sink.
	ErrSinkClosed = errors.New("sink has been closed")

	// ErrNoSinks is returned when creating a composite sink with no children.
	ErrNoSinks = errors.New("at least one sink is required")

	// ErrInvalidConfig is returned when a sink configuration is invalid.
	ErrInvalidConfig = errors.New("invalid telemetry configuration")

	// ErrRegistrationFailed is returned when metric registration fails.
	ErrRegistrationFailed = errors.New("metric registration failed")
)

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// Sink exports benchmark results to a metrics backend.
//
// Description:
//
//	RecordResult is called for complete results and RecordFailure for
//	results in engine.StateFailed. Implementations decide which fields of
//	the result they export.
//
// Thread Safety: All implementations must be safe for concurrent use.
//
// Example:
//
//	sink, err := telemetry.NewPrometheusSink(telemetry.DefaultPrometheusConfig())
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//
//	if err := telemetry.Record(ctx, sink, result); err != nil {
//	    logger.Warn("telemetry error", slog.String("error", err.Error()))
//	}
type Sink interface {
	// RecordResult records the statistics of a complete run.
	//
	// Outputs:
	//   - error: ErrNilContext, ErrNilData, ErrSinkClosed or a backend error.
	RecordResult(ctx context.Context, result *engine.Result) error

	// RecordFailure records a failed run.
	RecordFailure(ctx context.Context, result *engine.Result) error

	// Flush exports buffered data. Pull-based sinks return nil.
	Flush(ctx context.Context) error

	// Close releases resources. After Close all recording methods return
	// ErrSinkClosed. Idempotent.
	Close() error
}

// Record dispatches result to RecordResult or RecordFailure depending on
// its state.
func Record(ctx context.Context, sink Sink, result *engine.Result) error {
	if result == nil {
		return ErrNilData
	}
	if result.State == engine.StateFailed {
		return sink.RecordFailure(ctx, result)
	}
	return sink.RecordResult(ctx, result)
}

// checkArgs performs the argument checks shared by every sink.
func checkArgs(ctx context.Context, result *engine.Result) error {
	if ctx == nil {
		return ErrNilContext
	}
	if result == nil {
		return ErrNilData
	}
	return nil
}

// failureLabels returns the stage, phase and category names of a failed
// result. Unknown values are reported as "unknown".
func failureLabels(result *engine.Result) (stage, phase, category string) {
	stage, phase, category = "unknown", "unknown", "unknown"
	f := result.Failure
	if f == nil {
		return
	}
	stage = f.Stage.String()
	phase = f.Phase.String()
	switch {
	case errors.Is(f, engine.ErrSetupFailure):
		category = "setup"
	case errors.Is(f, engine.ErrInvocationFailure):
		category = "invocation"
	case errors.Is(f, engine.ErrCleanupFailure):
		category = "cleanup"
	case errors.Is(f, engine.ErrInvalidJob), errors.Is(f, engine.ErrInvalidDescriptor):
		category = "validation"
	case f.Phase == engine.PhaseCancelled:
		category = "cancelled"
	}
	return
}

// -----------------------------------------------------------------------------
// Composite Sink
// -----------------------------------------------------------------------------

// CompositeSink multiplexes results to multiple sinks.
//
// Description:
//
//	Errors from individual sinks are joined; one sink's failure does not
//	prevent the others from receiving the result.
//
// Thread Safety: Safe for concurrent use.
type CompositeSink struct {
	sinks  []Sink
	mu     sync.RWMutex
	closed bool
}

// NewCompositeSink creates a sink that forwards to every non-nil child.
//
// Outputs:
//   - *CompositeSink: Never nil on success.
//   - error: ErrNoSinks if no non-nil sink was provided.
func NewCompositeSink(sinks ...Sink) (*CompositeSink, error) {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoSinks
	}
	return &CompositeSink{sinks: valid}, nil
}

func (c *CompositeSink) each(fn func(Sink) error) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrSinkClosed
	}
	sinks := c.sinks
	c.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordResult forwards to all child sinks.
func (c *CompositeSink) RecordResult(ctx context.Context, result *engine.Result) error {
	if err := checkArgs(ctx, result); err != nil {
		return err
	}
	return c.each(func(s Sink) error { return s.RecordResult(ctx, result) })
}

// RecordFailure forwards to all child sinks.
func (c *CompositeSink) RecordFailure(ctx context.Context, result *engine.Result) error {
	if err := checkArgs(ctx, result); err != nil {
		return err
	}
	return c.each(func(s Sink) error { return s.RecordFailure(ctx, result) })
}

// Flush flushes all child sinks.
func (c *CompositeSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return c.each(func(s Sink) error { return s.Flush(ctx) })
}

// Close closes all child sinks. Idempotent.
func (c *CompositeSink) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sinks := c.sinks
	c.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// No-Op Sink
// -----------------------------------------------------------------------------

// NoOpSink discards all data. It is the default when no backend is
// configured.
type NoOpSink struct{}

// NewNoOpSink creates a new no-op sink.
func NewNoOpSink() *NoOpSink {
	return &NoOpSink{}
}

// RecordResult validates its arguments and does nothing.
func (n *NoOpSink) RecordResult(ctx context.Context, result *engine.Result) error {
	return checkArgs(ctx, result)
}

// RecordFailure validates its arguments and does nothing.
func (n *NoOpSink) RecordFailure(ctx context.Context, result *engine.Result) error {
	return checkArgs(ctx, result)
}

// Flush does nothing.
func (n *NoOpSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// Close does nothing.
func (n *NoOpSink) Close() error {
	return nil
}

// Verify interface compliance at compile time.
var (
	_ Sink = (*CompositeSink)(nil)
	_ Sink = (*NoOpSink)(nil)
)
