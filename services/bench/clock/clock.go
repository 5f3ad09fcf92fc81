// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clock provides the timers used to measure benchmark iterations.
//
// A Clock exposes a raw monotonic tick counter and its frequency. Elapsed
// time is always derived from a pair of ticks so that the timed region of an
// iteration contains nothing but two Timestamp calls around the workload.
//
// Clock selection is an ordered fallback chain evaluated once: the preferred
// high-resolution timer is tried first, followed by the generic monotonic
// timer, and finally the Go runtime clock which is always available.
//
// # Thread Safety
//
// All clocks in this package are safe for concurrent use.
package clock

import (
	"sync"
	"time"
)

// Frequency is a tick rate in ticks per second.
type Frequency float64

const (
	// Nanosecond is the frequency of a clock that ticks once per nanosecond.
	Nanosecond Frequency = 1e9

	// Microsecond is the frequency of a clock that ticks once per microsecond.
	Microsecond Frequency = 1e6
)

// NanosecondsPerTick returns the duration of one tick in nanoseconds.
func (f Frequency) NanosecondsPerTick() float64 {
	if f <= 0 {
		return 0
	}
	return 1e9 / float64(f)
}

// Clock is a monotonic tick source.
type Clock interface {
	// Name identifies the clock in logs and results.
	Name() string

	// Frequency returns the tick rate. Always > 0.
	Frequency() Frequency

	// Timestamp returns the current tick count. Successive calls never
	// return a smaller value.
	Timestamp() int64

	// Available reports whether the underlying timer can be read on this
	// host.
	Available() bool
}

// ElapsedNanoseconds converts a pair of ticks read from c into nanoseconds.
//
// Description:
//
//	Computes (end - start) * 1e9 / frequency. Equal ticks produce 0. A
//	negative difference is clamped to 0.
//
// Inputs:
//
//	c     - The clock both ticks were read from.
//	start - Tick read before the timed region.
//	end   - Tick read after the timed region.
//
// Outputs:
//
//	float64 - Elapsed time in nanoseconds.
func ElapsedNanoseconds(c Clock, start, end int64) float64 {
	if end <= start {
		return 0
	}
	freq := float64(c.Frequency())
	if freq <= 0 {
		return 0
	}
	return float64(end-start) * 1e9 / freq
}

// -----------------------------------------------------------------------------
// Runtime clock
// -----------------------------------------------------------------------------

// runtimeEpoch anchors the runtime clock. time.Since uses the monotonic
// reading carried by time.Now.
var runtimeEpoch = time.Now()

type runtimeClock struct{}

// Runtime returns a clock backed by the Go runtime monotonic clock. It is
// always available and is the last link of every fallback chain.
func Runtime() Clock { return runtimeClock{} }

func (runtimeClock) Name() string         { return "Runtime" }
func (runtimeClock) Frequency() Frequency { return Nanosecond }
func (runtimeClock) Available() bool      { return true }
func (runtimeClock) Timestamp() int64     { return int64(time.Since(runtimeEpoch)) }

// -----------------------------------------------------------------------------
// Selection
// -----------------------------------------------------------------------------

// Select returns the first available clock among candidates.
//
// Description:
//
//	Candidates are probed in order. Nil entries are skipped. When no
//	candidate is available the runtime clock is returned, so selection
//	never fails.
//
// Inputs:
//
//	candidates - Clocks in order of preference.
//
// Outputs:
//
//	Clock - The selected clock. Never nil.
//
// Example:
//
//	c := clock.Select(clock.MonotonicRaw(), clock.Monotonic())
func Select(candidates ...Clock) Clock {
	for _, c := range candidates {
		if c != nil && c.Available() {
			return c
		}
	}
	return Runtime()
}

var defaultClock = sync.OnceValue(func() Clock {
	return Select(MonotonicRaw(), Monotonic(), Runtime())
})

// Default returns the best clock for this host. The chain is evaluated once
// per process and the result reused.
func Default() Clock {
	return defaultClock()
}

// MeasureResolution estimates the smallest observable tick step of c in
// nanoseconds.
//
// Description:
//
//	Reads c up to samples times and keeps the smallest positive delta
//	between consecutive readings. If no two readings differ, the nominal
//	tick length is returned.
//
// Inputs:
//
//	c       - Clock to probe.
//	samples - Number of readings. Values < 2 use 1000.
//
// Outputs:
//
//	float64 - Resolution in nanoseconds, never below one nominal tick.
func MeasureResolution(c Clock, samples int) float64 {
	if samples < 2 {
		samples = 1000
	}
	nominal := c.Frequency().NanosecondsPerTick()

	var minDelta int64
	prev := c.Timestamp()
	for i := 1; i < samples; i++ {
		now := c.Timestamp()
		if d := now - prev; d > 0 && (minDelta == 0 || d < minDelta) {
			minDelta = d
		}
		prev = now
	}
	if minDelta == 0 {
		return nominal
	}
	measured := float64(minDelta) * nominal
	if measured < nominal {
		return nominal
	}
	return measured
}
