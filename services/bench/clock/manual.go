// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clock

import (
	"sync"
	"time"
)

// Manual is a clock that only moves when told to. It is used to drive the
// engine deterministically in tests: a benchmark body calls Advance to
// simulate its own running time.
//
// Thread Safety: Safe for concurrent use.
type Manual struct {
	mu        sync.Mutex
	ticks     int64
	frequency Frequency
	available bool
}

// NewManual creates a manual clock at tick 0 ticking at freq. A
// non-positive freq defaults to Nanosecond.
func NewManual(freq Frequency) *Manual {
	if freq <= 0 {
		freq = Nanosecond
	}
	return &Manual{frequency: freq, available: true}
}

// Name implements Clock.
func (m *Manual) Name() string { return "Manual" }

// Frequency implements Clock.
func (m *Manual) Frequency() Frequency { return m.frequency }

// Available implements Clock.
func (m *Manual) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// SetAvailable toggles availability, for fallback-chain tests.
func (m *Manual) SetAvailable(ok bool) {
	m.mu.Lock()
	m.available = ok
	m.mu.Unlock()
}

// Timestamp implements Clock.
func (m *Manual) Timestamp() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

// Advance moves the clock forward by ticks. Negative values are ignored.
func (m *Manual) Advance(ticks int64) {
	if ticks <= 0 {
		return
	}
	m.mu.Lock()
	m.ticks += ticks
	m.mu.Unlock()
}

// AdvanceDuration moves the clock forward by d, converted to ticks.
func (m *Manual) AdvanceDuration(d time.Duration) {
	m.Advance(int64(float64(d) * float64(m.frequency) / 1e9))
}
