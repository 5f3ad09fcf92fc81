// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !(linux || darwin)

package clock

// unavailableClock stands in for POSIX clocks on hosts that lack them.
type unavailableClock struct{ name string }

// MonotonicRaw is unavailable on this platform.
func MonotonicRaw() Clock { return unavailableClock{name: "MonotonicRaw"} }

// Monotonic is unavailable on this platform.
func Monotonic() Clock { return unavailableClock{name: "Monotonic"} }

func (c unavailableClock) Name() string         { return c.name }
func (c unavailableClock) Frequency() Frequency { return Nanosecond }
func (c unavailableClock) Available() bool      { return false }
func (c unavailableClock) Timestamp() int64     { return 0 }
