// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux || darwin

package clock

import "golang.org/x/sys/unix"

// posixClock reads a POSIX clock through clock_gettime.
type posixClock struct {
	name string
	id   int32
}

// MonotonicRaw returns the CLOCK_MONOTONIC_RAW clock, which is not subject
// to NTP frequency adjustment.
func MonotonicRaw() Clock {
	return posixClock{name: "MonotonicRaw", id: unix.CLOCK_MONOTONIC_RAW}
}

// Monotonic returns the CLOCK_MONOTONIC clock.
func Monotonic() Clock {
	return posixClock{name: "Monotonic", id: unix.CLOCK_MONOTONIC}
}

func (c posixClock) Name() string         { return c.name }
func (c posixClock) Frequency() Frequency { return Nanosecond }

func (c posixClock) Available() bool {
	var ts unix.Timespec
	return unix.ClockGettime(c.id, &ts) == nil
}

func (c posixClock) Timestamp() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(c.id, &ts); err != nil {
		return 0
	}
	return ts.Nano()
}
