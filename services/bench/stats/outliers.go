// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"fmt"
	"strings"
)

// OutlierMode selects which Tukey outliers are excluded from reported
// statistics. Raw values are never discarded.
type OutlierMode int

const (
	// RemoveUpper excludes values above the upper fence. Default.
	RemoveUpper OutlierMode = iota

	// DontRemove keeps every value.
	DontRemove

	// RemoveLower excludes values below the lower fence.
	RemoveLower

	// RemoveAll excludes values outside either fence.
	RemoveAll
)

var outlierModeNames = map[OutlierMode]string{
	RemoveUpper: "remove-upper",
	DontRemove:  "dont-remove",
	RemoveLower: "remove-lower",
	RemoveAll:   "remove-all",
}

// String returns the kebab-case name used in job files and flags.
func (m OutlierMode) String() string {
	if name, ok := outlierModeNames[m]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (m OutlierMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *OutlierMode) UnmarshalText(text []byte) error {
	parsed, err := ParseOutlierMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseOutlierMode parses a mode name. Case and surrounding whitespace are
// ignored.
func ParseOutlierMode(s string) (OutlierMode, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for mode, name := range outlierModeNames {
		if name == want {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("unknown outlier mode %q", s)
}

// Removes reports whether mode excludes v given the fences of s.
func (m OutlierMode) Removes(s *Summary, v float64) bool {
	switch m {
	case RemoveUpper:
		return s.IsUpperOutlier(v)
	case RemoveLower:
		return s.IsLowerOutlier(v)
	case RemoveAll:
		return s.IsOutlier(v)
	default:
		return false
	}
}

// DefaultMaxRemovedFraction is the largest share of a sample that outlier
// removal may discard.
const DefaultMaxRemovedFraction = 0.5

// OutlierPolicy combines an OutlierMode with a cap on how much of the
// sample may be removed.
type OutlierPolicy struct {
	Mode OutlierMode

	// MaxRemovedFraction in (0, 1]. When the selected outliers exceed this
	// share of the sample, nothing is removed. Zero means
	// DefaultMaxRemovedFraction.
	MaxRemovedFraction float64
}

// Applies reports whether p removes anything from s. It returns false when
// there is nothing to remove or when removal would exceed the cap.
func (p OutlierPolicy) Applies(s *Summary) bool {
	if p.Mode == DontRemove || s == nil || s.N == 0 {
		return false
	}
	removable := 0
	for _, v := range s.sorted {
		if p.Mode.Removes(s, v) {
			removable++
		}
	}
	if removable == 0 {
		return false
	}
	limit := p.MaxRemovedFraction
	if limit <= 0 {
		limit = DefaultMaxRemovedFraction
	}
	return float64(removable) <= limit*float64(s.N)
}

// Apply splits values into kept and removed, preserving input order.
//
// Description:
//
//	Summarizes values, then removes the outliers selected by the mode if
//	the cap allows it. When the cap is exceeded every value is kept.
//
// Inputs:
//
//	values - Samples to filter.
//
// Outputs:
//
//	kept    - Values used for reporting.
//	removed - Values excluded as outliers.
//	error   - ErrEmptySampleSet if values has no non-NaN entry.
func (p OutlierPolicy) Apply(values []float64) (kept, removed []float64, err error) {
	s, err := Summarize(values)
	if err != nil {
		return nil, nil, err
	}
	if !p.Applies(s) {
		kept = make([]float64, len(values))
		copy(kept, values)
		return kept, nil, nil
	}
	for _, v := range values {
		if p.Mode.Removes(s, v) {
			removed = append(removed, v)
		} else {
			kept = append(kept, v)
		}
	}
	return kept, removed, nil
}
