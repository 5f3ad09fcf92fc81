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
	"math"
	"strconv"
	"strings"

	mstats "github.com/aclements/go-moremath/stats"
)

// ConfidenceLevel is a two-sided confidence level. The zero value is
// invalid.
type ConfidenceLevel int

const (
	L50 ConfidenceLevel = iota + 1
	L70
	L75
	L80
	L85
	L90
	L92
	L95
	L96
	L97
	L98
	L99
	L999
)

type levelInfo struct {
	percent float64
	z       float64
}

// levels maps each level to its percentage and standard normal critical
// value.
var levels = map[ConfidenceLevel]levelInfo{
	L50:  {50, 0.674},
	L70:  {70, 1.04},
	L75:  {75, 1.15},
	L80:  {80, 1.28},
	L85:  {85, 1.44},
	L90:  {90, 1.645},
	L92:  {92, 1.75},
	L95:  {95, 1.96},
	L96:  {96, 2.05},
	L97:  {97, 2.17},
	L98:  {98, 2.33},
	L99:  {99, 2.58},
	L999: {99.9, 3.29},
}

// ConfidenceLevels returns every supported level in increasing order.
func ConfidenceLevels() []ConfidenceLevel {
	return []ConfidenceLevel{L50, L70, L75, L80, L85, L90, L92, L95, L96, L97, L98, L99, L999}
}

// Valid reports whether l is a supported level.
func (l ConfidenceLevel) Valid() bool {
	_, ok := levels[l]
	return ok
}

// Percent returns the level as a percentage, e.g. 99.9.
func (l ConfidenceLevel) Percent() float64 { return levels[l].percent }

// Probability returns the level as a probability, e.g. 0.999.
func (l ConfidenceLevel) Probability() float64 { return levels[l].percent / 100 }

// ZValue returns the standard normal critical value, or 0 if l is invalid.
func (l ConfidenceLevel) ZValue() float64 { return levels[l].z }

// TValue returns the two-sided Student-t critical value for a sample of
// size n.
//
// Description:
//
//	Uses n-1 degrees of freedom. With fewer than two samples there are no
//	degrees of freedom and the z value is returned instead.
func (l ConfidenceLevel) TValue(n int) float64 {
	z := l.ZValue()
	if n < 2 || z == 0 {
		return z
	}
	t := mstats.InvCDF(mstats.TDist{V: float64(n - 1)})(1 - (1-l.Probability())/2)
	if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 {
		return z
	}
	return t
}

// String returns the level formatted as "95%" or "99.9%".
func (l ConfidenceLevel) String() string {
	if !l.Valid() {
		return "invalid"
	}
	return strconv.FormatFloat(l.Percent(), 'f', -1, 64) + "%"
}

// MarshalText implements encoding.TextMarshaler.
func (l ConfidenceLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *ConfidenceLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseConfidenceLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseConfidenceLevel parses "95%", "95", "99.9%" or "0.95".
func ParseConfidenceLevel(s string) (ConfidenceLevel, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidConfidenceLevel, s)
	}
	if v > 0 && v < 1 {
		v *= 100
	}
	for _, l := range ConfidenceLevels() {
		if math.Abs(levels[l].percent-v) < 1e-9 {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidConfidenceLevel, s)
}

// -----------------------------------------------------------------------------
// Interval
// -----------------------------------------------------------------------------

// Interval is a confidence interval around a sample mean.
type Interval struct {
	Level         ConfidenceLevel `json:"level"`
	N             int             `json:"n"`
	Mean          float64         `json:"mean"`
	StandardError float64         `json:"stderr"`
	Margin        float64         `json:"margin"`
	Lower         float64         `json:"lower"`
	Upper         float64         `json:"upper"`
}

// NewInterval builds mean ± standardError*critical.
func NewInterval(level ConfidenceLevel, n int, mean, standardError, critical float64) Interval {
	margin := standardError * critical
	return Interval{
		Level:         level,
		N:             n,
		Mean:          mean,
		StandardError: standardError,
		Margin:        margin,
		Lower:         mean - margin,
		Upper:         mean + margin,
	}
}

// Contains reports whether v lies within [Lower, Upper].
func (i Interval) Contains(v float64) bool {
	return v >= i.Lower && v <= i.Upper
}

// RelativeMargin returns Margin / Mean, or 0 when the mean is 0.
func (i Interval) RelativeMargin() float64 {
	if i.Mean == 0 {
		return 0
	}
	return i.Margin / math.Abs(i.Mean)
}

// ConfidenceIntervalAt returns the z-based interval at level.
func (s *Summary) ConfidenceIntervalAt(level ConfidenceLevel) Interval {
	return NewInterval(level, s.N, s.Mean, s.StandardError, level.ZValue())
}

// StudentConfidenceInterval returns the Student-t based interval at level,
// which is wider than the z interval for small samples.
func (s *Summary) StudentConfidenceInterval(level ConfidenceLevel) Interval {
	return NewInterval(level, s.N, s.Mean, s.StandardError, level.TValue(s.N))
}
