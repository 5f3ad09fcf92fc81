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
	"errors"
	"testing"
)

func TestConfidenceLevel_ZTable(t *testing.T) {
	tests := []struct {
		level ConfidenceLevel
		z     float64
		str   string
	}{
		{L70, 1.04, "70%"},
		{L75, 1.15, "75%"},
		{L80, 1.28, "80%"},
		{L85, 1.44, "85%"},
		{L90, 1.645, "90%"},
		{L92, 1.75, "92%"},
		{L95, 1.96, "95%"},
		{L96, 2.05, "96%"},
		{L98, 2.33, "98%"},
		{L99, 2.58, "99%"},
		{L999, 3.29, "99.9%"},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			if got := tt.level.ZValue(); got != tt.z {
				t.Errorf("ZValue() = %v, want %v", got, tt.z)
			}
			if got := tt.level.String(); got != tt.str {
				t.Errorf("String() = %v, want %v", got, tt.str)
			}
		})
	}
}

func TestConfidenceLevel_Ordering(t *testing.T) {
	levels := ConfidenceLevels()
	for i := 1; i < len(levels); i++ {
		if levels[i].ZValue() <= levels[i-1].ZValue() {
			t.Errorf("z(%v) = %v not above z(%v) = %v",
				levels[i], levels[i].ZValue(), levels[i-1], levels[i-1].ZValue())
		}
	}
}

func TestConfidenceLevel_Invalid(t *testing.T) {
	var l ConfidenceLevel
	if l.Valid() {
		t.Error("zero ConfidenceLevel should be invalid")
	}
	if l.ZValue() != 0 {
		t.Errorf("ZValue() = %v, want 0", l.ZValue())
	}
}

func TestConfidenceLevel_TValue(t *testing.T) {
	t.Run("small sample is wider than z", func(t *testing.T) {
		got := L95.TValue(10)
		if !approxEqual(got, 2.262, 0.01) {
			t.Errorf("TValue(10) = %v, want about 2.262", got)
		}
		if got <= L95.ZValue() {
			t.Errorf("TValue(10) = %v, want above z %v", got, L95.ZValue())
		}
	})

	t.Run("large sample approaches z", func(t *testing.T) {
		got := L999.TValue(5000)
		if !approxEqual(got, L999.ZValue(), 0.02) {
			t.Errorf("TValue(5000) = %v, want about %v", got, L999.ZValue())
		}
	})

	t.Run("single sample falls back to z", func(t *testing.T) {
		if got := L90.TValue(1); got != L90.ZValue() {
			t.Errorf("TValue(1) = %v, want %v", got, L90.ZValue())
		}
	})
}

func TestParseConfidenceLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    ConfidenceLevel
		wantErr bool
	}{
		{"95%", L95, false},
		{" 99.9% ", L999, false},
		{"99", L99, false},
		{"0.9", L90, false},
		{"42%", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConfidenceLevel(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfidenceLevel) {
					t.Errorf("ParseConfidenceLevel() error = %v, want ErrInvalidConfidenceLevel", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseConfidenceLevel() = %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}

func TestConfidenceLevel_TextRoundTrip(t *testing.T) {
	text, err := L97.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	var l ConfidenceLevel
	if err := l.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if l != L97 {
		t.Errorf("round trip = %v, want 97%%", l)
	}
}

func TestConfidenceInterval_Widens(t *testing.T) {
	s, err := Summarize([]float64{10, 12, 9, 11, 10, 13, 8, 10})
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	ci90 := s.ConfidenceIntervalAt(L90)
	ci99 := s.ConfidenceIntervalAt(L99)

	if !(ci99.Margin > ci90.Margin) {
		t.Errorf("99%% margin %v not wider than 90%% margin %v", ci99.Margin, ci90.Margin)
	}
	if !(ci99.Lower < ci90.Lower && ci99.Upper > ci90.Upper) {
		t.Errorf("99%% interval %+v does not contain 90%% interval %+v", ci99, ci90)
	}
	if !approxEqual(ci90.Margin, s.StandardError*1.645, 1e-12) {
		t.Errorf("90%% margin = %v, want stderr*1.645", ci90.Margin)
	}
	if ci90.Lower != s.Mean-ci90.Margin || ci90.Upper != s.Mean+ci90.Margin {
		t.Errorf("bounds not symmetric around mean: %+v", ci90)
	}
	if !ci90.Contains(s.Mean) {
		t.Error("interval does not contain its mean")
	}
}

func TestStudentConfidenceInterval(t *testing.T) {
	s, _ := Summarize([]float64{1, 2, 3, 4, 5, 6})
	z := s.ConfidenceIntervalAt(L95)
	student := s.StudentConfidenceInterval(L95)
	if !(student.Margin > z.Margin) {
		t.Errorf("student margin %v not wider than z margin %v", student.Margin, z.Margin)
	}
	if student.RelativeMargin() <= 0 {
		t.Errorf("RelativeMargin() = %v, want > 0", student.RelativeMargin())
	}
}

func TestSummary_DefaultInterval(t *testing.T) {
	s, _ := Summarize([]float64{4, 6})
	if s.ConfidenceInterval.Level != L999 {
		t.Errorf("default level = %v, want 99.9%%", s.ConfidenceInterval.Level)
	}
	if !approxEqual(s.ConfidenceInterval.Margin, s.StandardError*3.29, 1e-12) {
		t.Errorf("default margin = %v", s.ConfidenceInterval.Margin)
	}
}
