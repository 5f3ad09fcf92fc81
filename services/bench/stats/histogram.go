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
	"strings"
)

// BinSizeRule selects how a histogram bin width is derived from a sample.
type BinSizeRule int

const (
	FreedmanDiaconis BinSizeRule = iota
	Scott
	SquareRoot
	Sturges
	Rice
)

// String returns the rule name.
func (r BinSizeRule) String() string {
	switch r {
	case FreedmanDiaconis:
		return "freedman-diaconis"
	case Scott:
		return "scott"
	case SquareRoot:
		return "square-root"
	case Sturges:
		return "sturges"
	case Rice:
		return "rice"
	default:
		return "unknown"
	}
}

// ParseBinSizeRule parses a rule name as returned by String.
func ParseBinSizeRule(s string) (BinSizeRule, error) {
	for _, r := range []BinSizeRule{FreedmanDiaconis, Scott, SquareRoot, Sturges, Rice} {
		if strings.EqualFold(strings.TrimSpace(s), r.String()) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBinRule, s)
}

// BinWidth returns the bin width rule r assigns to s.
//
// Widths:
//
//	FreedmanDiaconis  2*IQR / cbrt(n)
//	Scott             3.5*stddev / cbrt(n)
//	SquareRoot        (max-min) / sqrt(n)
//	Sturges           (max-min) / (ceil(log2 n) + 1)
//	Rice              (max-min) / (2*cbrt(n))
func (r BinSizeRule) BinWidth(s *Summary) (float64, error) {
	n := float64(s.N)
	spread := s.Max - s.Min
	switch r {
	case FreedmanDiaconis:
		return 2 * s.InterquartileRange / math.Cbrt(n), nil
	case Scott:
		return 3.5 * s.StandardDeviation / math.Cbrt(n), nil
	case SquareRoot:
		return spread / math.Sqrt(n), nil
	case Sturges:
		return spread / (math.Ceil(math.Log2(n)) + 1), nil
	case Rice:
		return spread / (2 * math.Cbrt(n)), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownBinRule, int(r))
	}
}

// Bin is one histogram bucket covering [Lower, Upper).
type Bin struct {
	Lower  float64   `json:"lower"`
	Upper  float64   `json:"upper"`
	Values []float64 `json:"values"`
}

// Count returns the number of values in the bin.
func (b Bin) Count() int { return len(b.Values) }

// Histogram is a sequence of adjacent equal-width bins.
type Histogram struct {
	BinWidth float64 `json:"bin_width"`
	Bins     []Bin   `json:"bins"`
}

// maxBins bounds the bin count when a narrow width meets a wide range.
const maxBins = 1000

// BuildHistogram assigns samples to bins of width binWidth.
//
// Description:
//
//	Each sorted value v goes to bin floor(v/binWidth). Bins span from the
//	first value's bin to the last value's bin, including empty bins in
//	between. Every bin is half-open except the last, which also holds its
//	upper bound. A non-positive or non-finite width, and any width that
//	would exceed maxBins bins, yields a single bin holding every value.
//
// Inputs:
//
//	samples  - Values to bin.
//	binWidth - Width of each bin.
//
// Outputs:
//
//	*Histogram - The bins.
//	error      - ErrEmptySampleSet if samples has no non-NaN value.
func BuildHistogram(samples []float64, binWidth float64) (*Histogram, error) {
	s, err := Summarize(samples)
	if err != nil {
		return nil, err
	}
	sorted := s.sorted

	if binWidth <= 0 || math.IsInf(binWidth, 0) || math.IsNaN(binWidth) {
		return singleBin(sorted), nil
	}

	first := math.Floor(sorted[0] / binWidth)
	last := math.Floor(sorted[len(sorted)-1] / binWidth)
	count := int(last-first) + 1
	if count > maxBins || count < 1 {
		return singleBin(sorted), nil
	}

	h := &Histogram{BinWidth: binWidth, Bins: make([]Bin, count)}
	for i := range h.Bins {
		idx := first + float64(i)
		h.Bins[i].Lower = idx * binWidth
		h.Bins[i].Upper = (idx + 1) * binWidth
	}
	for _, v := range sorted {
		i := int(math.Floor(v/binWidth) - first)
		if i < 0 {
			i = 0
		}
		if i >= count {
			i = count - 1
		}
		h.Bins[i].Values = append(h.Bins[i].Values, v)
	}
	return h, nil
}

// BuildHistogramWithRule derives the bin width from rule and builds the
// histogram.
func BuildHistogramWithRule(samples []float64, rule BinSizeRule) (*Histogram, error) {
	s, err := Summarize(samples)
	if err != nil {
		return nil, err
	}
	width, err := rule.BinWidth(s)
	if err != nil {
		return nil, err
	}
	return BuildHistogram(samples, width)
}

func singleBin(sorted []float64) *Histogram {
	values := make([]float64, len(sorted))
	copy(values, sorted)
	return &Histogram{
		BinWidth: sorted[len(sorted)-1] - sorted[0],
		Bins: []Bin{{
			Lower:  sorted[0],
			Upper:  sorted[len(sorted)-1],
			Values: values,
		}},
	}
}

// Total returns the number of values across all bins.
func (h *Histogram) Total() int {
	total := 0
	for _, b := range h.Bins {
		total += b.Count()
	}
	return total
}

// String renders the histogram as one text bar per bin.
func (h *Histogram) String() string {
	var sb strings.Builder
	for i, b := range h.Bins {
		closing := ")"
		if i == len(h.Bins)-1 {
			closing = "]"
		}
		fmt.Fprintf(&sb, "[%12.3f ; %12.3f%s | %s\n", b.Lower, b.Upper, closing, strings.Repeat("@", b.Count()))
	}
	return sb.String()
}
