// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"github.com/AleutianAI/AleutianBench/services/bench/host"
	"github.com/AleutianAI/AleutianBench/services/bench/regression"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess  = 0 // All benchmarks completed and passed the gate
	CLIExitFindings = 1 // A benchmark failed or the regression gate failed
	CLIExitError    = 2 // The command could not run
)

// Aleutian palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C")
)

var styles = struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Name    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Border  lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
	Cell:    lipgloss.NewStyle().Padding(0, 1),
	Name:    lipgloss.NewStyle().Padding(0, 1).Foreground(ColorTealBright),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Border:  lipgloss.NewStyle().Foreground(ColorTealDeep),
}

const (
	iconSuccess = "✓"
	iconWarning = "⚠"
	iconError   = "✗"
)

// Renderer prints command output as tables. Styling is enabled only when
// the destination is a terminal.
type Renderer struct {
	w      io.Writer
	styled bool
}

// NewRenderer returns a renderer for w.
func NewRenderer(w io.Writer) *Renderer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = isTerminal(f)
	}
	return &Renderer{w: w, styled: styled}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *Renderer) render(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

func (r *Renderer) table(headers []string, rows [][]string) string {
	t := table.New().Headers(headers...).Rows(rows...)
	if !r.styled {
		return t.Border(lipgloss.ASCIIBorder()).String()
	}
	return t.
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Border).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return styles.Header
			case col == 0:
				return styles.Name
			default:
				return styles.Cell
			}
		}).
		String()
}

// Results prints one row per complete result, then the warnings of every
// result and the failures.
func (r *Renderer) Results(results []*engine.Result) {
	headers := []string{"Benchmark", "Mean", "Error", "StdDev", "Median", "P95", "N", "Alloc/op", "Allocs/op"}
	var rows [][]string
	for _, res := range results {
		if res == nil || res.State != engine.StateComplete {
			continue
		}
		s := res.Statistics
		alloc, allocs := "-", "-"
		if res.Memory != nil {
			alloc = formatBytes(res.Memory.BytesPerOperation())
			allocs = strconv.FormatFloat(res.Memory.AllocationsPerOperation(), 'f', 2, 64)
		}
		rows = append(rows, []string{
			res.Benchmark,
			formatNanoseconds(s.Mean),
			formatNanoseconds(res.ConfidenceInterval.Margin),
			formatNanoseconds(s.StandardDeviation),
			formatNanoseconds(s.Median),
			formatNanoseconds(s.Percentiles.P95),
			strconv.Itoa(s.N),
			alloc,
			allocs,
		})
	}
	if len(rows) > 0 {
		fmt.Fprintln(r.w, r.table(headers, rows))
	}

	for _, res := range results {
		if res == nil {
			continue
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(r.w, "%s %s: %s\n",
				r.render(styles.Warning, iconWarning), res.Benchmark, r.render(styles.Warning, w.String()))
		}
		if res.Failure != nil {
			fmt.Fprintf(r.w, "%s %s failed in %s: %s\n",
				r.render(styles.Error, iconError), res.Benchmark, res.Failure.Phase, r.render(styles.Error, res.Failure.Message()))
		}
	}
}

// Histograms prints a text histogram of the reported samples of every
// complete result.
func (r *Renderer) Histograms(results []*engine.Result, rule stats.BinSizeRule) {
	for _, res := range results {
		if res == nil || res.State != engine.StateComplete {
			continue
		}
		h, err := stats.BuildHistogramWithRule(res.Statistics.Sorted(), rule)
		if err != nil {
			continue
		}
		fmt.Fprintf(r.w, "%s (%s, bin width %s)\n",
			r.render(styles.Title, res.Benchmark), rule, formatNanoseconds(h.BinWidth))
		fmt.Fprint(r.w, h.String())
	}
}

// Gate prints one line per gate decision, sorted by benchmark.
func (r *Renderer) Gate(decisions map[string]*regression.GateDecision) {
	names := make([]string, 0, len(decisions))
	for name := range decisions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := decisions[name]
		switch {
		case !d.Pass && len(d.Regressions) == 0:
			fmt.Fprintf(r.w, "%s %s: %s\n", r.render(styles.Error, iconError), name, d.Report)
		case !d.Pass:
			fmt.Fprintf(r.w, "%s %s: %s\n", r.render(styles.Error, iconError), name, r.render(styles.Error, describe(d.Regressions)))
		case len(d.Warnings) > 0:
			fmt.Fprintf(r.w, "%s %s: %s\n", r.render(styles.Warning, iconWarning), name, r.render(styles.Warning, describe(d.Warnings)))
		default:
			line := "no regressions"
			if d.Detection == nil {
				line = "no baseline"
			}
			if len(d.Improvements) > 0 {
				line = "improved " + describe(d.Improvements)
			}
			fmt.Fprintf(r.w, "%s %s: %s\n", r.render(styles.Success, iconSuccess), name, line)
		}
		if d.BaselineUpdated {
			fmt.Fprintf(r.w, "  %s\n", r.render(styles.Muted, "baseline updated"))
		}
	}
}

func describe(regs []regression.Regression) string {
	parts := make([]string, 0, len(regs))
	for _, reg := range regs {
		parts = append(parts, fmt.Sprintf("%s %+.1f%% (%s)", reg.Type, reg.Change*100, reg.Severity))
	}
	return strings.Join(parts, ", ")
}

// Benchmarks prints the registered benchmarks.
func (r *Renderer) Benchmarks(list []host.Benchmark) {
	rows := make([][]string, 0, len(list))
	for _, b := range list {
		rows = append(rows, []string{b.Name, strings.Join(b.Tags, ","), b.Description})
	}
	fmt.Fprintln(r.w, r.table([]string{"Benchmark", "Tags", "Description"}, rows))
}

// Baselines prints stored baselines.
func (r *Renderer) Baselines(list []*regression.BaselineData) {
	rows := make([][]string, 0, len(list))
	for _, b := range list {
		alloc := "-"
		if b.Memory != nil {
			alloc = formatBytes(b.Memory.BytesPerOp)
		}
		rows = append(rows, []string{
			b.Benchmark,
			b.Version,
			formatNanoseconds(b.Mean),
			formatNanoseconds(b.P95),
			strconv.Itoa(b.SampleCount),
			alloc,
			b.UpdatedAt.Format(time.RFC3339),
		})
	}
	fmt.Fprintln(r.w, r.table([]string{"Benchmark", "Version", "Mean", "P95", "N", "Alloc/op", "Updated"}, rows))
}

// Message prints a status line.
func (r *Renderer) Message(ok bool, format string, args ...any) {
	icon := r.render(styles.Success, iconSuccess)
	if !ok {
		icon = r.render(styles.Error, iconError)
	}
	fmt.Fprintf(r.w, "%s %s\n", icon, fmt.Sprintf(format, args...))
}

func formatNanoseconds(ns float64) string {
	abs := math.Abs(ns)
	switch {
	case abs < 1e3:
		return fmt.Sprintf("%.2f ns", ns)
	case abs < 1e6:
		return fmt.Sprintf("%.2f µs", ns/1e3)
	case abs < 1e9:
		return fmt.Sprintf("%.2f ms", ns/1e6)
	default:
		return fmt.Sprintf("%.2f s", ns/1e9)
	}
}

func formatBytes(b float64) string {
	switch {
	case b < 1024:
		return fmt.Sprintf("%.0f B", b)
	case b < 1024*1024:
		return fmt.Sprintf("%.1f KiB", b/1024)
	default:
		return fmt.Sprintf("%.1f MiB", b/(1024*1024))
	}
}

// -----------------------------------------------------------------------------
// JSON
// -----------------------------------------------------------------------------

// RunReport is the JSON document printed by "run --json".
type RunReport struct {
	APIVersion string           `json:"api_version"`
	Timestamp  time.Time        `json:"timestamp"`
	Results    []*engine.Result `json:"results"`
	Failures   []FailureReport  `json:"failures,omitempty"`
	Gate       []GateReport     `json:"gate,omitempty"`
}

// FailureReport describes a failed benchmark.
type FailureReport struct {
	Benchmark string `json:"benchmark"`
	Stage     string `json:"stage"`
	Phase     string `json:"phase"`
	Message   string `json:"message"`
}

// GateReport is the JSON form of a regression gate decision.
type GateReport struct {
	Benchmark       string                  `json:"benchmark"`
	Pass            bool                    `json:"pass"`
	BaselineUpdated bool                    `json:"baseline_updated"`
	Regressions     []regression.Regression `json:"regressions,omitempty"`
	Warnings        []regression.Regression `json:"warnings,omitempty"`
	Improvements    []regression.Regression `json:"improvements,omitempty"`
}

func newRunReport(results []*engine.Result, decisions map[string]*regression.GateDecision) RunReport {
	report := RunReport{
		APIVersion: "1.0",
		Timestamp:  time.Now(),
		Results:    make([]*engine.Result, 0, len(results)),
	}
	for _, res := range results {
		if res == nil {
			continue
		}
		report.Results = append(report.Results, res)
		if res.Failure != nil {
			report.Failures = append(report.Failures, FailureReport{
				Benchmark: res.Benchmark,
				Stage:     res.Failure.Stage.String(),
				Phase:     res.Failure.Phase.String(),
				Message:   res.Failure.Message(),
			})
		}
	}
	for _, d := range decisions {
		report.Gate = append(report.Gate, GateReport{
			Benchmark:       d.Benchmark,
			Pass:            d.Pass,
			BaselineUpdated: d.BaselineUpdated,
			Regressions:     d.Regressions,
			Warnings:        d.Warnings,
			Improvements:    d.Improvements,
		})
	}
	sort.Slice(report.Gate, func(i, j int) bool { return report.Gate[i].Benchmark < report.Gate[j].Benchmark })
	return report
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
