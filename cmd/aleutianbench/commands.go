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
	"github.com/AleutianAI/AleutianBench/cmd/aleutianbench/config"
	"github.com/AleutianAI/AleutianBench/pkg/logging"
	"github.com/AleutianAI/AleutianBench/services/bench/host"
	"github.com/AleutianAI/AleutianBench/services/bench/suite"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	quietLogs  bool

	runOpts      runOptions
	listJSON     bool
	listTag      string
	jobFile      string
	childOpts    host.ChildOptions
	baselineJSON bool

	// logger is built by setup before any command runs.
	logger *logging.Logger

	// registry holds the benchmarks this binary can run.
	registry = suite.NewRegistry()

	rootCmd = &cobra.Command{
		Use:   "aleutianbench",
		Short: "Measure Go micro-benchmarks with statistical rigor",
		Long: `aleutianbench runs registered benchmarks through pilot, warmup and
workload stages, reports robust statistics and compares results against
stored baselines.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	// --- Benchmarks ---
	runCmd = &cobra.Command{
		Use:   "run [pattern]",
		Short: "Run the benchmarks matching a shell pattern (all by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBenchmarks, // Defined in cmd_run.go
	}
	listCmd = &cobra.Command{
		Use:     "list [pattern]",
		Short:   "List registered benchmarks",
		Aliases: []string{"ls"},
		Args:    cobra.MaximumNArgs(1),
		RunE:    runList, // Defined in cmd_list.go
	}
	jobCmd = &cobra.Command{
		Use:   "job",
		Short: "Print the effective job configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  runJob, // Defined in cmd_list.go
	}
	childCmd = &cobra.Command{
		Use:    "child",
		Short:  "Run one launch of a benchmark for an out-of-process parent",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE:   runChild, // Defined in cmd_child.go
	}

	// --- Baselines ---
	baselineCmd = &cobra.Command{
		Use:   "baseline",
		Short: "Inspect and manage stored regression baselines",
	}
	baselineListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored baselines",
		Args:  cobra.NoArgs,
		RunE:  runBaselineList, // Defined in cmd_baseline.go
	}
	baselineShowCmd = &cobra.Command{
		Use:   "show [benchmark]",
		Short: "Print a stored baseline as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runBaselineShow, // Defined in cmd_baseline.go
	}
	baselineDeleteCmd = &cobra.Command{
		Use:   "delete [benchmark]",
		Short: "Delete a stored baseline",
		Args:  cobra.ExactArgs(1),
		RunE:  runBaselineDelete, // Defined in cmd_baseline.go
	}
)

// setup loads the config file and builds the logger. The child command
// skips the config file: its parent sends the job on stdin.
func setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "child" {
		level := logging.LevelWarn
		if logLevel != "" {
			parsed, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			level = parsed
		}
		logger = logging.New(logging.Config{Level: level, Service: "aleutianbench-child"})
		return nil
	}

	if err := config.Load(configPath); err != nil {
		return err
	}
	cfg := config.Global.Logging
	if logLevel != "" {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		cfg.Level = level
	}
	if quietLogs {
		cfg.Quiet = true
	}
	logger = logging.New(cfg)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default ~/.aleutianbench/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn or error (overrides the config file)")
	rootCmd.PersistentFlags().BoolVarP(&quietLogs, "quiet", "q", false, "Disable console logging")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runOpts.JobFile, "job", "", "YAML job file overriding the configured job")
	runCmd.Flags().IntVar(&runOpts.Launches, "launches", 0, "Number of launches (overrides the job)")
	runCmd.Flags().BoolVar(&runOpts.OutOfProcess, "out-of-process", false,
		"Run every launch in a fresh child process")
	runCmd.Flags().BoolVar(&runOpts.Memory, "memory", false, "Collect allocation statistics")
	runCmd.Flags().BoolVar(&runOpts.JSON, "json", false, "Print results as JSON")
	runCmd.Flags().StringVar(&runOpts.Histogram, "histogram", "",
		"Print histograms using a bin rule: freedman-diaconis, scott, square-root, sturges, rice")
	runCmd.Flags().BoolVar(&runOpts.Compare, "compare", false, "Compare results against stored baselines")
	runCmd.Flags().BoolVar(&runOpts.UpdateBaseline, "update-baseline", false,
		"Store results as the new baselines when they pass the gate")
	runCmd.Flags().StringVar(&runOpts.BaselineVersion, "baseline-version", "", "Version label for stored baselines")
	runCmd.Flags().BoolVar(&runOpts.FailOnWarnings, "fail-on-warnings", false, "Fail the gate on regression warnings")
	runCmd.Flags().StringVar(&runOpts.TraceExporter, "trace", "", "Trace exporter: none, stdout or otlp")
	runCmd.Flags().StringVar(&runOpts.MetricExporter, "metrics", "", "Metric exporter: none, stdout or prometheus")
	runCmd.Flags().StringVar(&runOpts.Pushgateway, "pushgateway", "", "Prometheus Pushgateway URL")
	runCmd.Flags().BoolVar(&runOpts.Influx, "influx", false, "Write results to the configured InfluxDB")
	runCmd.Flags().BoolVar(&runOpts.Watch, "watch", false, "Re-run whenever the --job file changes")

	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print the list as JSON")
	listCmd.Flags().StringVar(&listTag, "tag", "", "Only list benchmarks with this tag")

	rootCmd.AddCommand(jobCmd)
	jobCmd.Flags().StringVar(&jobFile, "job", "", "YAML job file overriding the configured job")

	rootCmd.AddCommand(childCmd)
	childCmd.Flags().StringVar(&childOpts.Benchmark, "benchmark", "", "Benchmark to run")
	childCmd.Flags().IntVar(&childOpts.LaunchIndex, "launch", 1, "1-based launch index")
	_ = childCmd.MarkFlagRequired("benchmark")

	rootCmd.AddCommand(baselineCmd)
	baselineCmd.AddCommand(baselineListCmd)
	baselineCmd.AddCommand(baselineShowCmd)
	baselineCmd.AddCommand(baselineDeleteCmd)
	baselineListCmd.Flags().BoolVar(&baselineJSON, "json", false, "Print baselines as JSON")
}
