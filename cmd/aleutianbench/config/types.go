// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the aleutianbench configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianBench/pkg/logging"
	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"github.com/AleutianAI/AleutianBench/services/bench/telemetry"
	"github.com/go-playground/validator/v10"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

type BenchConfig struct {
	Version string `yaml:"version"`

	// Logging configures the stderr and file logger.
	Logging logging.Config `yaml:"logging"`

	// Job is the run configuration used when no job file is given.
	Job engine.Job `yaml:"job"`

	// Telemetry selects exporters for results, traces and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Baseline configures the regression gate's baseline store.
	Baseline BaselineConfig `yaml:"baseline"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`

	// Pushgateway is the Prometheus Pushgateway URL results are pushed to
	// after a run. Empty disables pushing.
	Pushgateway string `yaml:"pushgateway,omitempty" validate:"omitempty,url"`

	Influx InfluxConfig `yaml:"influx"`
}

type InfluxConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url" validate:"required_if=Enabled true"`
	Token       string `yaml:"token,omitempty"`
	Org         string `yaml:"org" validate:"required_if=Enabled true"`
	Bucket      string `yaml:"bucket" validate:"required_if=Enabled true"`
	Measurement string `yaml:"measurement"`
}

type BaselineConfig struct {
	// Dir holds the Badger baseline database. A leading ~ is expanded.
	Dir        string `yaml:"dir" validate:"required"`
	SyncWrites bool   `yaml:"sync_writes"`

	// MeanThreshold and MemoryThreshold are relative changes, 0.10 = 10%.
	MeanThreshold   float64 `yaml:"mean_threshold" validate:"gt=0"`
	MemoryThreshold float64 `yaml:"memory_threshold" validate:"gt=0"`

	// RequireBaseline fails the gate for benchmarks without a baseline.
	RequireBaseline bool `yaml:"require_baseline"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() BenchConfig {
	influx := telemetry.DefaultInfluxConfig()
	return BenchConfig{
		Version: CurrentConfigVersion,
		Logging: logging.Config{
			Level:   logging.LevelInfo,
			LogDir:  "~/.aleutianbench/logs",
			Service: "aleutianbench",
		},
		Job: engine.DefaultJob(),
		Telemetry: TelemetryConfig{
			TraceExporter:  telemetry.ExporterNone,
			MetricExporter: telemetry.ExporterNone,
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
			Influx: InfluxConfig{
				URL:         influx.URL,
				Org:         influx.Org,
				Bucket:      influx.Bucket,
				Measurement: influx.Measurement,
			},
		},
		Baseline: BaselineConfig{
			Dir:             "~/.aleutianbench/baselines",
			MeanThreshold:   0.10,
			MemoryThreshold: 0.10,
		},
	}
}

var validate = validator.New()

// Validate checks the configuration, including the default job.
func (c BenchConfig) Validate() error {
	var errs []error
	if err := validate.Struct(c.Telemetry); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	if err := validate.Struct(c.Baseline); err != nil {
		errs = append(errs, fmt.Errorf("baseline: %w", err))
	}
	if err := c.Job.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("job: %w", err))
	}
	return errors.Join(errs...)
}

// Providers converts the telemetry section for telemetry.NewProviders.
func (t TelemetryConfig) Providers() telemetry.ProviderConfig {
	cfg := telemetry.DefaultProviderConfig()
	cfg.TraceExporter = t.TraceExporter
	cfg.MetricExporter = t.MetricExporter
	cfg.OTLPEndpoint = t.OTLPEndpoint
	cfg.OTLPInsecure = t.OTLPInsecure
	return cfg
}

// Sink converts the influx section for telemetry.NewInfluxSink.
func (i InfluxConfig) Sink() *telemetry.InfluxConfig {
	cfg := telemetry.DefaultInfluxConfig()
	cfg.URL = i.URL
	cfg.Token = i.Token
	cfg.Org = i.Org
	cfg.Bucket = i.Bucket
	if i.Measurement != "" {
		cfg.Measurement = i.Measurement
	}
	return cfg
}

// BaselinePath returns Baseline.Dir with a leading ~ expanded.
func (c BenchConfig) BaselinePath() string {
	return ExpandHome(c.Baseline.Dir)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
