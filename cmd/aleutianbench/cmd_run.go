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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianBench/cmd/aleutianbench/config"
	"github.com/AleutianAI/AleutianBench/pkg/logging"
	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"github.com/AleutianAI/AleutianBench/services/bench/host"
	"github.com/AleutianAI/AleutianBench/services/bench/regression"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
	"github.com/AleutianAI/AleutianBench/services/bench/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	Filter          string
	JobFile         string
	Launches        int
	OutOfProcess    bool
	Memory          bool
	JSON            bool
	Histogram       string
	Compare         bool
	UpdateBaseline  bool
	BaselineVersion string
	FailOnWarnings  bool
	TraceExporter   string
	MetricExporter  string
	Pushgateway     string
	Influx          bool
	Watch           bool
}

// gated reports whether the regression gate runs.
func (o runOptions) gated() bool {
	return o.Compare || o.UpdateBaseline
}

func runBenchmarks(cmd *cobra.Command, args []string) error {
	opts := runOpts
	if len(args) > 0 {
		opts.Filter = args[0]
	}
	if opts.Watch && opts.JobFile == "" {
		return withCode(CLIExitError, errors.New("--watch requires --job"))
	}

	ctx := cmd.Context()
	r, err := newRunner(ctx, config.Global, opts, registry, logger, cmd.OutOrStdout())
	if err != nil {
		return withCode(CLIExitError, err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Warn("shutdown failed", slog.String("error", err.Error()))
		}
	}()

	code, err := r.runOnce(ctx)
	if !opts.Watch {
		return withCode(code, err)
	}
	if err != nil {
		logger.Error("run failed", slog.String("error", err.Error()))
	}

	watcher, err := NewJobWatcher(opts.JobFile, 0, func() {
		if _, err := r.runOnce(ctx); err != nil {
			logger.Error("run failed", slog.String("error", err.Error()))
		}
	}, logger.Slog())
	if err != nil {
		return withCode(CLIExitError, err)
	}
	defer watcher.Stop()

	logger.Info("watching job file", slog.String("path", opts.JobFile))
	watcher.Start(ctx)
	return nil
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// runner owns everything one invocation of the run command wires
// together: the launcher, telemetry and the baseline store.
type runner struct {
	cfg      config.BenchConfig
	opts     runOptions
	registry *host.Registry
	logger   *logging.Logger
	out      io.Writer
	binRule  stats.BinSizeRule

	metricExporter string

	launcher  host.Launcher
	providers *telemetry.Providers
	sink      telemetry.Sink
	promReg   *prometheus.Registry
	store     *regression.BadgerBaselineStore
}

// newRunner validates opts and builds the launcher, telemetry and
// baseline store. Close releases them.
func newRunner(ctx context.Context, cfg config.BenchConfig, opts runOptions, reg *host.Registry, logger *logging.Logger, out io.Writer) (*runner, error) {
	r := &runner{
		cfg:      cfg,
		opts:     opts,
		registry: reg,
		logger:   logger,
		out:      out,
		promReg:  prometheus.NewRegistry(),
	}
	if opts.Histogram != "" {
		rule, err := stats.ParseBinSizeRule(opts.Histogram)
		if err != nil {
			return nil, err
		}
		r.binRule = rule
	}

	pcfg := cfg.Telemetry.Providers()
	if opts.TraceExporter != "" {
		pcfg.TraceExporter = opts.TraceExporter
	}
	if opts.MetricExporter != "" {
		pcfg.MetricExporter = opts.MetricExporter
	}
	pcfg.ServiceVersion = version
	pcfg.Registry = r.promReg
	r.metricExporter = pcfg.MetricExporter
	providers, err := telemetry.NewProviders(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	r.providers = providers

	if err := r.initSinks(); err != nil {
		_ = r.Close()
		return nil, err
	}
	if err := r.initLauncher(); err != nil {
		_ = r.Close()
		return nil, err
	}

	if opts.gated() {
		store, err := regression.OpenBadgerStore(regression.BadgerConfig{
			Path:       cfg.BaselinePath(),
			SyncWrites: cfg.Baseline.SyncWrites,
			Logger:     logger.Slog(),
		})
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.store = store
	}
	return r, nil
}

func (r *runner) pushgateway() string {
	if r.opts.Pushgateway != "" {
		return r.opts.Pushgateway
	}
	return r.cfg.Telemetry.Pushgateway
}

func (r *runner) initSinks() error {
	var sinks []telemetry.Sink

	if r.pushgateway() != "" {
		pc := telemetry.DefaultPrometheusConfig()
		pc.Registry = r.promReg
		s, err := telemetry.NewPrometheusSink(pc)
		if err != nil {
			return fmt.Errorf("prometheus sink: %w", err)
		}
		sinks = append(sinks, s)
	} else if r.metricExporter == telemetry.ExporterPrometheus {
		r.logger.Warn("prometheus metrics are only exported with a pushgateway")
	}

	if r.providers.TracerProvider != nil || r.providers.MeterProvider != nil {
		oc := telemetry.DefaultOTelConfig()
		oc.ServiceVersion = version
		oc.TraceEnabled = r.providers.TracerProvider != nil
		oc.MetricsEnabled = r.providers.MeterProvider != nil
		if r.providers.TracerProvider != nil {
			oc.TracerProvider = r.providers.TracerProvider
		}
		if r.providers.MeterProvider != nil {
			oc.MeterProvider = r.providers.MeterProvider
		}
		s, err := telemetry.NewOTelSink(oc)
		if err != nil {
			return fmt.Errorf("otel sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if r.opts.Influx || r.cfg.Telemetry.Influx.Enabled {
		s, err := telemetry.NewInfluxSink(r.cfg.Telemetry.Influx.Sink())
		if err != nil {
			closeSinks(sinks)
			return fmt.Errorf("influx sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if len(sinks) == 0 {
		r.sink = telemetry.NewNoOpSink()
		return nil
	}
	composite, err := telemetry.NewCompositeSink(sinks...)
	if err != nil {
		return err
	}
	r.sink = composite
	return nil
}

func closeSinks(sinks []telemetry.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

func (r *runner) initLauncher() error {
	if r.opts.OutOfProcess {
		args := []string{"child"}
		if logLevel != "" {
			args = append([]string{"--log-level", logLevel}, args...)
		}
		p, err := host.NewProcess(r.logger.Slog(), args...)
		if err != nil {
			return err
		}
		r.launcher = p
		return nil
	}

	eopts := []engine.Option{engine.WithLogger(r.logger.Slog())}
	if r.providers.TracerProvider != nil {
		eopts = append(eopts, engine.WithTracerProvider(r.providers.TracerProvider))
	}
	if r.providers.MeterProvider != nil {
		eopts = append(eopts, engine.WithMeterProvider(r.providers.MeterProvider))
	}
	r.launcher = host.NewInProcess(r.registry, engine.New(eopts...))
	return nil
}

// Close flushes telemetry and closes the baseline store.
func (r *runner) Close() error {
	var errs []error
	if r.sink != nil {
		if err := r.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sinks: %w", err))
		}
	}
	if r.providers != nil {
		if err := r.providers.Shutdown(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close baseline store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// job returns the configured job, overridden by the job file and flags.
func (r *runner) job() (engine.Job, error) {
	job, err := loadJob(r.opts.JobFile, r.cfg.Job)
	if err != nil {
		return engine.Job{}, err
	}
	if r.opts.Launches > 0 {
		job = job.With(engine.WithLaunchCount(r.opts.Launches))
	}
	if r.opts.Memory {
		job = job.With(engine.WithMemory(true))
	}
	if err := job.Validate(); err != nil {
		return engine.Job{}, err
	}
	return job, nil
}

// loadJob reads a job file over base. An empty path returns base.
func loadJob(path string, base engine.Job) (engine.Job, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.Job{}, fmt.Errorf("read job: %w", err)
	}
	job := base
	if err := yaml.Unmarshal(data, &job); err != nil {
		return engine.Job{}, fmt.Errorf("parse job %s: %w", path, err)
	}
	return job, nil
}

// runOnce runs every matching benchmark, exports and gates the results
// and prints them.
//
// # Outputs
//
//   - int: CLIExitFindings when a benchmark failed or the gate failed.
//   - error: Non-nil when the run could not be performed.
func (r *runner) runOnce(ctx context.Context) (int, error) {
	job, err := r.job()
	if err != nil {
		return CLIExitError, err
	}
	benchmarks, err := r.registry.Match(r.opts.Filter)
	if err != nil {
		return CLIExitError, err
	}
	if len(benchmarks) == 0 {
		return CLIExitError, fmt.Errorf("no benchmarks match %q", r.opts.Filter)
	}

	code := CLIExitSuccess
	results := make([]*engine.Result, 0, len(benchmarks))
	for _, b := range benchmarks {
		if err := ctx.Err(); err != nil {
			return CLIExitError, err
		}
		result, err := r.launcher.Launch(ctx, b.Name, job)
		if err != nil {
			code = CLIExitFindings
			r.logger.Debug("benchmark failed", slog.String("benchmark", b.Name), slog.String("error", err.Error()))
		}
		results = append(results, result)
		if err := telemetry.Record(ctx, r.sink, result); err != nil {
			r.logger.Warn("telemetry export failed", slog.String("benchmark", b.Name), slog.String("error", err.Error()))
		}
	}
	r.export(ctx)

	var (
		decisions map[string]*regression.GateDecision
		gateErr   error
	)
	if r.opts.gated() {
		decisions, err = r.gate().CheckAll(ctx, results)
		if err != nil {
			return CLIExitError, err
		}
		gateErr = regression.Passed(decisions)
		if gateErr != nil && r.opts.Compare {
			code = CLIExitFindings
		}
	}

	if r.opts.JSON {
		if err := writeJSON(r.out, newRunReport(results, decisions)); err != nil {
			return CLIExitError, err
		}
	} else {
		out := NewRenderer(r.out)
		out.Results(results)
		if r.opts.Histogram != "" {
			out.Histograms(results, r.binRule)
		}
		if decisions != nil {
			out.Gate(decisions)
		}
	}

	if code == CLIExitFindings && gateErr != nil {
		return code, gateErr
	}
	return code, nil
}

func (r *runner) gate() *regression.Gate {
	return regression.NewGate(r.store,
		regression.WithMeanThreshold(r.cfg.Baseline.MeanThreshold),
		regression.WithMemoryThreshold(r.cfg.Baseline.MemoryThreshold),
		regression.WithRequireBaseline(r.cfg.Baseline.RequireBaseline),
		regression.WithUpdateBaseline(r.opts.UpdateBaseline),
		regression.WithFailOnWarnings(r.opts.FailOnWarnings),
		regression.WithBaselineVersion(r.opts.BaselineVersion),
		regression.WithGateLogger(r.logger.Slog()),
	)
}

// export flushes the sinks and pushes the Prometheus registry.
func (r *runner) export(ctx context.Context) {
	if err := r.sink.Flush(ctx); err != nil {
		r.logger.Warn("telemetry flush failed", slog.String("error", err.Error()))
	}
	url := r.pushgateway()
	if url == "" {
		return
	}
	if r.providers.MeterProvider != nil {
		if err := r.providers.MeterProvider.ForceFlush(ctx); err != nil {
			r.logger.Warn("meter flush failed", slog.String("error", err.Error()))
		}
	}
	if err := push.New(url, "aleutianbench").Gatherer(r.promReg).PushContext(ctx); err != nil {
		r.logger.Warn("pushgateway push failed", slog.String("url", url), slog.String("error", err.Error()))
		return
	}
	r.logger.Debug("pushed metrics", slog.String("url", url))
}
