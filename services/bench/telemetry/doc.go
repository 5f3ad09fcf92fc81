// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exports benchmark results to metrics backends.
//
// # Architecture
//
//	┌──────────────┐      ┌────────────────┐
//	│ engine.Result├─────►│ CompositeSink  │
//	└──────────────┘      └───────┬────────┘
//	                              │
//	          ┌───────────────────┼───────────────────┐
//	          ▼                   ▼                   ▼
//	 ┌────────────────┐  ┌────────────────┐  ┌────────────────┐
//	 │ PrometheusSink │  │    OTelSink    │  │   InfluxSink   │
//	 └────────────────┘  └────────────────┘  └────────────────┘
//
// # Sinks
//
//   - PrometheusSink: gauges for the latest statistics of each benchmark
//     and counters for runs, iterations, warnings and failures. Benchmark
//     names beyond MaxLabelCardinality are reported as "_other".
//   - OTelSink: OpenTelemetry instruments plus one span per result.
//     Warnings become span events; failures become error spans.
//   - InfluxSink: one point per result through the blocking write API.
//   - NoOpSink: discards everything.
//
// # Providers
//
// NewProviders builds the SDK tracer and meter providers used by the
// engine and OTelSink: stdout or OTLP gRPC for traces, stdout or a
// Prometheus registry for metrics.
//
// # Usage
//
//	sink, err := telemetry.NewCompositeSink(promSink, influxSink)
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//
//	if err := telemetry.Record(ctx, sink, result); err != nil {
//	    logger.Warn("telemetry export failed", slog.String("error", err.Error()))
//	}
//
// # Thread Safety
//
// All sinks are safe for concurrent use.
package telemetry
