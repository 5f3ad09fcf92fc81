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
	"fmt"

	"github.com/AleutianAI/AleutianBench/cmd/aleutianbench/config"
	"github.com/AleutianAI/AleutianBench/services/bench/host"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// BenchmarkInfo is the JSON form of a registered benchmark.
type BenchmarkInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func runList(cmd *cobra.Command, args []string) error {
	pattern := ""
	if len(args) > 0 {
		pattern = args[0]
	}
	list, err := selectBenchmarks(registry, pattern, listTag)
	if err != nil {
		return withCode(CLIExitError, err)
	}

	if listJSON {
		infos := make([]BenchmarkInfo, 0, len(list))
		for _, b := range list {
			infos = append(infos, BenchmarkInfo{Name: b.Name, Description: b.Description, Tags: b.Tags})
		}
		return writeJSON(cmd.OutOrStdout(), infos)
	}
	NewRenderer(cmd.OutOrStdout()).Benchmarks(list)
	return nil
}

// selectBenchmarks matches pattern and keeps benchmarks carrying tag. An
// empty tag keeps everything.
func selectBenchmarks(reg *host.Registry, pattern, tag string) ([]host.Benchmark, error) {
	matched, err := reg.Match(pattern)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		return matched, nil
	}
	out := matched[:0]
	for _, b := range matched {
		if b.HasTag(tag) {
			out = append(out, b)
		}
	}
	return out, nil
}

func runJob(cmd *cobra.Command, args []string) error {
	job, err := loadJob(jobFile, config.Global.Job)
	if err != nil {
		return withCode(CLIExitError, err)
	}
	if err := job.Validate(); err != nil {
		return withCode(CLIExitError, fmt.Errorf("invalid job: %w", err))
	}
	data, err := yaml.Marshal(job)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
