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

	"github.com/AleutianAI/AleutianBench/cmd/aleutianbench/config"
	"github.com/AleutianAI/AleutianBench/services/bench/regression"
	"github.com/spf13/cobra"
)

// openBaselines opens the configured baseline store.
func openBaselines(cfg config.BenchConfig) (*regression.BadgerBaselineStore, error) {
	return regression.OpenBadgerStore(regression.BadgerConfig{
		Path:       cfg.BaselinePath(),
		SyncWrites: cfg.Baseline.SyncWrites,
		Logger:     logger.Slog(),
	})
}

// listBaselines returns every stored baseline sorted by benchmark.
func listBaselines(ctx context.Context, store regression.Baseline) ([]*regression.BaselineData, error) {
	names, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*regression.BaselineData, 0, len(names))
	for _, name := range names {
		data, err := store.Get(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("read baseline %s: %w", name, err)
		}
		out = append(out, data)
	}
	return out, nil
}

func runBaselineList(cmd *cobra.Command, args []string) error {
	store, err := openBaselines(config.Global)
	if err != nil {
		return withCode(CLIExitError, err)
	}
	defer store.Close()

	list, err := listBaselines(cmd.Context(), store)
	if err != nil {
		return withCode(CLIExitError, err)
	}
	if baselineJSON {
		return writeJSON(cmd.OutOrStdout(), list)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No baselines stored")
		return nil
	}
	NewRenderer(cmd.OutOrStdout()).Baselines(list)
	return nil
}

func runBaselineShow(cmd *cobra.Command, args []string) error {
	store, err := openBaselines(config.Global)
	if err != nil {
		return withCode(CLIExitError, err)
	}
	defer store.Close()

	data, err := store.Get(cmd.Context(), args[0])
	if errors.Is(err, regression.ErrBaselineNotFound) {
		return withCode(CLIExitFindings, err)
	}
	if err != nil {
		return withCode(CLIExitError, err)
	}
	return writeJSON(cmd.OutOrStdout(), data)
}

func runBaselineDelete(cmd *cobra.Command, args []string) error {
	store, err := openBaselines(config.Global)
	if err != nil {
		return withCode(CLIExitError, err)
	}
	defer store.Close()

	err = store.Delete(cmd.Context(), args[0])
	if errors.Is(err, regression.ErrBaselineNotFound) {
		return withCode(CLIExitFindings, err)
	}
	if err != nil {
		return withCode(CLIExitError, err)
	}
	NewRenderer(cmd.OutOrStdout()).Message(true, "Deleted baseline %s", args[0])
	return nil
}
