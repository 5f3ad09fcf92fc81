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
	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"github.com/AleutianAI/AleutianBench/services/bench/host"
	"github.com/spf13/cobra"
)

// runChild is the entry point of out-of-process launches. Stdout carries
// the measurement protocol, so the logger only writes to stderr.
func runChild(cmd *cobra.Command, args []string) error {
	return host.RunChild(cmd.Context(), registry, childOpts,
		cmd.InOrStdin(), cmd.OutOrStdout(),
		engine.WithLogger(logger.Slog()))
}
