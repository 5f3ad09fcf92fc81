// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"runtime"

	"github.com/AleutianAI/AleutianBench/services/bench/measure"
)

// measureMemory runs one extra workload iteration between two heap
// snapshots. The iteration is not recorded as a measurement.
func (e *Engine) measureMemory(ctx context.Context, st *runState) (*MemoryStats, *Failure) {
	st.stage = measure.StageWorkload
	if err := ctx.Err(); err != nil {
		return nil, st.fail(PhaseCancelled, err)
	}
	if err := safeCall(st.d.IterationSetup); err != nil {
		return nil, st.fail(PhaseIterationSetup, err)
	}

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := e.timeInvocations(st.d.Invoke, st.invokeCount, st.job.UnrollFactor)
	runtime.ReadMemStats(&after)
	if err != nil {
		return nil, st.fail(PhaseInvoke, err)
	}

	if err := safeCall(st.d.IterationCleanup); err != nil {
		return nil, st.fail(PhaseIterationCleanup, err)
	}

	return &MemoryStats{
		Operations:     st.invokeCount * st.d.operationsPerInvoke(),
		AllocatedBytes: after.TotalAlloc - before.TotalAlloc,
		Allocations:    after.Mallocs - before.Mallocs,
		GCCount:        after.NumGC - before.NumGC,
	}, nil
}
