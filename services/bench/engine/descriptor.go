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

import "fmt"

// Descriptor binds the callables of one benchmark case.
//
// Only Invoke is required. Callbacks run in this order within a launch:
//
//	GlobalSetup -> [IterationSetup -> Invoke x N -> IterationCleanup]* -> GlobalCleanup
//
// IterationSetup and IterationCleanup surround every Workload-mode
// iteration, including pilot and warmup iterations. They never run inside
// the timed region.
type Descriptor struct {
	Name string

	Invoke func() error

	GlobalSetup      func() error
	GlobalCleanup    func() error
	IterationSetup   func() error
	IterationCleanup func() error

	// OperationsPerInvoke is the number of logical operations one Invoke
	// call performs. Zero means 1.
	OperationsPerInvoke int64
}

// Func wraps a function that cannot fail into a Descriptor.
func Func(name string, fn func()) Descriptor {
	return Descriptor{
		Name: name,
		Invoke: func() error {
			fn()
			return nil
		},
	}
}

// Validate checks that d can be run.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	if d.Invoke == nil {
		return fmt.Errorf("%w: %s has no Invoke function", ErrInvalidDescriptor, d.Name)
	}
	if d.OperationsPerInvoke < 0 {
		return fmt.Errorf("%w: %s has negative OperationsPerInvoke", ErrInvalidDescriptor, d.Name)
	}
	return nil
}

func (d Descriptor) operationsPerInvoke() int64 {
	if d.OperationsPerInvoke <= 0 {
		return 1
	}
	return d.OperationsPerInvoke
}

// overheadInvoke is the empty body timed in Overhead mode. It is a package
// variable so calls go through a function value like Invoke does.
var overheadInvoke = func() error { return nil }

func runCallback(fn func() error) error {
	if fn == nil {
		return nil
	}
	return fn()
}
