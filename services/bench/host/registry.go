// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package host registers benchmarks and runs them in the current process
// or in child processes.
package host

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianBench/services/bench/engine"
)

var (
	// ErrNotFound indicates no benchmark is registered under a name.
	ErrNotFound = errors.New("benchmark not found")

	// ErrAlreadyRegistered indicates a duplicate benchmark name.
	ErrAlreadyRegistered = errors.New("benchmark already registered")

	// ErrInvalidBenchmark indicates a benchmark without a name or constructor.
	ErrInvalidBenchmark = errors.New("invalid benchmark")
)

// Benchmark is a registered benchmark case.
//
// New is called once per launch so that state captured by the descriptor's
// closures starts fresh in every launch.
type Benchmark struct {
	Name        string
	Description string
	Tags        []string
	New         func() engine.Descriptor
}

// Descriptor builds the descriptor and makes sure it carries the
// registered name.
func (b Benchmark) Descriptor() engine.Descriptor {
	d := b.New()
	if d.Name == "" {
		d.Name = b.Name
	}
	return d
}

// HasTag reports whether b carries tag.
func (b Benchmark) HasTag(tag string) bool {
	for _, t := range b.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Registry holds benchmarks by name.
//
// Thread Safety: Safe for concurrent use via read-write mutex.
type Registry struct {
	mu         sync.RWMutex
	benchmarks map[string]Benchmark
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{benchmarks: make(map[string]Benchmark)}
}

// Register adds b under b.Name.
//
// Outputs:
//
//	error - ErrInvalidBenchmark if b has no name or constructor,
//	        ErrAlreadyRegistered if the name is taken.
func (r *Registry) Register(b Benchmark) error {
	if b.Name == "" || b.New == nil {
		return fmt.Errorf("%w: %q", ErrInvalidBenchmark, b.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.benchmarks[b.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, b.Name)
	}
	r.benchmarks[b.Name] = b
	return nil
}

// MustRegister registers b and panics on error. Intended for init
// functions.
func (r *Registry) MustRegister(b Benchmark) {
	if err := r.Register(b); err != nil {
		panic(fmt.Sprintf("host: failed to register %s: %v", b.Name, err))
	}
}

// Get returns the benchmark registered under name.
func (r *Registry) Get(name string) (Benchmark, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.benchmarks[name]
	if !ok {
		return Benchmark{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return b, nil
}

// List returns every benchmark sorted by name.
func (r *Registry) List() []Benchmark {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Benchmark, 0, len(r.benchmarks))
	for _, b := range r.benchmarks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Match returns the benchmarks whose name matches the shell pattern, sorted
// by name. An empty pattern matches everything.
func (r *Registry) Match(pattern string) ([]Benchmark, error) {
	all := r.List()
	if pattern == "" {
		return all, nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}

	var out []Benchmark
	for _, b := range all {
		if ok, _ := path.Match(pattern, b.Name); ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// Len returns the number of registered benchmarks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.benchmarks)
}
