// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package suite holds the benchmarks shipped with the aleutianbench
// command. They cover common Go workloads and double as a smoke test for
// the engine on a new machine.
package suite

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"github.com/AleutianAI/AleutianBench/services/bench/host"
)

// Tags used by the built-in benchmarks.
const (
	TagCPU    = "cpu"
	TagAlloc  = "alloc"
	TagString = "string"
	TagHash   = "hash"
)

// sink keeps results reachable so the compiler cannot drop the work.
var sink any

// Register adds every built-in benchmark to reg.
func Register(reg *host.Registry) error {
	for _, b := range Benchmarks() {
		if err := reg.Register(b); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in benchmarks.
func NewRegistry() *host.Registry {
	reg := host.NewRegistry()
	for _, b := range Benchmarks() {
		reg.MustRegister(b)
	}
	return reg
}

// Benchmarks returns the built-in benchmarks.
func Benchmarks() []host.Benchmark {
	return []host.Benchmark{
		{
			Name:        "strings/builder",
			Description: "Builds a 64 byte string with strings.Builder",
			Tags:        []string{TagString, TagAlloc},
			New: func() engine.Descriptor {
				return engine.Func("strings/builder", func() {
					var sb strings.Builder
					for i := 0; i < 16; i++ {
						sb.WriteString("abcd")
					}
					sink = sb.String()
				})
			},
		},
		{
			Name:        "strings/concat",
			Description: "Builds a 64 byte string with += concatenation",
			Tags:        []string{TagString, TagAlloc},
			New: func() engine.Descriptor {
				return engine.Func("strings/concat", func() {
					s := ""
					for i := 0; i < 16; i++ {
						s += "abcd"
					}
					sink = s
				})
			},
		},
		{
			Name:        "strconv/itoa",
			Description: "Formats 100 integers with strconv.Itoa",
			Tags:        []string{TagCPU, TagString},
			New: func() engine.Descriptor {
				d := engine.Func("strconv/itoa", func() {
					for i := 0; i < 100; i++ {
						sink = strconv.Itoa(i * 7919)
					}
				})
				d.OperationsPerInvoke = 100
				return d
			},
		},
		{
			Name:        "sort/ints-1k",
			Description: "Sorts a copy of 1024 shuffled integers",
			Tags:        []string{TagCPU},
			New:         newSortInts,
		},
		{
			Name:        "map/insert-1k",
			Description: "Inserts 1024 keys into a presized map",
			Tags:        []string{TagCPU, TagAlloc},
			New: func() engine.Descriptor {
				return engine.Func("map/insert-1k", func() {
					m := make(map[int]int, 1024)
					for i := 0; i < 1024; i++ {
						m[i] = i
					}
					sink = m
				})
			},
		},
		{
			Name:        "hash/sha256-1k",
			Description: "Hashes a 1 KiB buffer with SHA-256",
			Tags:        []string{TagHash, TagCPU},
			New:         newSHA256,
		},
		{
			Name:        "json/marshal",
			Description: "Encodes a small struct with encoding/json",
			Tags:        []string{TagAlloc},
			New:         newJSONMarshal,
		},
		{
			Name:        "alloc/slice-64",
			Description: "Allocates a 64 byte slice on the heap",
			Tags:        []string{TagAlloc},
			New: func() engine.Descriptor {
				return engine.Func("alloc/slice-64", func() {
					sink = make([]byte, 64)
				})
			},
		},
	}
}

func newSortInts() engine.Descriptor {
	var src, dst []int
	return engine.Descriptor{
		Name: "sort/ints-1k",
		GlobalSetup: func() error {
			rng := rand.New(rand.NewSource(42))
			src = rng.Perm(1024)
			dst = make([]int, len(src))
			return nil
		},
		Invoke: func() error {
			copy(dst, src)
			sort.Ints(dst)
			return nil
		},
		GlobalCleanup: func() error {
			if !sort.IntsAreSorted(dst) {
				return errors.New("sort/ints-1k: output not sorted")
			}
			src, dst = nil, nil
			return nil
		},
	}
}

func newSHA256() engine.Descriptor {
	var buf []byte
	return engine.Descriptor{
		Name: "hash/sha256-1k",
		GlobalSetup: func() error {
			buf = make([]byte, 1024)
			for i := range buf {
				buf[i] = byte(i)
			}
			return nil
		},
		Invoke: func() error {
			sum := sha256.Sum256(buf)
			sink = sum[0]
			return nil
		},
	}
}

type record struct {
	ID    int      `json:"id"`
	Name  string   `json:"name"`
	Tags  []string `json:"tags"`
	Score float64  `json:"score"`
}

func newJSONMarshal() engine.Descriptor {
	r := record{ID: 7, Name: "aleutian", Tags: []string{"a", "b", "c"}, Score: 0.75}
	return engine.Descriptor{
		Name: "json/marshal",
		Invoke: func() error {
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			sink = data
			return nil
		},
	}
}
