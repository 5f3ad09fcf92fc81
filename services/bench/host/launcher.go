// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianBench/services/bench/engine"
	"github.com/AleutianAI/AleutianBench/services/bench/measure"
)

// Launcher runs a registered benchmark and returns its pooled result.
//
// Implementations follow the engine contract: the Result is never nil and
// the error is non-nil exactly when the Result failed.
type Launcher interface {
	Launch(ctx context.Context, name string, job engine.Job) (*engine.Result, error)
}

// -----------------------------------------------------------------------------
// In-process
// -----------------------------------------------------------------------------

// InProcess runs every launch on the calling goroutine.
type InProcess struct {
	Registry *Registry
	Engine   *engine.Engine
}

// NewInProcess returns an in-process launcher. A nil engine is replaced by
// engine.New().
func NewInProcess(reg *Registry, eng *engine.Engine) *InProcess {
	if eng == nil {
		eng = engine.New()
	}
	return &InProcess{Registry: reg, Engine: eng}
}

// Launch implements Launcher.
func (p *InProcess) Launch(ctx context.Context, name string, job engine.Job) (*engine.Result, error) {
	b, err := p.Registry.Get(name)
	if err != nil {
		return lookupFailure(name, job, err)
	}
	return p.Engine.Run(ctx, b.Descriptor(), job)
}

func lookupFailure(name string, job engine.Job, err error) (*engine.Result, error) {
	f := &engine.Failure{Benchmark: name, Phase: engine.PhaseValidation, Err: err}
	r := engine.FailedResult(name, job, nil, f)
	r.RunID = uuid.NewString()
	r.StartedAt = time.Now()
	return r, f
}

// -----------------------------------------------------------------------------
// Out-of-process
// -----------------------------------------------------------------------------

// Process runs each launch in a fresh child process.
//
// Description:
//
//	The child is started as Executable followed by Args and the flags
//	"--benchmark <name> --launch <index>". The job is written to its stdin
//	as YAML; measurement and protocol lines are read from its stdout while
//	stderr is forwarded to the logger. Stdout and stderr are drained
//	concurrently so neither pipe can fill up and stall the child.
//
// Thread Safety: Safe for concurrent use; each Launch call owns its
// children.
type Process struct {
	Executable string
	Args       []string
	Env        []string
	Logger     *slog.Logger
}

// NewProcess returns a launcher that re-executes the running binary with
// the given child subcommand arguments.
func NewProcess(logger *slog.Logger, args ...string) (*Process, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}
	return &Process{Executable: exe, Args: args, Logger: logger}, nil
}

func (p *Process) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Launch implements Launcher.
func (p *Process) Launch(ctx context.Context, name string, job engine.Job) (*engine.Result, error) {
	started := time.Now()
	stamp := func(r *engine.Result, clockName string) {
		r.RunID = uuid.NewString()
		r.Clock = clockName
		r.StartedAt = started
		r.Duration = time.Since(started)
	}

	if err := job.Validate(); err != nil {
		f := &engine.Failure{Benchmark: name, Phase: engine.PhaseValidation, Err: err}
		r := engine.FailedResult(name, job, nil, f)
		stamp(r, "")
		return r, f
	}

	var (
		launches  []*engine.Launch
		clockName string
	)
	for i := 1; i <= job.LaunchCount; i++ {
		report, err := p.launchOne(ctx, name, job, i)
		if report != nil {
			launches = append(launches, report.Launch)
			if report.Clock != "" {
				clockName = report.Clock
			}
		}
		if err != nil {
			var f *engine.Failure
			switch {
			case ctx.Err() != nil:
				f = &engine.Failure{Benchmark: name, Phase: engine.PhaseCancelled, Err: ctx.Err()}
			case !errors.As(err, &f):
				f = &engine.Failure{Benchmark: name, Phase: engine.PhaseLaunch, Err: err}
			}
			r := engine.FailedResult(name, job, launches, f)
			stamp(r, clockName)
			return r, f
		}
	}

	r, err := engine.BuildResult(name, job, launches)
	if err != nil {
		f := &engine.Failure{Benchmark: name, Stage: measure.StageWorkload, Phase: engine.PhaseSummarize, Err: err}
		r = engine.FailedResult(name, job, launches, f)
		stamp(r, clockName)
		return r, f
	}
	stamp(r, clockName)
	return r, nil
}

// launchOne runs a single child and decodes its report.
func (p *Process) launchOne(ctx context.Context, name string, job engine.Job, index int) (*ChildReport, error) {
	logger := p.logger().With(slog.String("benchmark", name), slog.Int("launch", index))

	payload, err := yaml.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encoding job: %w", err)
	}

	args := append(append([]string{}, p.Args...), "--benchmark", name, "--launch", strconv.Itoa(index))
	cmd := exec.CommandContext(ctx, p.Executable, args...)
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening child stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening child stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("opening child stderr: %w", err)
	}

	logger.Debug("starting child", slog.String("executable", p.Executable), slog.Any("args", args))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting child: %w", err)
	}

	var report *ChildReport
	var g errgroup.Group
	g.Go(func() error {
		defer stdin.Close()
		if _, err := stdin.Write(payload); err != nil {
			return fmt.Errorf("writing job to child: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		report, err = DecodeLaunch(stdout, name, index)
		// Drain so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
		return err
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("child stderr", slog.String("line", scanner.Text()))
		}
		return nil
	})

	pipeErr := g.Wait()
	waitErr := cmd.Wait()

	if report != nil {
		for _, line := range report.Ignored {
			logger.Debug("ignored child output", slog.String("line", line))
		}
		if report.Failure != nil {
			return report, report.Failure
		}
	}
	if pipeErr != nil {
		return report, errors.Join(pipeErr, waitErr)
	}
	if waitErr != nil {
		return report, fmt.Errorf("child exited: %w", waitErr)
	}
	return report, nil
}

// -----------------------------------------------------------------------------
// Child
// -----------------------------------------------------------------------------

// ChildOptions identifies the launch a child process runs.
type ChildOptions struct {
	Benchmark   string
	LaunchIndex int
}

// RunChild is the child side of Process.
//
// Description:
//
//	Reads the job YAML from in, runs one launch of the named benchmark and
//	writes the protocol to out. A benchmark failure is reported on the
//	protocol and is not returned as an error: the parent decides how to
//	treat it. The returned error covers problems that prevent the
//	protocol from being written at all.
//
// Inputs:
//
//	ctx  - Checked between iterations.
//	reg  - Registry holding the benchmark.
//	opts - Benchmark name and launch index.
//	in   - Job YAML.
//	out  - Protocol output, normally stdout.
//	eopt - Extra engine options, such as a logger writing to stderr.
func RunChild(ctx context.Context, reg *Registry, opts ChildOptions, in io.Reader, out io.Writer, eopt ...engine.Option) error {
	w := NewProtocolWriter(out)

	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading job: %w", err)
	}
	job := engine.DefaultJob()
	if err := yaml.Unmarshal(data, &job); err != nil {
		return w.WriteTrailer(nil, &engine.Failure{
			Benchmark: opts.Benchmark,
			Phase:     engine.PhaseValidation,
			Err:       fmt.Errorf("%w: %v", engine.ErrInvalidJob, err),
		})
	}

	b, err := reg.Get(opts.Benchmark)
	if err != nil {
		return w.WriteTrailer(nil, &engine.Failure{Benchmark: opts.Benchmark, Phase: engine.PhaseValidation, Err: err})
	}

	eng := engine.New(append(eopt, engine.WithObserver(w))...)
	if err := w.WriteClock(eng.Clock().Name()); err != nil {
		return err
	}
	l, err := eng.RunLaunch(ctx, b.Descriptor(), job, opts.LaunchIndex)
	return w.WriteTrailer(l, err)
}
