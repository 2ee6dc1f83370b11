// SPDX-License-Identifier: AGPL-3.0-or-later
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/rulerun-org/rulerun/internal/artifact"
	"github.com/rulerun-org/rulerun/internal/envmod"
	"github.com/rulerun-org/rulerun/internal/events"
	"github.com/rulerun-org/rulerun/internal/executor"
	"github.com/rulerun-org/rulerun/internal/graph"
	"github.com/rulerun-org/rulerun/internal/registry"
	"github.com/rulerun-org/rulerun/internal/rulefile"
	"github.com/rulerun-org/rulerun/internal/runlog"
	"github.com/rulerun-org/rulerun/internal/scheduler"
)

// ModulesManifestName is the environment-module manifest looked up next to
// the rulefile.
const ModulesManifestName = "modules.yaml"

// NoTargetsError is returned when neither the invocation nor the rulefile
// names a target.
type NoTargetsError struct{}

func (e *NoTargetsError) Error() string {
	return "no targets: pass them on the command line or set default_targets in the rulefile"
}

// Options configures a single run.
type Options struct {
	// Dir is the working directory declared paths resolve against.
	// Defaults to ".".
	Dir string
	// RulefilePath overrides the default <Dir>/rules.yaml.
	RulefilePath string
	// Targets overrides the rulefile's default_targets.
	Targets []string

	Budget   scheduler.Budget
	DryRun   bool
	ForceAll bool
	KeepTemp bool

	// RunID is generated when empty.
	RunID string
	// Sink receives run events; may be nil.
	Sink events.Sink
	// Store persists run history; may be nil.
	Store  *runlog.Store
	Logger *slog.Logger

	// Stdout/Stderr receive raw job output; nil discards.
	Stdout io.Writer
	Stderr io.Writer
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.RulefilePath == "" {
		opts.RulefilePath = filepath.Join(opts.Dir, rulefile.DefaultName)
	}
	if opts.RunID == "" {
		opts.RunID = events.GenerateRunID()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Report summarises a completed (or planned) run.
type Report struct {
	RunID   string
	Targets []string

	Executed int
	Cached   int
	Failed   int
	Skipped  int

	// DeletedArtifacts lists temporary outputs removed during the run.
	DeletedArtifacts []string

	// Jobs holds the full graph in topological order, with terminal
	// statuses after a real run and NeedsRun flags after a dry run.
	Jobs []*graph.Job
}

// Run loads the rulefile, builds and schedules the dependency graph for the
// requested targets, and returns a report. The error, when non-nil, is the
// scheduler's terminal error or a load/build failure; in either case the
// report carries whatever progressed.
func Run(ctx context.Context, o Options) (*Report, error) {
	opts := o.withDefaults()

	rf, reg, err := rulefile.Load(opts.RulefilePath)
	if err != nil {
		return nil, err
	}

	targets := opts.Targets
	if len(targets) == 0 {
		targets = rf.DefaultTargets
	}
	if len(targets) == 0 {
		return nil, &NoTargetsError{}
	}

	b := &graph.Builder{Registry: reg, Dir: opts.Dir}
	g, err := b.Build(targets)
	if err != nil {
		return nil, err
	}
	b.ComputeNeedRun(g, opts.ForceAll)

	report := &Report{
		RunID:   opts.RunID,
		Targets: targets,
		Jobs:    g.TopologicalOrder(),
	}

	if opts.DryRun {
		for _, j := range report.Jobs {
			if j.NeedsRun {
				report.Executed++
			} else {
				report.Cached++
			}
		}
		return report, nil
	}

	modules, err := envmod.LoadManifest(filepath.Join(opts.Dir, ModulesManifestName))
	if err != nil {
		return nil, fmt.Errorf("load modules manifest: %w", err)
	}

	exec := executor.New(executor.Config{
		Dir:     opts.Dir,
		Modules: modules,
		BaseEnv: rf.Env,
		Sink:    opts.Sink,
		RunID:   opts.RunID,
		Stdout:  opts.Stdout,
		Stderr:  opts.Stderr,
		Logger:  opts.Logger,
	})

	artifacts := artifact.NewManager(opts.Dir, g, opts.KeepTemp)

	sched := &scheduler.Scheduler{
		Exec:   exec,
		Budget: opts.Budget,
		Sink:   opts.Sink,
		RunID:  opts.RunID,
		Logger: opts.Logger,
		OnSucceeded: func(job *graph.Job) error {
			deleted, err := artifacts.OnJobSucceeded(job)
			for _, path := range deleted {
				report.DeletedArtifacts = append(report.DeletedArtifacts, path)
				if opts.Sink != nil {
					opts.Sink.EmitArtifactDelete(opts.RunID, path)
				}
			}
			return err
		},
	}

	if opts.Sink != nil {
		opts.Sink.EmitRunStart(opts.RunID, targets)
	}
	if err := opts.Store.RecordRunStart(ctx, opts.RunID, targets); err != nil {
		opts.Logger.Warn("run log unavailable", "error", err)
	}

	runErr := sched.Run(ctx, g)

	for _, j := range report.Jobs {
		switch j.Status {
		case graph.Succeeded:
			if j.Cached {
				report.Cached++
			} else {
				report.Executed++
			}
		case graph.Failed:
			report.Failed++
		case graph.Skipped:
			report.Skipped++
		}
	}

	status := runStatus(runErr)
	recordResults(ctx, opts, report, status)
	if opts.Sink != nil {
		opts.Sink.EmitRunFinish(opts.RunID, status, runErr)
	}
	return report, runErr
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return runlog.RunStatusSucceeded
	case errors.Is(err, context.Canceled):
		return runlog.RunStatusCancelled
	default:
		return runlog.RunStatusFailed
	}
}

func recordResults(ctx context.Context, opts Options, report *Report, status string) {
	for _, j := range report.Jobs {
		if !j.Status.Terminal() {
			continue
		}
		detail := ""
		exitCode := 0
		if j.Err != nil {
			detail = j.Err.Error()
			var execErr *executor.JobExecutionError
			if errors.As(j.Err, &execErr) {
				exitCode = execErr.ExitCode
			}
		}
		jobStatus := j.Status.String()
		if j.Cached {
			jobStatus = "cached"
		}
		if err := opts.Store.RecordJobResult(ctx, opts.RunID, j.Rule.Name, jobStatus, exitCode, detail); err != nil {
			opts.Logger.Warn("run log write failed", "rule", j.Rule.Name, "error", err)
			return
		}
	}
	counts := runlog.Counts{
		Executed: report.Executed,
		Cached:   report.Cached,
		Failed:   report.Failed,
		Skipped:  report.Skipped,
	}
	if err := opts.Store.FinishRun(ctx, opts.RunID, status, counts); err != nil {
		opts.Logger.Warn("run log write failed", "error", err)
	}
}

// Clean removes every output declared by the rulefile at rulefilePath,
// returning the paths actually removed.
func Clean(dir, rulefilePath string) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	if rulefilePath == "" {
		rulefilePath = filepath.Join(dir, rulefile.DefaultName)
	}
	_, reg, err := rulefile.Load(rulefilePath)
	if err != nil {
		return nil, err
	}
	return artifact.Clean(dir, reg)
}

// LoadRegistry loads the rulefile for inspection commands.
func LoadRegistry(dir, rulefilePath string) (*registry.Registry, error) {
	if dir == "" {
		dir = "."
	}
	if rulefilePath == "" {
		rulefilePath = filepath.Join(dir, rulefile.DefaultName)
	}
	_, reg, err := rulefile.Load(rulefilePath)
	return reg, err
}
