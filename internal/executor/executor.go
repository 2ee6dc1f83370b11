// SPDX-License-Identifier: AGPL-3.0-or-later

// Package executor runs one job as a subprocess: scoped environment-module
// activation, placeholder substitution, spawn, and post-run output
// verification.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rulerun-org/rulerun/internal/envmod"
	"github.com/rulerun-org/rulerun/internal/events"
	"github.com/rulerun-org/rulerun/internal/graph"
)

// diagTailLimit bounds the captured diagnostic output carried in
// JobExecutionError.
const diagTailLimit = 8 << 10

// JobExecutionError reports a job command that exited non-zero.
type JobExecutionError struct {
	Rule     string
	ExitCode int
	Output   string
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("job %q failed with exit code %d", e.Rule, e.ExitCode)
}

// MissingOutputError reports a declared output absent after a zero exit.
type MissingOutputError struct {
	Rule string
	Path string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("job %q exited successfully but did not produce output %q", e.Rule, e.Path)
}

// CancelledError reports a job terminated by run cancellation.
type CancelledError struct {
	Rule string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("job %q cancelled", e.Rule)
}

func (e *CancelledError) Unwrap() error { return context.Canceled }

// Config holds the execution context shared by all jobs of a run.
type Config struct {
	// Dir is the working directory commands run in; declared paths resolve
	// against it.
	Dir string
	// Modules provides environment-module activation; nil disables modules
	// (any declared module then fails the job).
	Modules envmod.Provider
	// BaseEnv is the rulefile-level environment overlay.
	BaseEnv map[string]string
	// Sink receives job.log events for subprocess output; may be nil.
	Sink  events.Sink
	RunID string
	// Stdout/Stderr receive raw subprocess output; nil discards.
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// Shell overrides the command interpreter; defaults to "sh".
	Shell string
}

// Executor executes jobs. Safe for concurrent use: all mutable state is per
// call.
type Executor struct {
	cfg Config
}

func New(cfg Config) *Executor {
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	return &Executor{cfg: cfg}
}

// Execute runs job to completion. The declared environment modules are
// activated before the command starts and deactivated on every exit path,
// in reverse activation order.
func (e *Executor) Execute(ctx context.Context, job *graph.Job) (err error) {
	rule := job.Rule

	env := os.Environ()
	for k, v := range e.cfg.BaseEnv {
		env = upsertEnv(env, k, v)
	}

	var activated []string
	defer func() {
		for i := len(activated) - 1; i >= 0; i-- {
			if derr := e.cfg.Modules.Deactivate(activated[i]); derr != nil && err == nil {
				err = derr
			}
		}
	}()
	for _, module := range rule.Modules {
		if e.cfg.Modules == nil {
			return &envmod.ModuleNotFoundError{Module: module}
		}
		overlay, aerr := e.cfg.Modules.Activate(module)
		if aerr != nil {
			return aerr
		}
		activated = append(activated, module)
		env = overlay.Apply(env)
	}

	command := ExpandCommand(rule.Shell, job.Inputs, job.Outputs)
	if e.cfg.Logger != nil {
		e.cfg.Logger.Debug("spawning job command",
			slog.String("rule", rule.Name),
			slog.String("command", command))
	}

	tail := newTailBuffer(diagTailLimit)
	stdout := events.NewJobWriter(e.cfg.Sink, e.cfg.RunID, rule.Name, "stdout", teeOrNil(e.cfg.Stdout, tail))
	stderr := events.NewJobWriter(e.cfg.Sink, e.cfg.RunID, rule.Name, "stderr", teeOrNil(e.cfg.Stderr, tail))

	cmd := exec.CommandContext(ctx, e.cfg.Shell, "-c", command)
	cmd.Dir = e.cfg.Dir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	stdout.Flush()
	stderr.Flush()
	duration := time.Since(start)

	if ctx.Err() != nil {
		return &CancelledError{Rule: rule.Name}
	}
	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &JobExecutionError{Rule: rule.Name, ExitCode: exitCode, Output: tail.String()}
	}

	for _, out := range job.Outputs {
		if !e.outputExists(out) {
			return &MissingOutputError{Rule: rule.Name, Path: out}
		}
	}

	if e.cfg.Logger != nil {
		e.cfg.Logger.Debug("job command finished",
			slog.String("rule", rule.Name),
			slog.Duration("duration", duration))
	}
	return nil
}

func (e *Executor) outputExists(path string) bool {
	if e.cfg.Dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(e.cfg.Dir, path)
	}
	// Glob output patterns are satisfied by at least one match.
	if strings.ContainsAny(path, "*?[") {
		matches, err := filepath.Glob(path)
		return err == nil && len(matches) > 0
	}
	_, err := os.Stat(path)
	return err == nil
}

// ExpandCommand substitutes the {input} and {output} placeholders with the
// shell-quoted, space-joined resolved paths.
func ExpandCommand(template string, inputs, outputs []string) string {
	replacer := strings.NewReplacer(
		"{input}", shellquote.Join(inputs...),
		"{output}", shellquote.Join(outputs...),
	)
	return replacer.Replace(template)
}

func teeOrNil(primary io.Writer, tail io.Writer) io.Writer {
	if primary == nil {
		return tail
	}
	return io.MultiWriter(primary, tail)
}

func upsertEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
