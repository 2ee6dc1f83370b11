// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rulerun-org/rulerun/internal/envmod"
	"github.com/rulerun-org/rulerun/internal/graph"
	"github.com/rulerun-org/rulerun/internal/types"
)

func testJob(name, shell string, inputs, outputs []string) *graph.Job {
	outs := make([]types.Output, len(outputs))
	for i, o := range outputs {
		outs[i] = types.Output{Path: o}
	}
	return &graph.Job{
		Rule:    &types.Rule{Name: name, Inputs: inputs, Outputs: outs, Shell: shell},
		Inputs:  inputs,
		Outputs: outputs,
	}
}

// fakeProvider records activation order and releases.
type fakeProvider struct {
	known       map[string]envmod.Env
	activated   []string
	deactivated []string
}

func (f *fakeProvider) Activate(module string) (envmod.Env, error) {
	env, ok := f.known[module]
	if !ok {
		return envmod.Env{}, &envmod.ModuleNotFoundError{Module: module}
	}
	f.activated = append(f.activated, module)
	return env, nil
}

func (f *fakeProvider) Deactivate(module string) error {
	f.deactivated = append(f.deactivated, module)
	return nil
}

func TestExecuteProducesOutput(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{Dir: dir})

	job := testJob("gen", "echo hello > {output}", nil, []string{"greeting.txt"})
	if err := e.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "greeting.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("unexpected output: %q", data)
	}
}

func TestExecuteSubstitutesQuotedPaths(t *testing.T) {
	dir := t.TempDir()
	src := "input with space.txt"
	if err := os.WriteFile(filepath.Join(dir, src), []byte("payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	e := New(Config{Dir: dir})
	job := testJob("copy", "cp {input} {output}", []string{src}, []string{"copied.txt"})
	if err := e.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "copied.txt")); err != nil {
		t.Fatalf("expected copied output: %v", err)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	e := New(Config{Dir: t.TempDir()})
	job := testJob("boom", "echo diagnostics >&2; exit 3", nil, nil)

	err := e.Execute(context.Background(), job)
	var execErr *JobExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected JobExecutionError, got %v", err)
	}
	if execErr.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", execErr.ExitCode)
	}
	if execErr.Output == "" {
		t.Fatalf("expected captured diagnostic output")
	}
}

func TestExecuteMissingOutput(t *testing.T) {
	e := New(Config{Dir: t.TempDir()})
	job := testJob("liar", "true", nil, []string{"never-written.txt"})

	err := e.Execute(context.Background(), job)
	var missing *MissingOutputError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingOutputError, got %v", err)
	}
	if missing.Path != "never-written.txt" {
		t.Fatalf("unexpected path: %q", missing.Path)
	}
}

func TestExecuteModuleScoping(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeProvider{known: map[string]envmod.Env{
		"gcc":     {Vars: map[string]string{"TOOL_A": "1"}},
		"openmpi": {Vars: map[string]string{"TOOL_B": "2"}},
	}}
	e := New(Config{Dir: dir, Modules: provider})

	job := testJob("env", `printf '%s|%s' "$TOOL_A" "$TOOL_B" > {output}`, nil, []string{"env.txt"})
	job.Rule.Modules = []string{"gcc", "openmpi"}

	if err := e.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "env.txt"))
	if string(data) != "1|2" {
		t.Fatalf("module env not applied: %q", data)
	}
	if len(provider.activated) != 2 || provider.activated[0] != "gcc" {
		t.Fatalf("activation order wrong: %v", provider.activated)
	}
	// Released in reverse order.
	if len(provider.deactivated) != 2 || provider.deactivated[0] != "openmpi" || provider.deactivated[1] != "gcc" {
		t.Fatalf("deactivation order wrong: %v", provider.deactivated)
	}
}

func TestExecuteModuleReleasedOnFailure(t *testing.T) {
	provider := &fakeProvider{known: map[string]envmod.Env{
		"gcc": {},
	}}
	e := New(Config{Dir: t.TempDir(), Modules: provider})

	job := testJob("boom", "exit 1", nil, nil)
	job.Rule.Modules = []string{"gcc"}

	if err := e.Execute(context.Background(), job); err == nil {
		t.Fatalf("expected failure")
	}
	if len(provider.deactivated) != 1 || provider.deactivated[0] != "gcc" {
		t.Fatalf("module not released on failure: %v", provider.deactivated)
	}
}

func TestExecuteUnknownModuleFailsJob(t *testing.T) {
	provider := &fakeProvider{known: map[string]envmod.Env{}}
	e := New(Config{Dir: t.TempDir(), Modules: provider})

	job := testJob("needs-module", "true", nil, nil)
	job.Rule.Modules = []string{"intel-mkl"}

	err := e.Execute(context.Background(), job)
	var notFound *envmod.ModuleNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ModuleNotFoundError, got %v", err)
	}
}

func TestExecuteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := New(Config{Dir: t.TempDir()})
	job := testJob("sleeper", "sleep 30", nil, nil)

	done := make(chan error, 1)
	go func() { done <- e.Execute(ctx, job) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		var cancelled *CancelledError
		if !errors.As(err, &cancelled) {
			t.Fatalf("expected CancelledError, got %v", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("CancelledError should unwrap to context.Canceled")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("cancelled job did not return")
	}
}

func TestExpandCommand(t *testing.T) {
	got := ExpandCommand("mpicc -o {output} {input}", []string{"pi_MPI.c"}, []string{"pi_MPI"})
	if got != "mpicc -o pi_MPI pi_MPI.c" {
		t.Fatalf("unexpected expansion: %q", got)
	}

	got = ExpandCommand("cat {input} > {output}", []string{"a b.txt"}, []string{"out.txt"})
	if got != `cat 'a b.txt' > out.txt` {
		t.Fatalf("expected quoted input, got %q", got)
	}
}
