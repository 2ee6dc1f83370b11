// SPDX-License-Identifier: AGPL-3.0-or-later
package graph

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rulerun-org/rulerun/internal/registry"
	"github.com/rulerun-org/rulerun/internal/types"
)

func mustRegister(t *testing.T, r *registry.Registry, name string, inputs []string, outputs ...string) *types.Rule {
	t.Helper()
	outs := make([]types.Output, len(outputs))
	for i, o := range outputs {
		outs[i] = types.Output{Path: o}
	}
	rule := &types.Rule{Name: name, Inputs: inputs, Outputs: outs, Shell: "true"}
	if err := r.Register(rule); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return rule
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(name+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestBuildTwoJobPipeline(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "pi_MPI.c")

	reg := registry.New()
	mustRegister(t, reg, "compile", []string{"pi_MPI.c"}, "pi_MPI")
	mustRegister(t, reg, "calc_pi", []string{"pi_MPI"}, "pi.calc")

	b := &Builder{Registry: reg, Dir: dir}
	g, err := b.Build([]string{"pi.calc"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(g.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(g.Jobs))
	}
	calc, ok := g.Producer("pi.calc")
	if !ok || calc.Rule.Name != "calc_pi" {
		t.Fatalf("expected calc_pi to produce pi.calc")
	}
	if len(calc.Deps()) != 1 || calc.Deps()[0].Rule.Name != "compile" {
		t.Fatalf("expected compile as sole predecessor, got %v", calc.Deps())
	}
	if len(g.Sources) != 1 || g.Sources[0] != "pi_MPI.c" {
		t.Fatalf("expected pi_MPI.c as source leaf, got %v", g.Sources)
	}
}

func TestSharedDependencyMemoized(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "raw.txt")

	reg := registry.New()
	mustRegister(t, reg, "prep", []string{"raw.txt"}, "clean.txt")
	mustRegister(t, reg, "left", []string{"clean.txt"}, "left.out")
	mustRegister(t, reg, "right", []string{"clean.txt"}, "right.out")

	b := &Builder{Registry: reg, Dir: dir}
	g, err := b.Build([]string{"left.out", "right.out"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(g.Jobs) != 3 {
		t.Fatalf("expected 3 jobs (shared prep instantiated once), got %d", len(g.Jobs))
	}
	prep, _ := g.Producer("clean.txt")
	if len(prep.Dependents()) != 2 {
		t.Fatalf("expected prep to have 2 dependents, got %d", len(prep.Dependents()))
	}
}

func TestCycleDetected(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, "a", []string{"b.out"}, "a.out")
	mustRegister(t, reg, "b", []string{"a.out"}, "b.out")

	b := &Builder{Registry: reg, Dir: t.TempDir()}
	_, err := b.Build([]string{"a.out"})
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	var cyc *CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicDependencyError, got %T: %v", err, err)
	}
	if len(cyc.Rules) < 3 || cyc.Rules[0] != cyc.Rules[len(cyc.Rules)-1] {
		t.Fatalf("cycle should start and end with the same rule: %v", cyc.Rules)
	}
}

func TestSelfCycleDetected(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, "loop", []string{"loop.out"}, "loop.out")

	b := &Builder{Registry: reg, Dir: t.TempDir()}
	_, err := b.Build([]string{"loop.out"})
	var cyc *CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
}

func TestMissingProducerFatal(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, "a", []string{"nowhere.txt"}, "a.out")

	b := &Builder{Registry: reg, Dir: t.TempDir()}
	_, err := b.Build([]string{"a.out"})
	var noProd *registry.NoProducerError
	if !errors.As(err, &noProd) {
		t.Fatalf("expected NoProducerError, got %v", err)
	}
	if noProd.Path != "nowhere.txt" || noProd.RequiredBy != "a" {
		t.Fatalf("unexpected fields: %+v", noProd)
	}
}

func TestTopologicalOrder(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "src")

	reg := registry.New()
	mustRegister(t, reg, "one", []string{"src"}, "mid")
	mustRegister(t, reg, "two", []string{"mid"}, "end")

	b := &Builder{Registry: reg, Dir: dir}
	g, err := b.Build([]string{"end"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	order := g.TopologicalOrder()
	if len(order) != 2 || order[0].Rule.Name != "one" || order[1].Rule.Name != "two" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestNeedRunFreshBuild(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "pi_MPI.c")

	reg := registry.New()
	mustRegister(t, reg, "compile", []string{"pi_MPI.c"}, "pi_MPI")
	mustRegister(t, reg, "calc_pi", []string{"pi_MPI"}, "pi.calc")

	b := &Builder{Registry: reg, Dir: dir}
	g, err := b.Build([]string{"pi.calc"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b.ComputeNeedRun(g, false)
	for _, j := range g.Jobs {
		if !j.NeedsRun {
			t.Fatalf("fresh build: job %s should need to run", j.Rule.Name)
		}
	}
}

func TestNeedRunUpToDate(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "pi_MPI.c")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "pi_MPI.c"), old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	// Outputs newer than the source; the temporary intermediate is gone, as
	// after a successful prior run.
	touch(t, dir, "pi.calc")

	reg := registry.New()
	mustRegister(t, reg, "compile", []string{"pi_MPI.c"}, "pi_MPI")
	mustRegister(t, reg, "calc_pi", []string{"pi_MPI"}, "pi.calc")

	b := &Builder{Registry: reg, Dir: dir}
	g, err := b.Build([]string{"pi.calc"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b.ComputeNeedRun(g, false)
	for _, j := range g.Jobs {
		if j.NeedsRun {
			t.Fatalf("up-to-date build: job %s should not need to run", j.Rule.Name)
		}
	}
}

func TestNeedRunStaleSourcePropagates(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-time.Hour)
	touch(t, dir, "pi.calc")
	if err := os.Chtimes(filepath.Join(dir, "pi.calc"), old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	touch(t, dir, "pi_MPI.c") // newer than the final output

	reg := registry.New()
	mustRegister(t, reg, "compile", []string{"pi_MPI.c"}, "pi_MPI")
	mustRegister(t, reg, "calc_pi", []string{"pi_MPI"}, "pi.calc")

	b := &Builder{Registry: reg, Dir: dir}
	g, err := b.Build([]string{"pi.calc"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b.ComputeNeedRun(g, false)
	for _, j := range g.Jobs {
		if !j.NeedsRun {
			t.Fatalf("stale source: job %s should need to run", j.Rule.Name)
		}
	}
}

func TestNeedRunForceAll(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "in")
	touch(t, dir, "out")

	reg := registry.New()
	mustRegister(t, reg, "r", []string{"in"}, "out")

	b := &Builder{Registry: reg, Dir: dir}
	g, err := b.Build([]string{"out"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b.ComputeNeedRun(g, true)
	if !g.Jobs[0].NeedsRun {
		t.Fatalf("force must mark every job")
	}
}
