// SPDX-License-Identifier: AGPL-3.0-or-later

// Package graph builds the job DAG for a set of requested targets.
//
// Resolution is depth-first from each target: a path is either produced by a
// registered rule (instantiate a job, recurse on its inputs) or must already
// exist on durable storage (a source leaf). Jobs are memoized by resolved
// output path so shared upstream dependencies yield a single job.
package graph

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rulerun-org/rulerun/internal/registry"
	"github.com/rulerun-org/rulerun/internal/types"
)

// Status is the lifecycle state of a job within one run.
type Status int

const (
	Pending Status = iota
	Ready
	Running
	Succeeded
	Failed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed || s == Skipped
}

// Job is one concrete instantiation of a rule within a run. The scheduler is
// the sole mutator of Status, Err, and Cached once execution starts.
type Job struct {
	Rule    *types.Rule
	Inputs  []string
	Outputs []string

	Status Status
	Err    error

	// Cached marks a job that completed as Succeeded without executing
	// because its outputs were already up to date.
	Cached bool

	// NeedsRun is the staleness verdict computed by ComputeNeedRun; jobs
	// with NeedsRun false complete as cached.
	NeedsRun bool

	// Seq is the creation order during graph construction; the final
	// scheduling tie-breaker.
	Seq int

	deps       []*Job
	dependents []*Job
}

// Deps returns the predecessor jobs (producers of this job's inputs).
func (j *Job) Deps() []*Job { return j.deps }

// Dependents returns the successor jobs (consumers of this job's outputs).
func (j *Job) Dependents() []*Job { return j.dependents }

// TemporaryOutputs returns the subset of resolved outputs flagged temporary.
func (j *Job) TemporaryOutputs() []string {
	var out []string
	for _, o := range j.Rule.Outputs {
		if o.Temporary {
			out = append(out, o.Path)
		}
	}
	return out
}

// Graph is the acyclic job DAG for one run.
type Graph struct {
	Jobs    []*Job
	Targets []string

	// Sources are requested or required paths satisfied by pre-existing
	// files rather than jobs.
	Sources []string

	byOutput map[string]*Job
}

// Producer returns the job producing path, if any.
func (g *Graph) Producer(path string) (*Job, bool) {
	j, ok := g.byOutput[path]
	return j, ok
}

// CyclicDependencyError reports a dependency cycle among rules. Rules lists
// the cycle in resolution order, first rule repeated at the end.
type CyclicDependencyError struct {
	Rules []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency among rules: %s", strings.Join(e.Rules, " -> "))
}

// Builder constructs job graphs against a registry. Dir anchors relative
// paths when probing durable storage; the zero value probes relative to the
// working directory.
type Builder struct {
	Registry *registry.Registry
	Dir      string

	// Stat is the storage probe; defaults to os.Stat. Overridable in tests.
	Stat func(string) (os.FileInfo, error)
}

func (b *Builder) stat(path string) (os.FileInfo, error) {
	statFn := b.Stat
	if statFn == nil {
		statFn = os.Stat
	}
	if b.Dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(b.Dir, path)
	}
	return statFn(path)
}

func (b *Builder) exists(path string) bool {
	_, err := b.stat(path)
	return err == nil
}

// visitation markers for cycle detection
type mark int

const (
	unvisited mark = iota
	inProgress
	done
)

// Build resolves targets to a DAG covering all transitive dependencies.
// Construction fails before any execution on unresolvable paths
// (NoProducerError) and dependency cycles (CyclicDependencyError).
func (b *Builder) Build(targets []string) (*Graph, error) {
	g := &Graph{
		Targets:  append([]string(nil), targets...),
		byOutput: make(map[string]*Job),
	}
	jobsByRule := make(map[string]*Job)
	marks := make(map[string]mark)
	var stack []string

	var resolve func(path, requiredBy string) (*Job, error)
	resolve = func(path, requiredBy string) (*Job, error) {
		if j, ok := g.byOutput[path]; ok {
			// Shared dependency: re-entering the producing rule while it is
			// still on the resolution stack means a cycle.
			if marks[j.Rule.Name] == inProgress {
				return nil, cycleError(stack, j.Rule.Name)
			}
			return j, nil
		}

		rule, ok := b.Registry.LookupProducer(path)
		if !ok {
			if b.exists(path) {
				g.Sources = append(g.Sources, path)
				return nil, nil
			}
			return nil, &registry.NoProducerError{Path: path, RequiredBy: requiredBy}
		}

		if marks[rule.Name] == inProgress {
			return nil, cycleError(stack, rule.Name)
		}
		if j, ok := jobsByRule[rule.Name]; ok {
			g.byOutput[path] = j
			return j, nil
		}

		marks[rule.Name] = inProgress
		stack = append(stack, rule.Name)

		job := &Job{
			Rule:     rule,
			Inputs:   append([]string(nil), rule.Inputs...),
			Outputs:  rule.OutputPaths(),
			Seq:      len(g.Jobs),
			NeedsRun: true,
		}
		g.Jobs = append(g.Jobs, job)
		jobsByRule[rule.Name] = job
		for _, out := range job.Outputs {
			g.byOutput[out] = job
		}
		g.byOutput[path] = job

		for _, in := range job.Inputs {
			dep, err := resolve(in, rule.Name)
			if err != nil {
				return nil, err
			}
			if dep != nil && dep != job && !containsJob(job.deps, dep) {
				job.deps = append(job.deps, dep)
				dep.dependents = append(dep.dependents, job)
			}
		}

		stack = stack[:len(stack)-1]
		marks[rule.Name] = done
		return job, nil
	}

	for _, target := range targets {
		if _, err := resolve(target, ""); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func containsJob(jobs []*Job, j *Job) bool {
	for _, cur := range jobs {
		if cur == j {
			return true
		}
	}
	return false
}

func cycleError(stack []string, repeat string) *CyclicDependencyError {
	start := 0
	for i, name := range stack {
		if name == repeat {
			start = i
			break
		}
	}
	cycle := append([]string(nil), stack[start:]...)
	cycle = append(cycle, repeat)
	return &CyclicDependencyError{Rules: cycle}
}

// TopologicalOrder returns the jobs predecessors-first using Kahn's
// algorithm. The graph is acyclic by construction, so this always succeeds.
func (g *Graph) TopologicalOrder() []*Job {
	inDegree := make(map[*Job]int, len(g.Jobs))
	for _, j := range g.Jobs {
		inDegree[j] = len(j.deps)
	}
	queue := make([]*Job, 0, len(g.Jobs))
	for _, j := range g.Jobs {
		if inDegree[j] == 0 {
			queue = append(queue, j)
		}
	}
	ordered := make([]*Job, 0, len(g.Jobs))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		ordered = append(ordered, cur)
		for _, dep := range cur.dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	return ordered
}
