// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scheduler walks a job graph: topological dispatch under a per-key
// resource budget, genuinely parallel execution of independent jobs, and
// transitive skip propagation on failure.
//
// The scheduling loop is the sole mutator of job status and budget
// accounting. Jobs run in their own goroutines and report completion over a
// channel; the loop blocks only while at least one job is running, so wakeup
// is event-driven rather than polled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rulerun-org/rulerun/internal/events"
	"github.com/rulerun-org/rulerun/internal/executor"
	"github.com/rulerun-org/rulerun/internal/graph"
)

// Budget caps the per-key sum of resource requests across concurrently
// running jobs. Keys absent from the budget are unbounded.
type Budget map[string]int64

// ParseBudget decodes repeated key=value declarations.
func ParseBudget(pairs []string) (Budget, error) {
	b := make(Budget, len(pairs))
	for _, pair := range pairs {
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid budget entry %q, expected key=value", pair)
		}
		var n int64
		if _, err := fmt.Sscanf(val, "%d", &n); err != nil || n < 0 {
			return nil, fmt.Errorf("invalid budget value %q for key %q", val, key)
		}
		b[strings.TrimSpace(key)] = n
	}
	return b, nil
}

// ResourceExhaustedError reports a job whose declared request can never fit
// the configured budget. It is raised before any job executes.
type ResourceExhaustedError struct {
	Rule     string
	Key      string
	Need     int64
	Capacity int64
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("job %q requests %s=%d but the budget allows at most %d",
		e.Rule, e.Key, e.Need, e.Capacity)
}

// RunFailedError is the terminal error when at least one job failed; the
// per-job detail lives on the jobs themselves.
type RunFailedError struct {
	Failed  int
	Skipped int
}

func (e *RunFailedError) Error() string {
	if e.Skipped > 0 {
		return fmt.Sprintf("%d job(s) failed, %d skipped", e.Failed, e.Skipped)
	}
	return fmt.Sprintf("%d job(s) failed", e.Failed)
}

// Executor runs a single job to completion.
type Executor interface {
	Execute(ctx context.Context, job *graph.Job) error
}

// Scheduler executes one graph. Construct a fresh value per run.
type Scheduler struct {
	Exec   Executor
	Budget Budget
	Sink   events.Sink
	RunID  string
	Logger *slog.Logger

	// OnSucceeded runs in the scheduling loop after a job reaches
	// Succeeded; the artifact lifecycle hook. Optional.
	OnSucceeded func(job *graph.Job) error
}

type completion struct {
	job *graph.Job
	err error
}

// Run executes every job in the graph exactly once. Jobs whose NeedsRun flag
// is false complete as cached without executing. It returns nil when all
// jobs succeeded, a ResourceExhaustedError before anything ran when a
// request cannot fit, context.Canceled when cancelled, and RunFailedError
// otherwise.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph) error {
	if err := s.checkFeasible(g); err != nil {
		return err
	}

	unblocks := transitiveDependents(g)
	pendingDeps := make(map[*graph.Job]int, len(g.Jobs))
	var ready []*graph.Job
	for _, j := range g.Jobs {
		pendingDeps[j] = len(j.Deps())
		if pendingDeps[j] == 0 {
			j.Status = graph.Ready
			ready = append(ready, j)
		}
	}

	used := make(map[string]int64, len(s.Budget))
	done := make(chan completion)
	running := 0
	remaining := len(g.Jobs)
	cancelled := false

	markSucceeded := func(j *graph.Job, cached bool) {
		j.Status = graph.Succeeded
		j.Cached = cached
		remaining--
		status := "succeeded"
		if cached {
			status = "cached"
		}
		if s.Sink != nil {
			s.Sink.EmitJobFinish(s.RunID, j.Rule.Name, status, 0, nil)
		}
		if s.OnSucceeded != nil {
			if err := s.OnSucceeded(j); err != nil && s.Logger != nil {
				s.Logger.Warn("artifact cleanup failed",
					slog.String("rule", j.Rule.Name),
					slog.String("error", err.Error()))
			}
		}
		for _, dep := range j.Dependents() {
			pendingDeps[dep]--
			if pendingDeps[dep] == 0 && dep.Status == graph.Pending {
				dep.Status = graph.Ready
				ready = append(ready, dep)
			}
		}
	}

	skipDependents := func(j *graph.Job) {
		queue := append([]*graph.Job(nil), j.Dependents()...)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if cur.Status.Terminal() || cur.Status == graph.Running {
				continue
			}
			cur.Status = graph.Skipped
			remaining--
			ready = removeJob(ready, cur)
			if s.Sink != nil {
				s.Sink.EmitJobFinish(s.RunID, cur.Rule.Name, "skipped", 0, nil)
			}
			queue = append(queue, cur.Dependents()...)
		}
	}

	markFailed := func(j *graph.Job, err error) {
		j.Status = graph.Failed
		j.Err = err
		remaining--
		exitCode := -1
		var execErr *executor.JobExecutionError
		if errors.As(err, &execErr) {
			exitCode = execErr.ExitCode
		}
		if s.Sink != nil {
			s.Sink.EmitJobFinish(s.RunID, j.Rule.Name, "failed", exitCode, err)
		}
		skipDependents(j)
	}

	dispatch := func() {
		for progress := true; progress; {
			progress = false
			sort.SliceStable(ready, func(a, b int) bool {
				ja, jb := ready[a], ready[b]
				if unblocks[ja] != unblocks[jb] {
					return unblocks[ja] > unblocks[jb]
				}
				return ja.Seq < jb.Seq
			})
			for i := 0; i < len(ready); {
				j := ready[i]
				if !j.NeedsRun {
					ready = append(ready[:i], ready[i+1:]...)
					markSucceeded(j, true)
					// Unblocked jobs were appended out of order; re-sort
					// before dispatching them.
					progress = true
					break
				}
				if cancelled || !s.fits(used, j) {
					i++
					continue
				}
				ready = append(ready[:i], ready[i+1:]...)
				s.reserve(used, j)
				j.Status = graph.Running
				if s.Sink != nil {
					s.Sink.EmitJobStart(s.RunID, j.Rule.Name)
				}
				running++
				go func(j *graph.Job) {
					done <- completion{job: j, err: s.Exec.Execute(ctx, j)}
				}(j)
			}
		}
	}

	for remaining > 0 {
		dispatch()
		if running == 0 {
			if cancelled || len(ready) == 0 {
				break
			}
			// Feasibility was validated up front, so an idle loop with
			// ready jobs means the graph is inconsistent.
			return fmt.Errorf("scheduler stalled with %d job(s) ready", len(ready))
		}

		select {
		case c := <-done:
			running--
			s.release(used, c.job)
			if c.err != nil {
				markFailed(c.job, c.err)
			} else {
				markSucceeded(c.job, false)
			}
		case <-ctx.Done():
			cancelled = true
			// Running jobs observe the context through their subprocesses;
			// drain them before reporting.
			for running > 0 {
				c := <-done
				running--
				s.release(used, c.job)
				if c.err != nil {
					markFailed(c.job, c.err)
				} else {
					markSucceeded(c.job, false)
				}
			}
		}
	}

	if cancelled {
		for _, j := range g.Jobs {
			if !j.Status.Terminal() {
				j.Status = graph.Skipped
				if s.Sink != nil {
					s.Sink.EmitJobFinish(s.RunID, j.Rule.Name, "skipped", 0, nil)
				}
			}
		}
		return context.Canceled
	}

	failed, skipped := 0, 0
	for _, j := range g.Jobs {
		switch j.Status {
		case graph.Failed:
			failed++
		case graph.Skipped:
			skipped++
		}
	}
	if failed > 0 {
		return &RunFailedError{Failed: failed, Skipped: skipped}
	}
	return nil
}

// checkFeasible rejects, before execution, any job whose request exceeds the
// total budget on some key.
func (s *Scheduler) checkFeasible(g *graph.Graph) error {
	for _, j := range g.Jobs {
		for key, need := range j.Rule.Resources.Numeric() {
			capacity, ok := s.Budget[key]
			if !ok {
				continue
			}
			if need > capacity {
				return &ResourceExhaustedError{Rule: j.Rule.Name, Key: key, Need: need, Capacity: capacity}
			}
		}
	}
	return nil
}

func (s *Scheduler) fits(used map[string]int64, j *graph.Job) bool {
	for key, need := range j.Rule.Resources.Numeric() {
		capacity, ok := s.Budget[key]
		if !ok {
			continue
		}
		if used[key]+need > capacity {
			return false
		}
	}
	return true
}

func (s *Scheduler) reserve(used map[string]int64, j *graph.Job) {
	for key, need := range j.Rule.Resources.Numeric() {
		if _, ok := s.Budget[key]; ok {
			used[key] += need
		}
	}
}

func (s *Scheduler) release(used map[string]int64, j *graph.Job) {
	for key, need := range j.Rule.Resources.Numeric() {
		if _, ok := s.Budget[key]; ok {
			used[key] -= need
		}
	}
}

// transitiveDependents counts, per job, how many downstream jobs its
// completion contributes to unblocking. Used as the dispatch tie-breaker.
func transitiveDependents(g *graph.Graph) map[*graph.Job]int {
	counts := make(map[*graph.Job]int, len(g.Jobs))
	order := g.TopologicalOrder()
	reach := make(map[*graph.Job]map[*graph.Job]bool, len(g.Jobs))
	for i := len(order) - 1; i >= 0; i-- {
		j := order[i]
		set := make(map[*graph.Job]bool)
		for _, dep := range j.Dependents() {
			set[dep] = true
			for r := range reach[dep] {
				set[r] = true
			}
		}
		reach[j] = set
		counts[j] = len(set)
	}
	return counts
}

func removeJob(jobs []*graph.Job, j *graph.Job) []*graph.Job {
	for i, cur := range jobs {
		if cur == j {
			return append(jobs[:i], jobs[i+1:]...)
		}
	}
	return jobs
}
