// SPDX-License-Identifier: AGPL-3.0-or-later
package graph

import (
	"time"
)

// ComputeNeedRun decides, per job, whether it must execute or can complete as
// cached. The policy is timestamp comparison:
//
//   - a job must run when any predecessor must run (its inputs will be
//     regenerated),
//   - when an output backing a requested target is missing,
//   - or when an input's effective timestamp is newer than the job's oldest
//     output.
//
// The effective timestamp of a path on storage is its mtime; for a produced
// path absent from storage (e.g. a deleted temporary) it is inherited
// transitively from the producer's inputs. A missing intermediate output
// alone therefore does not force a run; it only does so once a consumer that
// will run needs it as an input. That upward demand can invalidate further
// consumers, so the pass iterates to a fixpoint (bounded by the job count).
// With force true every job runs.
func (b *Builder) ComputeNeedRun(g *Graph, force bool) {
	if force {
		for _, j := range g.Jobs {
			j.NeedsRun = true
		}
		return
	}

	targetSet := make(map[string]bool, len(g.Targets))
	for _, t := range g.Targets {
		targetSet[t] = true
	}

	mtimes := make(map[string]time.Time)
	var effectiveMTime func(path string) time.Time
	effectiveMTime = func(path string) time.Time {
		if ts, ok := mtimes[path]; ok {
			return ts
		}
		// Seed before recursing; the graph is acyclic so this only guards
		// repeated lookups.
		mtimes[path] = time.Time{}
		var ts time.Time
		if info, err := b.stat(path); err == nil {
			ts = info.ModTime()
		} else if producer, ok := g.byOutput[path]; ok {
			for _, in := range producer.Inputs {
				if t := effectiveMTime(in); t.After(ts) {
					ts = t
				}
			}
		}
		mtimes[path] = ts
		return ts
	}

	selfStale := func(j *Job) bool {
		var oldestOut time.Time
		haveOut := false
		for _, out := range j.Outputs {
			info, err := b.stat(out)
			if err != nil {
				if targetSet[out] {
					return true
				}
				continue
			}
			if !haveOut || info.ModTime().Before(oldestOut) {
				oldestOut = info.ModTime()
				haveOut = true
			}
		}
		if !haveOut {
			// Nothing on storage and nothing requested directly: defer to
			// downstream demand.
			return false
		}
		for _, in := range j.Inputs {
			if effectiveMTime(in).After(oldestOut) {
				return true
			}
		}
		return false
	}

	order := g.TopologicalOrder()
	for _, j := range order {
		j.NeedsRun = selfStale(j)
	}

	for range g.Jobs {
		changed := false

		// Downward: regenerated inputs invalidate consumers.
		for _, j := range order {
			if j.NeedsRun {
				continue
			}
			for _, dep := range j.deps {
				if dep.NeedsRun {
					j.NeedsRun = true
					changed = true
					break
				}
			}
		}

		// Upward: a running consumer demands its inputs exist on storage.
		for i := len(order) - 1; i >= 0; i-- {
			j := order[i]
			if !j.NeedsRun {
				continue
			}
			for _, in := range j.Inputs {
				if b.exists(in) {
					continue
				}
				if producer, ok := g.byOutput[in]; ok && !producer.NeedsRun {
					producer.NeedsRun = true
					changed = true
				}
			}
		}

		if !changed {
			break
		}
	}
}

// PendingJobs returns the jobs that would execute, predecessors first.
func (g *Graph) PendingJobs() []*Job {
	var out []*Job
	for _, j := range g.TopologicalOrder() {
		if j.NeedsRun {
			out = append(out, j)
		}
	}
	return out
}
