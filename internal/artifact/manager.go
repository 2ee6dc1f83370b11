// SPDX-License-Identifier: AGPL-3.0-or-later

// Package artifact tracks output lifecycles. Temporary outputs are
// reference-counted by their not-yet-succeeded consumers and deleted from
// durable storage once fully consumed; persistent outputs are never touched
// outside an explicit clean.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rulerun-org/rulerun/internal/graph"
	"github.com/rulerun-org/rulerun/internal/registry"
)

// Manager tracks temporary-artifact consumption for one run.
type Manager struct {
	dir  string
	keep bool

	mu   sync.Mutex
	refs map[string]int
}

// NewManager builds the consumer reference counts for every temporary output
// in the graph. With keep true, deletion is disabled (artifacts are still
// tracked so callers can report what would have been removed).
func NewManager(dir string, g *graph.Graph, keep bool) *Manager {
	m := &Manager{dir: dir, keep: keep, refs: make(map[string]int)}
	temp := make(map[string]bool)
	for _, job := range g.Jobs {
		for _, out := range job.TemporaryOutputs() {
			temp[out] = true
			if _, ok := m.refs[out]; !ok {
				m.refs[out] = 0
			}
		}
	}
	for _, job := range g.Jobs {
		for _, in := range job.Inputs {
			if temp[in] {
				m.refs[in]++
			}
		}
	}
	return m
}

// OnJobSucceeded updates reference counts after job reached Succeeded: each
// temporary input loses one consumer, and the job's own temporary outputs
// with no consumers at all become eligible immediately. Artifacts whose
// count reaches zero are deleted; the removed paths are returned.
func (m *Manager) OnJobSucceeded(job *graph.Job) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var eligible []string
	for _, in := range job.Inputs {
		if count, ok := m.refs[in]; ok {
			count--
			m.refs[in] = count
			if count == 0 {
				eligible = append(eligible, in)
			}
		}
	}
	for _, out := range job.TemporaryOutputs() {
		if m.refs[out] == 0 {
			eligible = append(eligible, out)
		}
	}

	if m.keep {
		return nil, nil
	}

	var deleted []string
	for _, path := range eligible {
		if err := m.remove(path); err != nil {
			return deleted, err
		}
		deleted = append(deleted, path)
	}
	return deleted, nil
}

func (m *Manager) remove(path string) error {
	full := path
	if m.dir != "" && !filepath.IsAbs(path) {
		full = filepath.Join(m.dir, path)
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete temporary artifact %s: %w", path, err)
	}
	return nil
}

// Clean unconditionally removes every artifact declared as a rule output,
// expanding glob patterns against storage. It returns the removed paths and
// never fails on already-absent files.
func Clean(dir string, reg *registry.Registry) ([]string, error) {
	var removed []string
	for _, pattern := range reg.OutputPatterns() {
		paths := []string{pattern}
		if strings.ContainsAny(pattern, "*?[") {
			full := pattern
			if dir != "" && !filepath.IsAbs(pattern) {
				full = filepath.Join(dir, pattern)
			}
			matches, err := filepath.Glob(full)
			if err != nil {
				return removed, fmt.Errorf("expand output pattern %s: %w", pattern, err)
			}
			paths = paths[:0]
			for _, match := range matches {
				rel, err := filepath.Rel(dir, match)
				if err != nil {
					rel = match
				}
				paths = append(paths, rel)
			}
		}
		for _, path := range paths {
			full := path
			if dir != "" && !filepath.IsAbs(path) {
				full = filepath.Join(dir, path)
			}
			err := os.Remove(full)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return removed, fmt.Errorf("clean %s: %w", path, err)
			}
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)
	return removed, nil
}
