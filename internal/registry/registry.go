// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry indexes rule definitions by the output patterns they
// produce. Producer lookup is a pure function of the registered rule set, so
// graph construction stays deterministic.
package registry

import (
	"fmt"
	"path"
	"strings"

	"github.com/rulerun-org/rulerun/internal/types"
)

// DuplicateOutputError reports an output pattern claimed by two rules.
type DuplicateOutputError struct {
	Pattern  string
	Rule     string
	Existing string
}

func (e *DuplicateOutputError) Error() string {
	return fmt.Sprintf("output %q of rule %q is already produced by rule %q", e.Pattern, e.Rule, e.Existing)
}

// NoProducerError reports a path that no registered rule produces. The caller
// treats it as non-fatal when the path already exists on durable storage.
type NoProducerError struct {
	Path string
	// RequiredBy names the rule whose input could not be resolved; empty for
	// directly requested targets.
	RequiredBy string
}

func (e *NoProducerError) Error() string {
	if e.RequiredBy != "" {
		return fmt.Sprintf("no rule produces %q (required by rule %q) and the file does not exist", e.Path, e.RequiredBy)
	}
	return fmt.Sprintf("no rule produces %q and the file does not exist", e.Path)
}

// Registry holds the registered rules and their output index.
type Registry struct {
	rules    []*types.Rule
	byOutput map[string]*types.Rule
	globs    []globEntry
}

type globEntry struct {
	pattern string
	rule    *types.Rule
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byOutput: make(map[string]*types.Rule)}
}

// Register adds a rule and claims its output patterns. Every pattern must be
// produced by exactly one rule; claiming an already-registered pattern fails
// with DuplicateOutputError. A literal path may coexist with an overlapping
// glob pattern; LookupProducer resolves that overlap in favour of the literal.
func (r *Registry) Register(rule *types.Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule with outputs %v has no name", rule.OutputPaths())
	}
	for _, prev := range r.rules {
		if prev.Name == rule.Name {
			return fmt.Errorf("duplicate rule name %q", rule.Name)
		}
	}
	for _, out := range rule.Outputs {
		pattern := strings.TrimSpace(out.Path)
		if pattern == "" {
			return fmt.Errorf("rule %q declares an empty output path", rule.Name)
		}
		if existing, ok := r.claimed(pattern); ok {
			return &DuplicateOutputError{Pattern: pattern, Rule: rule.Name, Existing: existing.Name}
		}
		if isGlob(pattern) {
			r.globs = append(r.globs, globEntry{pattern: pattern, rule: rule})
		} else {
			r.byOutput[pattern] = rule
		}
	}
	rule.Seq = len(r.rules)
	r.rules = append(r.rules, rule)
	return nil
}

// LookupProducer returns the rule producing path, if any. Exact output
// declarations win over glob patterns; glob patterns match in registration
// order.
func (r *Registry) LookupProducer(p string) (*types.Rule, bool) {
	return r.lookup(p)
}

// claimed reports whether pattern is already registered verbatim.
func (r *Registry) claimed(pattern string) (*types.Rule, bool) {
	if rule, ok := r.byOutput[pattern]; ok {
		return rule, true
	}
	for _, g := range r.globs {
		if g.pattern == pattern {
			return g.rule, true
		}
	}
	return nil, false
}

func (r *Registry) lookup(p string) (*types.Rule, bool) {
	if rule, ok := r.byOutput[p]; ok {
		return rule, true
	}
	for _, g := range r.globs {
		if ok, err := path.Match(g.pattern, p); err == nil && ok {
			return g.rule, true
		}
	}
	return nil, false
}

// Rules returns all registered rules in registration order.
func (r *Registry) Rules() []*types.Rule {
	return r.rules
}

// Rule returns the rule with the given name.
func (r *Registry) Rule(name string) (*types.Rule, bool) {
	for _, rule := range r.rules {
		if rule.Name == name {
			return rule, true
		}
	}
	return nil, false
}

// OutputPatterns returns every declared output pattern across all rules, in
// registration order. Clean operates on this set.
func (r *Registry) OutputPatterns() []string {
	var out []string
	for _, rule := range r.rules {
		out = append(out, rule.OutputPaths()...)
	}
	return out
}

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}
