// SPDX-License-Identifier: AGPL-3.0-or-later
package types

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Well-known resource keys. Values for these keys are budgeted when integer;
// string and boolean values are passed through to the execution backend
// untouched.
const (
	ResWalltimeMinutes = "walltime_minutes"
	ResNodes           = "nodes"
	ResTasks           = "tasks"
	ResThreads         = "threads"
	ResMemMB           = "mem_mb"
	ResMemMBPerCPU     = "mem_mb_per_cpu"
	ResPartition       = "partition"
	ResMPI             = "mpi"
)

// Rule is a named production recipe: declared inputs, declared outputs, a
// shell command template, and the resource/environment requirements the
// command carries.
type Rule struct {
	Name      string    `yaml:"name" json:"name"`
	Inputs    []string  `yaml:"input" json:"input,omitempty"`
	Outputs   []Output  `yaml:"output" json:"output,omitempty"`
	Resources Resources `yaml:"resources" json:"resources,omitempty"`
	Modules   []string  `yaml:"modules" json:"modules,omitempty"`
	Shell     string    `yaml:"shell" json:"shell"`

	// Seq is the registration order within the rulefile. It is the final
	// scheduling tie-breaker and keeps runs deterministic.
	Seq int `yaml:"-" json:"-"`
}

// OutputPaths returns the declared output paths in declaration order.
func (r *Rule) OutputPaths() []string {
	paths := make([]string, len(r.Outputs))
	for i, o := range r.Outputs {
		paths[i] = o.Path
	}
	return paths
}

// Output is a single declared output path, optionally flagged temporary.
// Temporary outputs are deleted once every consuming job has succeeded.
type Output struct {
	Path      string `yaml:"path" json:"path"`
	Temporary bool   `yaml:"temporary" json:"temporary,omitempty"`
}

// UnmarshalYAML accepts either a bare string path or a {path, temporary}
// mapping.
func (o *Output) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&o.Path)
	case yaml.MappingNode:
		type plain Output
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		if p.Path == "" {
			return fmt.Errorf("output entry missing path (line %d)", node.Line)
		}
		*o = Output(p)
		return nil
	default:
		return fmt.Errorf("output entry must be a string or mapping (line %d)", node.Line)
	}
}

// Resources maps resource keys to declared values. After decoding, values are
// normalised to int64, string, or bool.
type Resources map[string]any

// UnmarshalYAML normalises integer-ish scalars to int64 and rejects value
// types the rule format does not admit.
func (r *Resources) UnmarshalYAML(node *yaml.Node) error {
	raw := map[string]any{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	out := make(Resources, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case int:
			out[k] = int64(val)
		case int64:
			out[k] = val
		case uint64:
			out[k] = int64(val)
		case string:
			out[k] = val
		case bool:
			out[k] = val
		default:
			return fmt.Errorf("resource %q: unsupported value type %T (line %d)", k, v, node.Line)
		}
	}
	*r = out
	return nil
}

// Numeric returns the integer-valued subset of the request. Only these take
// part in budget accounting.
func (r Resources) Numeric() map[string]int64 {
	out := make(map[string]int64)
	for k, v := range r {
		if n, ok := v.(int64); ok {
			out[k] = n
		}
	}
	return out
}

// RuleFile is the decoded top-level rulefile document.
type RuleFile struct {
	Rules          []*Rule           `yaml:"rules"`
	DefaultTargets []string          `yaml:"default_targets"`
	Env            map[string]string `yaml:"env"`
}
