// SPDX-License-Identifier: AGPL-3.0-or-later

package rulefile

import (
	"fmt"
	"os"
	"strings"

	"github.com/rulerun-org/rulerun/internal/registry"
	"github.com/rulerun-org/rulerun/internal/types"
	"gopkg.in/yaml.v3"
)

// DefaultName is the rulefile looked up in the working directory when no
// explicit path is given.
const DefaultName = "rules.yaml"

// ValidationError reports a semantic defect in an otherwise well-formed
// rulefile.
type ValidationError struct {
	Rule   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("invalid rulefile: %s", e.Reason)
	}
	return fmt.Sprintf("invalid rule %q: %s", e.Rule, e.Reason)
}

// Load decodes the rulefile at path and registers every rule, in file order,
// into a fresh registry. Decoding is strict: unknown keys are rejected so
// typos surface as errors instead of silently dropped fields.
func Load(path string) (*types.RuleFile, *registry.Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open rulefile: %w", err)
	}
	defer f.Close()

	var rf types.RuleFile
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&rf); err != nil {
		return nil, nil, fmt.Errorf("decode rulefile: %w", err)
	}

	if err := validate(&rf); err != nil {
		return nil, nil, err
	}

	reg := registry.New()
	for _, rule := range rf.Rules {
		if err := reg.Register(rule); err != nil {
			return nil, nil, err
		}
	}
	return &rf, reg, nil
}

func validate(rf *types.RuleFile) error {
	if len(rf.Rules) == 0 {
		return &ValidationError{Reason: "no rules declared"}
	}
	for _, rule := range rf.Rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return &ValidationError{Reason: "rule without a name"}
		}
		rule.Name = name
		if strings.TrimSpace(rule.Shell) == "" {
			return &ValidationError{Rule: name, Reason: "missing shell command"}
		}
		for _, out := range rule.Outputs {
			if strings.TrimSpace(out.Path) == "" {
				return &ValidationError{Rule: name, Reason: "empty output path"}
			}
		}
		for _, in := range rule.Inputs {
			if strings.TrimSpace(in) == "" {
				return &ValidationError{Rule: name, Reason: "empty input path"}
			}
		}
		for _, mod := range rule.Modules {
			if strings.TrimSpace(mod) == "" {
				return &ValidationError{Rule: name, Reason: "empty module name"}
			}
		}
	}
	for key := range rf.Env {
		if strings.TrimSpace(key) == "" {
			return &ValidationError{Reason: "env entry with empty variable name"}
		}
	}
	return nil
}
