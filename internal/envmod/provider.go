// SPDX-License-Identifier: AGPL-3.0-or-later

// Package envmod abstracts environment-module activation for job execution.
// A module is a named runtime requirement (compiler, MPI toolchain) that the
// surrounding system can materialise as an environment overlay. Activation is
// always scoped to one job: the executor activates declared modules in order
// before spawning and deactivates them in reverse order on every exit path.
package envmod

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModuleNotFoundError reports an unknown environment-module identifier.
type ModuleNotFoundError struct {
	Module string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("environment module %q not found", e.Module)
}

// Env is the environment overlay a module contributes. PathPrepend entries
// are joined ahead of the inherited PATH.
type Env struct {
	Vars        map[string]string
	PathPrepend []string
}

// Provider activates and deactivates environment modules.
type Provider interface {
	Activate(module string) (Env, error)
	Deactivate(module string) error
}

// Manifest is a Provider backed by a modules.yaml declaration file. This is
// the boundary shape an external module system presents; the manifest form
// keeps it hermetic for local runs and tests.
type Manifest struct {
	modules map[string]manifestModule
}

type manifestModule struct {
	Env  map[string]string `yaml:"env"`
	Path []string          `yaml:"path"`
}

type manifestFile struct {
	Modules map[string]manifestModule `yaml:"modules"`
}

// LoadManifest reads a modules.yaml file. A missing file yields an empty
// manifest: every activation then fails with ModuleNotFoundError.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{modules: map[string]manifestModule{}}, nil
		}
		return nil, fmt.Errorf("open module manifest: %w", err)
	}
	defer f.Close()

	var doc manifestFile
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode module manifest: %w", err)
	}
	if doc.Modules == nil {
		doc.Modules = map[string]manifestModule{}
	}
	return &Manifest{modules: doc.Modules}, nil
}

// Activate returns the overlay for module, or ModuleNotFoundError.
func (m *Manifest) Activate(module string) (Env, error) {
	def, ok := m.modules[module]
	if !ok {
		return Env{}, &ModuleNotFoundError{Module: module}
	}
	return Env{Vars: def.Env, PathPrepend: append([]string(nil), def.Path...)}, nil
}

// Deactivate releases module. Manifest overlays hold no external state, so
// this only validates the identifier.
func (m *Manifest) Deactivate(module string) error {
	if _, ok := m.modules[module]; !ok {
		return &ModuleNotFoundError{Module: module}
	}
	return nil
}

// Modules lists the known module identifiers, sorted.
func (m *Manifest) Modules() []string {
	out := make([]string, 0, len(m.modules))
	for name := range m.modules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Apply merges the overlay into env ([]string of KEY=VALUE pairs), returning
// the updated slice. PATH prepends compose left to right.
func (e Env) Apply(env []string) []string {
	for k, v := range e.Vars {
		env = upsertEnv(env, k, v)
	}
	if len(e.PathPrepend) > 0 {
		current := ""
		for _, kv := range env {
			if strings.HasPrefix(kv, "PATH=") {
				current = strings.TrimPrefix(kv, "PATH=")
				break
			}
		}
		joined := strings.Join(e.PathPrepend, string(os.PathListSeparator))
		if current != "" {
			joined = joined + string(os.PathListSeparator) + current
		}
		env = upsertEnv(env, "PATH", joined)
	}
	return env
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
