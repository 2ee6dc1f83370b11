// SPDX-License-Identifier: AGPL-3.0-or-later
package envmod

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleManifest = `modules:
  gcc:
    env:
      CC: gcc
  openmpi:
    env:
      MPI_HOME: /opt/openmpi
    path:
      - /opt/openmpi/bin
`

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modules.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestManifestActivate(t *testing.T) {
	m, err := LoadManifest(writeManifest(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	env, err := m.Activate("openmpi")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if env.Vars["MPI_HOME"] != "/opt/openmpi" {
		t.Fatalf("unexpected overlay: %+v", env)
	}
	if err := m.Deactivate("openmpi"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
}

func TestManifestUnknownModule(t *testing.T) {
	m, err := LoadManifest(writeManifest(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = m.Activate("intel-mkl")
	var notFound *ModuleNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ModuleNotFoundError, got %v", err)
	}
	if notFound.Module != "intel-mkl" {
		t.Fatalf("unexpected module name: %q", notFound.Module)
	}
}

func TestMissingManifestIsEmpty(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := m.Activate("gcc"); err == nil {
		t.Fatalf("expected activation failure on empty manifest")
	}
}

func TestEnvApplyPathPrepend(t *testing.T) {
	overlay := Env{
		Vars:        map[string]string{"CC": "mpicc"},
		PathPrepend: []string{"/opt/openmpi/bin"},
	}
	env := overlay.Apply([]string{"PATH=/usr/bin", "HOME=/home/u"})

	var path, cc string
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			path = kv
		}
		if strings.HasPrefix(kv, "CC=") {
			cc = kv
		}
	}
	if !strings.HasPrefix(path, "PATH=/opt/openmpi/bin"+string(os.PathListSeparator)) {
		t.Fatalf("expected prepended PATH, got %q", path)
	}
	if cc != "CC=mpicc" {
		t.Fatalf("expected CC overlay, got %q", cc)
	}
}
