// SPDX-License-Identifier: AGPL-3.0-or-later

package schema

import (
	"testing"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return v
}

func TestValidateAcceptsWellFormedRulefile(t *testing.T) {
	v := newValidator(t)
	err := v.Validate([]byte(`
env:
  OMPI_MCA_btl: "^openib"
default_targets: [pi.calc]
rules:
  - name: compile
    input: [pi_MPI.c]
    output:
      - path: pi_MPI
        temporary: true
    modules: [gcc, openmpi]
    resources:
      tasks: 1
      partition: debug
      mpi: true
    shell: "mpicc -o {output} {input}"
`))
	if err != nil {
		t.Fatalf("expected valid document: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"no rules key", "env: {}\n"},
		{"empty rules", "rules: []\n"},
		{"rule missing shell", "rules:\n  - name: x\n"},
		{"rule missing name", "rules:\n  - shell: \"true\"\n"},
		{"unknown rule key", "rules:\n  - name: x\n    shell: \"true\"\n    shelll: oops\n"},
		{"bad resource type", "rules:\n  - name: x\n    shell: \"true\"\n    resources:\n      tasks: [1]\n"},
		{"output missing path", "rules:\n  - name: x\n    shell: \"true\"\n    output:\n      - temporary: true\n"},
		{"non-string env value", "rules:\n  - name: x\n    shell: \"true\"\nenv:\n  N: 4\n"},
		{"not yaml", ": : :\n"},
	}
	v := newValidator(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := v.Validate([]byte(tc.doc)); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}
