// SPDX-License-Identifier: AGPL-3.0-or-later
package engine

// PlannedJob is one row of an execution preview, in scheduling order.
type PlannedJob struct {
	Rule      string   `json:"rule"`
	Inputs    []string `json:"inputs,omitempty"`
	Outputs   []string `json:"outputs,omitempty"`
	Temporary []string `json:"temporary,omitempty"`
	Modules   []string `json:"modules,omitempty"`
	WillRun   bool     `json:"will_run"`
}

// Plan is the preview artifact produced by a dry run.
type Plan struct {
	Targets []string     `json:"targets"`
	Jobs    []PlannedJob `json:"jobs"`
	ToRun   int          `json:"to_run"`
	Cached  int          `json:"cached"`
}

// BuildPlan projects a dry-run report into its preview form.
func BuildPlan(report *Report) Plan {
	plan := Plan{Targets: report.Targets}
	for _, j := range report.Jobs {
		planned := PlannedJob{
			Rule:      j.Rule.Name,
			Inputs:    j.Inputs,
			Outputs:   j.Outputs,
			Temporary: j.TemporaryOutputs(),
			Modules:   j.Rule.Modules,
			WillRun:   j.NeedsRun,
		}
		plan.Jobs = append(plan.Jobs, planned)
		if j.NeedsRun {
			plan.ToRun++
		} else {
			plan.Cached++
		}
	}
	return plan
}
