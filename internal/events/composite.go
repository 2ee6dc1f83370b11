// SPDX-License-Identifier: AGPL-3.0-or-later
package events

// Sink represents something that can consume run events.
type Sink interface {
	EmitRunStart(runID string, targets []string)
	EmitRunFinish(runID, status string, err error)
	EmitJobStart(runID, job string)
	EmitJobLog(runID, job, channel, message string)
	EmitJobFinish(runID, job, status string, exitCode int, err error)
	EmitArtifactDelete(runID, path string)
}

// CompositeSink fan-outs emitted events to multiple sinks.
type CompositeSink struct {
	sinks []Sink
}

// NewCompositeSink returns a sink that forwards events to all provided sinks.
func NewCompositeSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	switch len(filtered) {
	case 0:
		return nil
	case 1:
		return filtered[0]
	default:
		return &CompositeSink{sinks: filtered}
	}
}

func (c *CompositeSink) EmitRunStart(runID string, targets []string) {
	for _, s := range c.sinks {
		s.EmitRunStart(runID, targets)
	}
}

func (c *CompositeSink) EmitRunFinish(runID, status string, err error) {
	for _, s := range c.sinks {
		s.EmitRunFinish(runID, status, err)
	}
}

func (c *CompositeSink) EmitJobStart(runID, job string) {
	for _, s := range c.sinks {
		s.EmitJobStart(runID, job)
	}
}

func (c *CompositeSink) EmitJobLog(runID, job, channel, message string) {
	for _, s := range c.sinks {
		s.EmitJobLog(runID, job, channel, message)
	}
}

func (c *CompositeSink) EmitJobFinish(runID, job, status string, exitCode int, err error) {
	for _, s := range c.sinks {
		s.EmitJobFinish(runID, job, status, exitCode, err)
	}
}

func (c *CompositeSink) EmitArtifactDelete(runID, path string) {
	for _, s := range c.sinks {
		s.EmitArtifactDelete(runID, path)
	}
}
