// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"bytes"
	"io"
)

// JobWriter forwards subprocess output to out while emitting one job.log
// event per complete line.
type JobWriter struct {
	emitter Sink
	runID   string
	job     string
	channel string
	out     io.Writer
	buf     bytes.Buffer
}

func NewJobWriter(em Sink, runID, job, channel string, out io.Writer) *JobWriter {
	return &JobWriter{emitter: em, runID: runID, job: job, channel: channel, out: out}
}

func (w *JobWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if w.out != nil {
		if _, err := w.out.Write(p); err != nil {
			return 0, err
		}
	}
	start := 0
	for i, b := range p {
		if b == '\n' {
			w.buf.Write(p[start:i])
			w.flushLine()
			start = i + 1
		}
	}
	if start < len(p) {
		w.buf.Write(p[start:])
	}
	return len(p), nil
}

func (w *JobWriter) Flush() {
	if w.buf.Len() > 0 {
		w.flushLine()
	}
}

func (w *JobWriter) flushLine() {
	line := w.buf.String()
	w.buf.Reset()
	if w.emitter != nil {
		w.emitter.EmitJobLog(w.runID, w.job, w.channel, line)
	}
}
