// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TypeRunStart       = "run.start"
	TypeRunFinish      = "run.finish"
	TypeJobStart       = "job.start"
	TypeJobLog         = "job.log"
	TypeJobFinish      = "job.finish"
	TypeArtifactDelete = "artifact.delete"
)

type RunEvent struct {
	Sequence  int64                  `json:"sequence"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	RunID     string                 `json:"run_id"`
	Job       string                 `json:"job,omitempty"`
	Channel   string                 `json:"channel,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

type Emitter struct {
	mu   sync.Mutex
	seq  int64
	out  io.Writer
	json bool
}

func NewEmitter(out io.Writer, json bool) *Emitter {
	if out == nil {
		return nil
	}
	return &Emitter{out: out, json: json}
}

func (e *Emitter) nextSeq() int64 {
	e.seq++
	return e.seq
}

func (e *Emitter) emit(ev RunEvent) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ev.Sequence = e.nextSeq()
	ev.Timestamp = time.Now().UTC()

	if e.json {
		payload, err := json.Marshal(ev)
		if err != nil {
			fmt.Fprintf(e.out, "{\"error\":%q}\n", err.Error())
			return
		}
		fmt.Fprintf(e.out, "%s\n", payload)
		return
	}

	fmt.Fprintf(e.out, "[%d] %s", ev.Sequence, ev.Type)
	if ev.RunID != "" {
		fmt.Fprintf(e.out, " run=%s", ev.RunID)
	}
	if ev.Job != "" {
		fmt.Fprintf(e.out, " job=%s", ev.Job)
	}
	if ev.Channel != "" {
		fmt.Fprintf(e.out, " channel=%s", ev.Channel)
	}
	if ev.Message != "" {
		fmt.Fprintf(e.out, " msg=%s", ev.Message)
	}
	if len(ev.Data) > 0 {
		first := true
		fmt.Fprintf(e.out, " data=")
		fmt.Fprintf(e.out, "{")
		for k, v := range ev.Data {
			if !first {
				fmt.Fprintf(e.out, ", ")
			}
			fmt.Fprintf(e.out, "%s:%v", k, v)
			first = false
		}
		fmt.Fprintf(e.out, "}")
	}
	fmt.Fprintln(e.out)
}

func (e *Emitter) EmitRunStart(runID string, targets []string) {
	e.emit(RunEvent{
		Type:  TypeRunStart,
		RunID: runID,
		Data:  map[string]interface{}{"targets": targets},
	})
}

func (e *Emitter) EmitRunFinish(runID string, status string, err error) {
	data := map[string]interface{}{"status": status}
	if err != nil {
		data["error"] = err.Error()
	}
	e.emit(RunEvent{
		Type:  TypeRunFinish,
		RunID: runID,
		Data:  data,
	})
}

func (e *Emitter) EmitJobStart(runID, job string) {
	e.emit(RunEvent{Type: TypeJobStart, RunID: runID, Job: job})
}

func (e *Emitter) EmitJobLog(runID, job, channel, message string) {
	if message == "" {
		return
	}
	e.emit(RunEvent{Type: TypeJobLog, RunID: runID, Job: job, Channel: channel, Message: message})
}

func (e *Emitter) EmitJobFinish(runID, job, status string, exitCode int, err error) {
	data := map[string]interface{}{"exit_code": exitCode, "status": status}
	if err != nil {
		data["error"] = err.Error()
	}
	e.emit(RunEvent{Type: TypeJobFinish, RunID: runID, Job: job, Data: data})
}

func (e *Emitter) EmitArtifactDelete(runID, path string) {
	e.emit(RunEvent{Type: TypeArtifactDelete, RunID: runID, Message: path})
}

func GenerateRunID() string {
	return "run-" + uuid.NewString()
}
