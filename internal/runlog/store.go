// SPDX-License-Identifier: AGPL-3.0-or-later

package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Run statuses persisted in the log.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// RunRecord is a persisted run summary.
type RunRecord struct {
	RunID      string
	Targets    []string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Executed   int
	Cached     int
	Failed     int
	Skipped    int
}

// JobRecord is the persisted outcome of one job within a run.
type JobRecord struct {
	Seq        int64
	RunID      string
	Rule       string
	Status     string
	ExitCode   int
	Detail     string
	FinishedAt time.Time
}

// Counts aggregates per-status job totals for a completed run.
type Counts struct {
	Executed int
	Cached   int
	Failed   int
	Skipped  int
}

// Store persists run history. All writes go through the single shared
// connection, so methods are safe for concurrent use.
type Store struct {
	db    *sql.DB
	nowFn func() time.Time
}

// NewStore returns a Store backed by the provided DB.
func NewStore(db *DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{
		db:    db.sql,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// RecordRunStart inserts a new run in the running state.
func (s *Store) RecordRunStart(ctx context.Context, runID string, targets []string) error {
	if s == nil {
		return nil
	}
	if runID == "" {
		return fmt.Errorf("record run start: run id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, targets, status, started_at) VALUES (?, ?, ?, ?)`,
		runID, strings.Join(targets, " "), RunStatusRunning, s.nowFn().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RecordJobResult appends the terminal outcome of one job.
func (s *Store) RecordJobResult(ctx context.Context, runID, rule, status string, exitCode int, detail string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_jobs (run_id, rule, status, exit_code, detail, finished_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, rule, status, exitCode, detail, s.nowFn().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record job result: %w", err)
	}
	return nil
}

// FinishRun marks a run terminal and stores its aggregate counts.
func (s *Store) FinishRun(ctx context.Context, runID, status string, counts Counts) error {
	if s == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, executed = ?, cached = ?, failed = ?, skipped = ? WHERE run_id = ?`,
		status, s.nowFn().UnixMilli(), counts.Executed, counts.Cached, counts.Failed, counts.Skipped, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, targets, status, started_at, finished_at, executed, cached, failed, skipped
		 FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var targets string
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&rec.RunID, &targets, &rec.Status, &started, &finished,
			&rec.Executed, &rec.Cached, &rec.Failed, &rec.Skipped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if targets != "" {
			rec.Targets = strings.Fields(targets)
		}
		rec.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			rec.FinishedAt = time.UnixMilli(finished.Int64).UTC()
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return records, nil
}

// RunJobs returns the job outcomes recorded for a run, in completion order.
func (s *Store) RunJobs(ctx context.Context, runID string) ([]JobRecord, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, run_id, rule, status, exit_code, detail, finished_at
		 FROM run_jobs WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("run jobs: %w", err)
	}
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		var rec JobRecord
		var finished int64
		if err := rows.Scan(&rec.Seq, &rec.RunID, &rec.Rule, &rec.Status, &rec.ExitCode, &rec.Detail, &finished); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		rec.FinishedAt = time.UnixMilli(finished).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run jobs: %w", err)
	}
	return records, nil
}
