package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/odvcencio/batchq/pkg/approval"
	bqerrors "github.com/odvcencio/batchq/pkg/errors"
	"github.com/odvcencio/batchq/pkg/jobqueue"
)

var (
	_ jobqueue.Recorder  = (*Store)(nil)
	_ approval.AuditSink = (*Store)(nil)
)

// RecordRun inserts a run or updates its status.
func (s *Store) RecordRun(ctx context.Context, run jobqueue.RunRecord) error {
	var finished sql.NullTime
	if !run.Finished.IsZero() {
		finished = sql.NullTime{Time: run.Finished.UTC(), Valid: true}
	}
	err := s.exec(ctx, `
		INSERT INTO runs (run_id, size, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, run.RunID, run.Size, run.Status, run.Error, run.Started.UTC(), finished)
	if err != nil {
		return bqerrors.Wrap(err, bqerrors.ErrCodeStorageWrite, "record run").
			WithContext("run_id", run.RunID)
	}
	return nil
}

// RecordJob stores the outcome of one item. The result is kept as JSON.
func (s *Store) RecordJob(ctx context.Context, job jobqueue.JobRecord) error {
	var result sql.NullString
	if job.Error == "" && job.Result != nil {
		data, err := json.Marshal(job.Result)
		if err != nil {
			return bqerrors.Wrap(err, bqerrors.ErrCodeStorageWrite, "encode job result").
				WithContext("run_id", job.RunID).
				WithContext("key", string(job.Key))
		}
		result = sql.NullString{String: string(data), Valid: true}
	}
	err := s.exec(ctx, `
		INSERT INTO job_results (run_id, job_key, job_id, result, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, job_key) DO UPDATE SET
			job_id = excluded.job_id,
			result = excluded.result,
			error = excluded.error,
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms
	`, job.RunID, string(job.Key), job.JobID, result, job.Error, job.Started.UTC(), job.Duration.Milliseconds())
	if err != nil {
		return bqerrors.Wrap(err, bqerrors.ErrCodeStorageWrite, "record job").
			WithContext("run_id", job.RunID).
			WithContext("key", string(job.Key))
	}
	return nil
}

// RecordApproval appends a gate decision to the audit log.
func (s *Store) RecordApproval(ctx context.Context, entry approval.AuditEntry) error {
	decidedAt := entry.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = time.Now()
	}
	err := s.exec(ctx, `
		INSERT INTO approval_audit (run_id, job_key, tool, operation, target, mode, decision, reason, approved, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.RunID, entry.JobKey, entry.Tool, entry.Operation, entry.Target, entry.Mode,
		entry.Decision, entry.Reason, entry.Approved, decidedAt.UTC())
	if err != nil {
		return bqerrors.Wrap(err, bqerrors.ErrCodeStorageWrite, "record approval").
			WithContext("run_id", entry.RunID)
	}
	return nil
}

// GetRun returns the stored run, or nil when runID is unknown.
func (s *Store) GetRun(ctx context.Context, runID string) (*jobqueue.RunRecord, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, size, status, error, started_at, finished_at
		FROM runs WHERE run_id = ?
	`, runID)

	var run jobqueue.RunRecord
	var finished sql.NullTime
	err := row.Scan(&run.RunID, &run.Size, &run.Status, &run.Error, &run.Started, &finished)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeStorageRead, "get run").
			WithContext("run_id", runID)
	}
	if finished.Valid {
		run.Finished = finished.Time
	}
	return &run, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]jobqueue.RunRecord, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, size, status, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeStorageRead, "list runs")
	}
	defer rows.Close()

	var runs []jobqueue.RunRecord
	for rows.Next() {
		var run jobqueue.RunRecord
		var finished sql.NullTime
		if err := rows.Scan(&run.RunID, &run.Size, &run.Status, &run.Error, &run.Started, &finished); err != nil {
			return nil, bqerrors.Wrap(err, bqerrors.ErrCodeStorageRead, "scan run")
		}
		if finished.Valid {
			run.Finished = finished.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListJobs returns the recorded jobs of a run in completion order. Results
// come back as json.RawMessage.
func (s *Store) ListJobs(ctx context.Context, runID string) ([]jobqueue.JobRecord, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, job_key, job_id, result, error, started_at, duration_ms
		FROM job_results WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeStorageRead, "list jobs").
			WithContext("run_id", runID)
	}
	defer rows.Close()

	var jobs []jobqueue.JobRecord
	for rows.Next() {
		var job jobqueue.JobRecord
		var key string
		var result sql.NullString
		var durationMs int64
		if err := rows.Scan(&job.RunID, &key, &job.JobID, &result, &job.Error, &job.Started, &durationMs); err != nil {
			return nil, bqerrors.Wrap(err, bqerrors.ErrCodeStorageRead, "scan job")
		}
		job.Key = jobqueue.Key(key)
		job.Duration = time.Duration(durationMs) * time.Millisecond
		if result.Valid {
			job.Result = json.RawMessage(result.String)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListApprovals returns the audit entries of a run in decision order.
func (s *Store) ListApprovals(ctx context.Context, runID string) ([]approval.AuditEntry, error) {
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, job_key, tool, operation, target, mode, decision, reason, approved, decided_at
		FROM approval_audit WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, bqerrors.Wrap(err, bqerrors.ErrCodeStorageRead, "list approvals").
			WithContext("run_id", runID)
	}
	defer rows.Close()

	var entries []approval.AuditEntry
	for rows.Next() {
		var e approval.AuditEntry
		if err := rows.Scan(&e.RunID, &e.JobKey, &e.Tool, &e.Operation, &e.Target, &e.Mode,
			&e.Decision, &e.Reason, &e.Approved, &e.DecidedAt); err != nil {
			return nil, bqerrors.Wrap(err, bqerrors.ErrCodeStorageRead, "scan approval")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
