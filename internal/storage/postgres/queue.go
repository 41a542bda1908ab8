package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

const jobColumns = "id, scan_id, keyword, source, status, retry_count, COALESCE(lease_id, ''), " +
	"COALESCE(error_message, ''), created_at, started_at, completed_at"

func scanJob(row rowScanner) (monitor.Job, error) {
	var (
		j      monitor.Job
		status string
	)
	err := row.Scan(
		&j.ID, &j.ScanID, &j.Keyword, &j.Source, &status, &j.RetryCount, &j.LeaseID,
		&j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	j.Status = monitor.JobStatus(status)
	return j, err
}

// ReclaimStale reverts jobs processing since before cutoff back to pending.
// The retry counter is left alone; a crashed worker is not the job's fault.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = 'pending', lease_id = NULL, started_at = NULL,
	error_message = $2 WHERE status = 'processing' AND started_at < $1`, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClaimNextJob picks the oldest pending job and moves it to processing with
// a compare-and-set on its status. A lost race reports ok=false.
func (s *Store) ClaimNextJob(ctx context.Context, leaseID string, now time.Time) (monitor.Job, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM jobs WHERE status = 'pending' ORDER BY created_at, id LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Job{}, false, nil
	}
	if err != nil {
		return monitor.Job{}, false, fmt.Errorf("failed to select pending job: %w", err)
	}
	const q = `UPDATE jobs SET status = 'processing', lease_id = $2, started_at = $3
WHERE id = $1 AND status = 'pending' RETURNING ` + jobColumns
	job, err := scanJob(s.pool.QueryRow(ctx, q, id, leaseID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Job{}, false, nil
	}
	if err != nil {
		return monitor.Job{}, false, fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	return job, true, nil
}

// CompleteJob finishes a job still held under leaseID.
func (s *Store) CompleteJob(ctx context.Context, jobID, leaseID string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = 'completed', completed_at = $3, error_message = NULL
WHERE id = $1 AND lease_id = $2 AND status = 'processing'`, jobID, leaseID, now)
	if err != nil {
		return false, fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RetryOrFailJob returns the job to pending while retries remain, otherwise
// fails it. Both branches run in one UPDATE so every SET sees the old row.
func (s *Store) RetryOrFailJob(
	ctx context.Context,
	jobID, leaseID, errMsg string,
	maxRetries int,
	now time.Time,
) (monitor.JobStatus, error) {
	const q = `UPDATE jobs SET
	status = CASE WHEN retry_count < $4 THEN 'pending' ELSE 'failed' END,
	retry_count = CASE WHEN retry_count < $4 THEN retry_count + 1 ELSE retry_count END,
	started_at = CASE WHEN retry_count < $4 THEN NULL ELSE started_at END,
	completed_at = CASE WHEN retry_count < $4 THEN NULL ELSE $5::timestamptz END,
	error_message = $3,
	lease_id = NULL
WHERE id = $1 AND lease_id = $2 AND status = 'processing'
RETURNING status`
	var status string
	err := s.pool.QueryRow(ctx, q, jobID, leaseID, errMsg, maxRetries, now).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to retry job %s: %w", jobID, err)
	}
	return monitor.JobStatus(status), nil
}

// ReleaseJob returns a job still held under leaseID to pending, leaving its
// retry count alone.
func (s *Store) ReleaseJob(ctx context.Context, jobID, leaseID, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = 'pending', lease_id = NULL, started_at = NULL,
	error_message = $3 WHERE id = $1 AND lease_id = $2 AND status = 'processing'`, jobID, leaseID, reason)
	if err != nil {
		return false, fmt.Errorf("failed to release job %s: %w", jobID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountPending returns the number of pending jobs across all scans.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return n, nil
}
