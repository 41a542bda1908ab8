package memory

import (
	"context"
	"time"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

// ReclaimStale reverts jobs processing since before cutoff back to pending.
func (s *Store) ReclaimStale(_ context.Context, cutoff time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.jobs {
		j := &row.job
		if j.Status != monitor.JobStatusProcessing || j.StartedAt == nil || !j.StartedAt.Before(cutoff) {
			continue
		}
		releaseToPending(j, reason)
		n++
	}
	return n, nil
}

// ClaimNextJob moves the oldest pending job to processing.
func (s *Store) ClaimNextJob(_ context.Context, leaseID string, now time.Time) (monitor.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *jobRow
	for _, row := range s.jobs {
		if row.job.Status != monitor.JobStatusPending {
			continue
		}
		if next == nil || lessJob(row, next) {
			next = row
		}
	}
	if next == nil {
		return monitor.Job{}, false, nil
	}
	next.job.Status = monitor.JobStatusProcessing
	next.job.LeaseID = leaseID
	next.job.StartedAt = &now
	return next.job, true, nil
}

// CompleteJob finishes a job still held under leaseID.
func (s *Store) CompleteJob(_ context.Context, jobID, leaseID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.held(jobID, leaseID)
	if !ok {
		return false, nil
	}
	row.job.Status = monitor.JobStatusCompleted
	row.job.ErrorMessage = ""
	row.job.CompletedAt = &now
	return true, nil
}

// RetryOrFailJob returns the job to pending while retries remain, otherwise fails it.
func (s *Store) RetryOrFailJob(
	_ context.Context,
	jobID, leaseID, errMsg string,
	maxRetries int,
	now time.Time,
) (monitor.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.held(jobID, leaseID)
	if !ok {
		return "", nil
	}
	j := &row.job
	if j.RetryCount < maxRetries {
		j.RetryCount++
		releaseToPending(j, errMsg)
		return j.Status, nil
	}
	j.Status = monitor.JobStatusFailed
	j.ErrorMessage = errMsg
	j.LeaseID = ""
	j.CompletedAt = &now
	return j.Status, nil
}

// ReleaseJob returns a held job to pending, leaving its retry count alone.
func (s *Store) ReleaseJob(_ context.Context, jobID, leaseID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.held(jobID, leaseID)
	if !ok {
		return false, nil
	}
	releaseToPending(&row.job, reason)
	return true, nil
}

// CountPending returns the number of pending jobs across all scans.
func (s *Store) CountPending(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.jobs {
		if row.job.Status == monitor.JobStatusPending {
			n++
		}
	}
	return n, nil
}

func (s *Store) held(jobID, leaseID string) (*jobRow, bool) {
	row, ok := s.jobs[jobID]
	if !ok || row.job.Status != monitor.JobStatusProcessing || row.job.LeaseID != leaseID {
		return nil, false
	}
	return row, true
}

func releaseToPending(j *monitor.Job, reason string) {
	j.Status = monitor.JobStatusPending
	j.LeaseID = ""
	j.StartedAt = nil
	j.ErrorMessage = reason
}

func lessJob(a, b *jobRow) bool {
	if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
		return a.job.CreatedAt.Before(b.job.CreatedAt)
	}
	return a.seq < b.seq
}
