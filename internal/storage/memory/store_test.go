package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedRunningScan(t *testing.T, jobs int) *Store {
	t.Helper()
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.PutProject(ctx, monitor.Project{ID: "proj-1", Name: "Acme", Active: true}))
	list := make([]monitor.Job, jobs)
	for i := range list {
		list[i] = monitor.Job{
			ID:        fmt.Sprintf("job-%d", i),
			ScanID:    "scan-1",
			Keyword:   "acme",
			Source:    "organic",
			Status:    monitor.JobStatusPending,
			CreatedAt: testNow,
		}
	}
	require.NoError(t, s.CreateScan(ctx, monitor.Scan{
		ID:         "scan-1",
		ProjectID:  "proj-1",
		Status:     monitor.ScanStatusRunning,
		TotalTasks: jobs,
		CreatedAt:  testNow,
	}, list))
	return s
}

func TestIncrementCompletedIsCapped(t *testing.T) {
	t.Parallel()

	s := seedRunningScan(t, 3)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementCompleted(context.Background(), "scan-1")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	scan, err := s.GetScan(context.Background(), "scan-1")
	require.NoError(t, err)
	require.Equal(t, 3, scan.CompletedTasks)

	_, err = s.IncrementCompleted(context.Background(), "missing")
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func TestRecountCompletedOnlyRaises(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := seedRunningScan(t, 3)
	for _, lease := range []string{"l1", "l2"} {
		job, ok, err := s.ClaimNextJob(ctx, lease, testNow)
		require.NoError(t, err)
		require.True(t, ok)
		done, err := s.CompleteJob(ctx, job.ID, lease, testNow)
		require.NoError(t, err)
		require.True(t, done)
	}

	scan, err := s.RecountCompleted(ctx, "scan-1")
	require.NoError(t, err)
	require.Equal(t, 2, scan.CompletedTasks, "raised to the terminal job count")

	for i := 0; i < 3; i++ {
		_, err = s.IncrementCompleted(ctx, "scan-1")
		require.NoError(t, err)
	}
	scan, err = s.RecountCompleted(ctx, "scan-1")
	require.NoError(t, err)
	require.Equal(t, 3, scan.CompletedTasks, "never lowered")

	_, err = s.StopScan(ctx, "scan-1", "stopped", testNow)
	require.NoError(t, err)
	scan, err = s.RecountCompleted(ctx, "scan-1")
	require.NoError(t, err)
	require.Equal(t, monitor.ScanStatusFailed, scan.Status)
	require.Equal(t, 3, scan.CompletedTasks)
}

func TestMarkScanCompletedSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := seedRunningScan(t, 2)
	won, err := s.MarkScanCompleted(ctx, "scan-1", testNow)
	require.NoError(t, err)
	require.False(t, won, "counters are not full")

	for i := 0; i < 2; i++ {
		_, err = s.IncrementCompleted(ctx, "scan-1")
		require.NoError(t, err)
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkScanCompleted(ctx, "scan-1", testNow)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)

	scan, err := s.GetScan(ctx, "scan-1")
	require.NoError(t, err)
	require.Equal(t, monitor.ScanStatusCompleted, scan.Status)
	require.Equal(t, testNow, *scan.CompletedAt)
}

func TestLeaseGuardsJobTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := seedRunningScan(t, 1)
	job, ok, err := s.ClaimNextJob(ctx, "lease-1", testNow)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = s.ClaimNextJob(ctx, "lease-2", testNow)
	require.NoError(t, err)
	require.False(t, ok, "a processing job cannot be claimed twice")

	released, err := s.ReleaseJob(ctx, job.ID, "stale", "context canceled")
	require.NoError(t, err)
	require.False(t, released)
	released, err = s.ReleaseJob(ctx, job.ID, "lease-1", "context canceled")
	require.NoError(t, err)
	require.True(t, released)

	job, ok, err = s.ClaimNextJob(ctx, "lease-3", testNow)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, job.RetryCount)
	require.Equal(t, "context canceled", job.ErrorMessage)

	status, err := s.RetryOrFailJob(ctx, job.ID, "lease-1", "boom", 1, testNow)
	require.NoError(t, err)
	require.Empty(t, status, "an old lease cannot fail the job")
	status, err = s.RetryOrFailJob(ctx, job.ID, "lease-3", "boom", 1, testNow)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusPending, status)

	job, _, err = s.ClaimNextJob(ctx, "lease-4", testNow)
	require.NoError(t, err)
	require.Equal(t, 1, job.RetryCount)
	status, err = s.RetryOrFailJob(ctx, job.ID, "lease-4", "boom", 1, testNow)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusFailed, status)

	done, err := s.CompleteJob(ctx, job.ID, "lease-4", testNow)
	require.NoError(t, err)
	require.False(t, done, "terminal jobs stay terminal")
}
