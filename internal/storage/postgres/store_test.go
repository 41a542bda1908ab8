package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

var testNow = time.Unix(1700000000, 0).UTC()

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func jobRowsFor(j monitor.Job) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "scan_id", "keyword", "source", "status", "retry_count", "lease_id", "error_message",
		"created_at", "started_at", "completed_at",
	}).AddRow(j.ID, j.ScanID, j.Keyword, j.Source, string(j.Status), j.RetryCount, j.LeaseID, j.ErrorMessage,
		j.CreatedAt, j.StartedAt, j.CompletedAt)
}

func scanRowsFor(sc monitor.Scan) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "project_id", "status", "trigger_type", "total_tasks", "completed_tasks", "date_from", "date_to",
		"ai_briefing", "created_at", "completed_at",
	}).AddRow(sc.ID, sc.ProjectID, string(sc.Status), string(sc.TriggerType), sc.TotalTasks, sc.CompletedTasks,
		sc.DateFrom, sc.DateTo, sc.AIBriefing, sc.CreatedAt, sc.CompletedAt)
}

func TestNewWithPoolRejectsNil(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestClaimNextJobClaimsOldestPending(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	started := testNow
	claimed := monitor.Job{
		ID: "job-1", ScanID: "scan-1", Keyword: "coffee", Source: "news",
		Status: monitor.JobStatusProcessing, LeaseID: "lease-1", CreatedAt: testNow.Add(-time.Minute),
		StartedAt: &started, CompletedAt: (*time.Time)(nil),
	}

	mock.ExpectQuery("SELECT id FROM jobs WHERE status = 'pending'").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("job-1"))
	mock.ExpectQuery("UPDATE jobs SET status = 'processing'").
		WithArgs("job-1", "lease-1", testNow).
		WillReturnRows(jobRowsFor(claimed))

	job, ok, err := store.ClaimNextJob(context.Background(), "lease-1", testNow)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, monitor.JobStatusProcessing, job.Status)
	require.Equal(t, "lease-1", job.LeaseID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextJobEmptyQueue(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id FROM jobs").WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, ok, err := store.ClaimNextJob(context.Background(), "lease-1", testNow)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextJobLostRace(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id FROM jobs").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("job-1"))
	mock.ExpectQuery("UPDATE jobs SET status = 'processing'").
		WithArgs("job-1", "lease-2", testNow).
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.ClaimNextJob(context.Background(), "lease-2", testNow)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryOrFailJobReturnsNewStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE jobs SET").
		WithArgs("job-1", "lease-1", "search failed", 3, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("pending"))

	status, err := store.RetryOrFailJob(context.Background(), "job-1", "lease-1", "search failed", 3, testNow)
	require.NoError(t, err)
	require.Equal(t, monitor.JobStatusPending, status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRetryOrFailJobLostLease(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE jobs SET").
		WithArgs("job-1", "stale", "boom", 3, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"status"}))

	status, err := store.RetryOrFailJob(context.Background(), "job-1", "stale", "boom", 3, testNow)
	require.NoError(t, err)
	require.Empty(t, status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteJobRequiresLease(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE jobs SET status = 'completed'").
		WithArgs("job-1", "lease-1", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE jobs SET status = 'completed'").
		WithArgs("job-1", "other", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := store.CompleteJob(context.Background(), "job-1", "lease-1", testNow)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.CompleteJob(context.Background(), "job-1", "other", testNow)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseJobRequiresLease(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE jobs SET status = 'pending'").
		WithArgs("job-1", "lease-1", "context canceled").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE jobs SET status = 'pending'").
		WithArgs("job-1", "stale", "context canceled").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := store.ReleaseJob(context.Background(), "job-1", "lease-1", "context canceled")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.ReleaseJob(context.Background(), "job-1", "stale", "context canceled")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReclaimStaleReportsRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cutoff := testNow.Add(-10 * time.Minute)
	mock.ExpectExec("UPDATE jobs SET status = 'pending'").
		WithArgs(cutoff, "stale").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := store.ReclaimStale(context.Background(), cutoff, "stale")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateScanCopiesJobsInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	scan := monitor.Scan{
		ID: "scan-1", ProjectID: "proj-1", Status: monitor.ScanStatusRunning,
		TriggerType: monitor.TriggerManual, TotalTasks: 2, CreatedAt: testNow,
	}
	jobs := []monitor.Job{
		{ID: "job-1", ScanID: "scan-1", Keyword: "a", Source: "news", Status: monitor.JobStatusPending, CreatedAt: testNow},
		{ID: "job-2", ScanID: "scan-1", Keyword: "b", Source: "news", Status: monitor.JobStatusPending, CreatedAt: testNow},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scans").
		WithArgs("scan-1", "proj-1", "running", "manual", 2, 0, scan.DateFrom, scan.DateTo, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"jobs"},
		[]string{"id", "scan_id", "keyword", "source", "status", "retry_count", "created_at"}).
		WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, store.CreateScan(context.Background(), scan, jobs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateScanRollsBackOnCopyFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	scan := monitor.Scan{ID: "scan-1", ProjectID: "proj-1", Status: monitor.ScanStatusRunning, TotalTasks: 1}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scans").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"jobs"},
		[]string{"id", "scan_id", "keyword", "source", "status", "retry_count", "created_at"}).
		WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	err := store.CreateScan(context.Background(), scan, []monitor.Job{{ID: "job-1", ScanID: "scan-1"}})
	require.ErrorContains(t, err, "copy failed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementCompletedReturnsScan(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	scan := monitor.Scan{
		ID: "scan-1", ProjectID: "proj-1", Status: monitor.ScanStatusRunning, TriggerType: monitor.TriggerManual,
		TotalTasks: 3, CompletedTasks: 2, DateFrom: (*time.Time)(nil), DateTo: (*time.Time)(nil),
		AIBriefing: (*string)(nil), CreatedAt: testNow, CompletedAt: (*time.Time)(nil),
	}
	mock.ExpectQuery("UPDATE scans SET completed_tasks = LEAST").
		WithArgs("scan-1").
		WillReturnRows(scanRowsFor(scan))

	got, err := store.IncrementCompleted(context.Background(), "scan-1")
	require.NoError(t, err)
	require.Equal(t, 2, got.CompletedTasks)
	require.Equal(t, monitor.ScanStatusRunning, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetScanNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM scans WHERE id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := store.GetScan(context.Background(), "missing")
	require.ErrorIs(t, err, monitor.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkScanCompletedSingleWinner(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE scans SET status = 'completed'").
		WithArgs("scan-1", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE scans SET status = 'completed'").
		WithArgs("scan-1", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	first, err := store.MarkScanCompleted(context.Background(), "scan-1", testNow)
	require.NoError(t, err)
	require.True(t, first)
	second, err := store.MarkScanCompleted(context.Background(), "scan-1", testNow)
	require.NoError(t, err)
	require.False(t, second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStopScanFailsOpenJobs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE scans SET status = 'failed'").
		WithArgs("scan-1", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE jobs SET status = 'failed'").
		WithArgs("scan-1", "stopped by operator", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))
	mock.ExpectCommit()

	n, err := store.StopScan(context.Background(), "scan-1", "stopped by operator", testNow)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStopScanNotRunning(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE scans SET status = 'failed'").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("scan-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := store.StopScan(context.Background(), "scan-1", "stop", testNow)
	require.ErrorIs(t, err, monitor.ErrScanNotRunning)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStopScanMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE scans SET status = 'failed'").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := store.StopScan(context.Background(), "scan-x", "stop", testNow)
	require.ErrorIs(t, err, monitor.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobCountsGroupsByStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT status, COUNT").
		WithArgs("scan-1").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("completed", 3).
			AddRow("failed", 1).
			AddRow("pending", 2))

	counts, err := store.JobCounts(context.Background(), "scan-1")
	require.NoError(t, err)
	require.Equal(t, 4, counts.Terminal())
	require.Equal(t, 2, counts[monitor.JobStatusPending])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListScansBuildsFilter(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	done := testNow
	scan := monitor.Scan{
		ID: "scan-2", ProjectID: "proj-1", Status: monitor.ScanStatusCompleted, TriggerType: monitor.TriggerScheduled,
		TotalTasks: 1, CompletedTasks: 1, DateFrom: (*time.Time)(nil), DateTo: (*time.Time)(nil),
		AIBriefing: (*string)(nil), CreatedAt: testNow, CompletedAt: &done,
	}
	mock.ExpectQuery("FROM scans WHERE project_id = \\$1 AND status = \\$2 ORDER BY completed_at DESC").
		WithArgs("proj-1", "completed").
		WillReturnRows(scanRowsFor(scan))

	scans, err := store.ListScans(context.Background(), monitor.ScanFilter{
		ProjectID: "proj-1",
		Status:    monitor.ScanStatusCompleted,
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, scans, 1)
	require.Equal(t, monitor.TriggerScheduled, scans[0].TriggerType)
	require.NoError(t, mock.ExpectationsWereMet())
}
