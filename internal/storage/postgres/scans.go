package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

const (
	projectColumns = "id, name, industry, description, language, location_code, active, keywords, sources, " +
		"competitors, alert_keywords, COALESCE(schedule, ''), created_at"
	scanColumns = "id, project_id, status, trigger_type, total_tasks, completed_tasks, date_from, date_to, " +
		"ai_briefing, created_at, completed_at"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (monitor.Project, error) {
	var p monitor.Project
	err := row.Scan(
		&p.ID, &p.Name, &p.Industry, &p.Description, &p.Language, &p.LocationCode, &p.Active,
		&p.Keywords, &p.Sources, &p.Competitors, &p.AlertKeywords, &p.Schedule, &p.CreatedAt,
	)
	return p, err
}

func scanScan(row rowScanner) (monitor.Scan, error) {
	var (
		sc              monitor.Scan
		status, trigger string
	)
	err := row.Scan(
		&sc.ID, &sc.ProjectID, &status, &trigger, &sc.TotalTasks, &sc.CompletedTasks,
		&sc.DateFrom, &sc.DateTo, &sc.AIBriefing, &sc.CreatedAt, &sc.CompletedAt,
	)
	sc.Status = monitor.ScanStatus(status)
	sc.TriggerType = monitor.TriggerType(trigger)
	return sc, err
}

// SaveProject inserts or replaces a project. Projects are administered
// outside the engine; this is used for seeding.
func (s *Store) SaveProject(ctx context.Context, p monitor.Project) error {
	if p.ID == "" {
		return fmt.Errorf("project id is required: %w", monitor.ErrInvalidArgument)
	}
	var schedule *string
	if p.Schedule != "" {
		schedule = &p.Schedule
	}
	const q = `INSERT INTO projects (id, name, industry, description, language, location_code, active,
	keywords, sources, competitors, alert_keywords, schedule)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, industry = EXCLUDED.industry,
	description = EXCLUDED.description, language = EXCLUDED.language,
	location_code = EXCLUDED.location_code, active = EXCLUDED.active, keywords = EXCLUDED.keywords,
	sources = EXCLUDED.sources, competitors = EXCLUDED.competitors,
	alert_keywords = EXCLUDED.alert_keywords, schedule = EXCLUDED.schedule`
	_, err := s.pool.Exec(ctx, q,
		p.ID, p.Name, p.Industry, p.Description, p.Language, p.LocationCode, p.Active,
		nonNil(p.Keywords), nonNil(p.Sources), nonNil(p.Competitors), nonNil(p.AlertKeywords), schedule,
	)
	if err != nil {
		return fmt.Errorf("failed to save project %s: %w", p.ID, err)
	}
	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(ctx context.Context, projectID string) (monitor.Project, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = $1", projectID)
	p, err := scanProject(row)
	if err != nil {
		return monitor.Project{}, notFound(err, "project", projectID)
	}
	return p, nil
}

// ListActiveProjects returns active projects ordered by ID.
func (s *Store) ListActiveProjects(ctx context.Context) ([]monitor.Project, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+projectColumns+" FROM projects WHERE active ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()
	var out []monitor.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateScan writes the scan row and bulk-copies its jobs in one transaction.
func (s *Store) CreateScan(ctx context.Context, scan monitor.Scan, jobs []monitor.Job) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		const q = `INSERT INTO scans (id, project_id, status, trigger_type, total_tasks, completed_tasks,
	date_from, date_to, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		if _, err := tx.Exec(ctx, q,
			scan.ID, scan.ProjectID, string(scan.Status), string(scan.TriggerType), scan.TotalTasks,
			scan.CompletedTasks, scan.DateFrom, scan.DateTo, scan.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}
		rows := make([][]any, len(jobs))
		for i, j := range jobs {
			rows[i] = []any{j.ID, j.ScanID, j.Keyword, j.Source, string(j.Status), j.RetryCount, j.CreatedAt}
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"jobs"},
			[]string{"id", "scan_id", "keyword", "source", "status", "retry_count", "created_at"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create scan %s: %w", scan.ID, err)
	}
	return nil
}

// GetScan fetches a scan by ID.
func (s *Store) GetScan(ctx context.Context, scanID string) (monitor.Scan, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+scanColumns+" FROM scans WHERE id = $1", scanID)
	sc, err := scanScan(row)
	if err != nil {
		return monitor.Scan{}, notFound(err, "scan", scanID)
	}
	return sc, nil
}

// ListScans returns matching scans, newest first. Completed listings are
// ordered by completion time so the previous scan is the second row.
func (s *Store) ListScans(ctx context.Context, filter monitor.ScanFilter) ([]monitor.Scan, error) {
	b := s.sb.Select(scanColumns).From("scans")
	if filter.ProjectID != "" {
		b = b.Where("project_id = ?", filter.ProjectID)
	}
	if filter.Status != "" {
		b = b.Where("status = ?", string(filter.Status))
	}
	if filter.Status == monitor.ScanStatusCompleted {
		b = b.OrderBy("completed_at DESC NULLS LAST", "created_at DESC", "id DESC")
	} else {
		b = b.OrderBy("created_at DESC", "id DESC")
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build scan listing: %w", err)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()
	var out []monitor.Scan
	for rows.Next() {
		sc, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scan row: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// IncrementCompleted bumps completed_tasks without exceeding total_tasks.
func (s *Store) IncrementCompleted(ctx context.Context, scanID string) (monitor.Scan, error) {
	const q = `UPDATE scans SET completed_tasks = LEAST(completed_tasks + 1, total_tasks)
WHERE id = $1 RETURNING ` + scanColumns
	sc, err := scanScan(s.pool.QueryRow(ctx, q, scanID))
	if err != nil {
		return monitor.Scan{}, notFound(err, "scan", scanID)
	}
	return sc, nil
}

// MarkScanCompleted flips a running scan whose counters are full. Only one
// caller observes true.
func (s *Store) MarkScanCompleted(ctx context.Context, scanID string, now time.Time) (bool, error) {
	const q = `UPDATE scans SET status = 'completed', completed_at = $2
WHERE id = $1 AND status = 'running' AND total_tasks > 0 AND completed_tasks >= total_tasks`
	tag, err := s.pool.Exec(ctx, q, scanID, now)
	if err != nil {
		return false, fmt.Errorf("failed to complete scan %s: %w", scanID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// StopScan fails all non-terminal jobs of a running scan and the scan itself.
func (s *Store) StopScan(ctx context.Context, scanID, reason string, now time.Time) (int, error) {
	var stopped int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE scans SET status = 'failed', completed_at = $2 WHERE id = $1 AND status = 'running'`,
			scanID, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return s.scanMissingOrIdle(ctx, tx, scanID)
		}
		tag, err = tx.Exec(ctx, `UPDATE jobs SET status = 'failed', error_message = $2, completed_at = $3,
	lease_id = NULL WHERE scan_id = $1 AND status IN ('pending', 'processing')`, scanID, reason, now)
		if err != nil {
			return err
		}
		stopped = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		if errors.Is(err, monitor.ErrNotFound) || errors.Is(err, monitor.ErrScanNotRunning) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to stop scan %s: %w", scanID, err)
	}
	return stopped, nil
}

func (s *Store) scanMissingOrIdle(ctx context.Context, q querier, scanID string) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scans WHERE id = $1)`, scanID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("scan %s: %w", scanID, monitor.ErrNotFound)
	}
	return monitor.ErrScanNotRunning
}

// ResetScanJobs reverts every processing job of the scan to pending.
func (s *Store) ResetScanJobs(ctx context.Context, scanID, reason string) (int, error) {
	if err := s.scanExists(ctx, scanID); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = 'pending', lease_id = NULL, started_at = NULL,
	error_message = $2 WHERE scan_id = $1 AND status = 'processing'`, scanID, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to reset jobs of scan %s: %w", scanID, err)
	}
	return int(tag.RowsAffected()), nil
}

// RecountCompleted raises completed_tasks to the number of terminal jobs.
// The counter never decreases and never exceeds total_tasks.
func (s *Store) RecountCompleted(ctx context.Context, scanID string) (monitor.Scan, error) {
	const q = `UPDATE scans SET completed_tasks = GREATEST(completed_tasks, LEAST(total_tasks,
	(SELECT COUNT(*) FROM jobs WHERE scan_id = $1 AND status IN ('completed', 'failed'))))
WHERE id = $1 AND status = 'running' RETURNING ` + scanColumns
	sc, err := scanScan(s.pool.QueryRow(ctx, q, scanID))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.GetScan(ctx, scanID)
	}
	if err != nil {
		return monitor.Scan{}, fmt.Errorf("failed to recount scan %s: %w", scanID, err)
	}
	return sc, nil
}

// JobCounts tallies the scan's jobs by status.
func (s *Store) JobCounts(ctx context.Context, scanID string) (monitor.JobCounts, error) {
	if err := s.scanExists(ctx, scanID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs WHERE scan_id = $1 GROUP BY status`, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs of scan %s: %w", scanID, err)
	}
	defer rows.Close()
	counts := monitor.JobCounts{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[monitor.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// SaveBriefing stores the briefing text on the scan.
func (s *Store) SaveBriefing(ctx context.Context, scanID, text string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE scans SET ai_briefing = $2 WHERE id = $1`, scanID, text)
	if err != nil {
		return fmt.Errorf("failed to save briefing for scan %s: %w", scanID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scan %s: %w", scanID, monitor.ErrNotFound)
	}
	return nil
}

func (s *Store) scanExists(ctx context.Context, scanID string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scans WHERE id = $1)`, scanID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up scan %s: %w", scanID, err)
	}
	if !exists {
		return fmt.Errorf("scan %s: %w", scanID, monitor.ErrNotFound)
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
