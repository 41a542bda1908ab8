// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

type jobRow struct {
	job monitor.Job
	seq int64
}

type tagScanKey struct {
	tagID  string
	scanID string
}

// Store implements monitor.Store with a single mutex. Every conditional
// transition runs under that lock, which gives the same single-winner
// semantics as the conditional UPDATE statements of the Postgres store.
type Store struct {
	mu        sync.Mutex
	seq       int64
	projects  map[string]monitor.Project
	scans     map[string]monitor.Scan
	jobs      map[string]*jobRow
	results   map[string]monitor.SerpResult
	analyses  map[string]monitor.Analysis
	tags      map[string]monitor.Tag
	tagScans  map[tagScanKey]int
	blacklist map[string]map[string]time.Time
}

var _ monitor.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		projects:  make(map[string]monitor.Project),
		scans:     make(map[string]monitor.Scan),
		jobs:      make(map[string]*jobRow),
		results:   make(map[string]monitor.SerpResult),
		analyses:  make(map[string]monitor.Analysis),
		tags:      make(map[string]monitor.Tag),
		tagScans:  make(map[tagScanKey]int),
		blacklist: make(map[string]map[string]time.Time),
	}
}

// Close is a no-op.
func (s *Store) Close() {}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// PutProject inserts or replaces a project. Projects are administered
// elsewhere; this exists for seeding.
func (s *Store) PutProject(_ context.Context, p monitor.Project) error {
	if p.ID == "" {
		return fmt.Errorf("project id is required: %w", monitor.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = cloneProject(p)
	return nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(_ context.Context, projectID string) (monitor.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return monitor.Project{}, fmt.Errorf("project %s: %w", projectID, monitor.ErrNotFound)
	}
	return cloneProject(p), nil
}

// ListActiveProjects returns active projects ordered by ID.
func (s *Store) ListActiveProjects(_ context.Context) ([]monitor.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]monitor.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if p.Active {
			out = append(out, cloneProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateScan stores the scan and its jobs.
func (s *Store) CreateScan(_ context.Context, scan monitor.Scan, jobs []monitor.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[scan.ProjectID]; !ok {
		return fmt.Errorf("project %s: %w", scan.ProjectID, monitor.ErrNotFound)
	}
	if _, exists := s.scans[scan.ID]; exists {
		return fmt.Errorf("scan %s already exists", scan.ID)
	}
	for _, j := range jobs {
		if _, exists := s.jobs[j.ID]; exists {
			return fmt.Errorf("job %s already exists", j.ID)
		}
	}
	s.scans[scan.ID] = scan
	for _, j := range jobs {
		s.jobs[j.ID] = &jobRow{job: j, seq: s.nextSeq()}
	}
	return nil
}

// GetScan fetches a scan by ID.
func (s *Store) GetScan(_ context.Context, scanID string) (monitor.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return monitor.Scan{}, fmt.Errorf("scan %s: %w", scanID, monitor.ErrNotFound)
	}
	return scan, nil
}

// ListScans returns matching scans, newest first.
func (s *Store) ListScans(_ context.Context, filter monitor.ScanFilter) ([]monitor.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []monitor.Scan
	for _, scan := range s.scans {
		if filter.ProjectID != "" && scan.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && scan.Status != filter.Status {
			continue
		}
		out = append(out, scan)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if filter.Status == monitor.ScanStatusCompleted && a.CompletedAt != nil && b.CompletedAt != nil &&
			!a.CompletedAt.Equal(*b.CompletedAt) {
			return a.CompletedAt.After(*b.CompletedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// IncrementCompleted bumps completed_tasks without exceeding total_tasks.
func (s *Store) IncrementCompleted(_ context.Context, scanID string) (monitor.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return monitor.Scan{}, fmt.Errorf("scan %s: %w", scanID, monitor.ErrNotFound)
	}
	if scan.CompletedTasks < scan.TotalTasks {
		scan.CompletedTasks++
	}
	s.scans[scanID] = scan
	return scan, nil
}

// MarkScanCompleted flips a running scan whose counters are full.
func (s *Store) MarkScanCompleted(_ context.Context, scanID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return false, fmt.Errorf("scan %s: %w", scanID, monitor.ErrNotFound)
	}
	if scan.Status != monitor.ScanStatusRunning || !scan.Done() {
		return false, nil
	}
	scan.Status = monitor.ScanStatusCompleted
	scan.CompletedAt = &now
	s.scans[scanID] = scan
	return true, nil
}

// StopScan fails all non-terminal jobs of a running scan and the scan itself.
func (s *Store) StopScan(_ context.Context, scanID, reason string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return 0, fmt.Errorf("scan %s: %w", scanID, monitor.ErrNotFound)
	}
	if scan.Status != monitor.ScanStatusRunning {
		return 0, monitor.ErrScanNotRunning
	}
	stopped := 0
	for _, row := range s.jobs {
		if row.job.ScanID != scanID || row.job.Status.Terminal() {
			continue
		}
		row.job.Status = monitor.JobStatusFailed
		row.job.ErrorMessage = reason
		row.job.LeaseID = ""
		row.job.CompletedAt = &now
		stopped++
	}
	scan.Status = monitor.ScanStatusFailed
	scan.CompletedAt = &now
	s.scans[scanID] = scan
	return stopped, nil
}

// ResetScanJobs reverts every processing job of the scan to pending.
func (s *Store) ResetScanJobs(_ context.Context, scanID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scans[scanID]; !ok {
		return 0, fmt.Errorf("scan %s: %w", scanID, monitor.ErrNotFound)
	}
	n := 0
	for _, row := range s.jobs {
		if row.job.ScanID == scanID && row.job.Status == monitor.JobStatusProcessing {
			releaseToPending(&row.job, reason)
			n++
		}
	}
	return n, nil
}

// RecountCompleted raises completed_tasks to the number of terminal jobs.
func (s *Store) RecountCompleted(_ context.Context, scanID string) (monitor.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return monitor.Scan{}, fmt.Errorf("scan %s: %w", scanID, monitor.ErrNotFound)
	}
	if scan.Status != monitor.ScanStatusRunning {
		return scan, nil
	}
	terminal := 0
	for _, row := range s.jobs {
		if row.job.ScanID == scanID && row.job.Status.Terminal() {
			terminal++
		}
	}
	terminal = min(terminal, scan.TotalTasks)
	if terminal > scan.CompletedTasks {
		scan.CompletedTasks = terminal
	}
	s.scans[scanID] = scan
	return scan, nil
}

// JobCounts tallies the scan's jobs by status.
func (s *Store) JobCounts(_ context.Context, scanID string) (monitor.JobCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scans[scanID]; !ok {
		return nil, fmt.Errorf("scan %s: %w", scanID, monitor.ErrNotFound)
	}
	counts := monitor.JobCounts{}
	for _, row := range s.jobs {
		if row.job.ScanID == scanID {
			counts[row.job.Status]++
		}
	}
	return counts, nil
}

// SaveBriefing stores the briefing text on the scan.
func (s *Store) SaveBriefing(_ context.Context, scanID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return fmt.Errorf("scan %s: %w", scanID, monitor.ErrNotFound)
	}
	scan.AIBriefing = &text
	s.scans[scanID] = scan
	return nil
}

// Jobs returns a snapshot of the scan's jobs in claim order.
func (s *Store) Jobs(scanID string) []monitor.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]*jobRow, 0)
	for _, row := range s.jobs {
		if row.job.ScanID == scanID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return lessJob(rows[i], rows[j]) })
	out := make([]monitor.Job, len(rows))
	for i, row := range rows {
		out[i] = row.job
	}
	return out
}

func cloneProject(p monitor.Project) monitor.Project {
	p.Keywords = slices.Clone(p.Keywords)
	p.Sources = slices.Clone(p.Sources)
	p.Competitors = slices.Clone(p.Competitors)
	p.AlertKeywords = slices.Clone(p.AlertKeywords)
	return p
}
