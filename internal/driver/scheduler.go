package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/maintenance"
	"github.com/JakeFAU/brand-monitor/internal/monitor"
	"github.com/JakeFAU/brand-monitor/internal/orchestrator"
)

// SchedulerStore is the read side the scheduler needs.
type SchedulerStore interface {
	ListActiveProjects(ctx context.Context) ([]monitor.Project, error)
	ListScans(ctx context.Context, filter monitor.ScanFilter) ([]monitor.Scan, error)
}

// ScanStarter starts scheduled scans.
type ScanStarter interface {
	StartScan(ctx context.Context, projectID string, opts orchestrator.StartOptions) (monitor.Scan, error)
	IncrementalWindow(ctx context.Context, projectID string) (*time.Time, *time.Time, error)
}

// Filter is the context filter batch call.
type Filter interface {
	RunBatch(ctx context.Context, projectID, scanID string) (maintenance.FilterBatchResult, error)
}

// Normalizer is the tag normalizer run.
type Normalizer interface {
	Run(ctx context.Context, projectID string) (maintenance.NormalizeResult, error)
}

// Kicker fires the background runner.
type Kicker interface {
	Kick() bool
}

// SchedulerConfig controls the scheduler.
type SchedulerConfig struct {
	Tick            time.Duration
	MaintenanceCron string
	// MaintenanceBudget bounds the context filter loop of one project.
	MaintenanceBudget time.Duration
	Incremental       bool
}

// SchedulerDeps bundles collaborators. Filter and Normalizer are optional.
type SchedulerDeps struct {
	Store      SchedulerStore
	Starter    ScanStarter
	Kicker     Kicker
	Filter     Filter
	Normalizer Normalizer
	Clock      monitor.Clock
}

// Scheduler starts due project scans and runs periodic maintenance.
type Scheduler struct {
	deps            SchedulerDeps
	cfg             SchedulerConfig
	maintenance     *cronexpr.Expression
	lastMaintenance time.Time
	logger          *zap.Logger
}

// NewScheduler constructs a Scheduler. An empty MaintenanceCron disables
// periodic maintenance.
func NewScheduler(deps SchedulerDeps, cfg SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	if deps.Store == nil || deps.Starter == nil || deps.Clock == nil {
		return nil, errors.New("scheduler requires a store, a scan starter and a clock")
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.MaintenanceBudget <= 0 {
		cfg.MaintenanceBudget = 4 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{deps: deps, cfg: cfg, lastMaintenance: deps.Clock.Now(), logger: logger.Named("scheduler")}
	if cfg.MaintenanceCron != "" {
		expr, err := cronexpr.Parse(cfg.MaintenanceCron)
		if err != nil {
			return nil, fmt.Errorf("parse maintenance cron: %w", err)
		}
		s.maintenance = expr
	}
	return s, nil
}

// Run ticks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	s.logger.Info("scheduler started", zap.Duration("tick", s.cfg.Tick))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick starts every due scheduled scan and, when due, runs maintenance.
// It returns the number of scans started.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.deps.Clock.Now()
	projects, err := s.deps.Store.ListActiveProjects(ctx)
	if err != nil {
		s.logger.Error("list active projects failed", zap.Error(err))
		return 0
	}
	started := 0
	for _, p := range projects {
		if p.Schedule == "" {
			continue
		}
		ok, err := s.startIfDue(ctx, p, now)
		if err != nil {
			s.logger.Warn("scheduled scan failed", zap.String("project_id", p.ID), zap.Error(err))
			continue
		}
		if ok {
			started++
		}
	}
	if started > 0 && s.deps.Kicker != nil {
		s.deps.Kicker.Kick()
	}
	if s.maintenanceDue(now) {
		s.lastMaintenance = now
		s.RunMaintenance(ctx, projects)
	}
	return started
}

func (s *Scheduler) startIfDue(ctx context.Context, p monitor.Project, now time.Time) (bool, error) {
	expr, err := cronexpr.Parse(p.Schedule)
	if err != nil {
		return false, fmt.Errorf("parse schedule %q: %w", p.Schedule, err)
	}
	latest, err := s.deps.Store.ListScans(ctx, monitor.ScanFilter{ProjectID: p.ID, Limit: 1})
	if err != nil {
		return false, fmt.Errorf("latest scan: %w", err)
	}
	base := p.CreatedAt
	if len(latest) > 0 {
		if latest[0].Status == monitor.ScanStatusRunning {
			return false, nil
		}
		base = latest[0].CreatedAt
	}
	// A project that never ran is due immediately.
	next := now
	if !base.IsZero() {
		next = expr.Next(base)
	}
	if next.IsZero() || next.After(now) {
		return false, nil
	}

	opts := orchestrator.StartOptions{Trigger: monitor.TriggerScheduled}
	if s.cfg.Incremental {
		opts.DateFrom, opts.DateTo, err = s.deps.Starter.IncrementalWindow(ctx, p.ID)
		if err != nil {
			return false, err
		}
	}
	scan, err := s.deps.Starter.StartScan(ctx, p.ID, opts)
	if err != nil {
		return false, err
	}
	s.logger.Info("scheduled scan started",
		zap.String("project_id", p.ID), zap.String("scan_id", scan.ID), zap.Time("due", next))
	return true, nil
}

func (s *Scheduler) maintenanceDue(now time.Time) bool {
	if s.maintenance == nil {
		return false
	}
	next := s.maintenance.Next(s.lastMaintenance)
	return !next.IsZero() && !next.After(now)
}

// RunMaintenance drains the context filter and runs the tag normalizer for
// every given project. Failures are logged per project.
func (s *Scheduler) RunMaintenance(ctx context.Context, projects []monitor.Project) {
	for _, p := range projects {
		if ctx.Err() != nil {
			return
		}
		log := s.logger.With(zap.String("project_id", p.ID))
		if s.deps.Filter != nil {
			res := s.drainFilter(ctx, p.ID)
			log.Info("maintenance context filter", zap.Int("evaluated", res.Evaluated), zap.Int("remaining", res.Remaining))
		}
		if s.deps.Normalizer != nil {
			if res, err := s.deps.Normalizer.Run(ctx, p.ID); err != nil {
				log.Warn("maintenance tag normalizer failed", zap.Error(err))
			} else {
				log.Info("maintenance tag normalizer", zap.Int("merged", res.TagsMerged), zap.Int("remaining", res.TagsRemaining))
			}
		}
	}
}

func (s *Scheduler) drainFilter(ctx context.Context, projectID string) maintenance.FilterBatchResult {
	deadline := s.deps.Clock.Now().Add(s.cfg.MaintenanceBudget)
	total, err := DrainFilter(ctx, s.deps.Filter, projectID, "", deadline, s.deps.Clock.Now)
	if err != nil {
		s.logger.Warn("context filter batch failed", zap.String("project_id", projectID), zap.Error(err))
	}
	return total
}

// DrainFilter loops context filter batches until nothing remains, a batch
// makes no progress, or deadline passes. Totals cover the batches that ran.
func DrainFilter(
	ctx context.Context,
	f Filter,
	projectID, scanID string,
	deadline time.Time,
	now func() time.Time,
) (maintenance.FilterBatchResult, error) {
	var total maintenance.FilterBatchResult
	for ctx.Err() == nil && now().Before(deadline) {
		res, err := f.RunBatch(ctx, projectID, scanID)
		if err != nil {
			return total, err
		}
		total.Evaluated += res.Evaluated
		total.OffTopic += res.OffTopic
		total.OnTopic += res.OnTopic
		total.Remaining = res.Remaining
		total.Error = res.Error
		if res.Remaining == 0 || res.Evaluated == 0 {
			break
		}
	}
	return total, nil
}
