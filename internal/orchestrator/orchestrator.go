// Package orchestrator creates scans, stops or unlocks them, and detects
// when they complete.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

// Lifecycle event topics.
const (
	TopicScanStarted   = "scan.started"
	TopicScanCompleted = "scan.completed"
	TopicScanStopped   = "scan.stopped"
)

const (
	stopReason  = "manually stopped"
	resetReason = "reset by operator"
)

// Briefer regenerates the comparative briefing of a project.
type Briefer interface {
	Regenerate(ctx context.Context, projectID string) (*string, error)
}

// Event is the payload published on scan lifecycle transitions.
type Event struct {
	Event          string             `json:"event"`
	ScanID         string             `json:"scan_id"`
	ProjectID      string             `json:"project_id"`
	Status         monitor.ScanStatus `json:"status"`
	CompletedTasks int                `json:"completed_tasks"`
	TotalTasks     int                `json:"total_tasks"`
	At             time.Time          `json:"at"`
}

// StartOptions parameterizes StartScan.
type StartOptions struct {
	Trigger  monitor.TriggerType
	DateFrom *time.Time
	DateTo   *time.Time
}

// Status is a scan together with its job tallies.
type Status struct {
	Scan monitor.Scan      `json:"scan"`
	Jobs monitor.JobCounts `json:"jobs"`
}

// Deps bundles Orchestrator collaborators. Publisher and Briefer are optional.
type Deps struct {
	Store     monitor.ScanStore
	Publisher monitor.Publisher
	Briefer   Briefer
	Clock     monitor.Clock
	IDs       monitor.IDGenerator
}

// Orchestrator owns the scan lifecycle outside of job processing.
type Orchestrator struct {
	deps           Deps
	defaultSources []string
	logger         *zap.Logger
}

// New constructs an Orchestrator. defaultSources apply to projects that
// configure none.
func New(deps Deps, defaultSources []string, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator store is required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("orchestrator clock and id generator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		deps:           deps,
		defaultSources: append([]string(nil), defaultSources...),
		logger:         logger.Named("orchestrator"),
	}, nil
}

// SetBriefer wires the briefing generator after construction; the
// generator itself depends on stores the orchestrator also uses.
func (o *Orchestrator) SetBriefer(b Briefer) {
	o.deps.Briefer = b
}

// StartScan creates a running scan with one pending job per (keyword, source)
// pair and returns without processing any of them.
func (o *Orchestrator) StartScan(ctx context.Context, projectID string, opts StartOptions) (monitor.Scan, error) {
	project, err := o.deps.Store.GetProject(ctx, projectID)
	if err != nil {
		return monitor.Scan{}, fmt.Errorf("load project: %w", err)
	}
	keywords := uniqueNonEmpty(project.Keywords)
	if len(keywords) == 0 {
		return monitor.Scan{}, fmt.Errorf("project %s: %w", projectID, monitor.ErrNoKeywords)
	}
	sources := uniqueNonEmpty(project.Sources)
	if len(sources) == 0 {
		sources = uniqueNonEmpty(o.defaultSources)
	}
	if len(sources) == 0 {
		return monitor.Scan{}, fmt.Errorf("project %s has no sources: %w", projectID, monitor.ErrInvalidArgument)
	}
	if opts.DateFrom != nil && opts.DateTo != nil && opts.DateTo.Before(*opts.DateFrom) {
		return monitor.Scan{}, fmt.Errorf("date_to precedes date_from: %w", monitor.ErrInvalidArgument)
	}
	if opts.Trigger == "" {
		opts.Trigger = monitor.TriggerManual
	}

	scanID, err := o.deps.IDs.NewID()
	if err != nil {
		return monitor.Scan{}, fmt.Errorf("generate scan id: %w", err)
	}
	now := o.deps.Clock.Now()
	jobs := make([]monitor.Job, 0, len(keywords)*len(sources))
	for _, k := range keywords {
		for _, s := range sources {
			id, err := o.deps.IDs.NewID()
			if err != nil {
				return monitor.Scan{}, fmt.Errorf("generate job id: %w", err)
			}
			jobs = append(jobs, monitor.Job{
				ID:        id,
				ScanID:    scanID,
				Keyword:   k,
				Source:    s,
				Status:    monitor.JobStatusPending,
				CreatedAt: now,
			})
		}
	}
	scan := monitor.Scan{
		ID:          scanID,
		ProjectID:   project.ID,
		Status:      monitor.ScanStatusRunning,
		TriggerType: opts.Trigger,
		TotalTasks:  len(jobs),
		DateFrom:    opts.DateFrom,
		DateTo:      opts.DateTo,
		CreatedAt:   now,
	}
	if err := o.deps.Store.CreateScan(ctx, scan, jobs); err != nil {
		return monitor.Scan{}, fmt.Errorf("create scan: %w", err)
	}
	o.logger.Info("scan started",
		zap.String("scan_id", scan.ID),
		zap.String("project_id", project.ID),
		zap.String("trigger", string(scan.TriggerType)),
		zap.Int("total_tasks", scan.TotalTasks),
	)
	o.publish(ctx, TopicScanStarted, scan)
	return scan, nil
}

// StopScan fails every non-terminal job of a running scan and the scan itself.
// Stopped jobs are terminal and never retried.
func (o *Orchestrator) StopScan(ctx context.Context, scanID string) (monitor.Scan, error) {
	n, err := o.deps.Store.StopScan(ctx, scanID, stopReason, o.deps.Clock.Now())
	if err != nil {
		return monitor.Scan{}, fmt.Errorf("stop scan %s: %w", scanID, err)
	}
	scan, err := o.deps.Store.GetScan(ctx, scanID)
	if err != nil {
		return monitor.Scan{}, fmt.Errorf("reload scan: %w", err)
	}
	o.logger.Info("scan stopped", zap.String("scan_id", scanID), zap.Int("jobs_failed", n))
	o.publish(ctx, TopicScanStopped, scan)
	return scan, nil
}

// ResetStuckScan unlocks a running scan: processing jobs go back to pending
// regardless of age, the counter is recomputed from terminal jobs, and the
// completion check runs.
func (o *Orchestrator) ResetStuckScan(ctx context.Context, scanID string) (Status, error) {
	scan, err := o.deps.Store.GetScan(ctx, scanID)
	if err != nil {
		return Status{}, fmt.Errorf("load scan: %w", err)
	}
	if scan.Status != monitor.ScanStatusRunning {
		return Status{}, fmt.Errorf("scan %s: %w", scanID, monitor.ErrScanNotRunning)
	}
	n, err := o.deps.Store.ResetScanJobs(ctx, scanID, resetReason)
	if err != nil {
		return Status{}, fmt.Errorf("reset scan jobs: %w", err)
	}
	if _, err := o.deps.Store.RecountCompleted(ctx, scanID); err != nil {
		return Status{}, fmt.Errorf("recount scan: %w", err)
	}
	o.logger.Info("scan reset", zap.String("scan_id", scanID), zap.Int("jobs_reset", n))
	return o.Status(ctx, scanID)
}

// CheckCompletion flips the scan to completed once every task is terminal.
// Safe to call redundantly: only the caller whose conditional update wins
// publishes the event and triggers the briefing.
func (o *Orchestrator) CheckCompletion(ctx context.Context, scanID string) (bool, error) {
	won, err := o.deps.Store.MarkScanCompleted(ctx, scanID, o.deps.Clock.Now())
	if err != nil {
		return false, fmt.Errorf("mark scan completed: %w", err)
	}
	if !won {
		return false, nil
	}
	scan, err := o.deps.Store.GetScan(ctx, scanID)
	if err != nil {
		o.logger.Warn("reload completed scan failed", zap.String("scan_id", scanID), zap.Error(err))
		return true, nil
	}
	o.logger.Info("scan completed",
		zap.String("scan_id", scanID),
		zap.String("project_id", scan.ProjectID),
		zap.Int("total_tasks", scan.TotalTasks),
	)
	o.publish(ctx, TopicScanCompleted, scan)
	o.brief(ctx, scan)
	return true, nil
}

// Status returns the scan and its job tallies, completing the scan first when no work remains.
func (o *Orchestrator) Status(ctx context.Context, scanID string) (Status, error) {
	if _, err := o.CheckCompletion(ctx, scanID); err != nil {
		return Status{}, err
	}
	scan, err := o.deps.Store.GetScan(ctx, scanID)
	if err != nil {
		return Status{}, fmt.Errorf("load scan: %w", err)
	}
	counts, err := o.deps.Store.JobCounts(ctx, scanID)
	if err != nil {
		return Status{}, fmt.Errorf("count jobs: %w", err)
	}
	return Status{Scan: scan, Jobs: counts}, nil
}

// IncrementalWindow returns the date window of a scheduled scan: from the
// latest completed scan's completion time to now. Both are nil when the
// project has never completed a scan.
func (o *Orchestrator) IncrementalWindow(ctx context.Context, projectID string) (*time.Time, *time.Time, error) {
	scans, err := o.deps.Store.ListScans(ctx, monitor.ScanFilter{
		ProjectID: projectID,
		Status:    monitor.ScanStatusCompleted,
		Limit:     1,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list completed scans: %w", err)
	}
	if len(scans) == 0 || scans[0].CompletedAt == nil {
		return nil, nil, nil
	}
	from := *scans[0].CompletedAt
	to := o.deps.Clock.Now()
	return &from, &to, nil
}

func (o *Orchestrator) brief(ctx context.Context, scan monitor.Scan) {
	if o.deps.Briefer == nil {
		return
	}
	text, err := o.deps.Briefer.Regenerate(ctx, scan.ProjectID)
	switch {
	case err != nil:
		o.logger.Warn("briefing generation failed", zap.String("scan_id", scan.ID), zap.Error(err))
	case text == nil:
		o.logger.Debug("briefing skipped: not enough completed scans", zap.String("project_id", scan.ProjectID))
	default:
		o.logger.Info("briefing generated", zap.String("scan_id", scan.ID))
	}
}

func (o *Orchestrator) publish(ctx context.Context, topic string, scan monitor.Scan) {
	if o.deps.Publisher == nil {
		return
	}
	ev := Event{
		Event:          topic,
		ScanID:         scan.ID,
		ProjectID:      scan.ProjectID,
		Status:         scan.Status,
		CompletedTasks: scan.CompletedTasks,
		TotalTasks:     scan.TotalTasks,
		At:             o.deps.Clock.Now(),
	}
	if _, err := o.deps.Publisher.Publish(ctx, topic, ev); err != nil {
		o.logger.Warn("publish scan event failed", zap.String("topic", topic), zap.String("scan_id", scan.ID), zap.Error(err))
	}
}

func uniqueNonEmpty(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
