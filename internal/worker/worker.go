// Package worker implements the single-job step that drives scan execution.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/brand-monitor/internal/metrics"
	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

const (
	staleReason       = "reclaimed: processing exceeded staleness window"
	extractionWorkers = 4
)

var errLeaseLost = errors.New("lease lost: job was reclaimed or stopped")

// Config controls Worker behavior.
type Config struct {
	StaleAfter          time.Duration
	MaxRetries          int
	TopNExtract         int
	SearchDepth         int
	DefaultLanguage     string
	DefaultLocationCode int
}

// Store is the persistence the step needs.
type Store interface {
	monitor.JobQueue
	monitor.ScanStore
	monitor.ResultStore
}

// CompletionChecker flips a scan to completed once its counters are full.
type CompletionChecker interface {
	CheckCompletion(ctx context.Context, scanID string) (bool, error)
}

// Archiver keeps raw provider payloads.
type Archiver interface {
	SavePayload(ctx context.Context, scanID, jobID string, payload []byte) (string, error)
}

// Deps bundles the Worker collaborators. Extractor, Analyzer and Archiver are optional.
type Deps struct {
	Store      Store
	Search     monitor.SearchProvider
	Extractor  monitor.ContentExtractor
	Analyzer   monitor.Analyzer
	Archiver   Archiver
	Completion CompletionChecker
	Clock      monitor.Clock
	IDs        monitor.IDGenerator
}

// Worker claims one job per call and runs the fetch, dedup, extract,
// analyze and persist pipeline for it. It holds no state between calls,
// so any number of drivers may call ProcessOneJob concurrently.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("worker store is required")
	case deps.Search == nil:
		return nil, errors.New("worker search provider is required")
	case deps.Completion == nil:
		return nil, errors.New("worker completion checker is required")
	case deps.Clock == nil || deps.IDs == nil:
		return nil, errors.New("worker clock and id generator are required")
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.TopNExtract <= 0 {
		cfg.TopNExtract = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger.Named("worker")}, nil
}

// ProcessOneJob claims and runs at most one job. It never returns an error;
// failures are reported through the result descriptor.
func (w *Worker) ProcessOneJob(ctx context.Context) monitor.StepResult {
	metrics.IncActiveSteps()
	defer metrics.DecActiveSteps()
	start := time.Now()
	res := w.step(ctx)
	metrics.ObserveStep(string(res.Status), time.Since(start))
	return res
}

func (w *Worker) step(ctx context.Context) monitor.StepResult {
	now := w.deps.Clock.Now()
	reclaimed, err := w.deps.Store.ReclaimStale(ctx, now.Add(-w.cfg.StaleAfter), staleReason)
	if err != nil {
		return w.errorResult(ctx, monitor.Job{}, fmt.Errorf("reclaim stale jobs: %w", err))
	}
	if reclaimed > 0 {
		metrics.ObserveStaleReclaimed(reclaimed)
		w.logger.Warn("reclaimed stale jobs", zap.Int("count", reclaimed))
	}

	lease, err := w.deps.IDs.NewID()
	if err != nil {
		return w.errorResult(ctx, monitor.Job{}, fmt.Errorf("generate lease: %w", err))
	}
	job, ok, err := w.deps.Store.ClaimNextJob(ctx, lease, now)
	if err != nil {
		return w.errorResult(ctx, monitor.Job{}, fmt.Errorf("claim job: %w", err))
	}
	if !ok {
		pending := w.pending(ctx)
		if pending > 0 {
			metrics.ObserveContestedClaim()
			w.logger.Debug("claim contested", zap.Int("pending", pending))
		}
		return monitor.StepResult{Status: monitor.StepNoJobs, PendingCount: pending}
	}
	metrics.ObserveJobTransition(string(monitor.JobStatusProcessing))
	log := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("scan_id", job.ScanID),
		zap.String("keyword", job.Keyword),
		zap.String("source", job.Source),
	)
	log.Info("job claimed", zap.Int("retry_count", job.RetryCount))

	err = w.run(ctx, job, log)
	// Transitions outlive the caller's context.
	tctx := context.WithoutCancel(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		return w.release(tctx, job, err, log)
	case err != nil:
		return w.retryOrFail(tctx, job, err, log)
	}
	return w.complete(tctx, job, log)
}

// run executes the pipeline. Only errors that should consume a retry are
// returned; enrichment failures degrade and are logged.
func (w *Worker) run(ctx context.Context, job monitor.Job, log *zap.Logger) error {
	scan, err := w.deps.Store.GetScan(ctx, job.ScanID)
	if err != nil {
		return fmt.Errorf("load scan: %w", err)
	}
	project, err := w.deps.Store.GetProject(ctx, scan.ProjectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	resp, err := w.deps.Search.Fetch(ctx, w.query(job, scan, project))
	if err != nil {
		return fmt.Errorf("fetch search results: %w", err)
	}
	w.archive(ctx, job, resp.Raw, log)

	fresh, err := w.dedupe(ctx, project.ID, resp.Items)
	if err != nil {
		return err
	}
	if len(fresh) == 0 {
		log.Info("all results already known", zap.Int("fetched", len(resp.Items)))
		return nil
	}

	results, err := w.buildResults(ctx, job, scan, project, fresh)
	if err != nil {
		return err
	}
	if err := w.deps.Store.InsertResults(ctx, results); err != nil {
		return fmt.Errorf("insert results: %w", err)
	}
	log.Info("results stored", zap.Int("fetched", len(resp.Items)), zap.Int("new", len(results)))

	w.enrich(ctx, job, project, results, log)
	return nil
}

func (w *Worker) query(job monitor.Job, scan monitor.Scan, project monitor.Project) monitor.SearchQuery {
	q := monitor.SearchQuery{
		Keyword:      job.Keyword,
		Source:       job.Source,
		Language:     project.Language,
		LocationCode: project.LocationCode,
		Depth:        w.cfg.SearchDepth,
		DateFrom:     scan.DateFrom,
		DateTo:       scan.DateTo,
	}
	if q.Language == "" {
		q.Language = w.cfg.DefaultLanguage
	}
	if q.LocationCode == 0 {
		q.LocationCode = w.cfg.DefaultLocationCode
	}
	return q
}

func (w *Worker) archive(ctx context.Context, job monitor.Job, raw []byte, log *zap.Logger) {
	if w.deps.Archiver == nil || len(raw) == 0 {
		return
	}
	uri, err := w.deps.Archiver.SavePayload(ctx, job.ScanID, job.ID, raw)
	if err != nil {
		log.Warn("archive payload failed", zap.Error(err))
		return
	}
	log.Debug("payload archived", zap.String("uri", uri))
}

// dedupe drops items whose URL the project already stored, and repeats
// within the batch.
func (w *Worker) dedupe(ctx context.Context, projectID string, items []monitor.SearchItem) ([]monitor.SearchItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	urls := make([]string, 0, len(items))
	for _, it := range items {
		urls = append(urls, it.URL)
	}
	known, err := w.deps.Store.KnownURLs(ctx, projectID, urls)
	if err != nil {
		return nil, fmt.Errorf("look up known urls: %w", err)
	}
	seen := make(map[string]bool, len(items))
	fresh := make([]monitor.SearchItem, 0, len(items))
	for _, it := range items {
		if it.URL == "" || known[it.URL] || seen[it.URL] {
			continue
		}
		seen[it.URL] = true
		fresh = append(fresh, it)
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Position < fresh[j].Position })
	return fresh, nil
}

func (w *Worker) buildResults(
	ctx context.Context,
	job monitor.Job,
	scan monitor.Scan,
	project monitor.Project,
	items []monitor.SearchItem,
) ([]monitor.SerpResult, error) {
	competitors := make(map[string]bool, len(project.Competitors))
	for _, c := range project.Competitors {
		competitors[monitor.NormalizeDomain(c)] = true
	}
	now := w.deps.Clock.Now()
	results := make([]monitor.SerpResult, len(items))
	for i, it := range items {
		id, err := w.deps.IDs.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate result id: %w", err)
		}
		domain := monitor.NormalizeDomain(it.Domain)
		if domain == "" {
			domain = monitor.NormalizeDomain(it.URL)
		}
		results[i] = monitor.SerpResult{
			ID:           id,
			ScanID:       scan.ID,
			ProjectID:    project.ID,
			Keyword:      job.Keyword,
			Source:       job.Source,
			Position:     it.Position,
			URL:          it.URL,
			Title:        it.Title,
			Snippet:      it.Snippet,
			Domain:       domain,
			PublishedAt:  it.PublishedAt,
			IsCompetitor: competitors[domain],
			CreatedAt:    now,
		}
	}
	w.extractTop(ctx, results)
	return results, nil
}

// extractTop fills Content for the first TopNExtract results.
func (w *Worker) extractTop(ctx context.Context, results []monitor.SerpResult) {
	if w.deps.Extractor == nil {
		return
	}
	n := min(w.cfg.TopNExtract, len(results))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractionWorkers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			results[i].Content = w.deps.Extractor.Extract(gctx, results[i].URL)
			return nil
		})
	}
	_ = g.Wait()
}
