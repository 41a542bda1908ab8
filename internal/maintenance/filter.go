package maintenance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/metrics"
	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

const (
	defaultFilterBatch = 50
	noVerdictReason    = "no verdict returned"
	agentFilter        = "context_filter"
)

// FilterStore is the persistence used by ContextFilter.
type FilterStore interface {
	monitor.ProjectStore
	monitor.FilterStore
	RebuildTags(ctx context.Context, projectID string) error
}

// FilterBatchResult reports one context filter batch.
type FilterBatchResult struct {
	Evaluated int    `json:"evaluated"`
	OffTopic  int    `json:"off_topic"`
	OnTopic   int    `json:"on_topic"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

// ContextFilter classifies analyzed results as on or off topic for their project.
type ContextFilter struct {
	store     FilterStore
	judge     monitor.RelevanceJudge
	batchSize int
	logger    *zap.Logger
}

// NewContextFilter constructs a ContextFilter.
func NewContextFilter(store FilterStore, judge monitor.RelevanceJudge, batchSize int, logger *zap.Logger) (*ContextFilter, error) {
	if store == nil || judge == nil {
		return nil, errors.New("context filter requires a store and a relevance judge")
	}
	if batchSize <= 0 {
		batchSize = defaultFilterBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextFilter{store: store, judge: judge, batchSize: batchSize, logger: logger.Named(agentFilter)}, nil
}

// RunBatch evaluates up to one batch of never-evaluated analyses of the
// project (optionally one scan). Callers loop until Remaining is zero.
// A judge failure is reported in the result and leaves the batch untouched.
func (f *ContextFilter) RunBatch(ctx context.Context, projectID, scanID string) (FilterBatchResult, error) {
	project, err := f.store.GetProject(ctx, projectID)
	if err != nil {
		return FilterBatchResult{}, fmt.Errorf("load project: %w", err)
	}
	log := f.logger.With(zap.String("project_id", projectID), zap.String("scan_id", scanID))

	items, err := f.store.PendingRelevance(ctx, projectID, scanID, f.batchSize)
	if err != nil {
		return FilterBatchResult{}, fmt.Errorf("load pending analyses: %w", err)
	}
	var res FilterBatchResult
	if len(items) > 0 {
		verdicts, err := f.judge.Evaluate(ctx, project.Context(), items)
		if err != nil {
			log.Warn("relevance evaluation failed", zap.Int("items", len(items)), zap.Error(err))
			metrics.ObserveAgentItems(agentFilter, "error", len(items))
			res.Error = err.Error()
		} else {
			f.apply(ctx, items, verdicts, &res, log)
		}
	}

	res.Remaining, err = f.store.CountPendingRelevance(ctx, projectID, scanID)
	if err != nil {
		return res, fmt.Errorf("count pending analyses: %w", err)
	}
	log.Info("context filter batch",
		zap.Int("evaluated", res.Evaluated),
		zap.Int("off_topic", res.OffTopic),
		zap.Int("remaining", res.Remaining),
	)
	return res, nil
}

func (f *ContextFilter) apply(
	ctx context.Context,
	items []monitor.RelevanceItem,
	verdicts []monitor.RelevanceVerdict,
	res *FilterBatchResult,
	log *zap.Logger,
) {
	byID := make(map[string]monitor.RelevanceVerdict, len(verdicts))
	for _, v := range verdicts {
		byID[v.ID] = v
	}
	for _, it := range items {
		v, ok := byID[it.ID]
		if !ok {
			v = monitor.RelevanceVerdict{ID: it.ID, Reason: noVerdictReason}
		}
		written, err := f.store.SaveRelevance(ctx, it.ID, v.IsOffTopic, v.Reason)
		if err != nil {
			log.Warn("save relevance verdict failed", zap.String("analysis_id", it.ID), zap.Error(err))
			metrics.ObserveAgentItems(agentFilter, "error", 1)
			continue
		}
		if !written {
			// Another batch got there first.
			continue
		}
		res.Evaluated++
		if v.IsOffTopic {
			res.OffTopic++
		} else {
			res.OnTopic++
		}
	}
	metrics.ObserveAgentItems(agentFilter, "off_topic", res.OffTopic)
	metrics.ObserveAgentItems(agentFilter, "on_topic", res.OnTopic)
}

// Reset clears previous verdicts of the project (or one scan) so they are
// evaluated again.
func (f *ContextFilter) Reset(ctx context.Context, projectID, scanID string) (int, error) {
	n, err := f.store.ResetRelevance(ctx, projectID, scanID)
	if err != nil {
		return 0, fmt.Errorf("reset relevance: %w", err)
	}
	f.logger.Info("context filter reset", zap.String("project_id", projectID), zap.String("scan_id", scanID), zap.Int("cleared", n))
	return n, nil
}

// PurgeOffTopic deletes results judged off topic, with their analyses, and
// rebuilds the project's tags from what survives.
func (f *ContextFilter) PurgeOffTopic(ctx context.Context, projectID string) (int, error) {
	n, err := f.store.DeleteOffTopicResults(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("delete off-topic results: %w", err)
	}
	if err := f.store.RebuildTags(ctx, projectID); err != nil {
		return n, fmt.Errorf("rebuild tags: %w", err)
	}
	f.logger.Info("off-topic results purged", zap.String("project_id", projectID), zap.Int("deleted", n))
	return n, nil
}
