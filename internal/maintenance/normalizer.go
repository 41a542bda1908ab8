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
	defaultNormalizerBatch = 100
	agentNormalizer        = "tag_normalizer"
)

// TagStore is the persistence used by TagNormalizer and Blacklister.
type TagStore interface {
	monitor.ProjectStore
	monitor.TagStore
}

// NormalizeResult reports one normalizer run.
type NormalizeResult struct {
	GroupsFound   int `json:"groups_found"`
	TagsMerged    int `json:"tags_merged"`
	TagsRemaining int `json:"tags_remaining"`
	Failures      int `json:"failures"`
}

// TagNormalizer merges semantically equivalent tags of a project.
type TagNormalizer struct {
	store     TagStore
	grouper   monitor.TagGrouper
	batchSize int
	logger    *zap.Logger
}

// NewTagNormalizer constructs a TagNormalizer.
func NewTagNormalizer(store TagStore, grouper monitor.TagGrouper, batchSize int, logger *zap.Logger) (*TagNormalizer, error) {
	if store == nil || grouper == nil {
		return nil, errors.New("tag normalizer requires a store and a grouper")
	}
	if batchSize <= 0 || batchSize > defaultNormalizerBatch {
		batchSize = defaultNormalizerBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TagNormalizer{store: store, grouper: grouper, batchSize: batchSize, logger: logger.Named(agentNormalizer)}, nil
}

// Run groups the project's tags and merges each duplicate into its
// canonical tag. A failed group or merge is counted and skipped.
func (n *TagNormalizer) Run(ctx context.Context, projectID string) (NormalizeResult, error) {
	project, err := n.store.GetProject(ctx, projectID)
	if err != nil {
		return NormalizeResult{}, fmt.Errorf("load project: %w", err)
	}
	tags, err := n.store.ListTags(ctx, projectID)
	if err != nil {
		return NormalizeResult{}, fmt.Errorf("list tags: %w", err)
	}
	log := n.logger.With(zap.String("project_id", projectID))
	var res NormalizeResult
	if len(tags) < 2 {
		res.TagsRemaining = len(tags)
		return res, nil
	}

	byName := make(map[string]monitor.Tag, len(tags))
	for _, t := range tags {
		byName[t.Name] = t
	}
	for start := 0; start < len(tags); start += n.batchSize {
		batch := tags[start:min(start+n.batchSize, len(tags))]
		if len(batch) < 2 {
			continue
		}
		groups, err := n.grouper.GroupDuplicates(ctx, project.Context(), batch)
		if err != nil {
			log.Warn("tag grouping failed", zap.Int("batch_start", start), zap.Int("tags", len(batch)), zap.Error(err))
			res.Failures++
			continue
		}
		res.GroupsFound += len(groups)
		for _, g := range groups {
			n.mergeGroup(ctx, projectID, g, byName, &res, log)
		}
	}

	remaining, err := n.store.ListTags(ctx, projectID)
	if err != nil {
		return res, fmt.Errorf("list tags: %w", err)
	}
	res.TagsRemaining = len(remaining)
	metrics.ObserveAgentItems(agentNormalizer, "merged", res.TagsMerged)
	metrics.ObserveAgentItems(agentNormalizer, "error", res.Failures)
	log.Info("tag normalizer run",
		zap.Int("groups_found", res.GroupsFound),
		zap.Int("tags_merged", res.TagsMerged),
		zap.Int("tags_remaining", res.TagsRemaining),
		zap.Int("failures", res.Failures),
	)
	return res, nil
}

func (n *TagNormalizer) mergeGroup(
	ctx context.Context,
	projectID string,
	g monitor.TagGroup,
	byName map[string]monitor.Tag,
	res *NormalizeResult,
	log *zap.Logger,
) {
	canonical, ok := resolveCanonical(g, byName)
	if !ok {
		log.Debug("tag group has no existing members", zap.String("canonical", g.Canonical))
		return
	}
	for _, name := range append([]string{g.Canonical}, g.Duplicates...) {
		dup, ok := byName[name]
		if !ok || dup.ID == canonical.ID {
			continue
		}
		if err := n.store.MergeTag(ctx, projectID, canonical, dup); err != nil {
			log.Warn("tag merge failed",
				zap.String("canonical", canonical.Name), zap.String("duplicate", dup.Name), zap.Error(err))
			res.Failures++
			continue
		}
		canonical.Count += dup.Count
		byName[canonical.Name] = canonical
		delete(byName, dup.Name)
		res.TagsMerged++
		log.Debug("tag merged", zap.String("canonical", canonical.Name), zap.String("duplicate", dup.Name))
	}
}

// resolveCanonical returns the tag the group folds into: the named canonical
// when it exists, otherwise the member with the highest count.
func resolveCanonical(g monitor.TagGroup, byName map[string]monitor.Tag) (monitor.Tag, bool) {
	if t, ok := byName[g.Canonical]; ok {
		return t, true
	}
	var best monitor.Tag
	found := false
	for _, name := range g.Duplicates {
		t, ok := byName[name]
		if !ok {
			continue
		}
		if !found || t.Count > best.Count || (t.Count == best.Count && t.Name < best.Name) {
			best, found = t, true
		}
	}
	return best, found
}
