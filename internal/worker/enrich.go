package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

// enrich analyzes the stored results and folds their themes into tags.
// Every failure here is logged and swallowed: the job still succeeds with
// its SerpResults persisted.
func (w *Worker) enrich(
	ctx context.Context,
	job monitor.Job,
	project monitor.Project,
	results []monitor.SerpResult,
	log *zap.Logger,
) {
	if w.deps.Analyzer == nil {
		return
	}
	req := monitor.AnalysisRequest{
		Keyword:       job.Keyword,
		Industry:      project.Industry,
		Language:      project.Language,
		AlertKeywords: project.AlertKeywords,
		Competitors:   project.Competitors,
		Items:         make([]monitor.AnalysisItem, len(results)),
	}
	for i, r := range results {
		text := r.Snippet
		if r.Content != nil {
			text = *r.Content
		}
		req.Items[i] = monitor.AnalysisItem{Position: r.Position, URL: r.URL, Domain: r.Domain, Title: r.Title, Text: text}
	}
	resp, err := w.deps.Analyzer.Analyze(ctx, req)
	if err != nil {
		log.Warn("analysis failed; results kept without analysis", zap.Error(err))
		return
	}

	if len(resp.DiscoveredCompetitors) > 0 {
		flagged, err := w.deps.Store.MarkCompetitors(ctx, project.ID, resp.DiscoveredCompetitors)
		if err != nil {
			log.Warn("mark discovered competitors failed", zap.Error(err))
		} else if flagged > 0 {
			log.Info("discovered competitors flagged",
				zap.Strings("domains", resp.DiscoveredCompetitors), zap.Int("results", flagged))
		}
	}

	banned, err := w.deps.Store.BlacklistedTags(ctx, project.ID)
	if err != nil {
		log.Warn("load tag blacklist failed", zap.Error(err))
		banned = map[string]bool{}
	}
	bannedSlugs := make(map[string]bool, len(banned))
	for name := range banned {
		bannedSlugs[monitor.Slug(name)] = true
	}
	analyses, counts := w.buildAnalyses(results, resp.Results, bannedSlugs)
	if len(analyses) == 0 {
		return
	}
	if err := w.deps.Store.InsertAnalyses(ctx, analyses); err != nil {
		log.Warn("insert analyses failed", zap.Error(err))
		return
	}
	if err := w.deps.Store.FoldTags(ctx, project.ID, job.ScanID, counts, w.deps.Clock.Now()); err != nil {
		log.Warn("fold tags failed", zap.Error(err))
	}
	log.Info("results analyzed", zap.Int("analyses", len(analyses)), zap.Int("themes", len(counts)))
}

func (w *Worker) buildAnalyses(
	results []monitor.SerpResult,
	items []monitor.ItemAnalysis,
	bannedSlugs map[string]bool,
) ([]monitor.Analysis, map[string]int) {
	byPosition := make(map[int]monitor.SerpResult, len(results))
	for _, r := range results {
		byPosition[r.Position] = r
	}
	now := w.deps.Clock.Now()
	counts := make(map[string]int)
	analyses := make([]monitor.Analysis, 0, len(items))
	used := make(map[string]bool, len(items))
	for _, it := range items {
		r, ok := byPosition[it.Position]
		if !ok || used[r.ID] {
			continue
		}
		id, err := w.deps.IDs.NewID()
		if err != nil {
			w.logger.Warn("generate analysis id failed", zap.Error(err))
			continue
		}
		used[r.ID] = true
		themes := make([]string, 0, len(it.Themes))
		slugs := make(map[string]bool, len(it.Themes))
		for _, t := range it.Themes {
			slug := monitor.Slug(t)
			if slug == "" || bannedSlugs[slug] || slugs[slug] {
				continue
			}
			slugs[slug] = true
			themes = append(themes, t)
			counts[t]++
		}
		analyses = append(analyses, monitor.Analysis{
			ID:             id,
			SerpResultID:   r.ID,
			ScanID:         r.ScanID,
			ProjectID:      r.ProjectID,
			Themes:         themes,
			Sentiment:      it.Sentiment,
			SentimentScore: it.SentimentScore,
			Entities:       it.Entities,
			Summary:        it.Summary,
			IsHiPriority:   it.IsHiPriority,
			PriorityReason: it.PriorityReason,
			CreatedAt:      now,
		})
	}
	return analyses, counts
}
