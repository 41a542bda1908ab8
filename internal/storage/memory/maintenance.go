package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

// PendingRelevance returns unevaluated analyses, oldest first.
func (s *Store) PendingRelevance(_ context.Context, projectID, scanID string, limit int) ([]monitor.RelevanceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []monitor.RelevanceItem
	for _, a := range s.projectAnalysesLocked(projectID, scanID) {
		if a.OffTopicReason != nil {
			continue
		}
		r := s.results[a.SerpResultID]
		out = append(out, monitor.RelevanceItem{
			ID:      a.ID,
			ScanID:  a.ScanID,
			URL:     r.URL,
			Domain:  r.Domain,
			Title:   r.Title,
			Snippet: r.Snippet,
			Summary: a.Summary,
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// CountPendingRelevance counts unevaluated analyses.
func (s *Store) CountPendingRelevance(_ context.Context, projectID, scanID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.analyses {
		if a.ProjectID == projectID && (scanID == "" || a.ScanID == scanID) && a.OffTopicReason == nil {
			n++
		}
	}
	return n, nil
}

// SaveRelevance writes a verdict only when none was recorded yet.
func (s *Store) SaveRelevance(_ context.Context, analysisID string, offTopic bool, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[analysisID]
	if !ok || a.OffTopicReason != nil {
		return false, nil
	}
	a.IsOffTopic = offTopic
	a.OffTopicReason = &reason
	s.analyses[analysisID] = a
	return true, nil
}

// ResetRelevance clears recorded verdicts for a project or one of its scans.
func (s *Store) ResetRelevance(_ context.Context, projectID, scanID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.analyses {
		if a.ProjectID != projectID || (scanID != "" && a.ScanID != scanID) || a.OffTopicReason == nil {
			continue
		}
		a.IsOffTopic = false
		a.OffTopicReason = nil
		s.analyses[id] = a
		n++
	}
	return n, nil
}

// DeleteOffTopicResults removes results whose analysis is flagged off-topic.
func (s *Store) DeleteOffTopicResults(_ context.Context, projectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.analyses {
		if a.ProjectID == projectID && a.IsOffTopic {
			s.deleteResultLocked(a.SerpResultID)
			n++
		}
	}
	return n, nil
}

// ListTags returns a project's tags, highest count first.
func (s *Store) ListTags(_ context.Context, projectID string) ([]monitor.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []monitor.Tag
	for _, t := range s.tags {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// MergeTag folds duplicate into canonical.
func (s *Store) MergeTag(_ context.Context, projectID string, canonical, duplicate monitor.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	canon, ok := s.tags[canonical.ID]
	if !ok || canon.ProjectID != projectID {
		return fmt.Errorf("tag %s: %w", canonical.ID, monitor.ErrNotFound)
	}
	dup, ok := s.tags[duplicate.ID]
	if !ok || dup.ProjectID != projectID {
		return fmt.Errorf("tag %s: %w", duplicate.ID, monitor.ErrNotFound)
	}
	for k, c := range s.tagScans {
		if k.tagID != dup.ID {
			continue
		}
		s.tagScans[tagScanKey{tagID: canon.ID, scanID: k.scanID}] += c
		delete(s.tagScans, k)
	}
	dupSlug := monitor.Slug(dup.Name)
	for id, a := range s.analyses {
		if a.ProjectID != projectID || !hasThemeSlug(a.Themes, dupSlug) {
			continue
		}
		a.Themes = replaceTheme(a.Themes, dupSlug, canon.Name)
		s.analyses[id] = a
	}
	canon.Count += dup.Count
	if dup.LastSeenAt.After(canon.LastSeenAt) {
		canon.LastSeenAt = dup.LastSeenAt
	}
	s.tags[canon.ID] = canon
	delete(s.tags, dup.ID)
	return nil
}

// AddBlacklist records a banned tag name.
func (s *Store) AddBlacklist(_ context.Context, entry monitor.TagBlacklist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blacklist[entry.ProjectID] == nil {
		s.blacklist[entry.ProjectID] = make(map[string]time.Time)
	}
	if _, exists := s.blacklist[entry.ProjectID][entry.Name]; !exists {
		s.blacklist[entry.ProjectID][entry.Name] = entry.CreatedAt
	}
	return nil
}

// DeleteResultsWithTheme removes results whose analysis carries theme or
// any spelling sharing its slug.
func (s *Store) DeleteResultsWithTheme(_ context.Context, projectID, theme string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slug := monitor.Slug(theme)
	n := 0
	for _, a := range s.analyses {
		if a.ProjectID == projectID && hasThemeSlug(a.Themes, slug) {
			s.deleteResultLocked(a.SerpResultID)
			n++
		}
	}
	return n, nil
}

// RebuildTags recomputes the project's tags from surviving analyses.
func (s *Store) RebuildTags(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tags {
		if t.ProjectID != projectID {
			continue
		}
		for k := range s.tagScans {
			if k.tagID == id {
				delete(s.tagScans, k)
			}
		}
		delete(s.tags, id)
	}
	banned := make(map[string]bool, len(s.blacklist[projectID]))
	for name := range s.blacklist[projectID] {
		banned[monitor.Slug(name)] = true
	}
	for _, a := range s.projectAnalysesLocked(projectID, "") {
		for _, theme := range a.Themes {
			if banned[monitor.Slug(theme)] {
				continue
			}
			s.addTagLocked(projectID, a.ScanID, theme, 1, a.CreatedAt)
		}
	}
	return nil
}

// ScanStats aggregates one scan's results and analyses.
func (s *Store) ScanStats(_ context.Context, scanID string, top int) (monitor.ScanStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return monitor.ScanStats{}, fmt.Errorf("scan %s: %w", scanID, monitor.ErrNotFound)
	}
	stats := monitor.ScanStats{
		ScanID:      scanID,
		CompletedAt: scan.CompletedAt,
		Sentiment:   map[monitor.Sentiment]int{},
	}
	byResult := make(map[string]monitor.Analysis)
	for _, a := range s.analyses {
		if a.ScanID == scanID {
			byResult[a.SerpResultID] = a
		}
	}
	themes := map[string]int{}
	domains := map[string]int{}
	var scoreSum float64
	for _, r := range s.results {
		if r.ScanID != scanID {
			continue
		}
		stats.Results++
		if r.IsCompetitor {
			stats.Competitor++
			domains[r.Domain]++
		}
		a, ok := byResult[r.ID]
		if !ok {
			continue
		}
		stats.Analyzed++
		scoreSum += a.SentimentScore
		stats.Sentiment[a.Sentiment]++
		if a.IsHiPriority {
			stats.HiPriority++
		}
		if a.IsOffTopic {
			stats.OffTopic++
		}
		for _, theme := range a.Themes {
			themes[theme]++
		}
	}
	if stats.Analyzed > 0 {
		stats.AvgSentiment = scoreSum / float64(stats.Analyzed)
	}
	for name, c := range themes {
		stats.TopThemes = append(stats.TopThemes, monitor.ThemeCount{Name: name, Count: c})
	}
	sort.Slice(stats.TopThemes, func(i, j int) bool {
		a, b := stats.TopThemes[i], stats.TopThemes[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Name < b.Name
	})
	for d, c := range domains {
		stats.CompetitorDomains = append(stats.CompetitorDomains, monitor.DomainCount{Domain: d, Count: c})
	}
	sort.Slice(stats.CompetitorDomains, func(i, j int) bool {
		a, b := stats.CompetitorDomains[i], stats.CompetitorDomains[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Domain < b.Domain
	})
	if top > 0 {
		if len(stats.TopThemes) > top {
			stats.TopThemes = stats.TopThemes[:top]
		}
		if len(stats.CompetitorDomains) > top {
			stats.CompetitorDomains = stats.CompetitorDomains[:top]
		}
	}
	return stats, nil
}

func (s *Store) deleteResultLocked(resultID string) {
	delete(s.results, resultID)
	for id, a := range s.analyses {
		if a.SerpResultID == resultID {
			delete(s.analyses, id)
		}
	}
}

func hasThemeSlug(themes []string, slug string) bool {
	return slug != "" && slices.ContainsFunc(themes, func(t string) bool { return monitor.Slug(t) == slug })
}

// replaceTheme swaps every theme slugging to from for to, keeping one copy of to.
func replaceTheme(themes []string, from, to string) []string {
	out := make([]string, 0, len(themes))
	hasTo := false
	for _, t := range themes {
		if monitor.Slug(t) == from {
			t = to
		}
		if t == to {
			if hasTo {
				continue
			}
			hasTo = true
		}
		out = append(out, t)
	}
	return out
}
