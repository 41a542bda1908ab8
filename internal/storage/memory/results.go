package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

// KnownURLs returns the subset of urls already stored for the project.
func (s *Store) KnownURLs(_ context.Context, projectID string, urls []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(urls))
	for _, u := range urls {
		want[u] = true
	}
	known := make(map[string]bool)
	for _, r := range s.results {
		if r.ProjectID == projectID && want[r.URL] {
			known[r.URL] = true
		}
	}
	return known, nil
}

// InsertResults stores new search results.
func (s *Store) InsertResults(_ context.Context, results []monitor.SerpResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		if _, exists := s.results[r.ID]; exists {
			return fmt.Errorf("serp result %s already exists", r.ID)
		}
	}
	for _, r := range results {
		s.results[r.ID] = r
	}
	return nil
}

// MarkCompetitors flags every project result on one of domains.
func (s *Store) MarkCompetitors(_ context.Context, projectID string, domains []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.results {
		if r.ProjectID != projectID || r.IsCompetitor || !slices.Contains(domains, r.Domain) {
			continue
		}
		r.IsCompetitor = true
		s.results[id] = r
		n++
	}
	return n, nil
}

// InsertAnalyses stores one analysis per result.
func (s *Store) InsertAnalyses(_ context.Context, analyses []monitor.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range analyses {
		if _, ok := s.results[a.SerpResultID]; !ok {
			return fmt.Errorf("serp result %s: %w", a.SerpResultID, monitor.ErrNotFound)
		}
		for _, existing := range s.analyses {
			if existing.SerpResultID == a.SerpResultID {
				return fmt.Errorf("analysis for %s already exists", a.SerpResultID)
			}
		}
	}
	for _, a := range analyses {
		a.Themes = slices.Clone(a.Themes)
		a.Entities = slices.Clone(a.Entities)
		s.analyses[a.ID] = a
	}
	return nil
}

// BlacklistedTags returns the banned tag names of a project.
func (s *Store) BlacklistedTags(_ context.Context, projectID string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.blacklist[projectID]))
	for name := range s.blacklist[projectID] {
		out[name] = true
	}
	return out, nil
}

// FoldTags creates or increments tags by slug and their per-scan rows.
func (s *Store) FoldTags(_ context.Context, projectID, scanID string, counts map[string]int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.addTagLocked(projectID, scanID, name, counts[name], now)
	}
	return nil
}

func (s *Store) addTagLocked(projectID, scanID, name string, count int, seen time.Time) {
	slug := monitor.Slug(name)
	if slug == "" || count <= 0 {
		return
	}
	tag, ok := s.tagBySlugLocked(projectID, slug)
	if !ok {
		tag = monitor.Tag{
			ID:        fmt.Sprintf("tag-%d", s.nextSeq()),
			ProjectID: projectID,
			Name:      name,
			Slug:      slug,
		}
	}
	tag.Count += count
	if seen.After(tag.LastSeenAt) {
		tag.LastSeenAt = seen
	}
	s.tags[tag.ID] = tag
	s.tagScans[tagScanKey{tagID: tag.ID, scanID: scanID}] += count
}

func (s *Store) tagBySlugLocked(projectID, slug string) (monitor.Tag, bool) {
	for _, t := range s.tags {
		if t.ProjectID == projectID && t.Slug == slug {
			return t, true
		}
	}
	return monitor.Tag{}, false
}

// Results returns a snapshot of a scan's results ordered by keyword, source and position.
func (s *Store) Results(scanID string) []monitor.SerpResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []monitor.SerpResult
	for _, r := range s.results {
		if r.ScanID == scanID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Keyword != b.Keyword {
			return a.Keyword < b.Keyword
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Position < b.Position
	})
	return out
}

// Analyses returns a snapshot of a project's analyses ordered by creation.
func (s *Store) Analyses(projectID string) []monitor.Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectAnalysesLocked(projectID, "")
}

// TagScans returns the per-scan counts of a tag.
func (s *Store) TagScans(tagID string) []monitor.TagScan {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []monitor.TagScan
	for k, c := range s.tagScans {
		if k.tagID == tagID {
			out = append(out, monitor.TagScan{TagID: k.tagID, ScanID: k.scanID, Count: c})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScanID < out[j].ScanID })
	return out
}

func (s *Store) projectAnalysesLocked(projectID, scanID string) []monitor.Analysis {
	var out []monitor.Analysis
	for _, a := range s.analyses {
		if a.ProjectID != projectID || (scanID != "" && a.ScanID != scanID) {
			continue
		}
		a.Themes = slices.Clone(a.Themes)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
