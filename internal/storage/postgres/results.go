package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

// KnownURLs returns the subset of urls already stored for the project.
func (s *Store) KnownURLs(ctx context.Context, projectID string, urls []string) (map[string]bool, error) {
	known := make(map[string]bool)
	if len(urls) == 0 {
		return known, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT url FROM serp_results WHERE project_id = $1 AND url = ANY($2)`, projectID, urls)
	if err != nil {
		return nil, fmt.Errorf("failed to look up known urls: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan url: %w", err)
		}
		known[u] = true
	}
	return known, rows.Err()
}

// InsertResults bulk-copies new search results.
func (s *Store) InsertResults(ctx context.Context, results []monitor.SerpResult) error {
	if len(results) == 0 {
		return nil
	}
	rows := make([][]any, len(results))
	for i, r := range results {
		rows[i] = []any{
			r.ID, r.ScanID, r.ProjectID, r.Keyword, r.Source, r.Position, r.URL, r.Title, r.Snippet,
			r.Domain, r.PublishedAt, r.Content, r.IsCompetitor, r.CreatedAt,
		}
	}
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"serp_results"}, []string{
		"id", "scan_id", "project_id", "keyword", "source", "position", "url", "title", "snippet",
		"domain", "published_at", "content", "is_competitor", "created_at",
	}, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to insert serp results: %w", err)
	}
	return nil
}

// MarkCompetitors flags every project result on one of domains.
func (s *Store) MarkCompetitors(ctx context.Context, projectID string, domains []string) (int, error) {
	if len(domains) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `UPDATE serp_results SET is_competitor = TRUE
WHERE project_id = $1 AND domain = ANY($2) AND NOT is_competitor`, projectID, domains)
	if err != nil {
		return 0, fmt.Errorf("failed to mark competitors: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// InsertAnalyses bulk-copies one analysis per result.
func (s *Store) InsertAnalyses(ctx context.Context, analyses []monitor.Analysis) error {
	if len(analyses) == 0 {
		return nil
	}
	rows := make([][]any, len(analyses))
	for i, a := range analyses {
		entities := a.Entities
		if entities == nil {
			entities = []monitor.Entity{}
		}
		raw, err := json.Marshal(entities)
		if err != nil {
			return fmt.Errorf("encode entities: %w", err)
		}
		rows[i] = []any{
			a.ID, a.SerpResultID, a.ScanID, a.ProjectID, nonNil(a.Themes), string(a.Sentiment),
			a.SentimentScore, raw, a.Summary, a.IsHiPriority, a.PriorityReason, a.IsOffTopic,
			a.OffTopicReason, a.CreatedAt,
		}
	}
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"analyses"}, []string{
		"id", "serp_result_id", "scan_id", "project_id", "themes", "sentiment", "sentiment_score",
		"entities", "summary", "is_hi_priority", "priority_reason", "is_off_topic", "off_topic_reason",
		"created_at",
	}, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to insert analyses: %w", err)
	}
	return nil
}

// BlacklistedTags returns the banned tag names of a project.
func (s *Store) BlacklistedTags(ctx context.Context, projectID string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM tag_blacklist WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tag blacklist: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan blacklisted tag: %w", err)
		}
		out[name] = true
	}
	return out, rows.Err()
}

// FoldTags upserts tags by slug and their per-scan counts. Names are
// applied in sorted order so concurrent folds lock rows consistently.
func (s *Store) FoldTags(ctx context.Context, projectID, scanID string, counts map[string]int, now time.Time) error {
	names := make([]string, 0, len(counts))
	for name, c := range counts {
		if c > 0 && monitor.Slug(name) != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		for _, name := range names {
			if err := upsertTag(ctx, tx, projectID, scanID, name, counts[name], now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to fold tags: %w", err)
	}
	return nil
}

func upsertTag(ctx context.Context, q querier, projectID, scanID, name string, count int, seen time.Time) error {
	const upsert = `INSERT INTO tags (project_id, name, slug, count, last_seen_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (project_id, slug) DO UPDATE SET count = tags.count + EXCLUDED.count,
	last_seen_at = GREATEST(tags.last_seen_at, EXCLUDED.last_seen_at)
RETURNING id`
	var tagID string
	if err := q.QueryRow(ctx, upsert, projectID, name, monitor.Slug(name), count, seen).Scan(&tagID); err != nil {
		return fmt.Errorf("upsert tag %q: %w", name, err)
	}
	const link = `INSERT INTO tag_scans (tag_id, scan_id, count) VALUES ($1, $2, $3)
ON CONFLICT (tag_id, scan_id) DO UPDATE SET count = tag_scans.count + EXCLUDED.count`
	if _, err := q.Exec(ctx, link, tagID, scanID, count); err != nil {
		return fmt.Errorf("upsert tag scan %q: %w", name, err)
	}
	return nil
}
