package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

func (s *Store) relevanceFilter(projectID, scanID string) sq.And {
	cond := sq.And{sq.Eq{"a.project_id": projectID}, sq.Expr("a.off_topic_reason IS NULL")}
	if scanID != "" {
		cond = append(cond, sq.Eq{"a.scan_id": scanID})
	}
	return cond
}

// PendingRelevance returns unevaluated analyses, oldest first.
func (s *Store) PendingRelevance(ctx context.Context, projectID, scanID string, limit int) ([]monitor.RelevanceItem, error) {
	b := s.sb.Select("a.id", "a.scan_id", "r.url", "r.domain", "r.title", "r.snippet", "a.summary").
		From("analyses a").
		Join("serp_results r ON r.id = a.serp_result_id").
		Where(s.relevanceFilter(projectID, scanID)).
		OrderBy("a.created_at", "a.id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build relevance query: %w", err)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending relevance: %w", err)
	}
	defer rows.Close()
	var out []monitor.RelevanceItem
	for rows.Next() {
		var it monitor.RelevanceItem
		if err := rows.Scan(&it.ID, &it.ScanID, &it.URL, &it.Domain, &it.Title, &it.Snippet, &it.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan relevance item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// CountPendingRelevance counts unevaluated analyses.
func (s *Store) CountPendingRelevance(ctx context.Context, projectID, scanID string) (int, error) {
	q, args, err := s.sb.Select("COUNT(*)").From("analyses a").Where(s.relevanceFilter(projectID, scanID)).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build relevance count: %w", err)
	}
	var n int
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending relevance: %w", err)
	}
	return n, nil
}

// SaveRelevance writes a verdict only when none was recorded yet.
func (s *Store) SaveRelevance(ctx context.Context, analysisID string, offTopic bool, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE analyses SET is_off_topic = $2, off_topic_reason = $3
WHERE id = $1 AND off_topic_reason IS NULL`, analysisID, offTopic, reason)
	if err != nil {
		return false, fmt.Errorf("failed to save relevance for %s: %w", analysisID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetRelevance clears recorded verdicts for a project or one of its scans.
func (s *Store) ResetRelevance(ctx context.Context, projectID, scanID string) (int, error) {
	b := s.sb.Update("analyses").
		Set("is_off_topic", false).
		Set("off_topic_reason", nil).
		Where(sq.Eq{"project_id": projectID}).
		Where("off_topic_reason IS NOT NULL")
	if scanID != "" {
		b = b.Where(sq.Eq{"scan_id": scanID})
	}
	q, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build relevance reset: %w", err)
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset relevance: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteOffTopicResults removes results whose analysis is flagged off-topic.
// Analyses follow through the cascade.
func (s *Store) DeleteOffTopicResults(ctx context.Context, projectID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM serp_results WHERE id IN
	(SELECT serp_result_id FROM analyses WHERE project_id = $1 AND is_off_topic)`, projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete off-topic results: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListTags returns a project's tags, highest count first.
func (s *Store) ListTags(ctx context.Context, projectID string) ([]monitor.Tag, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, project_id, name, slug, count, last_seen_at FROM tags
WHERE project_id = $1 ORDER BY count DESC, name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()
	var out []monitor.Tag
	for rows.Next() {
		var t monitor.Tag
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Slug, &t.Count, &t.LastSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MergeTag folds duplicate into canonical: per-scan counts are summed, every
// spelling of the duplicate's slug is rewritten on the analyses and the
// duplicate row is removed.
func (s *Store) MergeTag(ctx context.Context, projectID string, canonical, duplicate monitor.Tag) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var (
			dupCount int
			dupSeen  time.Time
		)
		err := tx.QueryRow(ctx, `SELECT count, last_seen_at FROM tags WHERE id = $1 AND project_id = $2 FOR UPDATE`,
			duplicate.ID, projectID).Scan(&dupCount, &dupSeen)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("tag %s: %w", duplicate.ID, monitor.ErrNotFound)
		}
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE tags SET count = count + $3, last_seen_at = GREATEST(last_seen_at, $4)
WHERE id = $1 AND project_id = $2`, canonical.ID, projectID, dupCount, dupSeen)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("tag %s: %w", canonical.ID, monitor.ErrNotFound)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO tag_scans (tag_id, scan_id, count)
SELECT $1, scan_id, count FROM tag_scans WHERE tag_id = $2
ON CONFLICT (tag_id, scan_id) DO UPDATE SET count = tag_scans.count + EXCLUDED.count`,
			canonical.ID, duplicate.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tags WHERE id = $1`, duplicate.ID); err != nil {
			return err
		}
		variants, err := themeVariants(ctx, tx, projectID, monitor.Slug(duplicate.Name))
		if err != nil {
			return err
		}
		for _, v := range variants {
			if v == canonical.Name {
				continue
			}
			if _, err := tx.Exec(ctx, `UPDATE analyses SET themes = CASE WHEN $3 = ANY(themes)
	THEN array_remove(themes, $2) ELSE array_replace(themes, $2, $3) END
WHERE project_id = $1 AND $2 = ANY(themes)`, projectID, v, canonical.Name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, monitor.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to merge tag %s into %s: %w", duplicate.ID, canonical.ID, err)
	}
	return nil
}

// AddBlacklist records a banned tag name. Re-adding a name is a no-op.
func (s *Store) AddBlacklist(ctx context.Context, entry monitor.TagBlacklist) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO tag_blacklist (project_id, name, created_at) VALUES ($1, $2, $3)
ON CONFLICT (project_id, name) DO NOTHING`, entry.ProjectID, entry.Name, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to blacklist tag %q: %w", entry.Name, err)
	}
	return nil
}

// DeleteResultsWithTheme removes results whose analysis carries theme or
// any spelling sharing its slug.
func (s *Store) DeleteResultsWithTheme(ctx context.Context, projectID, theme string) (int, error) {
	var n int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		variants, err := themeVariants(ctx, tx, projectID, monitor.Slug(theme))
		if err != nil || len(variants) == 0 {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM serp_results WHERE id IN
	(SELECT serp_result_id FROM analyses WHERE project_id = $1 AND themes && $2::text[])`, projectID, variants)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete results with theme %q: %w", theme, err)
	}
	return n, nil
}

// themeVariants lists the distinct stored theme names of a project whose
// slug is slug, sorted.
func themeVariants(ctx context.Context, q querier, projectID, slug string) ([]string, error) {
	if slug == "" {
		return nil, nil
	}
	rows, err := q.Query(ctx, `SELECT DISTINCT t.theme FROM analyses a
CROSS JOIN LATERAL unnest(a.themes) AS t(theme) WHERE a.project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load themes: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		if monitor.Slug(name) == slug {
			out = append(out, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

type themeScan struct {
	name   string
	scanID string
}

type themeTally struct {
	count int
	seen  time.Time
}

// RebuildTags recomputes the project's tags from surviving analyses in one
// transaction. Themes sharing a slug with a blacklisted name are not recreated.
func (s *Store) RebuildTags(ctx context.Context, projectID string) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tags WHERE project_id = $1`, projectID); err != nil {
			return err
		}
		banned, err := bannedSlugs(ctx, tx, projectID)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT t.theme, a.scan_id, COUNT(*)::int, MAX(a.created_at)
FROM analyses a CROSS JOIN LATERAL unnest(a.themes) AS t(theme)
WHERE a.project_id = $1
GROUP BY t.theme, a.scan_id`, projectID)
		if err != nil {
			return err
		}
		tallies := make(map[themeScan]themeTally)
		for rows.Next() {
			var (
				k  themeScan
				tt themeTally
			)
			if err := rows.Scan(&k.name, &k.scanID, &tt.count, &tt.seen); err != nil {
				rows.Close()
				return err
			}
			tallies[k] = tt
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		keys := make([]themeScan, 0, len(tallies))
		for k := range tallies {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].name != keys[j].name {
				return keys[i].name < keys[j].name
			}
			return keys[i].scanID < keys[j].scanID
		})
		for _, k := range keys {
			if slug := monitor.Slug(k.name); slug == "" || banned[slug] {
				continue
			}
			tt := tallies[k]
			if err := upsertTag(ctx, tx, projectID, k.scanID, k.name, tt.count, tt.seen); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild tags for project %s: %w", projectID, err)
	}
	return nil
}

func bannedSlugs(ctx context.Context, q querier, projectID string) (map[string]bool, error) {
	rows, err := q.Query(ctx, `SELECT name FROM tag_blacklist WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan blacklisted tag: %w", err)
		}
		out[monitor.Slug(name)] = true
	}
	return out, rows.Err()
}

// ScanStats aggregates one scan's results and analyses.
func (s *Store) ScanStats(ctx context.Context, scanID string, top int) (monitor.ScanStats, error) {
	sc, err := s.GetScan(ctx, scanID)
	if err != nil {
		return monitor.ScanStats{}, err
	}
	stats := monitor.ScanStats{
		ScanID:      scanID,
		CompletedAt: sc.CompletedAt,
		Sentiment:   map[monitor.Sentiment]int{},
	}
	const totals = `SELECT COUNT(r.id)::int,
	COUNT(a.id)::int,
	COUNT(a.id) FILTER (WHERE a.is_hi_priority)::int,
	COUNT(a.id) FILTER (WHERE a.is_off_topic)::int,
	COUNT(r.id) FILTER (WHERE r.is_competitor)::int,
	COALESCE(AVG(a.sentiment_score), 0)::float8
FROM serp_results r LEFT JOIN analyses a ON a.serp_result_id = r.id
WHERE r.scan_id = $1`
	if err := s.pool.QueryRow(ctx, totals, scanID).Scan(
		&stats.Results, &stats.Analyzed, &stats.HiPriority, &stats.OffTopic, &stats.Competitor, &stats.AvgSentiment,
	); err != nil {
		return monitor.ScanStats{}, fmt.Errorf("failed to aggregate scan %s: %w", scanID, err)
	}

	rows, err := s.pool.Query(ctx, `SELECT sentiment, COUNT(*)::int FROM analyses WHERE scan_id = $1 GROUP BY sentiment`, scanID)
	if err != nil {
		return monitor.ScanStats{}, fmt.Errorf("failed to aggregate sentiment: %w", err)
	}
	for rows.Next() {
		var (
			sentiment string
			n         int
		)
		if err := rows.Scan(&sentiment, &n); err != nil {
			rows.Close()
			return monitor.ScanStats{}, fmt.Errorf("failed to scan sentiment: %w", err)
		}
		stats.Sentiment[monitor.Sentiment(sentiment)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return monitor.ScanStats{}, err
	}

	limit := top
	if limit <= 0 {
		limit = 1000
	}
	rows, err = s.pool.Query(ctx, `SELECT t.theme, COUNT(*)::int FROM analyses a
CROSS JOIN LATERAL unnest(a.themes) AS t(theme) WHERE a.scan_id = $1
GROUP BY t.theme ORDER BY COUNT(*) DESC, t.theme LIMIT $2`, scanID, limit)
	if err != nil {
		return monitor.ScanStats{}, fmt.Errorf("failed to aggregate themes: %w", err)
	}
	for rows.Next() {
		var tc monitor.ThemeCount
		if err := rows.Scan(&tc.Name, &tc.Count); err != nil {
			rows.Close()
			return monitor.ScanStats{}, fmt.Errorf("failed to scan theme: %w", err)
		}
		stats.TopThemes = append(stats.TopThemes, tc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return monitor.ScanStats{}, err
	}

	rows, err = s.pool.Query(ctx, `SELECT domain, COUNT(*)::int FROM serp_results
WHERE scan_id = $1 AND is_competitor GROUP BY domain ORDER BY COUNT(*) DESC, domain LIMIT $2`, scanID, limit)
	if err != nil {
		return monitor.ScanStats{}, fmt.Errorf("failed to aggregate competitor domains: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dc monitor.DomainCount
		if err := rows.Scan(&dc.Domain, &dc.Count); err != nil {
			return monitor.ScanStats{}, fmt.Errorf("failed to scan domain: %w", err)
		}
		stats.CompetitorDomains = append(stats.CompetitorDomains, dc)
	}
	return stats, rows.Err()
}
