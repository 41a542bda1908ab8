package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

func TestKnownURLsSkipsEmptyInput(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	known, err := store.KnownURLs(context.Background(), "proj-1", nil)
	require.NoError(t, err)
	require.Empty(t, known)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKnownURLsReturnsStored(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	urls := []string{"https://a.example/1", "https://b.example/2"}
	mock.ExpectQuery("SELECT DISTINCT url FROM serp_results").
		WithArgs("proj-1", urls).
		WillReturnRows(pgxmock.NewRows([]string{"url"}).AddRow("https://a.example/1"))

	known, err := store.KnownURLs(context.Background(), "proj-1", urls)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"https://a.example/1": true}, known)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAnalysesCopies(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectCopyFrom(pgx.Identifier{"analyses"}, []string{
		"id", "serp_result_id", "scan_id", "project_id", "themes", "sentiment", "sentiment_score",
		"entities", "summary", "is_hi_priority", "priority_reason", "is_off_topic", "off_topic_reason",
		"created_at",
	}).WillReturnResult(1)

	err := store.InsertAnalyses(context.Background(), []monitor.Analysis{{
		ID: "an-1", SerpResultID: "res-1", ScanID: "scan-1", ProjectID: "proj-1",
		Themes: []string{"pricing"}, Sentiment: monitor.SentimentNegative, SentimentScore: -0.4,
	}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompetitorsNoDomains(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	n, err := store.MarkCompetitors(context.Background(), "proj-1", nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFoldTagsUpsertsInSortedOrder(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO tags").
		WithArgs("proj-1", "delivery", "delivery", 1, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("tag-d"))
	mock.ExpectExec("INSERT INTO tag_scans").
		WithArgs("tag-d", "scan-1", 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO tags").
		WithArgs("proj-1", "price hike", "price-hike", 2, testNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("tag-p"))
	mock.ExpectExec("INSERT INTO tag_scans").
		WithArgs("tag-p", "scan-1", 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.FoldTags(context.Background(), "proj-1", "scan-1",
		map[string]int{"price hike": 2, "delivery": 1, "!!!": 3}, testNow)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRelevanceOnlyOnce(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE analyses SET is_off_topic").
		WithArgs("an-1", true, "unrelated band").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE analyses SET is_off_topic").
		WithArgs("an-1", false, "again").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	saved, err := store.SaveRelevance(context.Background(), "an-1", true, "unrelated band")
	require.NoError(t, err)
	require.True(t, saved)
	saved, err = store.SaveRelevance(context.Background(), "an-1", false, "again")
	require.NoError(t, err)
	require.False(t, saved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountPendingRelevanceScopesToScan(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM analyses a WHERE").
		WithArgs("proj-1", "scan-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := store.CountPendingRelevance(context.Background(), "proj-1", "scan-1")
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeTagMissingDuplicate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count, last_seen_at FROM tags").
		WithArgs("tag-dup", "proj-1").
		WillReturnRows(pgxmock.NewRows([]string{"count", "last_seen_at"}))
	mock.ExpectRollback()

	err := store.MergeTag(context.Background(), "proj-1",
		monitor.Tag{ID: "tag-canon", Name: "pricing"}, monitor.Tag{ID: "tag-dup", Name: "prices"})
	require.ErrorIs(t, err, monitor.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeTagMovesCountsAndThemes(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT count, last_seen_at FROM tags").
		WithArgs("tag-dup", "proj-1").
		WillReturnRows(pgxmock.NewRows([]string{"count", "last_seen_at"}).AddRow(3, testNow))
	mock.ExpectExec("UPDATE tags SET count = count").
		WithArgs("tag-canon", "proj-1", 3, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO tag_scans").
		WithArgs("tag-canon", "tag-dup").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("DELETE FROM tags").
		WithArgs("tag-dup").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery("SELECT DISTINCT t.theme FROM analyses").
		WithArgs("proj-1").
		WillReturnRows(pgxmock.NewRows([]string{"theme"}).AddRow("pricing").AddRow("prices").AddRow("prices!"))
	mock.ExpectExec("UPDATE analyses SET themes").
		WithArgs("proj-1", "prices", "pricing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec("UPDATE analyses SET themes").
		WithArgs("proj-1", "prices!", "pricing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.MergeTag(context.Background(), "proj-1",
		monitor.Tag{ID: "tag-canon", Name: "pricing"}, monitor.Tag{ID: "tag-dup", Name: "prices"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteResultsWithThemeMatchesSlug(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT DISTINCT t.theme FROM analyses").
		WithArgs("proj-1").
		WillReturnRows(pgxmock.NewRows([]string{"theme"}).AddRow("e-commerce").AddRow("e commerce").AddRow("ai"))
	mock.ExpectExec("DELETE FROM serp_results").
		WithArgs("proj-1", []string{"e commerce", "e-commerce"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	n, err := store.DeleteResultsWithTheme(context.Background(), "proj-1", "e commerce")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteResultsWithThemeNoMatch(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT DISTINCT t.theme FROM analyses").
		WithArgs("proj-1").
		WillReturnRows(pgxmock.NewRows([]string{"theme"}).AddRow("ai"))
	mock.ExpectCommit()

	n, err := store.DeleteResultsWithTheme(context.Background(), "proj-1", "crypto")
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
