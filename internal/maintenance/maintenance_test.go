package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
	"github.com/JakeFAU/brand-monitor/internal/storage/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

type seed struct {
	url    string
	themes []string
	score  float64
}

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.PutProject(context.Background(), monitor.Project{
		ID:       "proj-1",
		Name:     "Acme",
		Industry: "tech",
		Keywords: []string{"acme"},
	}))
	return store
}

// seedScan stores a completed scan with one analyzed result per seed and
// folds its themes into tags the way the worker does.
func seedScan(t *testing.T, store *memory.Store, scanID string, completedAt time.Time, seeds ...seed) []monitor.Analysis {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateScan(ctx, monitor.Scan{
		ID:             scanID,
		ProjectID:      "proj-1",
		Status:         monitor.ScanStatusCompleted,
		TotalTasks:     1,
		CompletedTasks: 1,
		CreatedAt:      completedAt,
		CompletedAt:    &completedAt,
	}, nil))
	results := make([]monitor.SerpResult, len(seeds))
	analyses := make([]monitor.Analysis, len(seeds))
	counts := map[string]int{}
	for i, s := range seeds {
		results[i] = monitor.SerpResult{
			ID:        fmt.Sprintf("%s-r%d", scanID, i),
			ScanID:    scanID,
			ProjectID: "proj-1",
			Position:  i + 1,
			URL:       s.url,
			Domain:    "news.com",
			CreatedAt: completedAt,
		}
		analyses[i] = monitor.Analysis{
			ID:             fmt.Sprintf("%s-a%d", scanID, i),
			SerpResultID:   results[i].ID,
			ScanID:         scanID,
			ProjectID:      "proj-1",
			Themes:         s.themes,
			Sentiment:      monitor.SentimentNeutral,
			SentimentScore: s.score,
			CreatedAt:      completedAt.Add(time.Duration(i) * time.Second),
		}
		for _, th := range s.themes {
			counts[th]++
		}
	}
	require.NoError(t, store.InsertResults(ctx, results))
	require.NoError(t, store.InsertAnalyses(ctx, analyses))
	require.NoError(t, store.FoldTags(ctx, "proj-1", scanID, counts, completedAt))
	return analyses
}

type fakeJudge struct {
	mu      sync.Mutex
	calls   int
	err     error
	offURLs map[string]bool
	skip    map[string]bool
}

func (j *fakeJudge) Evaluate(_ context.Context, _ monitor.ProjectContext, items []monitor.RelevanceItem) ([]monitor.RelevanceVerdict, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	if j.err != nil {
		return nil, j.err
	}
	var out []monitor.RelevanceVerdict
	for _, it := range items {
		if j.skip[it.URL] {
			continue
		}
		out = append(out, monitor.RelevanceVerdict{ID: it.ID, IsOffTopic: j.offURLs[it.URL], Reason: "judged"})
	}
	return out, nil
}

func TestContextFilterBatchesUntilDone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	seedScan(t, store, "scan-1", testNow,
		seed{url: "https://a", themes: []string{"ai"}},
		seed{url: "https://b", themes: []string{"ai"}},
		seed{url: "https://c", themes: []string{"cooking"}},
	)
	judge := &fakeJudge{offURLs: map[string]bool{"https://c": true}}
	f, err := NewContextFilter(store, judge, 2, nil)
	require.NoError(t, err)

	first, err := f.RunBatch(ctx, "proj-1", "")
	require.NoError(t, err)
	require.Equal(t, 2, first.Evaluated)
	require.Equal(t, 1, first.Remaining)

	second, err := f.RunBatch(ctx, "proj-1", "")
	require.NoError(t, err)
	require.Equal(t, 1, second.Evaluated)
	require.Less(t, second.Remaining, first.Remaining)
	require.Zero(t, second.Remaining)
	require.Equal(t, 1, first.OffTopic+second.OffTopic)

	third, err := f.RunBatch(ctx, "proj-1", "")
	require.NoError(t, err)
	require.Zero(t, third.Evaluated)
	require.Equal(t, 2, judge.calls, "an empty batch does not call the judge")
}

func TestContextFilterMissingVerdictDefaultsOnTopic(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seedScan(t, store, "scan-1", testNow, seed{url: "https://a", themes: []string{"ai"}})
	f, err := NewContextFilter(store, &fakeJudge{skip: map[string]bool{"https://a": true}}, 0, nil)
	require.NoError(t, err)

	res, err := f.RunBatch(context.Background(), "proj-1", "scan-1")
	require.NoError(t, err)
	require.Equal(t, FilterBatchResult{Evaluated: 1, OnTopic: 1}, res)

	a := store.Analyses("proj-1")[0]
	require.False(t, a.IsOffTopic)
	require.NotNil(t, a.OffTopicReason)
	require.Equal(t, noVerdictReason, *a.OffTopicReason)
}

func TestContextFilterJudgeFailureLeavesBatch(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seedScan(t, store, "scan-1", testNow, seed{url: "https://a"}, seed{url: "https://b"})
	f, err := NewContextFilter(store, &fakeJudge{err: errors.New("quota")}, 0, nil)
	require.NoError(t, err)

	res, err := f.RunBatch(context.Background(), "proj-1", "")
	require.NoError(t, err)
	require.Zero(t, res.Evaluated)
	require.Equal(t, 2, res.Remaining)
	require.Contains(t, res.Error, "quota")
}

func TestContextFilterResetAndPurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	seedScan(t, store, "scan-1", testNow,
		seed{url: "https://a", themes: []string{"ai"}},
		seed{url: "https://c", themes: []string{"cooking", "ai"}},
	)
	f, err := NewContextFilter(store, &fakeJudge{offURLs: map[string]bool{"https://c": true}}, 0, nil)
	require.NoError(t, err)
	_, err = f.RunBatch(ctx, "proj-1", "")
	require.NoError(t, err)

	cleared, err := f.Reset(ctx, "proj-1", "")
	require.NoError(t, err)
	require.Equal(t, 2, cleared)
	cleared, err = f.Reset(ctx, "proj-1", "")
	require.NoError(t, err)
	require.Zero(t, cleared, "reset only touches evaluated rows")

	_, err = f.RunBatch(ctx, "proj-1", "")
	require.NoError(t, err)
	deleted, err := f.PurgeOffTopic(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	require.Len(t, store.Results("scan-1"), 1)

	tags, err := store.ListTags(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.Equal(t, "ai", tags[0].Name)
	require.Equal(t, 1, tags[0].Count)
}

type fakeGrouper struct {
	mu      sync.Mutex
	batches [][]string
	groups  []monitor.TagGroup
	err     error
}

func (g *fakeGrouper) GroupDuplicates(_ context.Context, _ monitor.ProjectContext, tags []monitor.Tag) ([]monitor.TagGroup, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, len(tags))
	present := map[string]bool{}
	for i, t := range tags {
		names[i] = t.Name
		present[t.Name] = true
	}
	g.batches = append(g.batches, names)
	if g.err != nil {
		return nil, g.err
	}
	// Only propose groups whose members are still present, like a model would.
	var out []monitor.TagGroup
	for _, grp := range g.groups {
		var dups []string
		for _, d := range grp.Duplicates {
			if present[d] {
				dups = append(dups, d)
			}
		}
		if len(dups) > 0 {
			out = append(out, monitor.TagGroup{Canonical: grp.Canonical, Duplicates: dups})
		}
	}
	return out, nil
}

func TestTagNormalizerMergesDuplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	var seeds []seed
	for i := 0; i < 10; i++ {
		seeds = append(seeds, seed{url: fmt.Sprintf("https://ai/%d", i), themes: []string{"ai"}})
	}
	for i := 0; i < 4; i++ {
		seeds = append(seeds, seed{url: fmt.Sprintf("https://ia/%d", i), themes: []string{"intelligenza artificiale"}})
	}
	seeds = append(seeds, seed{url: "https://both", themes: []string{"ai", "intelligenza artificiale"}})
	seedScan(t, store, "scan-1", testNow, seeds...)

	grouper := &fakeGrouper{groups: []monitor.TagGroup{{Canonical: "ai", Duplicates: []string{"intelligenza artificiale"}}}}
	n, err := NewTagNormalizer(store, grouper, 0, nil)
	require.NoError(t, err)

	res, err := n.Run(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, NormalizeResult{GroupsFound: 1, TagsMerged: 1, TagsRemaining: 1}, res)

	tags, err := store.ListTags(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.Equal(t, "ai", tags[0].Name)
	require.Equal(t, 16, tags[0].Count)
	for _, a := range store.Analyses("proj-1") {
		require.Equal(t, []string{"ai"}, a.Themes)
	}

	again, err := n.Run(ctx, "proj-1")
	require.NoError(t, err)
	require.Zero(t, again.TagsMerged, "a normalized set merges nothing")
	require.Equal(t, 1, again.TagsRemaining)
}

func TestTagNormalizerMergesEverySpellingOfDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	seedScan(t, store, "scan-1", testNow,
		seed{url: "https://a", themes: []string{"ai"}},
		seed{url: "https://b", themes: []string{"intelligenza artificiale"}},
		seed{url: "https://c", themes: []string{"intelligenza-artificiale"}},
	)
	tags, err := store.ListTags(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, tags, 2, "spellings sharing a slug fold into one tag")

	n, err := NewTagNormalizer(store, &fakeGrouper{groups: []monitor.TagGroup{
		{Canonical: "ai", Duplicates: []string{"intelligenza artificiale"}},
	}}, 0, nil)
	require.NoError(t, err)
	_, err = n.Run(ctx, "proj-1")
	require.NoError(t, err)

	for _, a := range store.Analyses("proj-1") {
		require.Equal(t, []string{"ai"}, a.Themes)
	}
	require.NoError(t, store.RebuildTags(ctx, "proj-1"))
	tags, err = store.ListTags(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.Equal(t, "ai", tags[0].Name)
	require.Equal(t, 3, tags[0].Count)
}

func TestTagNormalizerExampleCounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	seedScan(t, store, "scan-1", testNow, seed{url: "https://x", themes: []string{"seed"}})
	require.NoError(t, store.FoldTags(ctx, "proj-1", "scan-1", map[string]int{"ai": 10, "intelligenza artificiale": 4}, testNow))

	n, err := NewTagNormalizer(store, &fakeGrouper{groups: []monitor.TagGroup{
		{Canonical: "ai", Duplicates: []string{"intelligenza artificiale"}},
	}}, 0, nil)
	require.NoError(t, err)
	_, err = n.Run(ctx, "proj-1")
	require.NoError(t, err)

	tags, err := store.ListTags(ctx, "proj-1")
	require.NoError(t, err)
	counts := map[string]int{}
	for _, tag := range tags {
		counts[tag.Name] = tag.Count
	}
	require.Equal(t, map[string]int{"ai": 14, "seed": 1}, counts)
}

func TestTagNormalizerCanonicalFallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	seedScan(t, store, "scan-1", testNow, seed{url: "https://x", themes: []string{"seed"}})
	require.NoError(t, store.FoldTags(ctx, "proj-1", "scan-1", map[string]int{"a.i.": 3, "ai tools": 5, "other": 9}, testNow))

	grouper := &fakeGrouper{groups: []monitor.TagGroup{
		{Canonical: "artificial intelligence", Duplicates: []string{"a.i.", "ai tools", "missing"}},
	}}
	n, err := NewTagNormalizer(store, grouper, 0, nil)
	require.NoError(t, err)
	res, err := n.Run(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, NormalizeResult{GroupsFound: 1, TagsMerged: 1, TagsRemaining: 3}, res)

	tags, err := store.ListTags(ctx, "proj-1")
	require.NoError(t, err)
	counts := map[string]int{}
	for _, tag := range tags {
		counts[tag.Name] = tag.Count
	}
	require.Equal(t, map[string]int{"other": 9, "ai tools": 8, "seed": 1}, counts,
		"the highest-count member becomes canonical when the proposed name is not a tag")
}

func TestTagNormalizerBatchesTags(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	seedScan(t, store, "scan-1", testNow, seed{url: "https://x", themes: []string{"a", "b", "c", "d", "e"}})

	grouper := &fakeGrouper{}
	n, err := NewTagNormalizer(store, grouper, 2, nil)
	require.NoError(t, err)
	res, err := n.Run(ctx, "proj-1")
	require.NoError(t, err)
	require.Equal(t, 5, res.TagsRemaining)

	var sizes []int
	for _, b := range grouper.batches {
		sizes = append(sizes, len(b))
	}
	require.Equal(t, []int{2, 2}, sizes, "a trailing single tag has nothing to group with")
}

func TestTagNormalizerGroupingFailureIsCounted(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seedScan(t, store, "scan-1", testNow, seed{url: "https://x", themes: []string{"a", "b"}})
	n, err := NewTagNormalizer(store, &fakeGrouper{err: errors.New("bad json")}, 0, nil)
	require.NoError(t, err)
	res, err := n.Run(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Failures)
	require.Equal(t, 2, res.TagsRemaining)
}

type fakeNarrator struct {
	current, previous monitor.ScanStats
	err               error
}

func (n *fakeNarrator) Summarize(_ context.Context, current, previous monitor.ScanStats, _ monitor.ProjectContext) (string, error) {
	n.current, n.previous = current, previous
	if n.err != nil {
		return "", n.err
	}
	return fmt.Sprintf("%d vs %d results", current.Results, previous.Results), nil
}

func TestBriefingNeedsTwoCompletedScans(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	seedScan(t, store, "scan-1", testNow, seed{url: "https://a"})
	b, err := NewBriefing(store, &fakeNarrator{}, 0, nil)
	require.NoError(t, err)

	text, err := b.Regenerate(context.Background(), "proj-1")
	require.NoError(t, err)
	require.Nil(t, text)
}

func TestBriefingComparesLatestTwoScans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	seedScan(t, store, "scan-old", testNow.Add(-48*time.Hour), seed{url: "https://0"})
	seedScan(t, store, "scan-prev", testNow.Add(-24*time.Hour), seed{url: "https://1", themes: []string{"ai"}, score: 0.4})
	seedScan(t, store, "scan-cur", testNow,
		seed{url: "https://2", themes: []string{"ai"}, score: -0.2},
		seed{url: "https://3", themes: []string{"ai", "layoffs"}, score: -0.6},
	)
	narrator := &fakeNarrator{}
	b, err := NewBriefing(store, narrator, 5, nil)
	require.NoError(t, err)

	text, err := b.Regenerate(ctx, "proj-1")
	require.NoError(t, err)
	require.NotNil(t, text)
	require.Equal(t, "2 vs 1 results", *text)
	require.Equal(t, "scan-cur", narrator.current.ScanID)
	require.Equal(t, "scan-prev", narrator.previous.ScanID)
	require.Equal(t, monitor.ThemeCount{Name: "ai", Count: 2}, narrator.current.TopThemes[0])

	scan, err := store.GetScan(ctx, "scan-cur")
	require.NoError(t, err)
	require.NotNil(t, scan.AIBriefing)
	require.Equal(t, *text, *scan.AIBriefing)

	narrator.err = errors.New("down")
	_, err = b.Regenerate(ctx, "proj-1")
	require.Error(t, err)
}

func TestBlacklistTag(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	seedScan(t, store, "scan-1", testNow,
		seed{url: "https://a", themes: []string{"ai", "crypto"}},
		seed{url: "https://b", themes: []string{"ai"}},
	)
	bl, err := NewBlacklister(store, fixedClock{}, nil)
	require.NoError(t, err)

	res, err := bl.BlacklistTag(ctx, "proj-1", "  Crypto ")
	require.NoError(t, err)
	require.Equal(t, BlacklistResult{Name: "crypto", ResultsDeleted: 1}, res)
	require.Len(t, store.Results("scan-1"), 1)

	tags, err := store.ListTags(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.Equal(t, "ai", tags[0].Name)
	require.Equal(t, 1, tags[0].Count)

	banned, err := store.BlacklistedTags(ctx, "proj-1")
	require.NoError(t, err)
	require.True(t, banned["crypto"])

	again, err := bl.BlacklistTag(ctx, "proj-1", "crypto")
	require.NoError(t, err)
	require.Zero(t, again.ResultsDeleted)

	_, err = bl.BlacklistTag(ctx, "proj-1", "   ")
	require.ErrorIs(t, err, monitor.ErrInvalidArgument)
}

func TestBlacklistTagCoversSlugVariants(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	seedScan(t, store, "scan-1", testNow,
		seed{url: "https://a", themes: []string{"e-commerce"}},
		seed{url: "https://b", themes: []string{"e commerce"}},
		seed{url: "https://c", themes: []string{"ai"}},
	)
	bl, err := NewBlacklister(store, fixedClock{}, nil)
	require.NoError(t, err)

	res, err := bl.BlacklistTag(ctx, "proj-1", "e commerce")
	require.NoError(t, err)
	require.Equal(t, 2, res.ResultsDeleted)
	require.Len(t, store.Results("scan-1"), 1)

	tags, err := store.ListTags(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	require.Equal(t, "ai", tags[0].Name)
}
