package monitor

import (
	"context"
	"io"
	"time"
)

// JobQueue is the queue-as-table contract used by the worker step.
type JobQueue interface {
	// ReclaimStale reverts jobs processing since before cutoff back to pending.
	ReclaimStale(ctx context.Context, cutoff time.Time, reason string) (int, error)
	// ClaimNextJob moves the oldest pending job to processing under leaseID.
	// ok is false when the queue is empty or another caller won the race.
	ClaimNextJob(ctx context.Context, leaseID string, now time.Time) (job Job, ok bool, err error)
	// CompleteJob finishes a job still held under leaseID.
	CompleteJob(ctx context.Context, jobID, leaseID string, now time.Time) (bool, error)
	// RetryOrFailJob returns the job to pending while retries remain, otherwise
	// fails it. The resulting status is empty when the lease was lost.
	RetryOrFailJob(ctx context.Context, jobID, leaseID, errMsg string, maxRetries int, now time.Time) (JobStatus, error)
	// ReleaseJob returns a job still held under leaseID to pending without
	// consuming a retry.
	ReleaseJob(ctx context.Context, jobID, leaseID, reason string) (bool, error)
	CountPending(ctx context.Context) (int, error)
}

// ProjectStore reads administered projects.
type ProjectStore interface {
	GetProject(ctx context.Context, projectID string) (Project, error)
	ListActiveProjects(ctx context.Context) ([]Project, error)
}

// ScanStore persists scans and their counters.
type ScanStore interface {
	ProjectStore
	// CreateScan writes the scan and all of its jobs atomically.
	CreateScan(ctx context.Context, scan Scan, jobs []Job) error
	GetScan(ctx context.Context, scanID string) (Scan, error)
	ListScans(ctx context.Context, filter ScanFilter) ([]Scan, error)
	// IncrementCompleted atomically bumps completed_tasks, capped at total_tasks.
	IncrementCompleted(ctx context.Context, scanID string) (Scan, error)
	// MarkScanCompleted flips a running scan whose counters are full.
	MarkScanCompleted(ctx context.Context, scanID string, now time.Time) (bool, error)
	// StopScan fails every non-terminal job and the scan itself.
	StopScan(ctx context.Context, scanID, reason string, now time.Time) (int, error)
	// ResetScanJobs reverts every processing job of the scan to pending.
	ResetScanJobs(ctx context.Context, scanID, reason string) (int, error)
	// RecountCompleted raises completed_tasks to the number of terminal jobs.
	RecountCompleted(ctx context.Context, scanID string) (Scan, error)
	JobCounts(ctx context.Context, scanID string) (JobCounts, error)
	SaveBriefing(ctx context.Context, scanID, text string) error
}

// ResultStore persists worker pipeline output.
type ResultStore interface {
	// KnownURLs returns the subset of urls already stored for the project.
	KnownURLs(ctx context.Context, projectID string, urls []string) (map[string]bool, error)
	InsertResults(ctx context.Context, results []SerpResult) error
	// MarkCompetitors flags every project result on one of domains.
	MarkCompetitors(ctx context.Context, projectID string, domains []string) (int, error)
	InsertAnalyses(ctx context.Context, analyses []Analysis) error
	BlacklistedTags(ctx context.Context, projectID string) (map[string]bool, error)
	// FoldTags creates or increments tags by slug and their per-scan rows.
	FoldTags(ctx context.Context, projectID, scanID string, counts map[string]int, now time.Time) error
}

// FilterStore backs the context filter agent.
type FilterStore interface {
	PendingRelevance(ctx context.Context, projectID, scanID string, limit int) ([]RelevanceItem, error)
	CountPendingRelevance(ctx context.Context, projectID, scanID string) (int, error)
	// SaveRelevance writes a verdict only when none was recorded yet.
	SaveRelevance(ctx context.Context, analysisID string, offTopic bool, reason string) (bool, error)
	ResetRelevance(ctx context.Context, projectID, scanID string) (int, error)
	DeleteOffTopicResults(ctx context.Context, projectID string) (int, error)
}

// TagStore backs the tag normalizer and blacklist actions.
type TagStore interface {
	ListTags(ctx context.Context, projectID string) ([]Tag, error)
	// MergeTag folds duplicate into canonical in one transaction.
	MergeTag(ctx context.Context, projectID string, canonical, duplicate Tag) error
	AddBlacklist(ctx context.Context, entry TagBlacklist) error
	DeleteResultsWithTheme(ctx context.Context, projectID, theme string) (int, error)
	// RebuildTags recomputes the project's tags from surviving analyses.
	RebuildTags(ctx context.Context, projectID string) error
}

// StatsStore aggregates scans for briefings.
type StatsStore interface {
	ScanStats(ctx context.Context, scanID string, top int) (ScanStats, error)
}

// Store is the union every backend implements.
type Store interface {
	JobQueue
	ScanStore
	ResultStore
	FilterStore
	TagStore
	StatsStore
	Close()
}

// SearchQuery parameterizes one provider fetch.
type SearchQuery struct {
	Keyword      string
	Source       string
	Language     string
	LocationCode int
	Depth        int
	DateFrom     *time.Time
	DateTo       *time.Time
}

// SearchResponse carries parsed items plus the raw payload for archiving.
type SearchResponse struct {
	Items []SearchItem
	Raw   []byte
}

// SearchProvider fetches search results for one keyword and source.
type SearchProvider interface {
	Fetch(ctx context.Context, query SearchQuery) (SearchResponse, error)
}

// ContentExtractor returns the article text of a page, or nil.
type ContentExtractor interface {
	Extract(ctx context.Context, url string) *string
}

// AnalysisItem is one result submitted for analysis.
type AnalysisItem struct {
	Position int    `json:"position"`
	URL      string `json:"url"`
	Domain   string `json:"domain"`
	Title    string `json:"title"`
	Text     string `json:"text"`
}

// AnalysisRequest is one batched analysis call.
type AnalysisRequest struct {
	Keyword       string
	Industry      string
	Language      string
	AlertKeywords []string
	Competitors   []string
	Items         []AnalysisItem
}

// ItemAnalysis is the coerced analysis of one item.
type ItemAnalysis struct {
	Position       int
	Themes         []string
	Sentiment      Sentiment
	SentimentScore float64
	Entities       []Entity
	Summary        string
	IsHiPriority   bool
	PriorityReason string
}

// AnalysisResponse is the coerced analysis of a batch.
type AnalysisResponse struct {
	Results               []ItemAnalysis
	DiscoveredCompetitors []string
}

// Analyzer extracts themes, sentiment and entities from a batch of results.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResponse, error)
}

// RelevanceJudge decides whether items are on topic for a project.
type RelevanceJudge interface {
	Evaluate(ctx context.Context, project ProjectContext, items []RelevanceItem) ([]RelevanceVerdict, error)
}

// TagGrouper proposes groups of equivalent tag names.
type TagGrouper interface {
	GroupDuplicates(ctx context.Context, project ProjectContext, tags []Tag) ([]TagGroup, error)
}

// Narrator writes the comparative briefing between two scans.
type Narrator interface {
	Summarize(ctx context.Context, current, previous ScanStats, project ProjectContext) (string, error)
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces identifiers (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
