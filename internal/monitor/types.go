// Package monitor defines core types shared across subsystems.
package monitor

import (
	"errors"
	"time"
)

// Sentinel errors returned by stores and services.
var (
	ErrNotFound        = errors.New("not found")
	ErrScanNotRunning  = errors.New("scan is not running")
	ErrNoKeywords      = errors.New("project has no keywords")
	ErrInvalidArgument = errors.New("invalid argument")
)

// JobStatus represents the lifecycle state of a queued job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may leave this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ScanStatus represents the lifecycle state of a scan.
type ScanStatus string

// Scan status values.
const (
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
)

// TriggerType records what started a scan.
type TriggerType string

// Trigger types.
const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
)

// Project is the administered monitoring target.
type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Industry      string    `json:"industry"`
	Description   string    `json:"description"`
	Language      string    `json:"language"`
	LocationCode  int       `json:"location_code"`
	Active        bool      `json:"active"`
	Keywords      []string  `json:"keywords"`
	Sources       []string  `json:"sources"`
	Competitors   []string  `json:"competitors"`
	AlertKeywords []string  `json:"alert_keywords"`
	Schedule      string    `json:"schedule,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Context returns the subset of the project handed to AI services.
func (p Project) Context() ProjectContext {
	return ProjectContext{
		Name:        p.Name,
		Industry:    p.Industry,
		Description: p.Description,
		Language:    p.Language,
		Keywords:    p.Keywords,
		Competitors: p.Competitors,
	}
}

// ProjectContext describes a project to the AI services.
type ProjectContext struct {
	Name        string   `json:"name"`
	Industry    string   `json:"industry"`
	Description string   `json:"description"`
	Language    string   `json:"language"`
	Keywords    []string `json:"keywords"`
	Competitors []string `json:"competitors"`
}

// Scan is one execution run over a project's keyword x source task list.
type Scan struct {
	ID             string      `json:"id"`
	ProjectID      string      `json:"project_id"`
	Status         ScanStatus  `json:"status"`
	TriggerType    TriggerType `json:"trigger_type"`
	TotalTasks     int         `json:"total_tasks"`
	CompletedTasks int         `json:"completed_tasks"`
	DateFrom       *time.Time  `json:"date_from,omitempty"`
	DateTo         *time.Time  `json:"date_to,omitempty"`
	AIBriefing     *string     `json:"ai_briefing,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// Done reports whether every task of the scan reached a terminal state.
func (s Scan) Done() bool {
	return s.TotalTasks > 0 && s.CompletedTasks >= s.TotalTasks
}

// Job is one (keyword, source) unit of work within a scan.
type Job struct {
	ID           string     `json:"id"`
	ScanID       string     `json:"scan_id"`
	Keyword      string     `json:"keyword"`
	Source       string     `json:"source"`
	Status       JobStatus  `json:"status"`
	RetryCount   int        `json:"retry_count"`
	LeaseID      string     `json:"-"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// SearchItem is one entry returned by the search provider.
type SearchItem struct {
	Position    int        `json:"position"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	Domain      string     `json:"domain"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// SerpResult is one fetched search item persisted for a scan.
type SerpResult struct {
	ID           string     `json:"id"`
	ScanID       string     `json:"scan_id"`
	ProjectID    string     `json:"project_id"`
	Keyword      string     `json:"keyword"`
	Source       string     `json:"source"`
	Position     int        `json:"position"`
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	Snippet      string     `json:"snippet"`
	Domain       string     `json:"domain"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	Content      *string    `json:"content,omitempty"`
	IsCompetitor bool       `json:"is_competitor"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Sentiment is the coerced polarity of an analyzed result.
type Sentiment string

// Sentiment values.
const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentMixed    Sentiment = "mixed"
)

// EntityType classifies a named entity.
type EntityType string

// Entity types.
const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityProduct      EntityType = "product"
	EntityLocation     EntityType = "location"
	EntityOther        EntityType = "other"
)

// Entity is a named entity mentioned by a result.
type Entity struct {
	Name string     `json:"name"`
	Type EntityType `json:"type"`
}

// Analysis is the AI enrichment of one SerpResult.
type Analysis struct {
	ID             string    `json:"id"`
	SerpResultID   string    `json:"serp_result_id"`
	ScanID         string    `json:"scan_id"`
	ProjectID      string    `json:"project_id"`
	Themes         []string  `json:"themes"`
	Sentiment      Sentiment `json:"sentiment"`
	SentimentScore float64   `json:"sentiment_score"`
	Entities       []Entity  `json:"entities"`
	Summary        string    `json:"summary"`
	IsHiPriority   bool      `json:"is_hi_priority"`
	PriorityReason string    `json:"priority_reason,omitempty"`
	IsOffTopic     bool      `json:"is_off_topic"`
	OffTopicReason *string   `json:"off_topic_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Tag is a per-project canonical theme with a running count.
type Tag struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	Count      int       `json:"count"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// TagScan is the per-(tag, scan) occurrence count.
type TagScan struct {
	TagID  string `json:"tag_id"`
	ScanID string `json:"scan_id"`
	Count  int    `json:"count"`
}

// TagBlacklist is a banned tag name for a project.
type TagBlacklist struct {
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// StepStatus tags the outcome of a single worker step.
type StepStatus string

// Step outcomes.
const (
	StepProcessed StepStatus = "processed"
	StepNoJobs    StepStatus = "no_jobs"
	StepError     StepStatus = "error"
)

// StepResult is returned by every worker step.
type StepResult struct {
	Status       StepStatus `json:"status"`
	PendingCount int        `json:"pending_count"`
	JobID        string     `json:"job_id,omitempty"`
	ScanID       string     `json:"scan_id,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// JobCounts tallies jobs of a scan by status.
type JobCounts map[JobStatus]int

// Terminal returns the number of completed and failed jobs.
func (c JobCounts) Terminal() int {
	return c[JobStatusCompleted] + c[JobStatusFailed]
}

// ScanFilter narrows scan listings.
type ScanFilter struct {
	ProjectID string
	Status    ScanStatus
	Limit     int
}

// RelevanceItem is an unevaluated analysis handed to the relevance judge.
type RelevanceItem struct {
	ID      string `json:"id"`
	ScanID  string `json:"scan_id"`
	URL     string `json:"url"`
	Domain  string `json:"domain"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Summary string `json:"summary"`
}

// RelevanceVerdict is the judge's decision for one item.
type RelevanceVerdict struct {
	ID         string `json:"id"`
	IsOffTopic bool   `json:"is_off_topic"`
	Reason     string `json:"reason"`
}

// TagGroup is a set of semantically equivalent tag names.
type TagGroup struct {
	Canonical  string   `json:"canonical"`
	Duplicates []string `json:"duplicates"`
}

// ThemeCount is a theme with its occurrence count.
type ThemeCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DomainCount is a domain with its occurrence count.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// ScanStats aggregates one completed scan for briefing generation.
type ScanStats struct {
	ScanID            string            `json:"scan_id"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	Results           int               `json:"results"`
	Analyzed          int               `json:"analyzed"`
	HiPriority        int               `json:"hi_priority"`
	OffTopic          int               `json:"off_topic"`
	Competitor        int               `json:"competitor"`
	AvgSentiment      float64           `json:"avg_sentiment"`
	Sentiment         map[Sentiment]int `json:"sentiment"`
	TopThemes         []ThemeCount      `json:"top_themes"`
	CompetitorDomains []DomainCount     `json:"competitor_domains"`
}
