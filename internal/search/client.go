// Package search implements the SERP provider client.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

const (
	okStatus      = 20000
	timestampForm = "2006-01-02 15:04:05 -07:00"
	maxBodyBytes  = 16 << 20
)

// Config controls the DataForSEO-style live SERP endpoint.
type Config struct {
	BaseURL  string
	Login    string
	Password string
	Timeout  time.Duration
}

// Client fetches live SERP results over HTTP basic auth.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

var _ monitor.SearchProvider = (*Client)(nil)

// New constructs a Client. A nil httpClient uses one bound to cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("search base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse search base url: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger.Named("search")}, nil
}

type taskRequest struct {
	Keyword      string `json:"keyword"`
	LanguageCode string `json:"language_code,omitempty"`
	LocationCode int    `json:"location_code,omitempty"`
	Depth        int    `json:"depth,omitempty"`
	DateFrom     string `json:"date_from,omitempty"`
	DateTo       string `json:"date_to,omitempty"`
}

// Fetch runs one live search for the keyword on the given source.
func (c *Client) Fetch(ctx context.Context, q monitor.SearchQuery) (monitor.SearchResponse, error) {
	if strings.TrimSpace(q.Keyword) == "" {
		return monitor.SearchResponse{}, fmt.Errorf("keyword is required: %w", monitor.ErrInvalidArgument)
	}
	source := monitor.Slug(q.Source)
	if source == "" {
		return monitor.SearchResponse{}, fmt.Errorf("source %q: %w", q.Source, monitor.ErrInvalidArgument)
	}
	task := taskRequest{
		Keyword:      q.Keyword,
		LanguageCode: q.Language,
		LocationCode: q.LocationCode,
		Depth:        q.Depth,
	}
	if q.DateFrom != nil {
		task.DateFrom = q.DateFrom.UTC().Format(time.DateOnly)
	}
	if q.DateTo != nil {
		task.DateTo = q.DateTo.UTC().Format(time.DateOnly)
	}
	body, err := json.Marshal([]taskRequest{task})
	if err != nil {
		return monitor.SearchResponse{}, fmt.Errorf("marshal search task: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v3/serp/google/" + source + "/live/advanced"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return monitor.SearchResponse{}, fmt.Errorf("new search request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Login, c.cfg.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return monitor.SearchResponse{}, fmt.Errorf("search %q: %w", q.Keyword, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return monitor.SearchResponse{}, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return monitor.SearchResponse{}, fmt.Errorf("search provider %s: %s", resp.Status, truncate(string(raw), 512))
	}

	items, err := Parse(raw)
	if err != nil {
		return monitor.SearchResponse{}, err
	}
	c.logger.Debug("search fetched",
		zap.String("keyword", q.Keyword),
		zap.String("source", source),
		zap.Int("items", len(items)),
	)
	return monitor.SearchResponse{Items: items, Raw: raw}, nil
}

// Parse decodes a live SERP payload into search items. Non-result
// blocks (ads, people-also-ask, carousels) are skipped.
func Parse(raw []byte) ([]monitor.SearchItem, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("search provider returned invalid json")
	}
	doc := gjson.ParseBytes(raw)
	if code := doc.Get("status_code").Int(); code != 0 && code != okStatus {
		return nil, fmt.Errorf("search provider status %d: %s", code, doc.Get("status_message").String())
	}
	task := doc.Get("tasks.0")
	if !task.Exists() {
		return nil, fmt.Errorf("search provider returned no task")
	}
	if code := task.Get("status_code").Int(); code != okStatus {
		return nil, fmt.Errorf("search task status %d: %s", code, task.Get("status_message").String())
	}

	var out []monitor.SearchItem
	seen := make(map[string]bool)
	task.Get("result.0.items").ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "organic", "news_search", "top_stories_element":
		default:
			return true
		}
		link := strings.TrimSpace(item.Get("url").String())
		if link == "" || seen[link] {
			return true
		}
		seen[link] = true
		position := int(item.Get("rank_absolute").Int())
		if position <= 0 {
			position = len(out) + 1
		}
		snippet := item.Get("description").String()
		if snippet == "" {
			snippet = item.Get("snippet").String()
		}
		domain := item.Get("domain").String()
		if domain == "" {
			domain = link
		}
		si := monitor.SearchItem{
			Position: position,
			URL:      link,
			Title:    stripHTML(item.Get("title").String()),
			Snippet:  stripHTML(snippet),
			Domain:   monitor.NormalizeDomain(domain),
		}
		if ts := item.Get("timestamp").String(); ts != "" {
			if t, err := time.Parse(timestampForm, ts); err == nil {
				t = t.UTC()
				si.PublishedAt = &t
			}
		}
		out = append(out, si)
		return true
	})
	return out, nil
}

func stripHTML(s string) string {
	s = strings.TrimSpace(s)
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
