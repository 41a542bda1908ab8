// Package extract pulls readable article text out of result pages.
package extract

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

// minTextChars is the shortest extraction accepted as article text.
const minTextChars = 80

// Config controls page fetching and text limits.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxChars      int
	// SkipDomains lists hosts never fetched, e.g. video or social sites.
	SkipDomains []string
}

// Extractor implements monitor.ContentExtractor. It never fails: any fetch
// or parse problem yields nil so callers fall back to the snippet.
type Extractor struct {
	cfg     Config
	fetcher *fetcher
	skip    *skipList
	logger  *zap.Logger
}

var _ monitor.ContentExtractor = (*Extractor)(nil)

// New builds an Extractor. transport may be nil.
func New(cfg Config, transport http.RoundTripper, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		cfg:     cfg,
		fetcher: newFetcher(cfg, transport),
		skip:    newSkipList(cfg.SkipDomains),
		logger:  logger.Named("extract"),
	}
}

// Extract returns the main text of the page at rawURL, or nil.
func (e *Extractor) Extract(ctx context.Context, rawURL string) *string {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil
	}
	if e.skip.Skips(u.Hostname()) {
		return nil
	}
	pg, err := e.fetcher.fetch(ctx, rawURL)
	if err != nil {
		e.logger.Debug("page fetch failed", zap.String("url", rawURL), zap.Error(err))
		return nil
	}
	if pg.StatusCode >= http.StatusBadRequest || !isHTML(pg.ContentType) {
		return nil
	}
	text := articleText(string(pg.Body), u)
	if utf8.RuneCountInString(text) < minTextChars {
		return nil
	}
	text = clip(text, e.cfg.MaxChars)
	return &text
}

// articleText runs readability first and falls back to joining <p> text.
func articleText(html string, u *url.URL) string {
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err == nil {
		if text := collapse(article.TextContent); utf8.RuneCountInString(text) >= minTextChars {
			return text
		}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	var parts []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := collapse(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(dedupe(parts), "\n")
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func dedupe(parts []string) []string {
	seen := make(map[string]bool, len(parts))
	out := parts[:0]
	for _, p := range parts {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// clip truncates to at most n runes; n <= 0 disables the limit.
func clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
