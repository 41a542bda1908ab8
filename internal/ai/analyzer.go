package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

const analyzeSystem = `You are a brand-monitoring analyst. For every search result you receive, return
themes (short lowercase noun phrases, at most 5), sentiment (positive, neutral, negative or mixed)
toward the brand, sentiment_score between -1 and 1, named entities with a type (person,
organization, product, location, other), a one-sentence summary, and is_hi_priority with a
priority_reason when the item matches one of the alert keywords or is a reputational risk.
Also list in discovered_competitors any domains that clearly belong to competitors of the brand.
Reply with JSON only:
{"results":[{"position":1,"themes":[],"sentiment":"neutral","sentiment_score":0,"entities":[{"name":"","type":""}],
"summary":"","is_hi_priority":false,"priority_reason":""}],"discovered_competitors":[]}`

// Analyze sends one batch of results and coerces the reply. Items whose
// position was not submitted are dropped.
func (c *Client) Analyze(ctx context.Context, req monitor.AnalysisRequest) (monitor.AnalysisResponse, error) {
	if len(req.Items) == 0 {
		return monitor.AnalysisResponse{}, nil
	}
	payload, err := json.Marshal(map[string]any{
		"keyword":        req.Keyword,
		"industry":       req.Industry,
		"language":       req.Language,
		"alert_keywords": req.AlertKeywords,
		"competitors":    req.Competitors,
		"items":          req.Items,
	})
	if err != nil {
		return monitor.AnalysisResponse{}, fmt.Errorf("marshal analysis request: %w", err)
	}
	doc, err := c.completeJSON(ctx, "analyze", analyzeSystem, string(payload))
	if err != nil {
		return monitor.AnalysisResponse{}, err
	}
	return parseAnalysis(doc, req.Items), nil
}

func parseAnalysis(doc gjson.Result, items []monitor.AnalysisItem) monitor.AnalysisResponse {
	submitted := make(map[int]bool, len(items))
	for _, it := range items {
		submitted[it.Position] = true
	}
	var resp monitor.AnalysisResponse
	seen := make(map[int]bool)
	arrayAt(doc, "results").ForEach(func(_, r gjson.Result) bool {
		pos := int(r.Get("position").Int())
		if !submitted[pos] || seen[pos] {
			return true
		}
		seen[pos] = true
		ia := monitor.ItemAnalysis{
			Position:       pos,
			Themes:         coerceThemes(r.Get("themes")),
			Sentiment:      coerceSentiment(r.Get("sentiment").String()),
			SentimentScore: coerceScore(r.Get("sentiment_score")),
			Entities:       coerceEntities(r.Get("entities")),
			Summary:        strings.TrimSpace(r.Get("summary").String()),
			IsHiPriority:   r.Get("is_hi_priority").Bool(),
		}
		if ia.IsHiPriority {
			ia.PriorityReason = strings.TrimSpace(r.Get("priority_reason").String())
		}
		resp.Results = append(resp.Results, ia)
		return true
	})
	domains := make(map[string]bool)
	for _, d := range coerceStrings(doc.Get("discovered_competitors")) {
		if nd := monitor.NormalizeDomain(d); nd != "" && !domains[nd] {
			domains[nd] = true
			resp.DiscoveredCompetitors = append(resp.DiscoveredCompetitors, nd)
		}
	}
	return resp
}
