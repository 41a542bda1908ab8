package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

const relevanceSystem = `You review search results collected for a brand-monitoring project. Decide for every
item whether it is off topic: about a different company, person, product or meaning of the
keyword than the project describes. Give a short reason either way.
Reply with JSON only: {"verdicts":[{"id":"","is_off_topic":false,"reason":""}]}`

// Evaluate asks for an on/off-topic verdict per item. Verdicts for ids
// that were not submitted are discarded.
func (c *Client) Evaluate(
	ctx context.Context,
	project monitor.ProjectContext,
	items []monitor.RelevanceItem,
) ([]monitor.RelevanceVerdict, error) {
	if len(items) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(map[string]any{"project": project, "items": items})
	if err != nil {
		return nil, fmt.Errorf("marshal relevance request: %w", err)
	}
	doc, err := c.completeJSON(ctx, "relevance", relevanceSystem, string(payload))
	if err != nil {
		return nil, err
	}
	return parseVerdicts(doc, items), nil
}

func parseVerdicts(doc gjson.Result, items []monitor.RelevanceItem) []monitor.RelevanceVerdict {
	submitted := make(map[string]bool, len(items))
	for _, it := range items {
		submitted[it.ID] = true
	}
	var out []monitor.RelevanceVerdict
	seen := make(map[string]bool)
	arrayAt(doc, "verdicts").ForEach(func(_, v gjson.Result) bool {
		id := strings.TrimSpace(v.Get("id").String())
		if !submitted[id] || seen[id] {
			return true
		}
		seen[id] = true
		reason := strings.TrimSpace(v.Get("reason").String())
		if reason == "" {
			reason = "no reason given"
		}
		out = append(out, monitor.RelevanceVerdict{ID: id, IsOffTopic: v.Get("is_off_topic").Bool(), Reason: reason})
		return true
	})
	return out
}
