package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

const narrativeSystem = `You write executive briefings for a brand-monitoring dashboard. Compare the current
scan with the previous one: volume, sentiment shift, themes that rose or faded, competitor
presence and high-priority items. Use short sections with headings and bullet points, at most
300 words, in the project's language. Do not invent numbers that are not in the data.`

// Summarize writes the comparative briefing between two scans.
func (c *Client) Summarize(
	ctx context.Context,
	current, previous monitor.ScanStats,
	project monitor.ProjectContext,
) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"project":  project,
		"current":  current,
		"previous": previous,
	})
	if err != nil {
		return "", fmt.Errorf("marshal briefing request: %w", err)
	}
	text, err := c.complete(ctx, "briefing", narrativeSystem, string(payload))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
