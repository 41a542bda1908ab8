package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

const groupSystem = `You normalize the tag vocabulary of a brand-monitoring project. Find groups of tags
that mean the same thing (synonyms, translations, abbreviations, singular/plural). Pick the
clearest existing tag as canonical. Only use tag names from the input. Leave unique tags out.
Reply with JSON only: {"groups":[{"canonical":"","duplicates":[""]}]}`

type tagEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// GroupDuplicates proposes groups of equivalent tag names. Names are
// normalized; a group with no duplicates left is dropped.
func (c *Client) GroupDuplicates(
	ctx context.Context,
	project monitor.ProjectContext,
	tags []monitor.Tag,
) ([]monitor.TagGroup, error) {
	if len(tags) < 2 {
		return nil, nil
	}
	entries := make([]tagEntry, len(tags))
	for i, t := range tags {
		entries[i] = tagEntry{Name: t.Name, Count: t.Count}
	}
	payload, err := json.Marshal(map[string]any{"project": project, "tags": entries})
	if err != nil {
		return nil, fmt.Errorf("marshal grouping request: %w", err)
	}
	doc, err := c.completeJSON(ctx, "group_tags", groupSystem, string(payload))
	if err != nil {
		return nil, err
	}
	return parseGroups(doc), nil
}

func parseGroups(doc gjson.Result) []monitor.TagGroup {
	var out []monitor.TagGroup
	arrayAt(doc, "groups").ForEach(func(_, g gjson.Result) bool {
		canonical := monitor.NormalizeTheme(g.Get("canonical").String())
		if canonical == "" {
			return true
		}
		group := monitor.TagGroup{Canonical: canonical}
		seen := map[string]bool{canonical: true}
		for _, d := range coerceStrings(g.Get("duplicates")) {
			name := monitor.NormalizeTheme(d)
			if seen[name] {
				continue
			}
			seen[name] = true
			group.Duplicates = append(group.Duplicates, name)
		}
		if len(group.Duplicates) > 0 {
			out = append(out, group)
		}
		return true
	})
	return out
}
