package ai

import (
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

const maxThemes = 8

func coerceSentiment(raw string) monitor.Sentiment {
	switch s := monitor.Sentiment(strings.ToLower(strings.TrimSpace(raw))); s {
	case monitor.SentimentPositive, monitor.SentimentNegative, monitor.SentimentMixed, monitor.SentimentNeutral:
		return s
	default:
		return monitor.SentimentNeutral
	}
}

func coerceScore(v gjson.Result) float64 {
	f := v.Float()
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(-1, math.Min(1, f))
}

func coerceEntityType(raw string) monitor.EntityType {
	switch t := monitor.EntityType(strings.ToLower(strings.TrimSpace(raw))); t {
	case monitor.EntityPerson, monitor.EntityOrganization, monitor.EntityProduct, monitor.EntityLocation:
		return t
	case "org", "company", "brand":
		return monitor.EntityOrganization
	case "place", "city", "country":
		return monitor.EntityLocation
	default:
		return monitor.EntityOther
	}
}

// coerceThemes lowercases and trims theme names and keeps the first
// spelling of each slug.
func coerceThemes(v gjson.Result) []string {
	out := []string{}
	seen := make(map[string]bool)
	v.ForEach(func(_, t gjson.Result) bool {
		name := monitor.NormalizeTheme(t.String())
		slug := monitor.Slug(name)
		if slug == "" || seen[slug] {
			return true
		}
		seen[slug] = true
		out = append(out, name)
		return len(out) < maxThemes
	})
	return out
}

func coerceEntities(v gjson.Result) []monitor.Entity {
	out := []monitor.Entity{}
	seen := make(map[string]bool)
	v.ForEach(func(_, e gjson.Result) bool {
		name := strings.TrimSpace(e.Get("name").String())
		if name == "" && e.Type == gjson.String {
			name = strings.TrimSpace(e.String())
		}
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			return true
		}
		seen[key] = true
		out = append(out, monitor.Entity{Name: name, Type: coerceEntityType(e.Get("type").String())})
		return true
	})
	return out
}

func coerceStrings(v gjson.Result) []string {
	var out []string
	v.ForEach(func(_, s gjson.Result) bool {
		if t := strings.TrimSpace(s.String()); t != "" {
			out = append(out, t)
		}
		return true
	})
	return out
}

// arrayAt returns doc[key] when doc is an object, or doc itself when the
// model answered with a bare array.
func arrayAt(doc gjson.Result, key string) gjson.Result {
	if doc.IsArray() {
		return doc
	}
	return doc.Get(key)
}
