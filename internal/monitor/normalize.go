package monitor

import (
	"net/url"
	"strings"
	"unicode"
)

// NormalizeDomain lowercases a host and strips a leading "www.".
// Full URLs are accepted and reduced to their hostname.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil {
			d = u.Hostname()
		}
	}
	if i := strings.IndexAny(d, "/:"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimPrefix(d, "www.")
}

// NormalizeTheme returns the canonical stored form of a theme name.
func NormalizeTheme(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// Slug returns the URL-safe key used to dedupe tags.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
