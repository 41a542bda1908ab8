package extract

import (
	"slices"
	"strings"
)

// skipList matches hosts whose pages are never fetched: exact hosts and
// "*.suffix" or ".suffix" wildcards (which also match the bare suffix).
type skipList struct {
	exact    map[string]struct{}
	suffixes []string
}

func newSkipList(patterns []string) *skipList {
	l := &skipList{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			l.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			l.addSuffix(strings.TrimPrefix(value, "."))
		default:
			l.exact[strings.TrimPrefix(value, "www.")] = struct{}{}
		}
	}
	if len(l.exact) == 0 && len(l.suffixes) == 0 {
		return nil
	}
	return l
}

func (l *skipList) addSuffix(suffix string) {
	if suffix != "" && !slices.Contains(l.suffixes, suffix) {
		l.suffixes = append(l.suffixes, suffix)
	}
}

// Skips reports whether host is listed. A nil list skips nothing.
func (l *skipList) Skips(host string) bool {
	if l == nil {
		return false
	}
	host = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(host)), "www.")
	if host == "" {
		return false
	}
	if _, ok := l.exact[host]; ok {
		return true
	}
	for _, suffix := range l.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
