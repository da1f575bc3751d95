package backend

import (
	"regexp"
	"strings"
	"sync"
)

// PatternMatcher matches logical keys against `*`-wildcard patterns used by
// scan_by_pattern and purge-by-tenant, with a regex cache so repeated scans
// against the same pattern (e.g. "<tenant>:*" on every purge) avoid
// recompilation.
//
// Supported patterns:
//   - exact: "t1:greeting" matches only itself
//   - prefix: "t1:*"
//   - suffix: "*:profile"
//   - contains: "*:123:*"
//   - anything else containing "*" falls back to a compiled regex
type PatternMatcher struct {
	regexCache sync.Map // map[string]*regexp.Regexp
}

func NewPatternMatcher() *PatternMatcher {
	return &PatternMatcher{}
}

// Match returns the subset of keys matching pattern.
func (pm *PatternMatcher) Match(pattern string, keys []string) []string {
	if pattern == "" {
		return nil
	}
	if !strings.Contains(pattern, "*") {
		for _, key := range keys {
			if key == pattern {
				return []string{key}
			}
		}
		return nil
	}
	return pm.matchWildcard(pattern, keys)
}

// MatchOne reports whether key matches pattern.
func (pm *PatternMatcher) MatchOne(pattern, key string) bool {
	if pattern == "" {
		return false
	}
	if !strings.Contains(pattern, "*") {
		return key == pattern
	}
	return len(pm.matchWildcard(pattern, []string{key})) == 1
}

func (pm *PatternMatcher) matchWildcard(pattern string, keys []string) []string {
	if pattern == "*" {
		out := make([]string, len(keys))
		copy(out, keys)
		return out
	}

	// A star anywhere but the ends rules out the fast paths below.
	if strings.Contains(strings.Trim(pattern, "*"), "*") {
		return pm.matchRegex(wildcardToRegex(pattern), keys)
	}

	var matches []string
	switch {
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		substring := strings.Trim(pattern, "*")
		for _, key := range keys {
			if strings.Contains(key, substring) {
				matches = append(matches, key)
			}
		}
	case strings.HasPrefix(pattern, "*"):
		suffix := strings.TrimPrefix(pattern, "*")
		for _, key := range keys {
			if strings.HasSuffix(key, suffix) {
				matches = append(matches, key)
			}
		}
	case strings.HasSuffix(pattern, "*"):
		prefix := strings.TrimSuffix(pattern, "*")
		for _, key := range keys {
			if strings.HasPrefix(key, prefix) {
				matches = append(matches, key)
			}
		}
	default:
		return pm.matchRegex(wildcardToRegex(pattern), keys)
	}
	return matches
}

func (pm *PatternMatcher) matchRegex(pattern string, keys []string) []string {
	var re *regexp.Regexp
	if cached, ok := pm.regexCache.Load(pattern); ok {
		re = cached.(*regexp.Regexp)
	} else {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil
		}
		re = compiled
		pm.regexCache.Store(pattern, re)
	}

	var matches []string
	for _, key := range keys {
		if re.MatchString(key) {
			matches = append(matches, key)
		}
	}
	return matches
}

func wildcardToRegex(pattern string) string {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, "\\*", ".*")
	return "^" + escaped + "$"
}
