package automation

import (
	"regexp"
	"strings"

	"github.com/pagepilot/pagepilot/internal/models"
)

// MatchesKeyword reports whether text matches a single keyword under the
// given match mode. "exact" requires the keyword as a whole word; "any" is a
// plain substring test. Both are case-insensitive.
func MatchesKeyword(text, keyword, matchType string) bool {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return false
	}

	if matchType == models.MatchTypeExact {
		pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(keyword) + `\b`)
		if err != nil {
			return false
		}
		return pattern.MatchString(text)
	}

	return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
}

// ContainsOffensive reports whether text contains any of the offensive
// keywords as a substring
func ContainsOffensive(text string, keywords []string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return false
	}

	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

// FirstFilterMatch returns the first keyword that matches text under the
// given mode. An empty keyword list never matches.
func FirstFilterMatch(text string, keywords []string, matchType string) (string, bool) {
	for _, keyword := range keywords {
		if MatchesKeyword(text, keyword, matchType) {
			return strings.TrimSpace(keyword), true
		}
	}
	return "", false
}
