package domain

import (
	"sort"
	"time"
)

// MatchType selects the predicate a rule applies to incoming text
type MatchType string

const (
	MatchExact         MatchType = "exact"
	MatchContains      MatchType = "contains"
	MatchStartsWith    MatchType = "startswith"
	MatchEndsWith      MatchType = "endswith"
	MatchRegex         MatchType = "regex"
	MatchWordBoundary  MatchType = "word_boundary"
	MatchFuzzy         MatchType = "fuzzy"
	MatchFuzzyContains MatchType = "fuzzy_contains"
)

// ValidMatchType reports whether t is a known match type
func ValidMatchType(t MatchType) bool {
	switch t {
	case MatchExact, MatchContains, MatchStartsWith, MatchEndsWith,
		MatchRegex, MatchWordBoundary, MatchFuzzy, MatchFuzzyContains:
		return true
	}
	return false
}

// Rule is one auto-reply rule owned by a single account.
// Higher Priority wins; ties are broken by ascending ID (insertion order).
type Rule struct {
	ID            int64
	AccountUID    string
	Keyword       string
	ReplyContent  string
	MatchType     MatchType
	CaseSensitive bool
	Enabled       bool
	Priority      int
	Description   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SortRules orders rules for evaluation: priority descending, then ID ascending
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}
