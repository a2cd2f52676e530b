package domain

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/agext/levenshtein"
)

const fuzzyThreshold = 0.8

// MatchOptions configures matcher behavior that is global rather than per-rule
type MatchOptions struct {
	// RegexFullMatch anchors regex rules to the whole message instead of
	// searching anywhere in it.
	RegexFullMatch bool
}

// RuleCompileError reports a rule whose pattern could not be compiled.
// The rule fails closed: it never matches, other rules are unaffected.
type RuleCompileError struct {
	RuleID  int64
	Keyword string
	Err     error
}

func (e *RuleCompileError) Error() string {
	return fmt.Sprintf("rule %d: invalid pattern %q: %v", e.RuleID, e.Keyword, e.Err)
}

func (e *RuleCompileError) Unwrap() error { return e.Err }

// Matcher evaluates an ordered rule set against incoming message text.
// Compiled patterns are cached per rule; a malformed pattern is reported
// once through onError and then treated as never-matching.
type Matcher struct {
	opts    MatchOptions
	onError func(*RuleCompileError)

	mu    sync.Mutex
	cache map[int64]*compiledPattern
}

type compiledPattern struct {
	source string // pattern the regexp was built from, to detect rule edits
	re     *regexp.Regexp
	bad    bool
}

// NewMatcher creates a matcher. onError may be nil.
func NewMatcher(opts MatchOptions, onError func(*RuleCompileError)) *Matcher {
	return &Matcher{
		opts:    opts,
		onError: onError,
		cache:   make(map[int64]*compiledPattern),
	}
}

// Match returns the first rule, in the established order, that matches text.
// Rules must already be sorted (see SortRules). Returns nil when nothing
// matches or when text is empty.
func (m *Matcher) Match(text string, rules []Rule) *Rule {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || strings.TrimSpace(rule.Keyword) == "" {
			continue
		}
		if m.matches(text, rule) {
			return rule
		}
	}
	return nil
}

func (m *Matcher) matches(text string, rule *Rule) bool {
	keyword := strings.TrimSpace(rule.Keyword)

	// Case folding applies to the plain-string types; regex types carry
	// case sensitivity in the compiled pattern instead.
	foldedText, foldedKeyword := text, keyword
	if !rule.CaseSensitive {
		foldedText = strings.ToLower(text)
		foldedKeyword = strings.ToLower(keyword)
	}

	switch rule.MatchType {
	case MatchExact:
		return foldedText == foldedKeyword
	case MatchContains:
		return strings.Contains(foldedText, foldedKeyword)
	case MatchStartsWith:
		return strings.HasPrefix(foldedText, foldedKeyword)
	case MatchEndsWith:
		return strings.HasSuffix(foldedText, foldedKeyword)
	case MatchRegex, MatchWordBoundary:
		re := m.compiled(rule)
		if re == nil {
			return false
		}
		return re.MatchString(text)
	case MatchFuzzy:
		return levenshtein.Match(foldedText, foldedKeyword, nil) >= fuzzyThreshold
	case MatchFuzzyContains:
		if len([]rune(foldedKeyword)) <= 3 {
			return strings.Contains(foldedText, foldedKeyword)
		}
		for _, word := range strings.Fields(foldedKeyword) {
			if len([]rune(word)) > 1 && strings.Contains(foldedText, word) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// compiled returns the cached regexp for a regex-backed rule, compiling on
// first use or after the rule's keyword changed. Returns nil for rules
// whose pattern does not compile.
func (m *Matcher) compiled(rule *Rule) *regexp.Regexp {
	source := m.patternFor(rule)

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.cache[rule.ID]; ok && c.source == source {
		if c.bad {
			return nil
		}
		return c.re
	}

	re, err := regexp.Compile(source)
	if err != nil {
		m.cache[rule.ID] = &compiledPattern{source: source, bad: true}
		if m.onError != nil {
			m.onError(&RuleCompileError{RuleID: rule.ID, Keyword: rule.Keyword, Err: err})
		}
		return nil
	}

	m.cache[rule.ID] = &compiledPattern{source: source, re: re}
	return re
}

func (m *Matcher) patternFor(rule *Rule) string {
	pattern := strings.TrimSpace(rule.Keyword)
	if rule.MatchType == MatchWordBoundary {
		pattern = `\b` + regexp.QuoteMeta(pattern) + `\b`
	}
	if rule.MatchType == MatchRegex && m.opts.RegexFullMatch {
		pattern = `^(?:` + pattern + `)$`
	}
	if !rule.CaseSensitive {
		pattern = `(?i)` + pattern
	}
	return pattern
}
