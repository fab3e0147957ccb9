package engine

import (
	"strings"
	"unicode"

	"github.com/creatorkit/creatorkit/autodm/store"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NFC-normalizes text, and case-folds it unless the comparison is case sensitive.
func normalizeText(s string, caseSensitive bool) string {
	s = norm.NFC.String(s)
	if !caseSensitive {
		// a Caser carries state, so one per call
		s = cases.Fold().String(s)
	}
	return s
}

func keywordMatches(rule *store.AutomationRule, text string) bool {
	kw := strings.TrimSpace(normalizeText(rule.Keyword, rule.CaseSensitive))
	if kw == "" {
		return false
	}
	text = normalizeText(text, rule.CaseSensitive)
	switch rule.MatchType {
	case store.MatchExact:
		return strings.TrimSpace(text) == kw
	case store.MatchContains:
		return strings.Contains(text, kw)
	case store.MatchStartsWith:
		return strings.HasPrefix(strings.TrimLeftFunc(text, unicode.IsSpace), kw)
	default:
		return false
	}
}

func scopeMatches(rule *store.AutomationRule, postID string) bool {
	return rule.Scope == "" || rule.Scope == store.ScopeAll || rule.Scope == postID
}

// Returns the first rule (in the given order) which applies to a comment, or nil.
func matchRule(rules []store.AutomationRule, postID, text string) *store.AutomationRule {
	for i := range rules {
		r := &rules[i]
		if !r.IsActive || !scopeMatches(r, postID) {
			continue
		}
		if keywordMatches(r, text) {
			return r
		}
	}
	return nil
}
