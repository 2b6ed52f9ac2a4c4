package memory

import (
	"context"
	"regexp"
	"strings"
)

type factRule struct {
	re     *regexp.Regexp
	prefix string
}

// Rules are tried in order; the first match in a sentence wins.
var factRules = []factRule{
	{regexp.MustCompile(`(?i)\bmy name is\s+(.+)`), "name is "},
	{regexp.MustCompile(`(?i)\bi work at\s+(.+)`), "works at "},
	{regexp.MustCompile(`(?i)\bi work as\s+(?:an?\s+)?(.+)`), "works as "},
	{regexp.MustCompile(`(?i)\bi live in\s+(.+)`), "lives in "},
	{regexp.MustCompile(`(?i)\bi (?:really )?prefer\s+(.+)`), "prefers "},
	{regexp.MustCompile(`(?i)\bi (?:really )?love\s+(.+)`), "loves "},
	{regexp.MustCompile(`(?i)\bi (?:really )?like\s+(.+)`), "likes "},
	{regexp.MustCompile(`(?i)\bi use\s+(.+)`), "uses "},
	{regexp.MustCompile(`(?i)\bi(?: am|'m)\s+(?:an?\s+)?(.+)`), "is "},
}

var sentenceSplit = regexp.MustCompile(`[.!?;\n]+`)

// RuleExtractor finds first-person statements without calling a model.
type RuleExtractor struct{}

func (RuleExtractor) Extract(_ context.Context, existing []Fact, message string) ([]Candidate, error) {
	known := make(map[string]bool, len(existing))
	for _, f := range existing {
		known[Normalize(f.Text)] = true
	}
	seen := map[string]bool{}
	var out []Candidate
	for _, sentence := range sentenceSplit.Split(message, -1) {
		text, ok := matchRule(sentence)
		if !ok {
			continue
		}
		key := Normalize(text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Candidate{Text: text, IsNew: !known[key]})
	}
	return out, nil
}

func matchRule(sentence string) (string, bool) {
	for _, r := range factRules {
		m := r.re.FindStringSubmatch(sentence)
		if m == nil {
			continue
		}
		// A clause after a comma is usually a new thought.
		value := m[1]
		if i := strings.IndexByte(value, ','); i >= 0 {
			value = value[:i]
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return "", false
		}
		return r.prefix + value, true
	}
	return "", false
}
