// Package redact scrubs secret-shaped substrings out of text before it is
// persisted to an artifact or event payload. Redaction cannot be disabled
// in normal operation — see Scrubber.Disabled for the explicit escape
// hatch used only by fixtures that assert on raw output.
package redact

import (
	"regexp"
	"strconv"
)

// Rule is a single named redaction pattern.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Scrubber applies an ordered set of redaction rules to text.
type Scrubber struct {
	rules    []Rule
	disabled bool
}

// DefaultRules covers the common secret shapes: cloud/API keys, bearer
// tokens, basic-auth userinfo in URLs, and generic high-entropy
// KEY=value / "key": "value" assignments for names that look secret-ish.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "anthropic_api_key", Pattern: regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`)},
		{Name: "openai_api_key", Pattern: regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
		{Name: "bearer_token", Pattern: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{10,}`)},
		{Name: "github_token", Pattern: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`)},
		{Name: "url_userinfo", Pattern: regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/\s:@]+:[^/\s:@]+@`)},
		{Name: "jwt", Pattern: regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)},
		{Name: "kv_secret", Pattern: regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|passwd)\s*[:=]\s*["']?[A-Za-z0-9/+_.=-]{8,}["']?`)},
	}
}

// New constructs a Scrubber. Passing nil rules uses DefaultRules.
func New(rules []Rule) *Scrubber {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Scrubber{rules: rules}
}

// NewFromPatterns compiles configured regex strings (security.redact_patterns)
// into additional rules appended after the defaults.
func NewFromPatterns(extra []string) (*Scrubber, error) {
	s := New(nil)
	for i, p := range extra {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		s.rules = append(s.rules, Rule{Name: "custom_" + strconv.Itoa(i), Pattern: re})
	}
	return s, nil
}

// Scrub replaces every match of every rule with "[REDACTED]", except the
// URL-userinfo rule which preserves the scheme and masks only credentials.
func (s *Scrubber) Scrub(text string) string {
	if s.disabled || text == "" {
		return text
	}
	out := text
	for _, r := range s.rules {
		if r.Name == "url_userinfo" {
			out = r.Pattern.ReplaceAllString(out, "${1}[REDACTED]@")
			continue
		}
		out = r.Pattern.ReplaceAllString(out, "[REDACTED]")
	}
	return out
}

// ScrubBytes is a []byte convenience wrapper around Scrub.
func (s *Scrubber) ScrubBytes(b []byte) []byte {
	return []byte(s.Scrub(string(b)))
}

// WithDisabled returns a copy of the scrubber with redaction toggled off.
// Reserved for fixtures that need to assert on raw, unredacted text; never
// used on the persistence path.
func (s *Scrubber) WithDisabled(disabled bool) *Scrubber {
	cp := *s
	cp.disabled = disabled
	return &cp
}

// Matches reports whether text contains any redactable substring, without
// performing the substitution. Used by tests asserting "no artifact
// contains a secret".
func (s *Scrubber) Matches(text string) bool {
	for _, r := range s.rules {
		if r.Pattern.MatchString(text) {
			return true
		}
	}
	return false
}
