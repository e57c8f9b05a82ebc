package secrets

import (
	"regexp"
	"slices"
	"strings"
)

// Result reports what a Scrub call redacted. Matched values are never kept.
type Result struct {
	Scrubbed string
	ByRule   map[string]int
	Total    int
}

// Scrubber redacts secrets from text. A nil *Scrubber passes content through.
type Scrubber struct {
	rules     []compiledRule
	allow     []*regexp.Regexp
	redaction string
}

// New compiles cfg into a Scrubber. A nil cfg uses DefaultConfig().
func New(cfg *Config) (*Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	redaction := cfg.RedactionString
	if redaction == "" {
		redaction = "[REDACTED]"
	}
	return &Scrubber{rules: rules, allow: allow, redaction: redaction}, nil
}

type span struct{ start, end int }

// Scrub replaces every rule match in content with the redaction string.
// Overlapping matches collapse into a single redaction.
func (s *Scrubber) Scrub(content string) Result {
	res := Result{Scrubbed: content, ByRule: map[string]int{}}
	if s == nil || content == "" {
		return res
	}

	var spans []span
	for _, rule := range s.rules {
		if len(rule.keywords) > 0 && !anyMatch(rule.keywords, content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if anyMatch(s.allow, content[m[0]:m[1]]) {
				continue
			}
			spans = append(spans, span{m[0], m[1]})
			res.ByRule[rule.id]++
			res.Total++
		}
	}
	if len(spans) == 0 {
		return res
	}

	slices.SortFunc(spans, func(a, b span) int { return a.start - b.start })
	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			last.end = max(last.end, sp.end)
			continue
		}
		merged = append(merged, sp)
	}

	var b strings.Builder
	b.Grow(len(content))
	prev := 0
	for _, sp := range merged {
		b.WriteString(content[prev:sp.start])
		b.WriteString(s.redaction)
		prev = sp.end
	}
	b.WriteString(content[prev:])
	res.Scrubbed = b.String()
	return res
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
