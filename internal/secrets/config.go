package secrets

import (
	"fmt"
	"regexp"
)

// Config configures the scrubber.
type Config struct {
	// Rules defines the detection rules.
	Rules []Rule

	// RedactionString replaces detected secrets (default: "[REDACTED]").
	RedactionString string

	// AllowList contains patterns for matches that must be kept, such as
	// documented example keys.
	AllowList []string
}

// Rule defines a secret detection rule.
type Rule struct {
	ID      string
	Pattern string
	// Keywords, when set, must appear (case-insensitively) somewhere in the
	// content for the rule to run.
	Keywords []string
}

type compiledRule struct {
	id       string
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig returns a configuration with the built-in rules.
func DefaultConfig() *Config {
	return &Config{
		RedactionString: "[REDACTED]",
		Rules:           DefaultRules(),
	}
}

func (c *Config) compile() ([]compiledRule, []*regexp.Regexp, error) {
	rules := make([]compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return nil, nil, fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return nil, nil, fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		cr := compiledRule{id: rule.ID, pattern: pattern}
		for _, kw := range rule.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		rules = append(rules, cr)
	}

	allow := make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		allow = append(allow, re)
	}
	return rules, allow, nil
}
