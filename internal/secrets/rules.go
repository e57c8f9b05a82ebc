package secrets

// DefaultRules returns the built-in detection rules. Self-identifying token
// prefixes need no keywords; generic assignments do.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "aws-access-key-id", Pattern: `(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`},
		{
			ID:       "aws-secret-access-key",
			Pattern:  `(?i)(?:aws_secret_access_key|aws_secret_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`,
			Keywords: []string{"secret"},
		},
		{
			ID:       "generic-api-key",
			Pattern:  `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`,
			Keywords: []string{"key"},
		},
		{
			ID:       "generic-secret",
			Pattern:  `(?i)(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords: []string{"secret", "passw", "pwd"},
		},
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`},
		{ID: "github-token", Pattern: `gh[pousr]_[A-Za-z0-9]{36}`},
		{ID: "github-fine-grained", Pattern: `github_pat_[A-Za-z0-9_]{22,}`},
		{ID: "gitlab-token", Pattern: `glpat-[A-Za-z0-9\-]{20,}`},
		{ID: "slack-token", Pattern: `xox[baprs]-[A-Za-z0-9\-]{10,}`},
		{ID: "stripe-key", Pattern: `(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`},
		{ID: "database-url", Pattern: `(?i)(?:postgres|postgresql|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:/\s]+:[^@\s]+@[^\s'"]+`},
		{ID: "jwt", Pattern: `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`},
		{ID: "google-api-key", Pattern: `AIza[A-Za-z0-9_\-]{35}`},
		{ID: "openai-api-key", Pattern: `sk-(?:proj-)?[A-Za-z0-9_\-]{40,}`},
		{ID: "anthropic-api-key", Pattern: `sk-ant-[A-Za-z0-9_\-]{90,}`},
		{ID: "npm-token", Pattern: `npm_[A-Za-z0-9]{36}`},
		{ID: "sendgrid-api-key", Pattern: `SG\.[A-Za-z0-9_\-]{22,}\.[A-Za-z0-9_\-]{43,}`},
		{
			ID:       "bearer-token",
			Pattern:  `(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`,
			Keywords: []string{"bearer"},
		},
	}
}
