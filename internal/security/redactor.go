package security

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// RedactPlaceholder replaces a secret value.
const RedactPlaceholder = "***REDACTED***"

// BodyFields are tool-argument fields that carry file bodies. Logs and the
// audit trail keep only their size.
var BodyFields = []string{"content", "edits", "oldText", "newText"}

// secretKeyPattern matches config and argument keys whose values are
// credentials, e.g. gateway.http auth.basic_pass or an external tool's
// env.API_TOKEN.
var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|pass|key|credential|bearer)`)

// rule rewrites every match of re with repl, which may reference groups.
type rule struct {
	re   *regexp.Regexp
	repl string
}

// Redactor scrubs credentials from tool arguments, file contents and log
// values. Known key formats are matched by pattern and runtime secrets,
// such as the gateway token, by literal value. Safe for concurrent use;
// the zero value redacts nothing.
type Redactor struct {
	mu       sync.RWMutex
	rules    []rule
	literals []string
}

// NewRedactor returns a Redactor loaded with DefaultPatterns and the
// dotenv assignment rule.
func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, p := range DefaultPatterns() {
		r.rules = append(r.rules, rule{re: p, repl: RedactPlaceholder})
	}
	r.rules = append(r.rules, rule{re: dotenvAssignment, repl: "${1}" + RedactPlaceholder})
	return r
}

// dotenvAssignment matches NAME=value lines for credential-named variables,
// as found when read_file opens a .env file. Group 1 keeps the name.
var dotenvAssignment = regexp.MustCompile(`(?m)^(\s*(?:export\s+)?[A-Z0-9_]*(?:PASSWORD|SECRET|TOKEN|API_KEY)[A-Z0-9_]*\s*=\s*)[^\s*][^\r\n]*`)

// AddPattern redacts every match of pattern.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{re: pattern, repl: RedactPlaceholder})
}

// AddLiteral redacts secret wherever it appears. Empty strings are ignored.
func (r *Redactor) AddLiteral(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = append(r.literals, secret)
}

// Redact returns s with every known secret replaced.
func (r *Redactor) Redact(s string) string {
	if s == "" || r == nil {
		return s
	}

	r.mu.RLock()
	rules := r.rules
	literals := r.literals
	r.mu.RUnlock()

	for _, rl := range rules {
		s = rl.re.ReplaceAllString(s, rl.repl)
	}
	for _, lit := range literals {
		s = strings.ReplaceAll(s, lit, RedactPlaceholder)
	}
	return s
}

// RedactArgs renders tool arguments for a log line or audit detail. Body
// fields are elided to their size, values under credential-named keys are
// replaced and every other string goes through Redact. Arguments that are
// not a JSON object are redacted as plain text.
func (r *Redactor) RedactArgs(args json.RawMessage) string {
	return r.Redact(ElideBodies(args))
}

// RedactMap walks a decoded YAML or JSON document in place. It backs
// "toolgate config show".
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		if secretKeyPattern.MatchString(k) {
			if s, ok := v.(string); ok && s != "" {
				m[k] = RedactPlaceholder
				continue
			}
		}
		switch val := v.(type) {
		case map[string]any:
			r.RedactMap(val)
		case []any:
			for _, item := range val {
				if sub, ok := item.(map[string]any); ok {
					r.RedactMap(sub)
				}
			}
		case string:
			if redacted := r.Redact(val); redacted != val {
				m[k] = redacted
			}
		}
	}
}

// ElideBodies replaces the BodyFields of a tool-argument object with the
// size of their JSON encoding and masks values under credential-named keys. Key order is
// normalized. Input that is not a JSON object is returned as text.
func ElideBodies(args json.RawMessage) string {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return string(args)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return string(args)
	}
	for k, v := range obj {
		switch {
		case isBodyField(k):
			obj[k] = json.RawMessage(fmt.Sprintf("%q", BodySize(len(v))))
		case secretKeyPattern.MatchString(k) && isNonEmptyString(v):
			obj[k] = json.RawMessage(`"` + RedactPlaceholder + `"`)
		}
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return string(args)
	}
	return string(out)
}

// BodySize is the stand-in for an elided body of n bytes.
func BodySize(n int) string {
	return fmt.Sprintf("[%d bytes]", n)
}

func isBodyField(k string) bool {
	for _, f := range BodyFields {
		if k == f {
			return true
		}
	}
	return false
}

func isNonEmptyString(v json.RawMessage) bool {
	var s string
	return json.Unmarshal(v, &s) == nil && s != ""
}

// DefaultPatterns returns compiled patterns for common credential formats.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// OpenAI and Anthropic style keys
		regexp.MustCompile(`sk-(?:ant-)?[a-zA-Z0-9\-]{20,}`),
		// GitHub: ghp_, gho_, ghs_, github_pat_
		regexp.MustCompile(`(ghp_|gho_|ghs_|github_pat_)[a-zA-Z0-9_]{20,}`),
		// AWS access key ID
		regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
		// Slack bot and user tokens
		regexp.MustCompile(`xox[bp]-[0-9]+-[a-zA-Z0-9]+`),
		// Authorization header values, including the gateway's own bearer
		regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._\-]{16,}`),
		// JSON Web Tokens
		regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]{8,}\.[a-zA-Z0-9_\-]{8,}\.[a-zA-Z0-9_\-]{8,}`),
		// PEM private key blocks, body included
		regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----(?s:.*?-----END [A-Z ]*PRIVATE KEY-----)?`),
	}
}
