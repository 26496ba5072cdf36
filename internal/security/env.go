package security

import "strings"

// credentialEnvPrefixes name variables external tools never inherit from
// the gateway process.
var credentialEnvPrefixes = []string{
	"TOOLGATE_",
	"OPENAI_",
	"ANTHROPIC_",
	"AWS_SECRET",
	"AWS_SESSION_TOKEN",
	"GITHUB_TOKEN",
	"GH_TOKEN",
	"GITLAB_TOKEN",
	"SLACK_TOKEN",
	"SLACK_BOT_TOKEN",
}

// credentialEnvExact is matched by whole name so that DB_PORT or
// DATABASE_HOST still pass.
var credentialEnvExact = map[string]struct{}{
	"AWS_SECRET_ACCESS_KEY": {},
	"DATABASE_URL":          {},
	"DB_PASSWORD":           {},
	"REDIS_PASSWORD":        {},
}

// ChildEnv builds the environment of an external tool process: environ
// without credential variables, then extra in order. Entries in extra are
// always kept, so an administrator can pass a token on purpose.
func ChildEnv(environ []string, extra ...string) []string {
	out := make([]string, 0, len(environ)+len(extra))
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || IsCredentialEnv(name) {
			continue
		}
		out = append(out, kv)
	}
	return append(out, extra...)
}

// IsCredentialEnv reports whether the variable name is stripped by ChildEnv.
func IsCredentialEnv(name string) bool {
	upper := strings.ToUpper(name)
	if _, ok := credentialEnvExact[upper]; ok {
		return true
	}
	for _, p := range credentialEnvPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}
