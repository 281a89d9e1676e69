// Package envbuild constructs minimal process environments for worker
// subprocesses. Only system-essential variables, the one credential matching
// the active model's provider, and explicitly declared extras are passed
// through; everything else in the parent environment stays behind.
package envbuild

import (
	"strings"
)

// systemVars are always copied from the source environment when present.
var systemVars = []string{
	"PATH", "HOME", "TERM", "LANG", "LC_ALL", "SHELL", "USER", "TMPDIR",
}

// providerCredentials maps a model provider token (text before the first "/"
// in the model identifier, lowercased) to the single credential variable that
// provider needs. Unknown providers yield no credential.
var providerCredentials = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"google":     "GEMINI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"groq":       "GROQ_API_KEY",
}

// Provider extracts the provider token from a model identifier: the text
// before the first "/", lowercased. "anthropic/claude-sonnet" → "anthropic".
func Provider(model string) string {
	if i := strings.IndexByte(model, '/'); i >= 0 {
		model = model[:i]
	}
	return strings.ToLower(strings.TrimSpace(model))
}

// CredentialVar returns the credential variable name for a model identifier,
// or "" for unknown providers.
func CredentialVar(model string) string {
	return providerCredentials[Provider(model)]
}

// Build returns a minimal environment in os.Environ "KEY=value" form for a
// worker using the given model. extra names additional variables to pass
// through when present in source; absent ones are silently skipped, never
// materialized empty. Build is a pure function of its inputs.
func Build(model string, extra []string, source []string) []string {
	want := make([]string, 0, len(systemVars)+1+len(extra))
	want = append(want, systemVars...)
	if cred := CredentialVar(model); cred != "" {
		want = append(want, cred)
	}
	want = append(want, extra...)

	values := indexEnviron(source)
	out := make([]string, 0, len(want))
	seen := make(map[string]bool, len(want))
	for _, key := range want {
		if seen[key] {
			continue
		}
		seen[key] = true
		if v, ok := values[key]; ok {
			out = append(out, key+"="+v)
		}
	}
	return out
}

// SplitVarList splits a comma/space separated variable name list.
func SplitVarList(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// indexEnviron parses "KEY=value" pairs into a map. Later duplicates win,
// matching how the OS resolves environments.
func indexEnviron(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, e := range environ {
		if i := strings.IndexByte(e, '='); i > 0 {
			m[e[:i]] = e[i+1:]
		}
	}
	return m
}
