package persona

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity classifies a validation finding.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Finding is one validation result for a persona file.
type Finding struct {
	Persona  string
	Field    string // "name", "tools", or "instructions"
	Severity Severity
	Message  string
}

// maxNameLen bounds persona identifiers.
const maxNameLen = 64

// maxInstructionsLen is the hard cap on instruction bodies. Oversize bodies
// are an error, not a warning.
const maxInstructionsLen = 32 * 1024

// nameRe is the allowed identifier syntax: no whitespace, no shell
// metacharacters.
var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// knownTools is the capability allowlist workers understand. Declaring a tool
// outside this set is a warning, not a rejection.
var knownTools = map[string]bool{
	"read": true, "write": true, "edit": true, "ls": true,
	"grep": true, "find": true, "glob": true, "bash": true,
	"fetch": true, "web_search": true, "task": true,
}

// injectionPatterns are instruction-body signatures of embedded shell
// payloads. All are warnings: the body is passed as one opaque argument and
// never evaluated by a shell, but a persona asking the agent to run these is
// worth flagging.
var injectionPatterns = []struct {
	re   *regexp.Regexp
	desc string
}{
	{regexp.MustCompile(`\$\([^)]*\)`), "command substitution"},
	{regexp.MustCompile("`[^`]*\\b(sh|bash|zsh|rm|curl|wget|eval)\\b[^`]*`"), "backtick shell invocation"},
	{regexp.MustCompile(`rm\s+-[a-zA-Z]*[rf]{2}[a-zA-Z]*\s`), "destructive rm"},
	{regexp.MustCompile(`[;&]{1,2}\s*rm\s`), "destructive command chain"},
	{regexp.MustCompile(`\|\s*(sh|bash|zsh)\b`), "pipe to shell"},
	{regexp.MustCompile(`\beval\s*[("']`), "eval-like call"},
	{regexp.MustCompile(`\bexec\s*\(`), "exec-like call"},
}

// validate returns all findings for a parsed definition. A definition with
// any error-severity finding must be dropped by the loader.
func validate(def *Definition) []Finding {
	var findings []Finding

	add := func(field string, sev Severity, format string, args ...any) {
		findings = append(findings, Finding{
			Persona:  def.Name,
			Field:    field,
			Severity: sev,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	// Identifier syntax. Malformed names are errors: they end up in file
	// paths and argument lists.
	if def.Name == "" {
		add("name", SeverityError, "empty name")
	} else if len(def.Name) > maxNameLen {
		add("name", SeverityError, "name exceeds %d characters", maxNameLen)
	} else if !nameRe.MatchString(def.Name) {
		add("name", SeverityError, "invalid name %q: allowed characters are a-z, 0-9, '-', '_'", def.Name)
	}

	// Tool allowlist.
	for _, tool := range def.Tools {
		if !knownTools[strings.ToLower(tool)] {
			add("tools", SeverityWarning, "unknown tool %q", tool)
		}
	}

	// Instruction body.
	if len(def.Instructions) > maxInstructionsLen {
		add("instructions", SeverityError, "instructions exceed %d bytes", maxInstructionsLen)
	}
	if strings.ContainsRune(def.Instructions, 0) {
		add("instructions", SeverityWarning, "null byte in instructions")
	}
	for _, p := range injectionPatterns {
		if p.re.MatchString(def.Instructions) {
			add("instructions", SeverityWarning, "possible %s in instructions", p.desc)
		}
	}

	return findings
}

// hasError reports whether any finding is error severity.
func hasError(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}
