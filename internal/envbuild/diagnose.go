package envbuild

import (
	"fmt"
	"sort"
	"strings"
)

// credentialFailureSignatures are output fragments (lowercased) that indicate
// a worker died because its credentials were missing or rejected.
var credentialFailureSignatures = []string{
	"401",
	"403",
	"unauthorized",
	"authentication failed",
	"authentication error",
	"invalid api key",
	"missing api key",
	"api key not set",
	"expired token",
	"invalid token",
	"missing token",
	"missing credentials",
}

// DetectCredentialFailure scans a failed worker's combined output for
// credential-failure signatures. On match it returns a diagnostic naming the
// worker and listing exactly which non-system variables were in the
// environment built for it, plus how to declare more. Returns "" when no
// signature matches or output is empty.
func DetectCredentialFailure(output, workerName string, builtEnv []string) string {
	if strings.TrimSpace(output) == "" {
		return ""
	}
	lower := strings.ToLower(output)
	matched := ""
	for _, sig := range credentialFailureSignatures {
		if strings.Contains(lower, sig) {
			matched = sig
			break
		}
	}
	if matched == "" {
		return ""
	}

	passed := nonSystemVars(builtEnv)
	var b strings.Builder
	fmt.Fprintf(&b, "worker %q appears to have failed authenticating (matched %q).", workerName, matched)
	if len(passed) == 0 {
		b.WriteString(" No credential variables were passed to it.")
	} else {
		fmt.Fprintf(&b, " Credential variables passed: %s.", strings.Join(passed, ", "))
	}
	b.WriteString(" Declare additional variables with the persona's 'env:' frontmatter field or worker.extra_env in config.yaml.")
	return b.String()
}

// nonSystemVars returns the sorted names of built environment entries that
// are not in the always-passed system set.
func nonSystemVars(builtEnv []string) []string {
	system := make(map[string]bool, len(systemVars))
	for _, v := range systemVars {
		system[v] = true
	}
	var names []string
	for _, e := range builtEnv {
		if i := strings.IndexByte(e, '='); i > 0 {
			if name := e[:i]; !system[name] {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}
