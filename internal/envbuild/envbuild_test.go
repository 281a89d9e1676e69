package envbuild

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "anthropic", Provider("anthropic/claude-sonnet"))
	assert.Equal(t, "openai", Provider("OpenAI/gpt-4.1"))
	assert.Equal(t, "mistral", Provider("mistral/large"))
	assert.Equal(t, "bare", Provider("bare"))
}

func TestBuildSelectsSingleProviderCredential(t *testing.T) {
	t.Parallel()
	source := []string{
		"PATH=/usr/bin",
		"HOME=/home/u",
		"ANTHROPIC_API_KEY=a-key",
		"OPENAI_API_KEY=o-key",
	}
	env := Build("anthropic/claude-sonnet", nil, source)

	assert.Contains(t, env, "ANTHROPIC_API_KEY=a-key")
	for _, kv := range env {
		assert.False(t, strings.HasPrefix(kv, "OPENAI_API_KEY="),
			"credential for inactive provider leaked: %s", kv)
	}
	assert.Contains(t, env, "PATH=/usr/bin")
	assert.Contains(t, env, "HOME=/home/u")
}

func TestBuildUnknownProviderYieldsNoCredential(t *testing.T) {
	t.Parallel()
	source := []string{
		"PATH=/usr/bin",
		"ANTHROPIC_API_KEY=a-key",
		"OPENAI_API_KEY=o-key",
	}
	env := Build("mistral/large", nil, source)

	assert.Equal(t, []string{"PATH=/usr/bin"}, env)
}

func TestBuildExtraVars(t *testing.T) {
	t.Parallel()
	source := []string{
		"PATH=/usr/bin",
		"GITHUB_TOKEN=gh",
	}
	env := Build("mistral/x", []string{"GITHUB_TOKEN", "MISSING_VAR"}, source)

	assert.Contains(t, env, "GITHUB_TOKEN=gh")
	// Absent declared vars are skipped, never materialized empty.
	for _, kv := range env {
		assert.False(t, strings.HasPrefix(kv, "MISSING_VAR"), "got %s", kv)
	}
}

func TestBuildCredentialAbsentFromSource(t *testing.T) {
	t.Parallel()
	env := Build("anthropic/x", nil, []string{"PATH=/usr/bin"})
	assert.Equal(t, []string{"PATH=/usr/bin"}, env)
}

func TestSplitVarList(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"A", "B", "C"}, SplitVarList("A,B C"))
	assert.Nil(t, SplitVarList(""))
	assert.Nil(t, SplitVarList(" , "))
}

func TestDetectCredentialFailure(t *testing.T) {
	t.Parallel()
	env := []string{"PATH=/usr/bin", "HOME=/home/u", "ANTHROPIC_API_KEY=k"}

	diag := DetectCredentialFailure("HTTP 401", "w", env)
	require.NotEmpty(t, diag)
	assert.Contains(t, diag, "w")
	assert.Contains(t, diag, "ANTHROPIC_API_KEY")
	assert.NotContains(t, diag, "PATH")

	assert.Empty(t, DetectCredentialFailure("all good, task complete", "w", env))
	assert.Empty(t, DetectCredentialFailure("", "w", env))
}

func TestDetectCredentialFailureSignatures(t *testing.T) {
	t.Parallel()
	env := []string{"ANTHROPIC_API_KEY=k"}
	for _, out := range []string{
		"server said: Unauthorized",
		"Authentication Failed while connecting",
		"error: invalid api key supplied",
		"got 403 from upstream",
		"expired token, please re-auth",
	} {
		assert.NotEmpty(t, DetectCredentialFailure(out, "w", env), "output: %s", out)
	}
}
