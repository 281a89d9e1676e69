// Package persona loads and validates worker persona definitions from a
// configuration directory. A persona is a frontmatter-delimited markdown file:
//
//	---
//	name: scout
//	description: Read-only investigator
//	tools: read, grep, find, ls
//	env: GITHUB_TOKEN
//	---
//
//	You are a codebase scout. ...
//
// Definitions with error-severity findings never reach a spawned process.
package persona

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is a validated persona. Immutable once loaded.
type Definition struct {
	// Name is the normalized (lowercase) identifier.
	Name        string
	Description string
	// Tools is the capability allowlist passed to the worker binary.
	Tools []string
	// Instructions is the body of the file after frontmatter.
	Instructions string
	// ExtraEnv names environment variables the persona declares it needs.
	ExtraEnv []string
	// SourceFile is the file this definition was loaded from.
	SourceFile string
}

// frontmatter is the decoded YAML header of a persona file.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Tools       string `yaml:"tools"`
	Env         string `yaml:"env"`
}

// parse splits frontmatter + body and decodes the header. fallbackName is the
// file base name, used when the header omits name.
func parse(fallbackName, content, sourceFile string) (*Definition, error) {
	def := &Definition{Name: normalizeName(fallbackName), SourceFile: sourceFile}

	if !strings.HasPrefix(content, "---") {
		def.Instructions = strings.TrimSpace(content)
		return def, nil
	}

	rest := content[3:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		def.Instructions = strings.TrimSpace(content)
		return def, nil
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, fmt.Errorf("frontmatter: %w", err)
	}
	def.Instructions = strings.TrimSpace(rest[end+4:])

	if fm.Name != "" {
		def.Name = normalizeName(fm.Name)
	}
	def.Description = strings.TrimSpace(fm.Description)
	def.Tools = splitList(fm.Tools)
	def.ExtraEnv = splitList(fm.Env)
	return def, nil
}

// normalizeName lowercases and trims an identifier. Validation of the
// character set happens separately so a bad name can be reported.
func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// splitList splits a comma/space separated list, dropping empties.
func splitList(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }) {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
