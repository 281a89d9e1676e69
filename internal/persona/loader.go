package persona

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ReportFunc receives every validation finding produced during a load,
// including findings for definitions that end up dropped.
type ReportFunc func(Finding)

// Load reads every .md file in dir and returns the validated definitions
// keyed by normalized name.
//
// A definition with any error-severity finding is dropped entirely. Duplicate
// names (case-insensitive) keep the first successfully loaded file; later
// duplicates are silently ignored. A missing directory yields an empty map.
// report may be nil.
func Load(dir string, report ReportFunc) (map[string]*Definition, error) {
	defs := make(map[string]*Definition)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return defs, nil
		}
		return nil, err
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipping unreadable persona file", slog.String("path", path), slog.Any("error", err))
			continue
		}

		base := strings.TrimSuffix(e.Name(), ".md")
		def, err := parse(base, string(data), path)
		if err != nil {
			if report != nil {
				report(Finding{
					Persona:  normalizeName(base),
					Field:    "name",
					Severity: SeverityError,
					Message:  err.Error(),
				})
			}
			continue
		}

		findings := validate(def)
		if report != nil {
			for _, f := range findings {
				report(f)
			}
		}
		if hasError(findings) {
			slog.Warn("persona rejected", slog.String("name", def.Name), slog.String("file", path))
			continue
		}

		// First successfully loaded name wins.
		if _, dup := defs[def.Name]; dup {
			continue
		}
		defs[def.Name] = def
	}

	return defs, nil
}
