package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Init initializes the global slog logger with the pretty handler writing to
// stderr. Reads LOG_LEVEL from the environment (debug/info/warn/error; default
// is info). Call this once early in main before any logging occurs.
func Init() {
	level := parseLevel(os.Getenv("LOG_LEVEL"))
	h := NewPrettyHandler(os.Stderr, &slog.HandlerOptions{Level: level}, stderrIsTTY())
	slog.SetDefault(slog.New(h))
}

// stderrIsTTY reports whether stderr is a real terminal.
// Checks NO_COLOR and TERM=dumb per clig.dev guidelines.
func stderrIsTTY() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
