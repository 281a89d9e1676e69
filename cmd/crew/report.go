package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/crewkit/crew/internal/orchestrate"
)

const (
	ansiReset = "\033[0m"
	ansiGreen = "\033[32m"
	ansiRed   = "\033[31m"
	ansiCyan  = "\033[36m"
	ansiGray  = "\033[90m"
)

type statusStyle struct{ symbol, color string }

var statusStyles = map[orchestrate.Status]statusStyle{
	orchestrate.StatusDone:    {"✓", ansiGreen},
	orchestrate.StatusError:   {"✗", ansiRed},
	orchestrate.StatusRunning: {"↻", ansiCyan},
	orchestrate.StatusIdle:    {"○", ansiGray},
}

// renderStatus prints one row per worker: glyph, name, elapsed, tool count,
// and a last-output preview.
func renderStatus(w io.Writer, snaps []orchestrate.WorkerSnapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "no workers")
		return
	}
	tty := isTTY()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, " \tWORKER\tSTATUS\tELAPSED\tTOOLS\tRUNS\tOUTPUT")
	for _, s := range snaps {
		style, ok := statusStyles[s.Status]
		if !ok {
			style = statusStyle{"?", ""}
		}
		sym := style.symbol
		if tty && style.color != "" {
			sym = style.color + sym + ansiReset
		}
		preview := s.LastLine
		if len(preview) > 50 {
			preview = preview[:47] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			sym, s.Identity, s.Status, fmtElapsed(s.Elapsed), s.ToolCalls, s.Invocations, preview)
	}
	tw.Flush()
}

func fmtElapsed(d time.Duration) string {
	if d == 0 {
		return "—"
	}
	return d.Round(time.Second).String()
}

func isTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
