// Package stream decodes the line-delimited structured event stream emitted
// by worker subprocesses in structured-output mode. Each stdout line is an
// independently decodable JSON record tagged by kind; framing, not content,
// is authoritative — malformed lines are discarded without aborting the
// stream, and a trailing partial line is buffered across chunks.
package stream

import (
	"bytes"
	"encoding/json"
)

// Event kinds recognized by the orchestrator. Other kinds pass through and
// are ignored by consumers.
const (
	KindTextDelta   = "text-delta"
	KindToolStarted = "tool-started"
	KindTurnEnded   = "turn-ended"
)

// Usage is best-effort token accounting attached to turn-ended events.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	ContextPct   float64 `json:"context_pct"`
}

// Event is one decoded stream record.
type Event struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Name  string `json:"name,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
}

// maxLineBytes caps the partial-line buffer. A stream that emits more than
// this without a newline is not speaking the protocol; the fragment is
// dropped rather than held indefinitely.
const maxLineBytes = 1 << 20

// Decoder incrementally parses the event stream. It implements io.Writer so
// it can be attached directly to a subprocess's stdout pipe; events are
// delivered to the callback in stream order, from whichever goroutine calls
// Write.
type Decoder struct {
	onEvent func(Event)
	partial []byte
}

// NewDecoder returns a Decoder delivering decoded events to onEvent.
func NewDecoder(onEvent func(Event)) *Decoder {
	return &Decoder{onEvent: onEvent}
}

// Write implements io.Writer. It splits p on newline boundaries, attempts
// each complete line as an independent event decode, and retains a trailing
// partial fragment for the next chunk.
func (d *Decoder) Write(p []byte) (int, error) {
	buf := append(d.partial, p...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		d.decodeLine(buf[:i])
		buf = buf[i+1:]
	}
	if len(buf) > maxLineBytes {
		buf = nil
	}
	d.partial = append([]byte(nil), buf...)
	return len(p), nil
}

// Flush re-attempts any retained partial fragment as a final line. Call once
// on process exit: a well-behaved worker ends its last record with a newline,
// but the final line of a killed process may not.
func (d *Decoder) Flush() {
	if len(d.partial) > 0 {
		d.decodeLine(d.partial)
		d.partial = nil
	}
}

// decodeLine attempts one line as an event. Malformed lines are discarded.
func (d *Decoder) decodeLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return
	}
	if ev.Type == "" {
		return
	}
	d.onEvent(ev)
}
