package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(events *[]Event) *Decoder {
	return NewDecoder(func(e Event) { *events = append(*events, e) })
}

func TestDecodeCompleteLines(t *testing.T) {
	t.Parallel()
	var events []Event
	d := collect(&events)

	_, err := d.Write([]byte(`{"type":"text-delta","text":"hello "}` + "\n" +
		`{"type":"tool-started","name":"grep"}` + "\n" +
		`{"type":"turn-ended","usage":{"input_tokens":12,"output_tokens":7,"context_pct":3.5}}` + "\n"))
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, KindTextDelta, events[0].Type)
	assert.Equal(t, "hello ", events[0].Text)
	assert.Equal(t, KindToolStarted, events[1].Type)
	assert.Equal(t, "grep", events[1].Name)
	require.NotNil(t, events[2].Usage)
	assert.Equal(t, 12, events[2].Usage.InputTokens)
	assert.Equal(t, 7, events[2].Usage.OutputTokens)
	assert.InDelta(t, 3.5, events[2].Usage.ContextPct, 0.001)
}

func TestPartialLineSpansChunks(t *testing.T) {
	t.Parallel()
	var events []Event
	d := collect(&events)

	line := `{"type":"text-delta","text":"split across chunks"}`
	for i := 0; i < len(line); i += 7 {
		end := i + 7
		if end > len(line) {
			end = len(line)
		}
		_, err := d.Write([]byte(line[i:end]))
		require.NoError(t, err)
		assert.Empty(t, events, "no event before the newline arrives")
	}
	_, err := d.Write([]byte("\n"))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "split across chunks", events[0].Text)
}

func TestMalformedLinesDiscarded(t *testing.T) {
	t.Parallel()
	var events []Event
	d := collect(&events)

	_, err := d.Write([]byte("not json at all\n" +
		`{"type":"text-delta","text":"ok"}` + "\n" +
		`{"broken` + "\n" +
		`{"type":"text-delta","text":"still ok"}` + "\n"))
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, "ok", events[0].Text)
	assert.Equal(t, "still ok", events[1].Text)
}

func TestUntaggedLinesDiscarded(t *testing.T) {
	t.Parallel()
	var events []Event
	d := collect(&events)
	_, err := d.Write([]byte(`{"text":"no type tag"}` + "\n\n"))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFlushRecoversFinalPartial(t *testing.T) {
	t.Parallel()
	var events []Event
	d := collect(&events)

	_, err := d.Write([]byte(`{"type":"text-delta","text":"no trailing newline"}`))
	require.NoError(t, err)
	assert.Empty(t, events)

	d.Flush()
	require.Len(t, events, 1)
	assert.Equal(t, "no trailing newline", events[0].Text)

	// Flush drains the fragment; a second Flush is a no-op.
	d.Flush()
	assert.Len(t, events, 1)
}

func TestOversizedFragmentDropped(t *testing.T) {
	t.Parallel()
	var events []Event
	d := collect(&events)

	junk := make([]byte, maxLineBytes+1)
	for i := range junk {
		junk[i] = 'x'
	}
	_, err := d.Write(junk)
	require.NoError(t, err)
	d.Flush()
	assert.Empty(t, events)

	// The decoder keeps working after dropping the fragment.
	_, err = d.Write([]byte(`{"type":"text-delta","text":"recovered"}` + "\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "recovered", events[0].Text)
}
