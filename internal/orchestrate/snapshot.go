package orchestrate

import (
	"sort"
	"time"
)

// WorkerSnapshot is one worker's state as handed to a status reporter:
// enough to render a name, status glyph, elapsed time, last-output preview
// and tool-call count. Snapshots are copies; reporters never see live state.
type WorkerSnapshot struct {
	Identity    string
	Status      Status
	Task        string
	LastLine    string
	ToolCalls   int
	Elapsed     time.Duration
	Invocations int
	ContextPct  float64
}

// Snapshot captures every tracked worker: roster workers in roster order,
// then pool workers by identity.
func (o *Orchestrator) Snapshot() []WorkerSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snaps := make([]WorkerSnapshot, 0, len(o.workers)+len(o.pool))
	seen := make(map[string]bool, len(o.workers))
	for _, name := range o.roster {
		if st, ok := o.workers[name]; ok {
			snaps = append(snaps, snapOf(st))
			seen[name] = true
		}
	}
	var rest []string
	for name := range o.workers {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		snaps = append(snaps, snapOf(o.workers[name]))
	}

	ids := make([]int, 0, len(o.pool))
	for id := range o.pool {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		snaps = append(snaps, snapOf(o.pool[id]))
	}
	return snaps
}

func snapOf(st *workerState) WorkerSnapshot {
	return WorkerSnapshot{
		Identity:    st.identity,
		Status:      st.status,
		Task:        st.task,
		LastLine:    st.lastLine,
		ToolCalls:   st.toolCalls,
		Elapsed:     st.elapsed,
		Invocations: st.invocations,
		ContextPct:  st.contextPct,
	}
}
