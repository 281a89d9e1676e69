// Package orchestrate coordinates worker subprocesses through three
// topologies: a dispatcher running one named roster worker at a time, a
// pipeline chaining workers sequentially, and a pool of independently
// addressable background workers. All worker state lives on an Orchestrator
// value; nothing here is package-global.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewkit/crew/internal/config"
	"github.com/crewkit/crew/internal/persona"
	"github.com/crewkit/crew/internal/runner"
	"github.com/crewkit/crew/internal/stream"
)

// Status is a worker's lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Errors returned by dispatch-level checks. Callers compare with errors.Is;
// none of them indicates a subprocess fault.
var (
	ErrUnknownWorker  = fmt.Errorf("unknown worker")
	ErrWorkerBusy     = fmt.Errorf("worker is already running")
	ErrWorkerNotFound = fmt.Errorf("no such pool worker")
	ErrTooManyWorkers = fmt.Errorf("too many workers in flight")
)

// workerState is the live record for one worker identity. Guarded by the
// orchestrator mutex; the runner's callbacks take the lock before touching it.
type workerState struct {
	identity    string
	persona     *persona.Definition
	status      Status
	task        string
	output      strings.Builder
	lastLine    string
	toolCalls   int
	elapsed     time.Duration
	sessionFile string
	// sessionReady marks the session file durable: set after the first
	// clean exit, which is when the worker binary has written it.
	sessionReady bool
	invocations  int
	contextPct   float64
	cancel       context.CancelFunc
}

// Notification is the asynchronous completion report for a background run.
type Notification struct {
	Identity string
	Outcome  Outcome
}

// Outcome is the tagged result every topology operation resolves to.
// Success false with a Message covers dispatch rejections and process
// failures alike; nothing escapes a topology as a panic or raw error.
type Outcome struct {
	Identity string
	Success  bool
	Output   string
	Message  string
	Elapsed  time.Duration
}

// Orchestrator owns all worker state for one top-level session.
type Orchestrator struct {
	mu sync.Mutex

	ws     *config.Workspace
	runner *runner.Runner

	personas map[string]*persona.Definition
	roster   []string
	workers  map[string]*workerState

	pool       map[int]*workerState
	nextPoolID int

	inFlight    int
	maxInFlight int
	runTimeout  time.Duration

	// Notify receives background-run completions from pool workers. Called
	// without the orchestrator lock held. May be nil.
	Notify func(Notification)
}

// New builds an Orchestrator over a workspace. The persona set comes from
// the loader; limits come from the workspace config.
func New(ws *config.Workspace, r *runner.Runner, personas map[string]*persona.Definition) *Orchestrator {
	return &Orchestrator{
		ws:          ws,
		runner:      r,
		personas:    personas,
		workers:     make(map[string]*workerState),
		pool:        make(map[int]*workerState),
		nextPoolID:  1,
		maxInFlight: ws.Config.Limits.MaxInFlight,
		runTimeout:  ws.Config.Limits.RunTimeout,
	}
}

// SetPersonas swaps the known persona set, for hot reload. Roster states for
// personas that disappeared stay until the next roster activation.
func (o *Orchestrator) SetPersonas(personas map[string]*persona.Definition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.personas = personas
}

// ResetSession tears down all worker state and wipes the shared session-file
// directory. Running subprocesses are killed; their partial output is
// discarded.
func (o *Orchestrator) ResetSession() error {
	o.mu.Lock()
	for _, st := range o.workers {
		if st.cancel != nil {
			st.cancel()
		}
	}
	for _, st := range o.pool {
		if st.cancel != nil {
			st.cancel()
		}
	}
	o.workers = make(map[string]*workerState)
	o.pool = make(map[int]*workerState)
	o.nextPoolID = 1
	o.roster = nil
	dir := o.ws.SessionsDir()
	o.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("wiping session directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recreating session directory: %w", err)
	}
	slog.Info("session reset", slog.String("dir", dir))
	return nil
}

// beginRun is the atomic check-and-set that keeps at most one subprocess per
// identity. Caller must hold o.mu.
func (o *Orchestrator) beginRun(st *workerState, task string) error {
	if st.status == StatusRunning {
		return ErrWorkerBusy
	}
	if o.inFlight >= o.maxInFlight {
		return fmt.Errorf("%w (limit %d)", ErrTooManyWorkers, o.maxInFlight)
	}
	st.status = StatusRunning
	st.task = task
	st.output.Reset()
	st.lastLine = ""
	st.toolCalls = 0
	st.elapsed = 0
	st.invocations++
	o.inFlight++
	return nil
}

// execute runs the subprocess for a state already marked running and settles
// it to done or error. Called without the lock held.
func (o *Orchestrator) execute(ctx context.Context, st *workerState, task string) Outcome {
	o.mu.Lock()
	req := runner.Request{
		WorkerName:  st.identity,
		Persona:     st.persona,
		Task:        task,
		SessionFile: st.sessionFile,
		Resume:      st.sessionReady,
	}
	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	st.cancel = cancel
	o.mu.Unlock()
	defer cancel()

	ev := runner.Events{
		OnText: func(delta string) {
			o.mu.Lock()
			st.output.WriteString(delta)
			st.lastLine = lastLine(st.output.String())
			o.mu.Unlock()
		},
		OnTool: func(string) {
			o.mu.Lock()
			st.toolCalls++
			o.mu.Unlock()
		},
		OnElapsed: func(d time.Duration) {
			o.mu.Lock()
			st.elapsed = d
			o.mu.Unlock()
		},
		OnUsage: func(u stream.Usage) {
			o.mu.Lock()
			st.contextPct = u.ContextPct
			o.mu.Unlock()
		},
	}

	res := o.runner.RunWith(runCtx, req, ev)

	o.mu.Lock()
	defer o.mu.Unlock()
	st.cancel = nil
	st.elapsed = res.Duration
	o.inFlight--

	out := Outcome{Identity: st.identity, Elapsed: res.Duration}
	if res.Err == nil {
		st.status = StatusDone
		st.sessionReady = true
		out.Success = true
		out.Output = st.output.String()
		return out
	}

	st.status = StatusError
	out.Output = st.output.String()
	out.Message = res.Err.Error()
	if res.Diagnostic != "" {
		out.Message += "\n" + res.Diagnostic
	} else if trimmed := strings.TrimSpace(res.Output); trimmed != "" {
		out.Message += "\n" + trimmed
	}
	slog.Warn("worker failed",
		slog.String("worker", st.identity),
		slog.Int("exit", res.ExitCode),
		slog.Any("error", res.Err))
	return out
}

// newSessionFile allocates a fresh session path for an identity. The name
// embeds the identity so roster activation can rediscover it by prefix.
func (o *Orchestrator) newSessionFile(identity string) string {
	name := fmt.Sprintf("%s-%s.jsonl", identity, uuid.NewString())
	return filepath.Join(o.ws.SessionsDir(), name)
}

// findSessionFile looks for a previously persisted session for an identity.
func (o *Orchestrator) findSessionFile(identity string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(o.ws.SessionsDir(), identity+"-*.jsonl"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[0], true
}

func normalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
