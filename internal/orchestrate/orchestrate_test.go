package orchestrate

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewkit/crew/internal/config"
	"github.com/crewkit/crew/internal/persona"
	"github.com/crewkit/crew/internal/runner"
)

func testPersonas(names ...string) map[string]*persona.Definition {
	m := make(map[string]*persona.Definition, len(names))
	for _, n := range names {
		m[n] = &persona.Definition{Name: n, Instructions: "You are " + n + "."}
	}
	return m
}

// spawnScript fakes the worker binary: each call appends its argument list
// and runs the scripted behavior for that call number (1-based).
type spawnScript struct {
	mu    sync.Mutex
	calls [][]string
	run   func(call int, args []string, stdout io.Writer) error
}

func (s *spawnScript) spawn(name string, args, env []string, stdout, stderr io.Writer) (runner.Process, error) {
	s.mu.Lock()
	s.calls = append(s.calls, args)
	n := len(s.calls)
	s.mu.Unlock()

	p := &scriptProc{wait: make(chan error, 1)}
	p.wait <- s.run(n, args, stdout)
	return p, nil
}

func (s *spawnScript) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *spawnScript) argsOf(call int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[call-1]
}

type scriptProc struct {
	wait chan error

	mu     sync.Mutex
	killed bool
}

func (p *scriptProc) Wait() error { return <-p.wait }

func (p *scriptProc) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

func newTestOrch(t *testing.T, script *spawnScript, names ...string) *Orchestrator {
	t.Helper()
	ws, err := config.Init(t.TempDir())
	require.NoError(t, err)
	r := &runner.Runner{Binary: "agent", Model: "anthropic/x", Spawn: script.spawn}
	return New(ws, r, testPersonas(names...))
}

func emit(stdout io.Writer, text string) {
	io.WriteString(stdout, `{"type":"text-delta","text":"`+text+`"}`+"\n")
}

func okScript() *spawnScript {
	return &spawnScript{run: func(call int, args []string, stdout io.Writer) error {
		emit(stdout, "done")
		return nil
	}}
}

// taskOf returns the final positional argument of a worker invocation.
func taskOf(args []string) string { return args[len(args)-1] }

func TestDelegateSuccess(t *testing.T) {
	t.Parallel()
	script := okScript()
	o := newTestOrch(t, script, "scout")

	out := o.Delegate(context.Background(), "scout", "look around")
	require.True(t, out.Success, "message: %s", out.Message)
	assert.Equal(t, "done", out.Output)
	assert.Equal(t, 1, script.count())
	assert.Equal(t, "look around", taskOf(script.argsOf(1)))
}

func TestDelegateUnknownWorkerListsCatalog(t *testing.T) {
	t.Parallel()
	o := newTestOrch(t, okScript(), "scout", "critic")

	out := o.Delegate(context.Background(), "nobody", "task")
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "nobody")
	assert.Contains(t, out.Message, "scout")
	assert.Contains(t, out.Message, "critic")
}

func TestDelegateBusyWorkerNotSpawnedTwice(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	release := make(chan struct{})
	script := &spawnScript{}
	script.run = func(call int, args []string, stdout io.Writer) error {
		close(started)
		<-release
		return nil
	}
	o := newTestOrch(t, script, "scout")

	first := make(chan Outcome, 1)
	go func() { first <- o.Delegate(context.Background(), "scout", "long task") }()
	<-started

	out := o.Delegate(context.Background(), "scout", "second task")
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "already running")
	assert.Equal(t, 1, script.count(), "busy dispatch must not spawn")

	close(release)
	require.True(t, (<-first).Success)
}

func TestDelegateReusesSessionAfterSuccess(t *testing.T) {
	t.Parallel()
	script := okScript()
	o := newTestOrch(t, script, "scout")

	require.True(t, o.Delegate(context.Background(), "scout", "one").Success)
	require.True(t, o.Delegate(context.Background(), "scout", "two").Success)

	require.Equal(t, 2, script.count())
	assert.Contains(t, script.argsOf(1), "--session")
	assert.Contains(t, script.argsOf(2), "--resume")

	snaps := o.Snapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, 2, snaps[0].Invocations)
	assert.Equal(t, StatusDone, snaps[0].Status)
}

func TestDelegateWorkerFailure(t *testing.T) {
	t.Parallel()
	script := &spawnScript{run: func(call int, args []string, stdout io.Writer) error {
		io.WriteString(stdout, "HTTP 401 Unauthorized\n")
		return os.ErrPermission // any non-nil wait error marks the run failed
	}}
	o := newTestOrch(t, script, "scout")

	out := o.Delegate(context.Background(), "scout", "task")
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Message)

	snaps := o.Snapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, StatusError, snaps[0].Status)
}

func TestRosterActivationRediscoversSessions(t *testing.T) {
	t.Parallel()
	script := okScript()
	o := newTestOrch(t, script, "scout", "critic")

	// A session persisted by an earlier process.
	prior := filepath.Join(o.ws.SessionsDir(), "scout-0b5fa1f2.jsonl")
	require.NoError(t, os.WriteFile(prior, []byte("{}\n"), 0o644))

	require.NoError(t, o.ActivateRoster([]string{"scout", "critic", "ghost"}))

	snaps := o.Snapshot()
	require.Len(t, snaps, 2, "roster member without a persona is skipped")

	require.True(t, o.Delegate(context.Background(), "scout", "task").Success)
	args := script.argsOf(1)
	assert.Contains(t, args, "--resume")
	assert.Contains(t, args, prior)
}

func TestPipelineFailFast(t *testing.T) {
	t.Parallel()
	script := &spawnScript{run: func(call int, args []string, stdout io.Writer) error {
		if call == 2 {
			return os.ErrPermission
		}
		emit(stdout, "step output")
		return nil
	}}
	o := newTestOrch(t, script, "gather", "critic", "writer")

	p := &config.Pipeline{
		Name: "review",
		Steps: []config.PipelineStep{
			{Persona: "gather", Prompt: "{{task}}"},
			{Persona: "critic", Prompt: "critique: {{previous}}"},
			{Persona: "writer", Prompt: "write up: {{previous}}"},
		},
	}

	out := o.RunPipeline(context.Background(), p, "initial task")
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "step 2")
	assert.Contains(t, out.Message, "critic")
	assert.Equal(t, 2, script.count(), "steps after the failure must not run")
}

func TestPipelineUnknownPersonaFailsFast(t *testing.T) {
	t.Parallel()
	script := okScript()
	o := newTestOrch(t, script, "gather")

	p := &config.Pipeline{
		Name: "broken",
		Steps: []config.PipelineStep{
			{Persona: "missing", Prompt: "{{task}}"},
			{Persona: "gather", Prompt: "{{previous}}"},
		},
	}
	out := o.RunPipeline(context.Background(), p, "t")
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "step 1")
	assert.Zero(t, script.count())
}

func TestPipelineTemplateSubstitution(t *testing.T) {
	t.Parallel()
	script := &spawnScript{run: func(call int, args []string, stdout io.Writer) error {
		if call == 1 {
			emit(stdout, "ONE")
		} else {
			emit(stdout, "TWO")
		}
		return nil
	}}
	o := newTestOrch(t, script, "a", "b")

	p := &config.Pipeline{
		Name: "chain",
		Steps: []config.PipelineStep{
			{Persona: "a", Prompt: "goal={{task}}"},
			{Persona: "b", Prompt: "goal={{task}} prev={{previous}}"},
		},
	}
	out := o.RunPipeline(context.Background(), p, "ship it")
	require.True(t, out.Success, "message: %s", out.Message)

	assert.Equal(t, "goal=ship it", taskOf(script.argsOf(1)))
	assert.Equal(t, "goal=ship it prev=ONE", taskOf(script.argsOf(2)))
	assert.Equal(t, "TWO", out.Output)
}

func TestPoolCreateAndNotify(t *testing.T) {
	t.Parallel()
	script := okScript()
	o := newTestOrch(t, script, "scout")
	notify := make(chan Notification, 1)
	o.Notify = func(n Notification) { notify <- n }

	id, err := o.PoolCreate(context.Background(), "scout", "background task")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	select {
	case n := <-notify:
		assert.Equal(t, "1", n.Identity)
		assert.True(t, n.Outcome.Success)
		assert.Equal(t, "done", n.Outcome.Output)
	case <-time.After(5 * time.Second):
		t.Fatal("no completion notification")
	}
}

func TestPoolContinueWhileRunningRejected(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	release := make(chan struct{})
	script := &spawnScript{}
	script.run = func(call int, args []string, stdout io.Writer) error {
		if call == 1 {
			close(started)
			<-release
		}
		return nil
	}
	o := newTestOrch(t, script, "scout")
	notify := make(chan Notification, 2)
	o.Notify = func(n Notification) { notify <- n }

	id, err := o.PoolCreate(context.Background(), "scout", "first")
	require.NoError(t, err)
	<-started

	err = o.PoolContinue(context.Background(), id, "too soon")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkerBusy)

	close(release)
	<-notify

	// After the first run resolves the continue is accepted and resumes the
	// same session file.
	require.NoError(t, o.PoolContinue(context.Background(), id, "follow-up"))
	<-notify
	assert.Equal(t, 2, script.count())
	assert.Contains(t, script.argsOf(2), "--resume")

	entries := o.PoolList()
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Invocations)
}

func TestPoolContinueUnknownID(t *testing.T) {
	t.Parallel()
	o := newTestOrch(t, okScript(), "scout")
	err := o.PoolContinue(context.Background(), 42, "task")
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestPoolRemove(t *testing.T) {
	t.Parallel()
	script := okScript()
	o := newTestOrch(t, script, "scout")
	notify := make(chan Notification, 1)
	o.Notify = func(n Notification) { notify <- n }

	id, err := o.PoolCreate(context.Background(), "scout", "task")
	require.NoError(t, err)
	<-notify

	require.NoError(t, o.PoolRemove(id))
	assert.Empty(t, o.PoolList())
	assert.ErrorIs(t, o.PoolRemove(id), ErrWorkerNotFound)
}

func TestMaxInFlightEnforced(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	release := make(chan struct{})
	script := &spawnScript{}
	script.run = func(call int, args []string, stdout io.Writer) error {
		close(started)
		<-release
		return nil
	}
	o := newTestOrch(t, script, "scout", "critic")
	o.maxInFlight = 1
	notify := make(chan Notification, 1)
	o.Notify = func(n Notification) { notify <- n }

	_, err := o.PoolCreate(context.Background(), "scout", "long task")
	require.NoError(t, err)
	<-started

	out := o.Delegate(context.Background(), "critic", "task")
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "too many workers")

	close(release)
	<-notify
}

func TestResetSessionWipesEverything(t *testing.T) {
	t.Parallel()
	script := okScript()
	o := newTestOrch(t, script, "scout")
	notify := make(chan Notification, 1)
	o.Notify = func(n Notification) { notify <- n }

	require.True(t, o.Delegate(context.Background(), "scout", "task").Success)
	id, err := o.PoolCreate(context.Background(), "scout", "task")
	require.NoError(t, err)
	<-notify
	_ = id

	entries, err := os.ReadDir(o.ws.SessionsDir())
	require.NoError(t, err)
	// Session files exist before the reset (created lazily by the worker
	// binary in production; the path allocation is what matters here).
	_ = entries

	require.NoError(t, o.ResetSession())
	assert.Empty(t, o.Snapshot())
	assert.Empty(t, o.PoolList())

	entries, err = os.ReadDir(o.ws.SessionsDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPoolStateRoundTrip(t *testing.T) {
	t.Parallel()
	script := okScript()
	o := newTestOrch(t, script, "scout")
	notify := make(chan Notification, 1)
	o.Notify = func(n Notification) { notify <- n }

	id, err := o.PoolCreate(context.Background(), "scout", "persisted task")
	require.NoError(t, err)
	<-notify
	require.NoError(t, o.SavePool())

	restored := New(o.ws, o.runner, testPersonas("scout"))
	require.NoError(t, restored.RestorePool())

	entries := restored.PoolList()
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, "persisted task", entries[0].Task)
	assert.Equal(t, 1, entries[0].Invocations)

	// Identities keep growing across processes.
	id2, err := restored.PoolCreate(context.Background(), "scout", "next")
	require.NoError(t, err)
	assert.Equal(t, id+1, id2)
}
