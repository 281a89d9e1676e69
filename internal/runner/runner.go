// Package runner spawns and supervises one worker subprocess per task. A run
// is synchronous from the caller's point of view: Run blocks until the worker
// exits, streaming decoded events and elapsed-time updates through callbacks,
// and always returns a Result rather than panicking on spawn or exit failure.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/crewkit/crew/internal/envbuild"
	"github.com/crewkit/crew/internal/persona"
	"github.com/crewkit/crew/internal/stream"
)

// Process is the part of a spawned subprocess the runner drives.
type Process interface {
	Wait() error
	Kill() error
}

// SpawnFunc starts the worker binary. Injectable so tests can count spawns
// and script exits without a real binary on PATH.
type SpawnFunc func(name string, args, env []string, stdout, stderr io.Writer) (Process, error)

// Request describes one worker invocation.
type Request struct {
	WorkerName  string
	Persona     *persona.Definition
	Task        string
	SessionFile string
	Resume      bool
}

// Events carries the streaming callbacks for a run. Nil fields are skipped.
// Callbacks fire from the runner's goroutines; keep them short.
type Events struct {
	OnText    func(delta string)
	OnTool    func(name string)
	OnUsage   func(u stream.Usage)
	OnElapsed func(d time.Duration)
}

// Result is the terminal outcome of a run. Err is nil only on a clean zero
// exit. Output is the worker's combined raw stdout and stderr.
type Result struct {
	Output     string
	ExitCode   int
	Duration   time.Duration
	Usage      *stream.Usage
	Diagnostic string
	Err        error
}

// Runner executes worker subprocesses with a fixed binary and model.
type Runner struct {
	Binary   string
	Model    string
	ExtraEnv []string
	Spawn    SpawnFunc
}

// New returns a Runner using the real exec-based spawn.
func New(binary, model string, extraEnv []string) *Runner {
	return &Runner{Binary: binary, Model: model, ExtraEnv: extraEnv, Spawn: execSpawn}
}

// elapsedInterval is how often OnElapsed fires while the worker runs.
const elapsedInterval = time.Second

// Run executes one worker to completion. The subprocess is killed when ctx
// is cancelled; the result then carries the context error.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	return r.RunWith(ctx, req, Events{})
}

// RunWith is Run with streaming callbacks.
func (r *Runner) RunWith(ctx context.Context, req Request, ev Events) Result {
	args := r.buildArgs(req)
	extra := append(append([]string(nil), r.ExtraEnv...), req.Persona.ExtraEnv...)
	env := envbuild.Build(r.Model, extra, os.Environ())

	var usage *stream.Usage
	dec := stream.NewDecoder(func(e stream.Event) {
		if e.Type == stream.KindTurnEnded && e.Usage != nil {
			u := *e.Usage
			usage = &u
		}
		dispatch(e, ev)
	})

	var stdout, stderr bytes.Buffer
	start := time.Now()

	slog.Debug("spawning worker",
		slog.String("worker", req.WorkerName),
		slog.String("binary", r.Binary),
		slog.Bool("resume", req.Resume))

	proc, err := r.Spawn(r.Binary, args, env, io.MultiWriter(dec, &stdout), &stderr)
	if err != nil {
		return Result{
			ExitCode: -1,
			Duration: time.Since(start),
			Err:      fmt.Errorf("spawn worker %s: %w", req.WorkerName, err),
		}
	}

	waitResult := make(chan error, 1)
	go func() {
		waitResult <- proc.Wait()
	}()

	ticker := time.NewTicker(elapsedInterval)
	defer ticker.Stop()

	var waitErr error
	var ctxErr error
loop:
	for {
		select {
		case waitErr = <-waitResult:
			break loop
		case <-ticker.C:
			if ev.OnElapsed != nil {
				ev.OnElapsed(time.Since(start))
			}
		case <-ctx.Done():
			ctxErr = ctx.Err()
			if err := proc.Kill(); err != nil {
				slog.Warn("killing worker",
					slog.String("worker", req.WorkerName),
					slog.Any("error", err))
			}
			waitErr = <-waitResult
			break loop
		}
	}
	dec.Flush()

	res := Result{
		Output:   combined(&stdout, &stderr),
		Duration: time.Since(start),
		Usage:    usage,
	}
	if ev.OnElapsed != nil {
		ev.OnElapsed(res.Duration)
	}

	switch {
	case ctxErr != nil:
		res.ExitCode = exitCode(waitErr)
		res.Err = fmt.Errorf("worker %s: %w", req.WorkerName, ctxErr)
	case waitErr != nil:
		res.ExitCode = exitCode(waitErr)
		res.Err = fmt.Errorf("worker %s exited %d", req.WorkerName, res.ExitCode)
		res.Diagnostic = envbuild.DetectCredentialFailure(res.Output, req.WorkerName, env)
	default:
		res.ExitCode = 0
	}
	return res
}

// buildArgs assembles the worker command line. The session flag pair is
// exclusive: --resume continues an existing conversation file, --session
// starts a fresh one at the given path.
func (r *Runner) buildArgs(req Request) []string {
	args := []string{"-p", "--output-format", "stream-json", "--effort", "none"}
	if len(req.Persona.Tools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(req.Persona.Tools, ","))
	}
	args = append(args, "--system-prompt", req.Persona.Instructions)
	if req.Resume {
		args = append(args, "--resume", req.SessionFile)
	} else {
		args = append(args, "--session", req.SessionFile)
	}
	return append(args, req.Task)
}

func dispatch(e stream.Event, ev Events) {
	switch e.Type {
	case stream.KindTextDelta:
		if ev.OnText != nil {
			ev.OnText(e.Text)
		}
	case stream.KindToolStarted:
		if ev.OnTool != nil {
			ev.OnTool(e.Name)
		}
	case stream.KindTurnEnded:
		if ev.OnUsage != nil && e.Usage != nil {
			ev.OnUsage(*e.Usage)
		}
	}
	// unknown kinds are ignored
}

func combined(stdout, stderr *bytes.Buffer) string {
	if stderr.Len() == 0 {
		return stdout.String()
	}
	if stdout.Len() == 0 {
		return stderr.String()
	}
	return stdout.String() + "\n" + stderr.String()
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		return ee.ExitCode()
	}
	return -1
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error { return p.cmd.Wait() }

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// execSpawn starts the real worker binary. Stdin is left unattached so the
// worker sees EOF immediately; all input travels on the command line.
func execSpawn(name string, args, env []string, stdout, stderr io.Writer) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}
