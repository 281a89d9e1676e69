package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"github.com/crewkit/crew/internal/config"
	"github.com/crewkit/crew/internal/envbuild"
	"github.com/crewkit/crew/internal/logger"
	"github.com/crewkit/crew/internal/orchestrate"
	"github.com/crewkit/crew/internal/persona"
	"github.com/crewkit/crew/internal/runner"
)

var version = "dev" // injected via ldflags at build time

// Globals holds shared state injected into Run methods that need a workspace.
type Globals struct {
	once sync.Once
	ws   *config.Workspace
	orch *orchestrate.Orchestrator
}

// WS lazily opens the workspace on first call.
// Commands that don't need a workspace (init, version) must not call this.
func (g *Globals) WS() *config.Workspace {
	g.Orch()
	return g.ws
}

// Orch lazily builds the orchestrator: workspace, personas, runner, and any
// persisted pool workers from earlier invocations.
func (g *Globals) Orch() *orchestrate.Orchestrator {
	g.once.Do(func() {
		ws := openWS()
		personas, err := persona.Load(ws.PersonasDir(), printFinding)
		if err != nil {
			fatal("loading personas: %v", err)
		}
		r := runner.New(ws.Config.Worker.Binary, ws.Config.Worker.Model, envbuild.SplitVarList(ws.Config.Worker.ExtraEnv))
		orch := orchestrate.New(ws, r, personas)
		if err := orch.RestorePool(); err != nil {
			fatal("restoring pool state: %v", err)
		}
		g.ws = ws
		g.orch = orch
	})
	return g.orch
}

func printFinding(f persona.Finding) {
	fmt.Fprintf(os.Stderr, "crew: persona %s: %s: %s (%s)\n", f.Persona, f.Severity, f.Message, f.Field)
}

type CLI struct {
	Init     InitCmd     `cmd:"" group:"workspace" help:"Create a new workspace."`
	Persona  PersonaCmd  `cmd:"" group:"workers"   help:"Manage personas (list/show)."`
	Run      RunCmd      `cmd:"" group:"execution" help:"Run one named worker on a task."`
	Pipeline PipelineCmd `cmd:"" group:"execution" help:"Manage pipelines (list/run)."`
	Pool     PoolCmd     `cmd:"" group:"execution" help:"Manage background workers (create/continue/remove/list)."`
	Roster   RosterCmd   `cmd:"" group:"workers"   help:"List configured rosters."`
	Status   StatusCmd   `cmd:"" group:"observe"   help:"Show tracked worker status."`
	Reset    ResetCmd    `cmd:"" group:"maint"     help:"Start a fresh session: kill workers, wipe session files."`
	Version  VersionCmd  `cmd:"" group:"maint"     help:"Print version and platform info."`
}

// ─── init ────────────────────────────────────────────────────────────────────

type InitCmd struct {
	Dir string `arg:"" optional:"" default:"." help:"Directory to initialize."`
}

func (c *InitCmd) Run() error {
	ws, err := config.Init(c.Dir)
	if err != nil {
		return fmt.Errorf("init failed: %v", err)
	}
	fmt.Printf("initialized crew workspace at %s\n", ws.Root)
	fmt.Printf("add personas under %s\n", ws.PersonasDir())
	return nil
}

// ─── persona ─────────────────────────────────────────────────────────────────

type PersonaCmd struct {
	List PersonaListCmd `cmd:"" help:"List loaded personas."`
	Show PersonaShowCmd `cmd:"" help:"Show a persona's definition."`
}

type PersonaListCmd struct{}

func (c *PersonaListCmd) Run(g *Globals) error {
	personas, err := persona.Load(g.WS().PersonasDir(), printFinding)
	if err != nil {
		return err
	}
	if len(personas) == 0 {
		fmt.Println("no personas")
		return nil
	}
	names := make([]string, 0, len(personas))
	for name := range personas {
		names = append(names, name)
	}
	sort.Strings(names)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTOOLS\tDESCRIPTION")
	for _, name := range names {
		d := personas[name]
		desc := d.Description
		if len(desc) > 55 {
			desc = desc[:52] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, strings.Join(d.Tools, ","), desc)
	}
	w.Flush()
	return nil
}

type PersonaShowCmd struct {
	Name string `arg:"" help:"Persona name."`
}

func (c *PersonaShowCmd) Run(g *Globals) error {
	personas, err := persona.Load(g.WS().PersonasDir(), printFinding)
	if err != nil {
		return err
	}
	d, ok := personas[strings.ToLower(c.Name)]
	if !ok {
		return fmt.Errorf("persona not found: %s", c.Name)
	}
	fmt.Printf("Name:        %s\n", d.Name)
	fmt.Printf("Description: %s\n", d.Description)
	if len(d.Tools) > 0 {
		fmt.Printf("Tools:       %s\n", strings.Join(d.Tools, ", "))
	}
	if len(d.ExtraEnv) > 0 {
		fmt.Printf("Extra env:   %s\n", strings.Join(d.ExtraEnv, ", "))
	}
	fmt.Printf("Source:      %s\n", d.SourceFile)
	fmt.Printf("\nInstructions:\n%s\n", d.Instructions)
	return nil
}

// ─── run ─────────────────────────────────────────────────────────────────────

type RunCmd struct {
	Worker string `arg:"" help:"Worker (persona) name."`
	Task   string `arg:"" help:"Task text."`
	Roster string `help:"Activate a configured roster first; the worker must be a member."`
}

func (c *RunCmd) Run(g *Globals) error {
	orch := g.Orch()

	if c.Roster != "" {
		defs, err := config.LoadDefinitions(g.ws.PipelinesPath())
		if err != nil {
			return err
		}
		roster := defs.RosterByName(c.Roster)
		if roster == nil {
			return fmt.Errorf("roster not found: %s", c.Roster)
		}
		if err := orch.ActivateRoster(roster.Members); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan orchestrate.Outcome, 1)
	go func() { done <- orch.Delegate(ctx, c.Worker, c.Task) }()

	out := watchRun(ctx, orch, c.Worker, done)
	if !out.Success {
		return fmt.Errorf("%s", out.Message)
	}
	fmt.Println(out.Output)
	return nil
}

// watchRun waits for a delegated run while repainting a one-line progress
// indicator on stderr when attached to a terminal.
func watchRun(ctx context.Context, orch *orchestrate.Orchestrator, worker string, done <-chan orchestrate.Outcome) orchestrate.Outcome {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	tty := isTTY()
	for {
		select {
		case out := <-done:
			if tty {
				fmt.Fprint(os.Stderr, "\r\033[K")
			}
			return out
		case <-ticker.C:
			if !tty {
				continue
			}
			for _, s := range orch.Snapshot() {
				if s.Identity == strings.ToLower(worker) {
					fmt.Fprintf(os.Stderr, "\r\033[K↻ %s  %s  %d tool(s)  %s",
						s.Identity, fmtElapsed(s.Elapsed), s.ToolCalls, s.LastLine)
				}
			}
		}
	}
}

// ─── pipeline ────────────────────────────────────────────────────────────────

type PipelineCmd struct {
	List PipelineListCmd `cmd:"" help:"List configured pipelines."`
	Run  PipelineRunCmd  `cmd:"" help:"Run a pipeline on a task."`
}

type PipelineListCmd struct{}

func (c *PipelineListCmd) Run(g *Globals) error {
	defs, err := config.LoadDefinitions(g.WS().PipelinesPath())
	if err != nil {
		return err
	}
	if len(defs.Pipelines) == 0 {
		fmt.Println("no pipelines")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTEPS\tDESCRIPTION")
	for _, p := range defs.Pipelines {
		steps := make([]string, len(p.Steps))
		for i, s := range p.Steps {
			steps[i] = s.Persona
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, strings.Join(steps, " → "), p.Description)
	}
	w.Flush()
	return nil
}

type PipelineRunCmd struct {
	Name string `arg:"" help:"Pipeline name."`
	Task string `arg:"" help:"Initial task text."`
}

func (c *PipelineRunCmd) Run(g *Globals) error {
	orch := g.Orch()
	defs, err := config.LoadDefinitions(g.ws.PipelinesPath())
	if err != nil {
		return err
	}
	p := defs.PipelineByName(c.Name)
	if p == nil {
		return fmt.Errorf("pipeline not found: %s", c.Name)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pick up persona edits between steps of a long pipeline.
	if _, err := persona.Watch(ctx, g.ws.PersonasDir(), func() {
		personas, err := persona.Load(g.ws.PersonasDir(), printFinding)
		if err != nil {
			return
		}
		orch.SetPersonas(personas)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "crew: persona watcher unavailable: %v\n", err)
	}

	out := orch.RunPipeline(ctx, p, c.Task)
	if !out.Success {
		return fmt.Errorf("%s", out.Message)
	}
	fmt.Println(out.Output)
	return nil
}

// ─── pool ────────────────────────────────────────────────────────────────────

type PoolCmd struct {
	Create   PoolCreateCmd   `cmd:"" help:"Start a background worker."`
	Continue PoolContinueCmd `cmd:"" help:"Resume a finished worker with a new task."`
	Remove   PoolRemoveCmd   `cmd:"" help:"Remove a worker."`
	List     PoolListCmd     `cmd:"" help:"List tracked workers."`
}

type PoolCreateCmd struct {
	Persona string `arg:"" help:"Persona name."`
	Task    string `arg:"" help:"Task text."`
}

func (c *PoolCreateCmd) Run(g *Globals) error {
	orch := g.Orch()
	notify := make(chan orchestrate.Notification, 1)
	orch.Notify = func(n orchestrate.Notification) { notify <- n }

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id, err := orch.PoolCreate(ctx, c.Persona, c.Task)
	if err != nil {
		return err
	}
	fmt.Printf("worker %d running in background\n", id)

	n := <-notify
	if err := orch.SavePool(); err != nil {
		return err
	}
	return printNotification(n)
}

type PoolContinueCmd struct {
	ID   int    `arg:"" help:"Worker identity."`
	Task string `arg:"" help:"Follow-up task text."`
}

func (c *PoolContinueCmd) Run(g *Globals) error {
	orch := g.Orch()
	notify := make(chan orchestrate.Notification, 1)
	orch.Notify = func(n orchestrate.Notification) { notify <- n }

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.PoolContinue(ctx, c.ID, c.Task); err != nil {
		return err
	}
	fmt.Printf("worker %d continuing\n", c.ID)

	n := <-notify
	if err := orch.SavePool(); err != nil {
		return err
	}
	return printNotification(n)
}

func printNotification(n orchestrate.Notification) error {
	if !n.Outcome.Success {
		return fmt.Errorf("worker %s failed: %s", n.Identity, n.Outcome.Message)
	}
	fmt.Printf("worker %s finished in %s\n\n%s\n", n.Identity, fmtElapsed(n.Outcome.Elapsed), n.Outcome.Output)
	return nil
}

type PoolRemoveCmd struct {
	ID int `arg:"" help:"Worker identity."`
}

func (c *PoolRemoveCmd) Run(g *Globals) error {
	orch := g.Orch()
	if err := orch.PoolRemove(c.ID); err != nil {
		return err
	}
	if err := orch.SavePool(); err != nil {
		return err
	}
	fmt.Printf("removed worker %d\n", c.ID)
	return nil
}

type PoolListCmd struct{}

func (c *PoolListCmd) Run(g *Globals) error {
	entries := g.Orch().PoolList()
	if len(entries) == 0 {
		fmt.Println("no pool workers")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tRUNS\tTASK")
	for _, e := range entries {
		task := e.Task
		if len(task) > 60 {
			task = task[:57] + "..."
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", e.ID, e.Status, e.Invocations, task)
	}
	w.Flush()
	return nil
}

// ─── roster ──────────────────────────────────────────────────────────────────

type RosterCmd struct {
	List RosterListCmd `cmd:"" help:"List configured rosters."`
}

type RosterListCmd struct{}

func (c *RosterListCmd) Run(g *Globals) error {
	defs, err := config.LoadDefinitions(g.WS().PipelinesPath())
	if err != nil {
		return err
	}
	if len(defs.Rosters) == 0 {
		fmt.Println("no rosters")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMEMBERS")
	for _, r := range defs.Rosters {
		fmt.Fprintf(w, "%s\t%s\n", r.Name, strings.Join(r.Members, ", "))
	}
	w.Flush()
	return nil
}

// ─── status ──────────────────────────────────────────────────────────────────

type StatusCmd struct{}

func (c *StatusCmd) Run(g *Globals) error {
	renderStatus(os.Stdout, g.Orch().Snapshot())
	return nil
}

// ─── reset ───────────────────────────────────────────────────────────────────

type ResetCmd struct{}

func (c *ResetCmd) Run(g *Globals) error {
	orch := g.Orch()
	if err := orch.ResetSession(); err != nil {
		return err
	}
	if err := os.Remove(g.ws.PoolStatePath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	fmt.Println("session reset")
	return nil
}

// ─── version ─────────────────────────────────────────────────────────────────

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("crew %s %s/%s\n", version, runtime.GOOS, runtime.GOARCH)
	return nil
}

// ─── main ────────────────────────────────────────────────────────────────────

func main() {
	logger.Init()

	var cli CLI
	globals := &Globals{}

	ctx := kong.Parse(&cli,
		kong.Name("crew"),
		kong.Description("crew — delegate tasks to CLI-agent workers\n\nSpawn persona-scoped worker subprocesses one at a time, in pipelines, or as a background pool.\n\nUSAGE:  crew <command> [arguments]"),
		kong.UsageOnError(),
		kong.Bind(globals),
		kong.ExplicitGroups([]kong.Group{
			{Key: "workspace", Title: "── WORKSPACE ────────────────────────────────────────────────────────────────────"},
			{Key: "workers", Title: "── WORKERS ───────────────────────────────────────────────────────────────────────"},
			{Key: "execution", Title: "── EXECUTION ─────────────────────────────────────────────────────────────────────"},
			{Key: "observe", Title: "── MONITORING ────────────────────────────────────────────────────────────────────"},
			{Key: "maint", Title: "── MAINTENANCE ───────────────────────────────────────────────────────────────────"},
		}),
	)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

// openWS finds the workspace from CREW_WORKSPACE env var (preferred) or CWD.
func openWS() *config.Workspace {
	if dir := os.Getenv("CREW_WORKSPACE"); dir != "" {
		ws, err := config.Open(dir)
		if err != nil {
			fatal("open workspace from CREW_WORKSPACE: %v", err)
		}
		return ws
	}
	cwd, err := os.Getwd()
	if err != nil {
		fatal("cannot determine current directory and CREW_WORKSPACE is not set")
	}
	ws, err := config.FindRoot(cwd)
	if err != nil {
		fatal("not inside a crew workspace (no .crew found in %s or any parent directory)\n\nTo create a new workspace here:    crew init .\nTo use an existing workspace:      export CREW_WORKSPACE=/path/to/workspace", cwd)
	}
	return ws
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "crew: "+format+"\n", args...)
	os.Exit(1)
}
