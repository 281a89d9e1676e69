package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crewkit/crew/internal/config"
)

// Prompt template placeholders. {{task}} expands to the task text supplied
// to the overall run, {{previous}} to the accumulated output of the prior
// step (empty for the first step).
const (
	placeholderTask     = "{{task}}"
	placeholderPrevious = "{{previous}}"
)

// RunPipeline executes a pipeline's steps strictly sequentially: a step does
// not begin until the previous worker has resolved. The first failure aborts
// the rest; the outcome then names the failing step and worker instead of
// carrying earlier steps' results. On success the outcome holds the final
// step's output.
func (o *Orchestrator) RunPipeline(ctx context.Context, def *config.Pipeline, task string) Outcome {
	start := time.Now()
	slog.Info("pipeline starting",
		slog.String("pipeline", def.Name),
		slog.Int("steps", len(def.Steps)))

	previous := ""
	for i, step := range def.Steps {
		prompt := step.Prompt
		if prompt == "" {
			prompt = placeholderTask
		}
		prompt = strings.ReplaceAll(prompt, placeholderTask, task)
		prompt = strings.ReplaceAll(prompt, placeholderPrevious, previous)

		out := o.Delegate(ctx, step.Persona, prompt)
		if !out.Success {
			slog.Warn("pipeline aborted",
				slog.String("pipeline", def.Name),
				slog.Int("step", i+1),
				slog.String("worker", step.Persona))
			return Outcome{
				Identity: def.Name,
				Elapsed:  time.Since(start),
				Message: fmt.Sprintf("pipeline %q failed at step %d (%s): %s",
					def.Name, i+1, step.Persona, out.Message),
			}
		}
		previous = out.Output
	}

	slog.Info("pipeline finished",
		slog.String("pipeline", def.Name),
		slog.Duration("elapsed", time.Since(start)))
	return Outcome{
		Identity: def.Name,
		Success:  true,
		Output:   previous,
		Elapsed:  time.Since(start),
	}
}
