package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// ActivateRoster switches the active worker set. Every state is recreated
// idle; previously persisted session files for the new identities are
// rediscovered from disk so conversations survive a roster switch. Roster
// members without a loaded persona are skipped with a warning.
func (o *Orchestrator) ActivateRoster(members []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, st := range o.workers {
		if st.cancel != nil {
			st.cancel()
		}
	}
	o.workers = make(map[string]*workerState)
	o.roster = o.roster[:0]

	for _, name := range members {
		key := normalizeKey(name)
		def, ok := o.personas[key]
		if !ok {
			slog.Warn("roster member has no persona", slog.String("name", key))
			continue
		}
		st := &workerState{
			identity: key,
			persona:  def,
			status:   StatusIdle,
		}
		if path, found := o.findSessionFile(key); found {
			st.sessionFile = path
			st.sessionReady = true
		} else {
			st.sessionFile = o.newSessionFile(key)
		}
		o.workers[key] = st
		o.roster = append(o.roster, key)
	}
	if len(o.roster) == 0 && len(members) > 0 {
		return fmt.Errorf("no roster member matched a loaded persona")
	}
	slog.Info("roster activated", slog.Int("workers", len(o.roster)))
	return nil
}

// Delegate runs exactly one named worker to completion. Dispatch rejections
// (unknown name, already running, in-flight cap) come back as failed
// Outcomes, never as panics; an unknown name's message carries the catalog
// of known workers.
func (o *Orchestrator) Delegate(ctx context.Context, name, task string) Outcome {
	key := normalizeKey(name)

	o.mu.Lock()
	st, ok := o.workers[key]
	if !ok {
		// No explicit roster: any loaded persona is addressable.
		if def, known := o.personas[key]; known && len(o.roster) == 0 {
			st = &workerState{identity: key, persona: def, status: StatusIdle}
			if path, found := o.findSessionFile(key); found {
				st.sessionFile = path
				st.sessionReady = true
			} else {
				st.sessionFile = o.newSessionFile(key)
			}
			o.workers[key] = st
			ok = true
		}
	}
	if !ok {
		catalog := o.knownNamesLocked()
		o.mu.Unlock()
		return Outcome{
			Identity: key,
			Message:  fmt.Sprintf("%s %q; known workers: %s", ErrUnknownWorker, key, catalog),
		}
	}
	if err := o.beginRun(st, task); err != nil {
		o.mu.Unlock()
		if errors.Is(err, ErrWorkerBusy) {
			return Outcome{
				Identity: key,
				Message:  fmt.Sprintf("worker %q is already running; wait for it to finish", key),
			}
		}
		return Outcome{Identity: key, Message: err.Error()}
	}
	o.mu.Unlock()

	return o.execute(ctx, st, task)
}

// knownNamesLocked returns the addressable worker names, sorted. Caller must
// hold o.mu.
func (o *Orchestrator) knownNamesLocked() string {
	var names []string
	if len(o.roster) > 0 {
		names = append(names, o.roster...)
	} else {
		for name := range o.personas {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}
