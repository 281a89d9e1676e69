package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
)

// PoolEntry is one row of the pool listing.
type PoolEntry struct {
	ID          int
	Status      Status
	Invocations int
	Task        string
}

// PoolCreate starts a new background worker and returns its numeric identity
// immediately; the run proceeds without blocking the caller and its outcome
// is delivered through the Notify callback.
func (o *Orchestrator) PoolCreate(ctx context.Context, personaName, task string) (int, error) {
	key := normalizeKey(personaName)

	o.mu.Lock()
	def, ok := o.personas[key]
	if !ok {
		catalog := o.knownNamesLocked()
		o.mu.Unlock()
		return 0, fmt.Errorf("%w %q; known workers: %s", ErrUnknownWorker, key, catalog)
	}
	id := o.nextPoolID
	st := &workerState{
		identity: strconv.Itoa(id),
		persona:  def,
		status:   StatusIdle,
	}
	st.sessionFile = o.newSessionFile("pool-" + st.identity)
	if err := o.beginRun(st, task); err != nil {
		o.mu.Unlock()
		return 0, err
	}
	o.nextPoolID++
	o.pool[id] = st
	o.mu.Unlock()

	slog.Info("pool worker created",
		slog.Int("id", id),
		slog.String("persona", key))
	go o.runBackground(ctx, st, task)
	return id, nil
}

// PoolContinue resumes a finished pool worker with a new task on its
// existing session, so the conversation carries forward. Rejected while the
// worker is still running.
func (o *Orchestrator) PoolContinue(ctx context.Context, id int, task string) error {
	o.mu.Lock()
	st, ok := o.pool[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrWorkerNotFound, id)
	}
	if err := o.beginRun(st, task); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("worker %d: %w", id, err)
	}
	o.mu.Unlock()

	go o.runBackground(ctx, st, task)
	return nil
}

// PoolRemove deletes a pool worker. A running subprocess is killed; its
// partial output is discarded along with the state.
func (o *Orchestrator) PoolRemove(id int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.pool[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrWorkerNotFound, id)
	}
	if st.cancel != nil {
		st.cancel()
	}
	delete(o.pool, id)
	slog.Info("pool worker removed", slog.Int("id", id))
	return nil
}

// PoolList returns every tracked pool worker, finished ones included, in
// identity order.
func (o *Orchestrator) PoolList() []PoolEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	entries := make([]PoolEntry, 0, len(o.pool))
	for id, st := range o.pool {
		entries = append(entries, PoolEntry{
			ID:          id,
			Status:      st.status,
			Invocations: st.invocations,
			Task:        st.task,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// runBackground executes a pool run and delivers its outcome asynchronously.
func (o *Orchestrator) runBackground(ctx context.Context, st *workerState, task string) {
	out := o.execute(ctx, st, task)
	if o.Notify != nil {
		o.Notify(Notification{Identity: st.identity, Outcome: out})
	}
}
