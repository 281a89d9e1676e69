package orchestrate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/crewkit/crew/internal/config"
)

// poolRecord is the on-disk form of one pool worker, persisted so pool
// identities and their session handles survive across processes.
type poolRecord struct {
	ID           int    `json:"id"`
	Persona      string `json:"persona"`
	Task         string `json:"task"`
	Status       Status `json:"status"`
	Invocations  int    `json:"invocations"`
	SessionFile  string `json:"session_file"`
	SessionReady bool   `json:"session_ready"`
}

type poolFile struct {
	NextID  int          `json:"next_id"`
	Workers []poolRecord `json:"workers"`
}

// SavePool persists the pool to the workspace. Running workers are recorded
// as running; RestorePool in a fresh process downgrades them, since their
// subprocesses died with their owner.
func (o *Orchestrator) SavePool() error {
	o.mu.Lock()
	pf := poolFile{NextID: o.nextPoolID}
	for id, st := range o.pool {
		pf.Workers = append(pf.Workers, poolRecord{
			ID:           id,
			Persona:      st.persona.Name,
			Task:         st.task,
			Status:       st.status,
			Invocations:  st.invocations,
			SessionFile:  st.sessionFile,
			SessionReady: st.sessionReady,
		})
	}
	path := o.ws.PoolStatePath()
	o.mu.Unlock()

	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding pool state: %w", err)
	}
	return config.WriteFileAtomic(path, data, 0o644)
}

// RestorePool loads persisted pool workers. A missing state file is an empty
// pool. Workers recorded as running belonged to a dead process and come back
// as error; workers whose persona no longer loads are dropped with a warning.
func (o *Orchestrator) RestorePool() error {
	data, err := os.ReadFile(o.ws.PoolStatePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading pool state: %w", err)
	}
	var pf poolFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("decoding pool state: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if pf.NextID > o.nextPoolID {
		o.nextPoolID = pf.NextID
	}
	for _, rec := range pf.Workers {
		def, ok := o.personas[rec.Persona]
		if !ok {
			slog.Warn("pool worker persona no longer exists",
				slog.Int("id", rec.ID),
				slog.String("persona", rec.Persona))
			continue
		}
		status := rec.Status
		if status == StatusRunning {
			status = StatusError
		}
		st := &workerState{
			identity:     strconv.Itoa(rec.ID),
			persona:      def,
			status:       status,
			task:         rec.Task,
			sessionFile:  rec.SessionFile,
			sessionReady: rec.SessionReady,
			invocations:  rec.Invocations,
		}
		o.pool[rec.ID] = st
	}
	return nil
}
