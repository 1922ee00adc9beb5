package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowloom/workflowengine/pkg/workflow"
)

// Checkpoint is a point-in-time capture of one instance's tiers, version,
// and checkpoint timestamp — used by debug paths that snapshot/restore
// workflow state (spec §4.3's optional Checkpoints clause).
type Checkpoint struct {
	WorkflowID string
	Version    int
	Snapshot   workflow.StateSnapshot
	CapturedAt time.Time
}

// PersistenceStore durably stores Checkpoints. Implementations may omit
// real persistence entirely (spec explicitly allows this); Manager works
// correctly with a nil store.
type PersistenceStore interface {
	Save(chk Checkpoint) error
	Load(workflowID string) (Checkpoint, bool, error)
	Delete(workflowID string) error
}

// Checkpoint captures the instance's current tiers and version and hands
// them to the configured PersistenceStore, if any.
func (m *Manager) Checkpoint(workflowID string) (Checkpoint, *workflow.EngineError) {
	m.mu.RLock()
	inst, ok := m.instances[workflowID]
	if !ok {
		m.mu.RUnlock()
		return Checkpoint{}, &workflow.EngineError{Code: workflow.ErrNotFound, Message: "unknown workflow_id: " + workflowID}
	}
	chk := Checkpoint{
		WorkflowID: workflowID,
		Version:    inst.version,
		Snapshot:   m.readLocked(inst),
		CapturedAt: checkpointTime(),
	}
	m.mu.RUnlock()

	if m.persistence != nil {
		if err := m.persistence.Save(chk); err != nil {
			return Checkpoint{}, &workflow.EngineError{Code: workflow.ErrInvalidInput, Message: "checkpoint save failed: " + err.Error()}
		}
	}
	return chk, nil
}

// Restore replaces an instance's tiers and version from a previously taken
// Checkpoint, rebuilding its computed-field graph from schema (the schema
// itself is not part of a checkpoint — it comes from the still-loaded
// workflow definition).
func (m *Manager) Restore(workflowID string, chk Checkpoint, schema workflow.StateSchema) *workflow.EngineError {
	graph, engErr := buildComputedGraph(schema)
	if engErr != nil {
		return engErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[workflowID] = &instanceState{
		inputs:   deepCopyMap(chk.Snapshot.Inputs),
		state:    deepCopyMap(chk.Snapshot.State),
		computed: deepCopyMap(chk.Snapshot.Computed),
		version:  chk.Version,
		graph:    graph,
		schema:   schema,
	}
	return nil
}

// checkpointTime exists so Checkpoint's captured-at timestamp has a single
// call site; it is a thin wrapper rather than an inline time.Now() only so
// tests can substitute a fixed clock if ever needed.
func checkpointTime() time.Time {
	return time.Now()
}

// InMemoryStore is the default PersistenceStore: checkpoints live only for
// the process lifetime, guarded by a mutex like this codebase's other
// in-process caches.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]Checkpoint
}

// NewInMemoryStore constructs an InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]Checkpoint)}
}

func (s *InMemoryStore) Save(chk Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[chk.WorkflowID] = chk
	return nil
}

func (s *InMemoryStore) Load(workflowID string) (Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chk, ok := s.items[workflowID]
	return chk, ok, nil
}

func (s *InMemoryStore) Delete(workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, workflowID)
	return nil
}

// SQLiteStore persists Checkpoints to a single `workflow_checkpoints` table,
// each row holding the full tier set as a JSON blob. This is the debug-path
// persistence option named in the observability configuration; production
// deployments are expected to run with the in-memory default.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a sqlite database at path and
// ensures the checkpoint table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite checkpoint store: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS workflow_checkpoints (
	workflow_id  TEXT PRIMARY KEY,
	version      INTEGER NOT NULL,
	snapshot_json TEXT NOT NULL,
	created_at   TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type checkpointRow struct {
	Snapshot workflow.StateSnapshot `json:"snapshot"`
}

func (s *SQLiteStore) Save(chk Checkpoint) error {
	blob, err := json.Marshal(checkpointRow{Snapshot: chk.Snapshot})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = s.db.Exec(`
INSERT INTO workflow_checkpoints (workflow_id, version, snapshot_json, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(workflow_id) DO UPDATE SET version=excluded.version, snapshot_json=excluded.snapshot_json, created_at=excluded.created_at`,
		chk.WorkflowID, chk.Version, string(blob), chk.CapturedAt.Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStore) Load(workflowID string) (Checkpoint, bool, error) {
	row := s.db.QueryRow(`SELECT version, snapshot_json, created_at FROM workflow_checkpoints WHERE workflow_id = ?`, workflowID)
	var version int
	var blob, createdAt string
	if err := row.Scan(&version, &blob, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	var payload checkpointRow
	if err := json.Unmarshal([]byte(blob), &payload); err != nil {
		return Checkpoint{}, false, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	capturedAt, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Checkpoint{}, false, err
	}
	return Checkpoint{
		WorkflowID: workflowID,
		Version:    version,
		Snapshot:   payload.Snapshot,
		CapturedAt: capturedAt,
	}, true, nil
}

func (s *SQLiteStore) Delete(workflowID string) error {
	_, err := s.db.Exec(`DELETE FROM workflow_checkpoints WHERE workflow_id = ?`, workflowID)
	return err
}
