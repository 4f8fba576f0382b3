package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aibozo/codeurv2/pkg/models"
)

// ErrNotFound is returned by Store.Load when requestID has no persisted row.
var ErrNotFound = errors.New("orchestrator: fsm state not found")

// Store persists FSMState rows to the fsm_states table, mirroring
// pkg/registry's hand-written-SQL-over-database/sql style (no ORM).
type Store struct {
	db *sql.DB
}

// NewStore wraps db for FSM state persistence.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts the FSM's snapshot, keeping one row per request_id.
func (s *Store) Save(ctx context.Context, snap models.FSMState) error {
	pending, err := json.Marshal(snap.PendingTaskIDs)
	if err != nil {
		return fmt.Errorf("marshal pending task ids: %w", err)
	}
	hints, err := json.Marshal(snap.RegressionHints)
	if err != nil {
		return fmt.Errorf("marshal regression hints: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fsm_states (request_id, state, pending_task_ids, regression_hints, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (request_id) DO UPDATE
		SET state = EXCLUDED.state,
		    pending_task_ids = EXCLUDED.pending_task_ids,
		    regression_hints = EXCLUDED.regression_hints,
		    updated_at = now()
	`, snap.RequestID, string(snap.State), pending, hints)
	if err != nil {
		return fmt.Errorf("save fsm state for %s: %w", snap.RequestID, err)
	}
	return nil
}

// Load fetches the persisted FSMState for requestID.
func (s *Store) Load(ctx context.Context, requestID string) (models.FSMState, error) {
	var (
		snap            models.FSMState
		state           string
		pending, hints  []byte
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, state, pending_task_ids, regression_hints, updated_at
		FROM fsm_states WHERE request_id = $1
	`, requestID)
	if err := row.Scan(&snap.RequestID, &state, &pending, &hints, &snap.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.FSMState{}, ErrNotFound
		}
		return models.FSMState{}, fmt.Errorf("load fsm state for %s: %w", requestID, err)
	}
	snap.State = models.FSMStateName(state)
	if err := json.Unmarshal(pending, &snap.PendingTaskIDs); err != nil {
		return models.FSMState{}, fmt.Errorf("decode pending task ids: %w", err)
	}
	if err := json.Unmarshal(hints, &snap.RegressionHints); err != nil {
		return models.FSMState{}, fmt.Errorf("decode regression hints: %w", err)
	}
	return snap, nil
}

// LoadAll fetches every persisted FSMState, used at startup to repopulate
// the in-memory Engine registry.
func (s *Store) LoadAll(ctx context.Context) ([]models.FSMState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, state, pending_task_ids, regression_hints, updated_at
		FROM fsm_states
	`)
	if err != nil {
		return nil, fmt.Errorf("load all fsm states: %w", err)
	}
	defer rows.Close()

	var out []models.FSMState
	for rows.Next() {
		var (
			snap           models.FSMState
			state          string
			pending, hints []byte
		)
		if err := rows.Scan(&snap.RequestID, &state, &pending, &hints, &snap.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fsm state row: %w", err)
		}
		snap.State = models.FSMStateName(state)
		if err := json.Unmarshal(pending, &snap.PendingTaskIDs); err != nil {
			return nil, fmt.Errorf("decode pending task ids: %w", err)
		}
		if err := json.Unmarshal(hints, &snap.RegressionHints); err != nil {
			return nil, fmt.Errorf("decode regression hints: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
