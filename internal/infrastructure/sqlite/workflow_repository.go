package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sgalabs/agentflow/internal/workflow"
)

// workflowRepository implements workflow.Repository using SQLite. Snapshots,
// settings, and history results are stored as JSON keyed by the composite
// unit key.
type workflowRepository struct {
	db *sql.DB
}

func newWorkflowRepository(db *sql.DB) *workflowRepository {
	return &workflowRepository{db: db}
}

// Ensure workflowRepository implements workflow.Repository.
var _ workflow.Repository = (*workflowRepository)(nil)

// SaveActive upserts the live snapshot for the unit.
func (r *workflowRepository) SaveActive(unit workflow.UnitKey, st workflow.State) error {
	snapshot, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO active_workflows (unit_key, snapshot, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(unit_key) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		unit.String(), string(snapshot), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// LoadActive returns the live snapshot for the unit, if one exists.
func (r *workflowRepository) LoadActive(unit workflow.UnitKey) (workflow.State, bool, error) {
	var raw string
	err := r.db.QueryRow(
		`SELECT snapshot FROM active_workflows WHERE unit_key = ?`, unit.String(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return workflow.State{}, false, nil
	}
	if err != nil {
		return workflow.State{}, false, fmt.Errorf("loading snapshot: %w", err)
	}
	var st workflow.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return workflow.State{}, false, fmt.Errorf("decoding snapshot: %w", err)
	}
	return st, true, nil
}

// ClearActive removes the live snapshot for the unit.
func (r *workflowRepository) ClearActive(unit workflow.UnitKey) error {
	if _, err := r.db.Exec(`DELETE FROM active_workflows WHERE unit_key = ?`, unit.String()); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}
	return nil
}

// SaveSettings upserts the unit's settings.
func (r *workflowRepository) SaveSettings(unit workflow.UnitKey, s workflow.Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO workflow_settings (unit_key, settings, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(unit_key) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at`,
		unit.String(), string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// LoadSettings returns the unit's settings, if any were saved.
func (r *workflowRepository) LoadSettings(unit workflow.UnitKey) (workflow.Settings, bool, error) {
	var raw string
	err := r.db.QueryRow(
		`SELECT settings FROM workflow_settings WHERE unit_key = ?`, unit.String(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading settings: %w", err)
	}
	var s workflow.Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, false, fmt.Errorf("decoding settings: %w", err)
	}
	return s, true, nil
}

// AppendHistory inserts an entry and trims the unit's history to capacity,
// evicting the lowest (oldest-inserted) ids first.
func (r *workflowRepository) AppendHistory(unit workflow.UnitKey, e workflow.HistoryEntry, capacity int) error {
	result, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Errorf("encoding history result: %w", err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("starting history transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO workflow_history (unit_key, run_id, result, created_at) VALUES (?, ?, ?, ?)`,
		unit.String(), e.RunID, string(result), createdAt.Unix(),
	); err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}

	if capacity > 0 {
		if _, err := tx.Exec(
			`DELETE FROM workflow_history
			 WHERE unit_key = ?
			   AND id NOT IN (
			       SELECT id FROM workflow_history WHERE unit_key = ? ORDER BY id DESC LIMIT ?
			   )`,
			unit.String(), unit.String(), capacity,
		); err != nil {
			return fmt.Errorf("trimming history: %w", err)
		}
	}

	return tx.Commit()
}

// History returns the unit's entries, most recent first.
func (r *workflowRepository) History(unit workflow.UnitKey) ([]workflow.HistoryEntry, error) {
	rows, err := r.db.Query(
		`SELECT id, run_id, result, created_at FROM workflow_history
		 WHERE unit_key = ? ORDER BY id DESC`,
		unit.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []workflow.HistoryEntry
	for rows.Next() {
		var (
			e         workflow.HistoryEntry
			raw       string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Result); err != nil {
			return nil, fmt.Errorf("decoding history result: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}
	return entries, nil
}

// ClearHistory removes all history for the unit.
func (r *workflowRepository) ClearHistory(unit workflow.UnitKey) error {
	if _, err := r.db.Exec(`DELETE FROM workflow_history WHERE unit_key = ?`, unit.String()); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

// ActiveUnits lists units that currently have a persisted snapshot.
func (r *workflowRepository) ActiveUnits() ([]workflow.UnitKey, error) {
	rows, err := r.db.Query(`SELECT unit_key FROM active_workflows ORDER BY unit_key`)
	if err != nil {
		return nil, fmt.Errorf("listing active units: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var units []workflow.UnitKey
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning unit key: %w", err)
		}
		unit, err := workflow.ParseUnitKey(key)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating unit keys: %w", err)
	}
	return units, nil
}
