package workflow

import (
	"context"

	"github.com/sgalabs/agentflow/internal/agentcore"
)

// Invoker is the remote boundary the controller depends on: two verbs, no
// more. *agentcore.Client satisfies it; tests substitute fakes.
type Invoker interface {
	Invoke(ctx context.Context, action string, args map[string]any) (agentcore.InvokeResponse, error)
	CheckStatus(ctx context.Context, handle string) (agentcore.StatusResponse, error)
}

// Settings is the user-chosen configuration for a unit's runs, persisted
// independently of any live run.
type Settings map[string]any

// Repository is the persistence capability the controller writes through.
// Implementations must tolerate concurrent processes only to the extent of
// last-writer-wins; no unit-level locking is provided.
type Repository interface {
	// SaveActive persists the live snapshot for the unit, replacing any
	// previous snapshot.
	SaveActive(unit UnitKey, st State) error
	// LoadActive returns the live snapshot for the unit, if one exists.
	LoadActive(unit UnitKey) (State, bool, error)
	// ClearActive removes the live snapshot for the unit.
	ClearActive(unit UnitKey) error

	// SaveSettings persists the unit's settings.
	SaveSettings(unit UnitKey, s Settings) error
	// LoadSettings returns the unit's settings, if any were saved.
	LoadSettings(unit UnitKey) (Settings, bool, error)

	// AppendHistory inserts a new entry for the unit and evicts the oldest
	// entries beyond capacity (FIFO by insertion).
	AppendHistory(unit UnitKey, e HistoryEntry, capacity int) error
	// History returns the unit's entries, most recent first.
	History(unit UnitKey) ([]HistoryEntry, error)
	// ClearHistory removes all history for the unit.
	ClearHistory(unit UnitKey) error

	// ActiveUnits lists units that currently have a persisted snapshot.
	ActiveUnits() ([]UnitKey, error)
}
