// Package store provides workflow persistence backends. The SQLite-backed
// repository lives in internal/infrastructure/sqlite; this package holds the
// in-memory fallback and the opener that degrades to it when the database
// cannot be opened.
package store

import (
	"github.com/sgalabs/agentflow/internal/infrastructure/sqlite"
	"github.com/sgalabs/agentflow/internal/log"
	"github.com/sgalabs/agentflow/internal/workflow"
)

// Opened bundles a repository with its cleanup function.
type Opened struct {
	Repo workflow.Repository
	// InMemory is true when the durable store was unavailable and state will
	// not survive a restart.
	InMemory bool
	close    func() error
}

// Close releases the underlying store, if any.
func (o *Opened) Close() error {
	if o.close != nil {
		return o.close()
	}
	return nil
}

// Open opens the SQLite-backed repository at path, falling back to a
// memory-only repository when the database cannot be opened. The fallback is
// deliberate: a broken local store should degrade the client, not stop it.
func Open(path string) *Opened {
	db, err := sqlite.NewDB(path)
	if err != nil {
		log.Warn(log.CatStore, "Falling back to in-memory store", "path", path, "error", err)
		return &Opened{Repo: NewMemoryRepository(), InMemory: true}
	}
	return &Opened{Repo: db.WorkflowRepository(), close: db.Close}
}
