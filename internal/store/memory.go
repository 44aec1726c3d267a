package store

import (
	"strings"
	"sync"
	"sync/atomic"

	gocache "github.com/patrickmn/go-cache"

	"github.com/sgalabs/agentflow/internal/workflow"
)

const (
	activePrefix   = "active:"
	settingsPrefix = "settings:"
	historyPrefix  = "history:"
)

// MemoryRepository is a workflow.Repository held entirely in memory. It backs
// tests and the degraded mode entered when the SQLite store cannot be opened.
type MemoryRepository struct {
	mu     sync.Mutex
	cache  *gocache.Cache
	nextID atomic.Int64
}

// Ensure MemoryRepository implements workflow.Repository.
var _ workflow.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{cache: gocache.New(gocache.NoExpiration, 0)}
}

// SaveActive stores the live snapshot for the unit.
func (r *MemoryRepository) SaveActive(unit workflow.UnitKey, st workflow.State) error {
	r.cache.Set(activePrefix+unit.String(), st, gocache.NoExpiration)
	return nil
}

// LoadActive returns the live snapshot for the unit, if present.
func (r *MemoryRepository) LoadActive(unit workflow.UnitKey) (workflow.State, bool, error) {
	v, ok := r.cache.Get(activePrefix + unit.String())
	if !ok {
		return workflow.State{}, false, nil
	}
	return v.(workflow.State), true, nil
}

// ClearActive removes the live snapshot for the unit.
func (r *MemoryRepository) ClearActive(unit workflow.UnitKey) error {
	r.cache.Delete(activePrefix + unit.String())
	return nil
}

// SaveSettings stores the unit's settings.
func (r *MemoryRepository) SaveSettings(unit workflow.UnitKey, s workflow.Settings) error {
	r.cache.Set(settingsPrefix+unit.String(), s, gocache.NoExpiration)
	return nil
}

// LoadSettings returns the unit's settings, if present.
func (r *MemoryRepository) LoadSettings(unit workflow.UnitKey) (workflow.Settings, bool, error) {
	v, ok := r.cache.Get(settingsPrefix + unit.String())
	if !ok {
		return nil, false, nil
	}
	return v.(workflow.Settings), true, nil
}

// AppendHistory inserts an entry and evicts the oldest beyond capacity.
// Eviction is FIFO by insertion order, not completion time.
func (r *MemoryRepository) AppendHistory(unit workflow.UnitKey, e workflow.HistoryEntry, capacity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.ID = r.nextID.Add(1)
	key := historyPrefix + unit.String()
	var entries []workflow.HistoryEntry
	if v, ok := r.cache.Get(key); ok {
		entries = v.([]workflow.HistoryEntry)
	}
	// Most recent first.
	entries = append([]workflow.HistoryEntry{e}, entries...)
	if capacity > 0 && len(entries) > capacity {
		entries = entries[:capacity]
	}
	r.cache.Set(key, entries, gocache.NoExpiration)
	return nil
}

// History returns the unit's entries, most recent first.
func (r *MemoryRepository) History(unit workflow.UnitKey) ([]workflow.HistoryEntry, error) {
	v, ok := r.cache.Get(historyPrefix + unit.String())
	if !ok {
		return nil, nil
	}
	entries := v.([]workflow.HistoryEntry)
	out := make([]workflow.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// ClearHistory removes all history for the unit.
func (r *MemoryRepository) ClearHistory(unit workflow.UnitKey) error {
	r.cache.Delete(historyPrefix + unit.String())
	return nil
}

// ActiveUnits lists units that currently have a live snapshot.
func (r *MemoryRepository) ActiveUnits() ([]workflow.UnitKey, error) {
	var units []workflow.UnitKey
	for key := range r.cache.Items() {
		if !strings.HasPrefix(key, activePrefix) {
			continue
		}
		unit, err := workflow.ParseUnitKey(strings.TrimPrefix(key, activePrefix))
		if err != nil {
			continue
		}
		units = append(units, unit)
	}
	return units, nil
}
