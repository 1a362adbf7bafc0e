package client

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// UpdateStatus tracks the lifecycle of one optimistic update entry.
type UpdateStatus string

const (
	UpdatePending    UpdateStatus = "pending"
	UpdateConfirmed  UpdateStatus = "confirmed"
	UpdateRolledBack UpdateStatus = "rolled-back"
)

// ErrUnknownUpdate is returned for ids that are unknown or superseded.
var ErrUnknownUpdate = errors.New("unknown or superseded optimistic update")

type optimisticEntry struct {
	id       string
	field    string
	change   any
	baseline any
}

// OptimisticManager tracks locally predicted state changes ahead of server
// confirmation. One pending entry is tracked per logical field: a second
// apply before the first resolves supersedes the change but keeps the first
// write's rollback snapshot, so a rollback always restores the state from
// before the first unconfirmed write in the chain. Manager state is local to
// one client and never shared.
type OptimisticManager struct {
	mu      sync.Mutex
	byField map[string]*optimisticEntry
	byID    map[string]*optimisticEntry
}

// NewOptimisticManager creates an empty manager.
func NewOptimisticManager() *OptimisticManager {
	return &OptimisticManager{
		byField: make(map[string]*optimisticEntry),
		byID:    make(map[string]*optimisticEntry),
	}
}

// Apply records an optimistic change for a field and returns the entry id.
// The caller mutates its UI-facing state immediately; snapshot is the value to
// restore on rollback. Applying over a pending entry supersedes it: the old id
// becomes invalid and the original baseline is preserved.
func (m *OptimisticManager) Apply(field string, change, snapshot any) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	if prev, ok := m.byField[field]; ok {
		delete(m.byID, prev.id)
		snapshot = prev.baseline
	}
	e := &optimisticEntry{id: id, field: field, change: change, baseline: snapshot}
	m.byField[field] = e
	m.byID[id] = e
	return id
}

// Pending returns the predicted value for a field, if a pending entry exists.
func (m *OptimisticManager) Pending(field string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byField[field]
	if !ok {
		return nil, false
	}
	return e.change, true
}

// Confirm discards the rollback snapshot after a successful server round trip.
func (m *OptimisticManager) Confirm(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return ErrUnknownUpdate
	}
	delete(m.byID, id)
	delete(m.byField, e.field)
	return nil
}

// Rollback restores and returns the pre-update snapshot, used when the round
// trip fails or disagrees with the prediction.
func (m *OptimisticManager) Rollback(id string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrUnknownUpdate
	}
	delete(m.byID, id)
	delete(m.byField, e.field)
	return e.baseline, nil
}
