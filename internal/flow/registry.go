package flow

import (
	"sync"

	"github.com/google/uuid"
)

// registry is the keyed per-game state owned by the controller: the in-flight
// marker and the transition history. Entries appear on first use and are
// dropped when the game reaches a terminal phase. It is deliberately not a
// package-level map; each controller instance owns its own.
type registry struct {
	mu      sync.Mutex
	flights map[uuid.UUID]Trigger
	records map[uuid.UUID][]TransitionRecord
}

func newRegistry() *registry {
	return &registry{
		flights: make(map[uuid.UUID]Trigger),
		records: make(map[uuid.UUID][]TransitionRecord),
	}
}

// tryAcquire claims the in-flight marker for a game. On success it returns a
// release func; on contention it returns the trigger of the current holder.
// The release func is safe to call after drop.
func (r *registry) tryAcquire(gameID uuid.UUID, trigger Trigger) (func(), Trigger, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, busy := r.flights[gameID]; busy {
		return nil, current, false
	}
	r.flights[gameID] = trigger
	release := func() {
		r.mu.Lock()
		delete(r.flights, gameID)
		r.mu.Unlock()
	}
	return release, "", true
}

func (r *registry) inFlight(gameID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.flights[gameID]
	return busy
}

func (r *registry) record(gameID uuid.UUID, rec TransitionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[gameID] = append(r.records[gameID], rec)
}

func (r *registry) history(gameID uuid.UUID) []TransitionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TransitionRecord, len(r.records[gameID]))
	copy(out, r.records[gameID])
	return out
}

// drop removes a completed game's history. The in-flight marker is left to the
// holder's release func.
func (r *registry) drop(gameID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, gameID)
}
