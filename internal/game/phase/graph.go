package phase

import (
	"github.com/mgriffin/drawdash/internal/models"
)

// forward is the static adjacency of the phase graph. Each phase has at most
// one forward edge; cancellation is handled separately since every non-terminal
// phase may move to cancelled.
var forward = map[models.GamePhase]models.GamePhase{
	models.PhaseWaiting:  models.PhaseBriefing,
	models.PhaseBriefing: models.PhaseDrawing,
	models.PhaseDrawing:  models.PhaseVoting,
	models.PhaseVoting:   models.PhaseResults,
	models.PhaseResults:  models.PhaseCompleted,
}

// Next returns the single legal forward phase after p. The second return value
// is false for terminal phases.
func Next(p models.GamePhase) (models.GamePhase, bool) {
	next, ok := forward[p]
	return next, ok
}

// IsTerminal reports whether p has no outgoing edges.
func IsTerminal(p models.GamePhase) bool {
	return p == models.PhaseCompleted || p == models.PhaseCancelled
}

// CanTransition reports whether the (from, to) edge exists in the phase graph.
// It says nothing about preconditions; see Validate.
func CanTransition(from, to models.GamePhase) bool {
	if to == models.PhaseCancelled {
		return !IsTerminal(from)
	}
	return forward[from] == to
}
