package phase

import (
	"fmt"

	"github.com/mgriffin/drawdash/internal/models"
)

// Facts are the live game facts a precondition is evaluated against. They are
// a point-in-time snapshot; validation performs no mutation.
type Facts struct {
	Participants    int  // active (non-deleted) participants
	Ready           int  // active participants with readiness = true
	Submissions     int  // submissions by active participants
	SubmittersVoted int  // submitters who have cast their vote
	MinParticipants int  // game constant
	PhaseElapsed    bool // now >= phase_expires_at for the current phase
}

// PreconditionError names the unmet precondition for a legal edge.
type PreconditionError struct {
	From      models.GamePhase
	To        models.GamePhase
	Condition string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition not met for %s -> %s: %s", e.From, e.To, e.Condition)
}

// InvalidTransitionError reports a (from, to) pair absent from the phase graph.
type InvalidTransitionError struct {
	From models.GamePhase
	To   models.GamePhase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// Validate decides whether the (from, to) edge may be taken given the facts.
// It returns *InvalidTransitionError for edges not in the graph and
// *PreconditionError when the edge exists but its precondition does not hold.
func Validate(from, to models.GamePhase, f Facts) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	if to == models.PhaseCancelled {
		return nil
	}

	switch from {
	case models.PhaseWaiting:
		if f.Participants < f.MinParticipants {
			return &PreconditionError{From: from, To: to,
				Condition: fmt.Sprintf("need at least %d participants, have %d", f.MinParticipants, f.Participants)}
		}
		if f.Ready < f.Participants {
			return &PreconditionError{From: from, To: to,
				Condition: fmt.Sprintf("all participants must be ready, %d of %d are", f.Ready, f.Participants)}
		}
	case models.PhaseBriefing:
		// Unconditional once the briefing duration elapses; every participant
		// flagging ready again counts as a unanimous skip.
		if !f.PhaseElapsed && f.Ready < f.Participants {
			return &PreconditionError{From: from, To: to,
				Condition: "briefing has not elapsed and not all participants skipped"}
		}
	case models.PhaseDrawing:
		if f.Submissions == 0 {
			return &PreconditionError{From: from, To: to,
				Condition: "no submissions yet"}
		}
	case models.PhaseVoting:
		// Either everyone who submitted has voted or the voting window closed.
		if !f.PhaseElapsed && f.SubmittersVoted < f.Submissions {
			return &PreconditionError{From: from, To: to,
				Condition: fmt.Sprintf("voting still open, %d of %d submitters voted", f.SubmittersVoted, f.Submissions)}
		}
	case models.PhaseResults:
		if !f.PhaseElapsed {
			return &PreconditionError{From: from, To: to,
				Condition: "results duration has not elapsed"}
		}
	}
	return nil
}
