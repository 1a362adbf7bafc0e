package models

import (
	"time"

	"github.com/google/uuid"
)

// GamePhase defines the lifecycle phase of a game.
type GamePhase string

const (
	PhaseWaiting   GamePhase = "waiting"
	PhaseBriefing  GamePhase = "briefing"
	PhaseDrawing   GamePhase = "drawing"
	PhaseVoting    GamePhase = "voting"
	PhaseResults   GamePhase = "results"
	PhaseCompleted GamePhase = "completed"
	PhaseCancelled GamePhase = "cancelled"
)

// PhaseDurations holds the configured duration (in seconds) for each timed phase.
type PhaseDurations struct {
	BriefingSec int `json:"briefing_sec" yaml:"briefing_sec"`
	DrawingSec  int `json:"drawing_sec" yaml:"drawing_sec"`
	VotingSec   int `json:"voting_sec" yaml:"voting_sec"`
	ResultsSec  int `json:"results_sec" yaml:"results_sec"`
}

// For returns the configured duration for a phase. The second return value is
// false for untimed phases (waiting, completed, cancelled).
func (d PhaseDurations) For(p GamePhase) (time.Duration, bool) {
	var secs int
	switch p {
	case PhaseBriefing:
		secs = d.BriefingSec
	case PhaseDrawing:
		secs = d.DrawingSec
	case PhaseVoting:
		secs = d.VotingSec
	case PhaseResults:
		secs = d.ResultsSec
	default:
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// Game represents a game instance. PhaseStartedAt and PhaseExpiresAt are nil
// for untimed phases; for timed phases PhaseExpiresAt is always
// PhaseStartedAt plus the configured duration.
type Game struct {
	ID              uuid.UUID      `json:"id"`
	Phase           GamePhase      `json:"phase"`
	PhaseStartedAt  *time.Time     `json:"phase_started_at,omitempty"`
	PhaseExpiresAt  *time.Time     `json:"phase_expires_at,omitempty"`
	Durations       PhaseDurations `json:"durations"`
	MinParticipants int            `json:"min_participants"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
