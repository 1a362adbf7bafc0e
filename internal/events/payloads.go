package events

import (
	"time"

	"github.com/mgriffin/drawdash/internal/models"
)

// PlayerJoinedPayload is the payload for a player_joined event.
type PlayerJoinedPayload struct {
	JoinedAt time.Time `json:"joined_at"`
	IsReady  bool      `json:"is_ready"`
}

// PlayerLeftPayload is the payload for a player_left event.
type PlayerLeftPayload struct{}

// PlayerReadyPayload is the payload for a player_ready event.
type PlayerReadyPayload struct {
	IsReady               bool    `json:"is_ready"`
	SelectedCustomization *string `json:"selected_customization,omitempty"`
}

// PhaseChangedPayload is the payload for a phase_changed event.
type PhaseChangedPayload struct {
	PreviousPhase  models.GamePhase `json:"previous_phase"`
	NewPhase       models.GamePhase `json:"new_phase"`
	PhaseStartedAt time.Time        `json:"phase_started_at"`
}

// TimerSyncPayload is the payload for a timer_sync event. The client counts
// down from TimeRemaining; the server timeout stays authoritative.
type TimerSyncPayload struct {
	TimeRemaining int              `json:"time_remaining_sec"`
	Phase         models.GamePhase `json:"phase"`
	TotalDuration int              `json:"total_duration_sec"`
	ServerTime    time.Time        `json:"server_time"`
}

// DrawingSubmittedPayload is the payload for a drawing_submitted event.
type DrawingSubmittedPayload struct {
	SubmissionID       string `json:"submission_id"`
	ElementCount       int    `json:"element_count"`
	DrawingTimeSeconds int    `json:"drawing_time_seconds"`
}

// VoteCastPayload is the payload for a vote_cast event.
type VoteCastPayload struct {
	SubmissionID string `json:"submission_id"`
	VoteCount    int    `json:"vote_count"`
}

// GameCompletedPayload is the payload for a game_completed event.
type GameCompletedPayload struct {
	WinnerID string `json:"winner_id"`
}

// ConnectionStatusPayload is the payload for a connection_status event.
type ConnectionStatusPayload struct {
	Status string `json:"status"`
}
