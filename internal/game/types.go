package game

import (
	"time"

	"github.com/google/uuid"
	"github.com/mgriffin/drawdash/internal/models"
)

// CreateGameRequest represents a request to create a new game.
type CreateGameRequest struct {
	ID              uuid.UUID             `json:"id"`
	Durations       models.PhaseDurations `json:"durations"`
	MinParticipants int                   `json:"min_participants"`
}

// SubmitDrawingRequest represents a participant's finished drawing.
type SubmitDrawingRequest struct {
	GameID         uuid.UUID `json:"game_id"`
	UserID         string    `json:"user_id"`
	ElementCount   int       `json:"element_count"`
	DrawingTimeSec int       `json:"drawing_time_sec"`
}

// CastVoteRequest represents a participant's vote for a submission.
type CastVoteRequest struct {
	GameID       uuid.UUID `json:"game_id"`
	UserID       string    `json:"user_id"`
	SubmissionID uuid.UUID `json:"submission_id"`
}

// PhaseCounts are the aggregate counts the transition validator needs.
type PhaseCounts struct {
	Participants    int
	Ready           int
	Submissions     int
	SubmittersVoted int
}

// PhaseDeadline is the soonest phase expiry across all games in a timed phase.
type PhaseDeadline struct {
	GameID   uuid.UUID  `json:"game_id"`
	Deadline *time.Time `json:"deadline"`
}

// Snapshot is the full refresh payload clients reconcile against. Handlers
// replace their local aggregates with it wholesale; they never increment.
type Snapshot struct {
	Game             models.Game          `json:"game"`
	Participants     []models.Participant `json:"participants"`
	Submissions      []models.Submission  `json:"submissions"`
	Votes            []models.Vote        `json:"votes"`
	TimeRemainingSec *int                 `json:"time_remaining_sec,omitempty"`
}
