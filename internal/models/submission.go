package models

import (
	"time"

	"github.com/google/uuid"
)

// Submission is a participant's drawing for a game. A participant may submit
// at most once per game; a second attempt is rejected, not overwritten.
type Submission struct {
	ID             uuid.UUID `json:"id"`
	GameID         uuid.UUID `json:"game_id"`
	ParticipantID  uuid.UUID `json:"participant_id"`
	ElementCount   int       `json:"element_count"`
	DrawingTimeSec int       `json:"drawing_time_sec"`
	CreatedAt      time.Time `json:"created_at"`
}
