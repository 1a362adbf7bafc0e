package models

import (
	"time"

	"github.com/google/uuid"
)

// Vote is a participant's single vote for a submission. A participant may not
// vote for their own submission.
type Vote struct {
	ID           uuid.UUID `json:"id"`
	GameID       uuid.UUID `json:"game_id"`
	VoterID      uuid.UUID `json:"voter_id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	CreatedAt    time.Time `json:"created_at"`
}
