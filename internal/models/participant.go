package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant represents a player in a game. LeftAt marks a soft delete;
// soft-deleted participants do not count toward quorum. The IsReady flag is
// owned by the participant's own client and never mutated by the server's
// transition logic.
type Participant struct {
	ID               uuid.UUID  `json:"id"`
	GameID           uuid.UUID  `json:"game_id"`
	UserID           string     `json:"user_id"`
	IsReady          bool       `json:"is_ready"`
	CustomizationRef *string    `json:"customization_ref,omitempty"`
	JoinedAt         time.Time  `json:"joined_at"`
	LeftAt           *time.Time `json:"left_at,omitempty"`
}

// Active reports whether the participant still counts toward quorum.
func (p Participant) Active() bool {
	return p.LeftAt == nil
}
