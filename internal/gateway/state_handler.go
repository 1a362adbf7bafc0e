package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mgriffin/drawdash/internal/game"
)

// StateProvider serves authoritative game snapshots for the REST surface and
// for client reconnect refreshes.
type StateProvider interface {
	Snapshot(ctx context.Context, gameID uuid.UUID) (*game.Snapshot, error)
}

// GameStateResponse represents the complete state of a game
type GameStateResponse struct {
	GameID           string            `json:"game_id"`
	Phase            string            `json:"phase"`
	PhaseStartedAt   *time.Time        `json:"phase_started_at,omitempty"`
	PhaseExpiresAt   *time.Time        `json:"phase_expires_at,omitempty"`
	TimeRemaining    *int              `json:"time_remaining_sec,omitempty"`
	MinParticipants  int               `json:"min_participants"`
	Participants     []ParticipantInfo `json:"participants"`
	SubmissionCount  int               `json:"submission_count"`
	VoteCount        int               `json:"vote_count"`
	ConnectedUsers   []string          `json:"connected_users"`
	ServerTime       time.Time         `json:"server_time"`
}

// ParticipantInfo represents one active participant in the response
type ParticipantInfo struct {
	UserID   string    `json:"user_id"`
	IsReady  bool      `json:"is_ready"`
	JoinedAt time.Time `json:"joined_at"`
}

// StateHandler handles HTTP requests for game state
type StateHandler struct {
	stateProvider StateProvider
	presence      *ConnectionManager
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider, presence *ConnectionManager) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
		presence:      presence,
	}
}

// HandleGetGameState handles GET /api/games/{id}/state
func (h *StateHandler) HandleGetGameState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	gameIDStr := extractGameIDFromPath(r.URL.Path)
	if gameIDStr == "" {
		http.Error(w, "Game ID is required", http.StatusBadRequest)
		return
	}

	gameID, err := uuid.Parse(gameIDStr)
	if err != nil {
		http.Error(w, "Invalid game ID format", http.StatusBadRequest)
		return
	}

	snap, err := h.stateProvider.Snapshot(r.Context(), gameID)
	if err != nil {
		if errors.Is(err, game.ErrNotFound) {
			http.Error(w, "Game not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("game_id", gameID.String()).Msg("failed to get game state")
		http.Error(w, "Failed to get game state", http.StatusInternalServerError)
		return
	}

	resp := GameStateResponse{
		GameID:          snap.Game.ID.String(),
		Phase:           string(snap.Game.Phase),
		PhaseStartedAt:  snap.Game.PhaseStartedAt,
		PhaseExpiresAt:  snap.Game.PhaseExpiresAt,
		TimeRemaining:   snap.TimeRemainingSec,
		MinParticipants: snap.Game.MinParticipants,
		Participants:    make([]ParticipantInfo, 0, len(snap.Participants)),
		SubmissionCount: len(snap.Submissions),
		VoteCount:       len(snap.Votes),
		ServerTime:      time.Now().UTC(),
	}
	for _, p := range snap.Participants {
		if !p.Active() {
			continue
		}
		resp.Participants = append(resp.Participants, ParticipantInfo{
			UserID:   p.UserID,
			IsReady:  p.IsReady,
			JoinedAt: p.JoinedAt,
		})
	}
	if h.presence != nil {
		resp.ConnectedUsers = h.presence.Presence(gameID)
	}
	if resp.ConnectedUsers == nil {
		resp.ConnectedUsers = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode game state response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	// Pattern for game state - note the trailing slash
	mux.HandleFunc("/api/games/", func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Str("path", r.URL.Path).Msg("state handler received request")

		if len(r.URL.Path) > len("/api/games/") && r.URL.Path[len(r.URL.Path)-6:] == "/state" {
			h.HandleGetGameState(w, r)
		} else {
			http.NotFound(w, r)
		}
	})
}

// extractGameIDFromPath extracts game ID from path like /api/games/{id}/state
func extractGameIDFromPath(path string) string {
	const prefix = "/api/games/"
	const suffix = "/state"

	if len(path) <= len(prefix)+len(suffix) {
		return ""
	}

	if path[:len(prefix)] != prefix || path[len(path)-len(suffix):] != suffix {
		return ""
	}

	return path[len(prefix) : len(path)-len(suffix)]
}
