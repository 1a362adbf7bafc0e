package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mgriffin/drawdash/internal/flow"
	"github.com/mgriffin/drawdash/internal/game"
	"github.com/mgriffin/drawdash/internal/gameerr"
	"github.com/mgriffin/drawdash/internal/models"
)

// Service exposes game participation and manual phase control over JSON REST.
// Manual transitions go through the flow controller with the manual trigger,
// so they are subject to the same arbitration as timer transitions.
type Service struct {
	app  *game.App
	flow *flow.Controller
}

// NewService creates the game REST service.
func NewService(app *game.App, flowController *flow.Controller) *Service {
	return &Service{app: app, flow: flowController}
}

type joinRequest struct {
	UserID string `json:"user_id"`
}

type readyRequest struct {
	UserID                string  `json:"user_id"`
	IsReady               bool    `json:"is_ready"`
	SelectedCustomization *string `json:"selected_customization,omitempty"`
}

type submitRequest struct {
	UserID         string `json:"user_id"`
	ElementCount   int    `json:"element_count"`
	DrawingTimeSec int    `json:"drawing_time_sec"`
}

type voteRequest struct {
	UserID       string `json:"user_id"`
	SubmissionID string `json:"submission_id"`
}

type createGameRequest struct {
	BriefingSec     int `json:"briefing_sec"`
	DrawingSec      int `json:"drawing_sec"`
	VotingSec       int `json:"voting_sec"`
	ResultsSec      int `json:"results_sec"`
	MinParticipants int `json:"min_participants"`
}

type transitionRequest struct {
	TargetPhase    string `json:"target_phase,omitempty"`
	SkipValidation bool   `json:"skip_validation,omitempty"`
}

// RegisterRoutes registers the game REST routes with an HTTP mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/games", s.handleCreateGame)
	mux.HandleFunc("/api/games/", s.dispatch)
	log.Info().Msg("game routes registered")
}

// dispatch routes /api/games/{id}/<action> requests.
func (s *Service) dispatch(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/games/")
	idStr, action, _ := strings.Cut(rest, "/")

	gameID, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid game ID format", http.StatusBadRequest)
		return
	}

	switch action {
	case "":
		s.handleGetGame(w, r, gameID)
	case "join":
		s.handleJoin(w, r, gameID)
	case "leave":
		s.handleLeave(w, r, gameID)
	case "ready":
		s.handleReady(w, r, gameID)
	case "submit":
		s.handleSubmit(w, r, gameID)
	case "vote":
		s.handleVote(w, r, gameID)
	case "transition":
		s.handleTransition(w, r, gameID)
	case "history":
		s.handleHistory(w, r, gameID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Service) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	g, err := s.app.CreateGame(r.Context(), game.CreateGameRequest{
		Durations: models.PhaseDurations{
			BriefingSec: req.BriefingSec,
			DrawingSec:  req.DrawingSec,
			VotingSec:   req.VotingSec,
			ResultsSec:  req.ResultsSec,
		},
		MinParticipants: req.MinParticipants,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Service) handleGetGame(w http.ResponseWriter, r *http.Request, gameID uuid.UUID) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	g, err := s.app.GetGame(r.Context(), gameID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Service) handleJoin(w http.ResponseWriter, r *http.Request, gameID uuid.UUID) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	p, err := s.app.JoinGame(r.Context(), gameID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Service) handleLeave(w http.ResponseWriter, r *http.Request, gameID uuid.UUID) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if err := s.app.LeaveGame(r.Context(), gameID, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request, gameID uuid.UUID) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req readyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	p, err := s.app.SetReady(r.Context(), gameID, req.UserID, req.IsReady, req.SelectedCustomization)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request, gameID uuid.UUID) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	sub, err := s.app.SubmitDrawing(r.Context(), game.SubmitDrawingRequest{
		GameID:         gameID,
		UserID:         req.UserID,
		ElementCount:   req.ElementCount,
		DrawingTimeSec: req.DrawingTimeSec,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Service) handleVote(w http.ResponseWriter, r *http.Request, gameID uuid.UUID) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	submissionID, err := uuid.Parse(req.SubmissionID)
	if err != nil {
		http.Error(w, "invalid submission_id format", http.StatusBadRequest)
		return
	}
	v, err := s.app.CastVote(r.Context(), game.CastVoteRequest{
		GameID:       gameID,
		UserID:       req.UserID,
		SubmissionID: submissionID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Service) handleTransition(w http.ResponseWriter, r *http.Request, gameID uuid.UUID) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var result *flow.TransitionResult
	var err error
	if req.TargetPhase == "" {
		result, err = s.flow.TransitionToNextPhase(r.Context(), gameID, flow.TriggerManual)
	} else {
		result, err = s.flow.TransitionToPhase(r.Context(), gameID, models.GamePhase(req.TargetPhase), flow.TransitionOptions{
			Trigger:        flow.TriggerManual,
			SkipValidation: req.SkipValidation,
		})
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request, gameID uuid.UUID) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	records := s.flow.TransitionHistory(gameID)
	if records == nil {
		records = []flow.TransitionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]string{"error": "internal error"}

	if errors.Is(err, game.ErrNotFound) {
		status = http.StatusNotFound
		body["error"] = "not found"
	} else {
		var ge *gameerr.Error
		if errors.As(err, &ge) {
			body["category"] = string(ge.Category)
			body["error"] = ge.UserMessage
			switch ge.Category {
			case gameerr.Validation:
				status = http.StatusBadRequest
			case gameerr.Authentication:
				status = http.StatusUnauthorized
			case gameerr.Permission:
				status = http.StatusForbidden
			case gameerr.GameState, gameerr.ConcurrentModification:
				status = http.StatusConflict
			case gameerr.Timeout:
				status = http.StatusGatewayTimeout
			default:
				status = http.StatusInternalServerError
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		log.Error().Err(encErr).Msg("failed to encode error response")
	}
}
