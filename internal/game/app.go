package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mgriffin/drawdash/internal/events"
	"github.com/mgriffin/drawdash/internal/gameerr"
	"github.com/mgriffin/drawdash/internal/models"
)

// GameRepository defines what the app layer needs from the repository.
type GameRepository interface {
	CreateGame(ctx context.Context, req CreateGameRequest) (*models.Game, error)
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	PhaseCounts(ctx context.Context, gameID uuid.UUID) (PhaseCounts, error)
	CreateParticipant(ctx context.Context, gameID uuid.UUID, userID string) (*models.Participant, error)
	GetParticipantByUser(ctx context.Context, gameID uuid.UUID, userID string) (*models.Participant, error)
	SetParticipantReady(ctx context.Context, gameID uuid.UUID, userID string, ready bool, customizationRef *string) (*models.Participant, error)
	SoftDeleteParticipant(ctx context.Context, gameID uuid.UUID, userID string) error
	ListParticipants(ctx context.Context, gameID uuid.UUID) ([]models.Participant, error)
	CreateSubmission(ctx context.Context, gameID, participantID uuid.UUID, elementCount, drawingTimeSec int) (*models.Submission, error)
	ListSubmissions(ctx context.Context, gameID uuid.UUID) ([]models.Submission, error)
	GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	CreateVote(ctx context.Context, gameID, voterID, submissionID uuid.UUID) (*models.Vote, error)
	ListVotes(ctx context.Context, gameID uuid.UUID) ([]models.Vote, error)
	CountVotesForSubmission(ctx context.Context, submissionID uuid.UUID) (int, error)
}

// Publisher defines what the app layer needs from the broadcast channel.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// App handles game participation business logic: joining, readiness,
// submissions, and votes. Phase transitions live in the flow controller.
type App struct {
	repo      GameRepository
	publisher Publisher
	clock     clockwork.Clock
}

// NewApp creates a new game App.
func NewApp(repo GameRepository, publisher Publisher, clock clockwork.Clock) *App {
	return &App{
		repo:      repo,
		publisher: publisher,
		clock:     clock,
	}
}

// CreateGame creates a new game in the waiting phase.
func (a *App) CreateGame(ctx context.Context, req CreateGameRequest) (*models.Game, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.MinParticipants < 2 {
		return nil, gameerr.New(gameerr.Validation, "a game needs at least two participants")
	}
	for _, secs := range []int{req.Durations.BriefingSec, req.Durations.DrawingSec, req.Durations.VotingSec, req.Durations.ResultsSec} {
		if secs <= 0 {
			return nil, gameerr.New(gameerr.Validation, "phase durations must be positive")
		}
	}
	g, err := a.repo.CreateGame(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	log.Info().Str("game_id", g.ID.String()).Msg("game created")
	return g, nil
}

// GetGame retrieves a game by ID.
func (a *App) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	return a.repo.GetGame(ctx, id)
}

// JoinGame adds a user to a game. Joining is only possible while the game is
// still waiting for players.
func (a *App) JoinGame(ctx context.Context, gameID uuid.UUID, userID string) (*models.Participant, error) {
	g, err := a.repo.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g.Phase != models.PhaseWaiting {
		return nil, gameerr.New(gameerr.GameState, fmt.Sprintf("cannot join a game in phase %s", g.Phase))
	}
	p, err := a.repo.CreateParticipant(ctx, gameID, userID)
	if err != nil {
		return nil, err
	}
	a.publish(ctx, events.TypePlayerJoined, gameID, userID, events.PlayerJoinedPayload{
		JoinedAt: p.JoinedAt,
		IsReady:  p.IsReady,
	})
	return p, nil
}

// LeaveGame soft-deletes a participant so they no longer count toward quorum.
func (a *App) LeaveGame(ctx context.Context, gameID uuid.UUID, userID string) error {
	if err := a.repo.SoftDeleteParticipant(ctx, gameID, userID); err != nil {
		return err
	}
	a.publish(ctx, events.TypePlayerLeft, gameID, userID, events.PlayerLeftPayload{})
	return nil
}

// SetReady updates a participant's readiness flag. Only the owning client
// calls this; the flow controller never mutates readiness.
func (a *App) SetReady(ctx context.Context, gameID uuid.UUID, userID string, ready bool, customizationRef *string) (*models.Participant, error) {
	p, err := a.repo.SetParticipantReady(ctx, gameID, userID, ready, customizationRef)
	if err != nil {
		return nil, err
	}
	a.publish(ctx, events.TypePlayerReady, gameID, userID, events.PlayerReadyPayload{
		IsReady:               p.IsReady,
		SelectedCustomization: p.CustomizationRef,
	})
	return p, nil
}

// SubmitDrawing records a participant's finished drawing. Submissions are only
// accepted during the drawing phase and at most once per participant.
func (a *App) SubmitDrawing(ctx context.Context, req SubmitDrawingRequest) (*models.Submission, error) {
	g, err := a.repo.GetGame(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	if g.Phase != models.PhaseDrawing {
		return nil, gameerr.New(gameerr.GameState, fmt.Sprintf("submissions are closed in phase %s", g.Phase))
	}
	p, err := a.repo.GetParticipantByUser(ctx, req.GameID, req.UserID)
	if err != nil {
		return nil, err
	}
	s, err := a.repo.CreateSubmission(ctx, req.GameID, p.ID, req.ElementCount, req.DrawingTimeSec)
	if err != nil {
		if errors.Is(err, ErrDuplicateSubmission) {
			return nil, gameerr.Wrap(gameerr.GameState, "drawing already submitted", err)
		}
		return nil, err
	}
	a.publish(ctx, events.TypeDrawingSubmitted, req.GameID, req.UserID, events.DrawingSubmittedPayload{
		SubmissionID:       s.ID.String(),
		ElementCount:       s.ElementCount,
		DrawingTimeSeconds: s.DrawingTimeSec,
	})
	return s, nil
}

// CastVote records a participant's vote. Votes are only accepted during the
// voting phase; a vote arriving after the phase closed is rejected, not
// retroactively counted. Participants may not vote for their own submission
// and may vote at most once.
func (a *App) CastVote(ctx context.Context, req CastVoteRequest) (*models.Vote, error) {
	g, err := a.repo.GetGame(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	if g.Phase != models.PhaseVoting {
		return nil, gameerr.New(gameerr.GameState, fmt.Sprintf("voting is closed in phase %s", g.Phase))
	}
	p, err := a.repo.GetParticipantByUser(ctx, req.GameID, req.UserID)
	if err != nil {
		return nil, err
	}
	s, err := a.repo.GetSubmission(ctx, req.SubmissionID)
	if err != nil {
		return nil, err
	}
	if s.GameID != req.GameID {
		return nil, gameerr.New(gameerr.Validation, "submission belongs to a different game")
	}
	if s.ParticipantID == p.ID {
		return nil, gameerr.New(gameerr.GameState, "cannot vote for your own submission")
	}
	v, err := a.repo.CreateVote(ctx, req.GameID, p.ID, req.SubmissionID)
	if err != nil {
		if errors.Is(err, ErrDuplicateVote) {
			return nil, gameerr.Wrap(gameerr.GameState, "vote already cast", err)
		}
		return nil, err
	}
	tally, err := a.repo.CountVotesForSubmission(ctx, req.SubmissionID)
	if err != nil {
		log.Error().Err(err).Str("submission_id", req.SubmissionID.String()).Msg("failed to tally votes for event")
		tally = 0
	}
	a.publish(ctx, events.TypeVoteCast, req.GameID, req.UserID, events.VoteCastPayload{
		SubmissionID: req.SubmissionID.String(),
		VoteCount:    tally,
	})
	return v, nil
}

// Snapshot assembles the full refresh payload for a game: the record plus all
// aggregates, and the remaining time on the current phase clock.
func (a *App) Snapshot(ctx context.Context, gameID uuid.UUID) (*Snapshot, error) {
	g, err := a.repo.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	participants, err := a.repo.ListParticipants(ctx, gameID)
	if err != nil {
		return nil, err
	}
	submissions, err := a.repo.ListSubmissions(ctx, gameID)
	if err != nil {
		return nil, err
	}
	votes, err := a.repo.ListVotes(ctx, gameID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Game:         *g,
		Participants: participants,
		Submissions:  submissions,
		Votes:        votes,
	}
	if g.PhaseExpiresAt != nil {
		remaining := int(g.PhaseExpiresAt.Sub(a.clock.Now()) / time.Second)
		if remaining < 0 {
			remaining = 0
		}
		snap.TimeRemainingSec = &remaining
	}
	return snap, nil
}

// publish sends an event to the broadcast channel. A failed broadcast never
// blocks game progress; every decision is re-derivable from persisted state.
func (a *App) publish(ctx context.Context, t events.Type, gameID uuid.UUID, userID string, payload any) {
	ev, err := events.New(t, gameID.String(), userID, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build event")
		return
	}
	if err := a.publisher.Publish(ctx, ev); err != nil {
		log.Error().
			Err(err).
			Str("event_type", string(t)).
			Str("game_id", gameID.String()).
			Msg("failed to publish event")
	}
}
