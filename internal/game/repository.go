package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mgriffin/drawdash/internal/models"
)

// uniqueViolation is the Postgres error code for unique_violation.
const uniqueViolation = "23505"

// Repository implements game data access on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new game repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const gameColumns = `id, phase, phase_started_at, phase_expires_at,
	briefing_sec, drawing_sec, voting_sec, results_sec,
	min_participants, created_at, updated_at`

func scanGame(row pgx.Row) (*models.Game, error) {
	var g models.Game
	err := row.Scan(
		&g.ID, &g.Phase, &g.PhaseStartedAt, &g.PhaseExpiresAt,
		&g.Durations.BriefingSec, &g.Durations.DrawingSec,
		&g.Durations.VotingSec, &g.Durations.ResultsSec,
		&g.MinParticipants, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateGame inserts a new game in the waiting phase.
func (r *Repository) CreateGame(ctx context.Context, req CreateGameRequest) (*models.Game, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO games (id, phase, briefing_sec, drawing_sec, voting_sec, results_sec, min_participants)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+gameColumns,
		req.ID, models.PhaseWaiting,
		req.Durations.BriefingSec, req.Durations.DrawingSec,
		req.Durations.VotingSec, req.Durations.ResultsSec,
		req.MinParticipants,
	)
	g, err := scanGame(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	return g, nil
}

// GetGame retrieves a game by ID.
func (r *Repository) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	g, err := scanGame(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return g, nil
}

// CompareAndSetPhase atomically moves the game from expectedFrom to to. The
// update only applies while the persisted phase still equals expectedFrom; a
// lost race surfaces as ErrConcurrentModification, never a partial write. The
// games table trigger notifies the change-feed on every successful update.
func (r *Repository) CompareAndSetPhase(ctx context.Context, id uuid.UUID, expectedFrom, to models.GamePhase, startedAt time.Time, expiresAt *time.Time) (*models.Game, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE games
		SET phase = $3, phase_started_at = $4, phase_expires_at = $5, updated_at = now()
		WHERE id = $1 AND phase = $2
		RETURNING `+gameColumns,
		id, expectedFrom, to, startedAt, expiresAt,
	)
	g, err := scanGame(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the game is gone or another writer already moved it.
			if _, getErr := r.GetGame(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrConcurrentModification
		}
		return nil, fmt.Errorf("failed to set phase: %w", err)
	}
	return g, nil
}

// PhaseCounts returns the aggregate counts the transition validator needs.
// Soft-deleted participants are excluded throughout.
func (r *Repository) PhaseCounts(ctx context.Context, gameID uuid.UUID) (PhaseCounts, error) {
	var c PhaseCounts
	err := r.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE p.left_at IS NULL),
			count(*) FILTER (WHERE p.left_at IS NULL AND p.is_ready),
			(SELECT count(*) FROM submissions s
				JOIN participants sp ON sp.id = s.participant_id
				WHERE s.game_id = $1 AND sp.left_at IS NULL),
			(SELECT count(*) FROM submissions s
				JOIN votes v ON v.game_id = s.game_id AND v.voter_id = s.participant_id
				WHERE s.game_id = $1)
		FROM participants p
		WHERE p.game_id = $1`,
		gameID,
	).Scan(&c.Participants, &c.Ready, &c.Submissions, &c.SubmittersVoted)
	if err != nil {
		return PhaseCounts{}, fmt.Errorf("failed to count phase facts: %w", err)
	}
	return c, nil
}

// CreateParticipant records a user joining a game.
func (r *Repository) CreateParticipant(ctx context.Context, gameID uuid.UUID, userID string) (*models.Participant, error) {
	var p models.Participant
	err := r.pool.QueryRow(ctx, `
		INSERT INTO participants (id, game_id, user_id)
		VALUES ($1, $2, $3)
		RETURNING id, game_id, user_id, is_ready, customization_ref, joined_at, left_at`,
		uuid.New(), gameID, userID,
	).Scan(&p.ID, &p.GameID, &p.UserID, &p.IsReady, &p.CustomizationRef, &p.JoinedAt, &p.LeftAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}
	return &p, nil
}

// GetParticipantByUser retrieves a game's active participant for a user.
func (r *Repository) GetParticipantByUser(ctx context.Context, gameID uuid.UUID, userID string) (*models.Participant, error) {
	var p models.Participant
	err := r.pool.QueryRow(ctx, `
		SELECT id, game_id, user_id, is_ready, customization_ref, joined_at, left_at
		FROM participants
		WHERE game_id = $1 AND user_id = $2 AND left_at IS NULL`,
		gameID, userID,
	).Scan(&p.ID, &p.GameID, &p.UserID, &p.IsReady, &p.CustomizationRef, &p.JoinedAt, &p.LeftAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return &p, nil
}

// SetParticipantReady updates the readiness flag and optional customization
// reference. Readiness is owned by the participant's own client; the flow
// controller only ever reads it.
func (r *Repository) SetParticipantReady(ctx context.Context, gameID uuid.UUID, userID string, ready bool, customizationRef *string) (*models.Participant, error) {
	var p models.Participant
	err := r.pool.QueryRow(ctx, `
		UPDATE participants
		SET is_ready = $3, customization_ref = COALESCE($4, customization_ref)
		WHERE game_id = $1 AND user_id = $2 AND left_at IS NULL
		RETURNING id, game_id, user_id, is_ready, customization_ref, joined_at, left_at`,
		gameID, userID, ready, customizationRef,
	).Scan(&p.ID, &p.GameID, &p.UserID, &p.IsReady, &p.CustomizationRef, &p.JoinedAt, &p.LeftAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update readiness: %w", err)
	}
	return &p, nil
}

// SoftDeleteParticipant marks a participant as having left. The row stays so
// existing submissions and votes remain attributable.
func (r *Repository) SoftDeleteParticipant(ctx context.Context, gameID uuid.UUID, userID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE participants SET left_at = now()
		WHERE game_id = $1 AND user_id = $2 AND left_at IS NULL`,
		gameID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListParticipants returns a game's active participants.
func (r *Repository) ListParticipants(ctx context.Context, gameID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, game_id, user_id, is_ready, customization_ref, joined_at, left_at
		FROM participants
		WHERE game_id = $1 AND left_at IS NULL
		ORDER BY joined_at`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.GameID, &p.UserID, &p.IsReady, &p.CustomizationRef, &p.JoinedAt, &p.LeftAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateSubmission records a participant's drawing. The unique constraint on
// (game_id, participant_id) makes a second submission fail rather than
// overwrite.
func (r *Repository) CreateSubmission(ctx context.Context, gameID, participantID uuid.UUID, elementCount, drawingTimeSec int) (*models.Submission, error) {
	var s models.Submission
	err := r.pool.QueryRow(ctx, `
		INSERT INTO submissions (id, game_id, participant_id, element_count, drawing_time_sec)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, game_id, participant_id, element_count, drawing_time_sec, created_at`,
		uuid.New(), gameID, participantID, elementCount, drawingTimeSec,
	).Scan(&s.ID, &s.GameID, &s.ParticipantID, &s.ElementCount, &s.DrawingTimeSec, &s.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateSubmission
		}
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}
	return &s, nil
}

// ListSubmissions returns all submissions for a game.
func (r *Repository) ListSubmissions(ctx context.Context, gameID uuid.UUID) ([]models.Submission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, game_id, participant_id, element_count, drawing_time_sec, created_at
		FROM submissions WHERE game_id = $1 ORDER BY created_at`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var out []models.Submission
	for rows.Next() {
		var s models.Submission
		if err := rows.Scan(&s.ID, &s.GameID, &s.ParticipantID, &s.ElementCount, &s.DrawingTimeSec, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSubmission retrieves a submission by ID.
func (r *Repository) GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	var s models.Submission
	err := r.pool.QueryRow(ctx, `
		SELECT id, game_id, participant_id, element_count, drawing_time_sec, created_at
		FROM submissions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.GameID, &s.ParticipantID, &s.ElementCount, &s.DrawingTimeSec, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &s, nil
}

// CreateVote records a vote. The unique constraint on (game_id, voter_id)
// enforces one vote per participant per game.
func (r *Repository) CreateVote(ctx context.Context, gameID, voterID, submissionID uuid.UUID) (*models.Vote, error) {
	var v models.Vote
	err := r.pool.QueryRow(ctx, `
		INSERT INTO votes (id, game_id, voter_id, submission_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, game_id, voter_id, submission_id, created_at`,
		uuid.New(), gameID, voterID, submissionID,
	).Scan(&v.ID, &v.GameID, &v.VoterID, &v.SubmissionID, &v.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateVote
		}
		return nil, fmt.Errorf("failed to create vote: %w", err)
	}
	return &v, nil
}

// ListVotes returns all votes for a game.
func (r *Repository) ListVotes(ctx context.Context, gameID uuid.UUID) ([]models.Vote, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, game_id, voter_id, submission_id, created_at
		FROM votes WHERE game_id = $1 ORDER BY created_at`,
		gameID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	var out []models.Vote
	for rows.Next() {
		var v models.Vote
		if err := rows.Scan(&v.ID, &v.GameID, &v.VoterID, &v.SubmissionID, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountVotesForSubmission returns the vote tally for one submission.
func (r *Repository) CountVotesForSubmission(ctx context.Context, submissionID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM votes WHERE submission_id = $1`, submissionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return n, nil
}

// WinnerSubmission returns the participant whose submission gathered the most
// votes; ties break on earliest submission. ok is false when the game has no
// submissions.
func (r *Repository) WinnerSubmission(ctx context.Context, gameID uuid.UUID) (uuid.UUID, bool, error) {
	var participantID uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT s.participant_id
		FROM submissions s
		LEFT JOIN votes v ON v.submission_id = s.id
		WHERE s.game_id = $1
		GROUP BY s.id, s.participant_id
		ORDER BY count(v.id) DESC, s.created_at ASC
		LIMIT 1`,
		gameID,
	).Scan(&participantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("failed to determine winner: %w", err)
	}
	return participantID, true, nil
}

// FetchNextPhaseDeadline returns the soonest phase expiry across all games in
// a timed phase, or nil when no game is on the clock.
func (r *Repository) FetchNextPhaseDeadline(ctx context.Context) (*PhaseDeadline, error) {
	var d PhaseDeadline
	err := r.pool.QueryRow(ctx, `
		SELECT id, phase_expires_at FROM games
		WHERE phase_expires_at IS NOT NULL
		ORDER BY phase_expires_at ASC
		LIMIT 1`,
	).Scan(&d.GameID, &d.Deadline)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch next deadline: %w", err)
	}
	return &d, nil
}

// FetchGamesDueForTransition returns games whose current timed phase has
// expired, capped at limit.
func (r *Repository) FetchGamesDueForTransition(ctx context.Context, limit int32) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM games
		WHERE phase_expires_at IS NOT NULL AND phase_expires_at <= now()
		ORDER BY phase_expires_at ASC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due games: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan due game: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
