package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/chess-pairings/models"
	"github.com/lib/pq"
)

var (
	ErrMatchNotFound           = errors.New("match not found")
	ErrMatchRoundInvalid       = errors.New("match round conflict or invalid")
	ErrMatchParticipantInvalid = errors.New("match participant conflict or invalid")
	// ErrMatchBoardConflict возвращается при нарушении уникальности (round_id, board_no).
	// Уникальный индекс закрывает гонку конкурирующих генераций между процессами.
	ErrMatchBoardConflict = errors.New("match board number already taken in this round")
)

type MatchRepository interface {
	Create(ctx context.Context, exec SQLExecutor, match *models.Match) error
	GetByID(ctx context.Context, id int) (*models.Match, error)
	ListByRound(ctx context.Context, roundID int) ([]*models.Match, error)
	// ListByTournamentBeforeRound возвращает партии всех туров с номером
	// меньше заданного — источник набранных очков для входного документа.
	ListByTournamentBeforeRound(ctx context.Context, tournamentID, beforeRoundNumber int) ([]*models.Match, error)
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error)
	UpdateResult(ctx context.Context, exec SQLExecutor, id int, result models.MatchResult, scoreWhite, scoreBlack float64) error
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) Create(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	query := `
		INSERT INTO matches (round_id, white_participant_id, black_participant_id, board_no, result, score_white, score_black, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := exec.QueryRowContext(ctx, query,
		match.RoundID,
		match.WhiteParticipantID,
		match.BlackParticipantID,
		match.BoardNo,
		match.Result,
		match.ScoreWhite,
		match.ScoreBlack,
		match.Source,
	).Scan(&match.ID)

	return r.handleMatchError(err)
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, id int) (*models.Match, error) {
	query := `
		SELECT id, round_id, white_participant_id, black_participant_id, board_no, result, score_white, score_black, source
		FROM matches
		WHERE id = $1`

	match := &models.Match{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&match.ID,
		&match.RoundID,
		&match.WhiteParticipantID,
		&match.BlackParticipantID,
		&match.BoardNo,
		&match.Result,
		&match.ScoreWhite,
		&match.ScoreBlack,
		&match.Source,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match by id %d: %w", id, err)
	}
	return match, nil
}

func (r *postgresMatchRepository) ListByRound(ctx context.Context, roundID int) ([]*models.Match, error) {
	query := `
		SELECT id, round_id, white_participant_id, black_participant_id, board_no, result, score_white, score_black, source
		FROM matches
		WHERE round_id = $1
		ORDER BY board_no ASC, id ASC`

	return r.queryMatches(ctx, query, roundID)
}

func (r *postgresMatchRepository) ListByTournamentBeforeRound(ctx context.Context, tournamentID, beforeRoundNumber int) ([]*models.Match, error) {
	query := `
		SELECT m.id, m.round_id, m.white_participant_id, m.black_participant_id, m.board_no, m.result, m.score_white, m.score_black, m.source
		FROM matches m
		JOIN rounds r ON r.id = m.round_id
		WHERE r.tournament_id = $1 AND r.number < $2
		ORDER BY r.number ASC, m.board_no ASC`

	return r.queryMatches(ctx, query, tournamentID, beforeRoundNumber)
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error) {
	query := `
		SELECT m.id, m.round_id, m.white_participant_id, m.black_participant_id, m.board_no, m.result, m.score_white, m.score_black, m.source
		FROM matches m
		JOIN rounds r ON r.id = m.round_id
		WHERE r.tournament_id = $1
		ORDER BY r.number ASC, m.board_no ASC`

	return r.queryMatches(ctx, query, tournamentID)
}

func (r *postgresMatchRepository) UpdateResult(ctx context.Context, exec SQLExecutor, id int, result models.MatchResult, scoreWhite, scoreBlack float64) error {
	query := `UPDATE matches SET result = $1, score_white = $2, score_black = $3 WHERE id = $4`
	res, err := exec.ExecContext(ctx, query, result, scoreWhite, scoreBlack, id)
	if err != nil {
		return fmt.Errorf("failed to update result for match %d: %w", id, err)
	}
	return checkAffectedRows(res, ErrMatchNotFound)
}

func (r *postgresMatchRepository) queryMatches(ctx context.Context, query string, args ...interface{}) ([]*models.Match, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		var match models.Match
		if scanErr := rows.Scan(
			&match.ID,
			&match.RoundID,
			&match.WhiteParticipantID,
			&match.BlackParticipantID,
			&match.BoardNo,
			&match.Result,
			&match.ScoreWhite,
			&match.ScoreBlack,
			&match.Source,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, &match)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Constraint {
		case "matches_round_id_fkey":
			return ErrMatchRoundInvalid
		case "matches_white_participant_id_fkey", "matches_black_participant_id_fkey":
			return ErrMatchParticipantInvalid
		case "matches_round_id_board_no_key":
			return ErrMatchBoardConflict
		}
	}
	return err
}
