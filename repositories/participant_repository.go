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
	ErrParticipantNotFound         = errors.New("participant not found")
	ErrParticipantNicknameConflict = errors.New("participant nickname already taken in this tournament")
)

type ParticipantRepository interface {
	GetByID(ctx context.Context, id int) (*models.Participant, error)
	// ListByTournament возвращает участников в порядке вставки — этот порядок
	// задаёт позиции во входном документе движка и не должен меняться.
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Participant, error)
	Create(ctx context.Context, participant *models.Participant) error
}

type postgresParticipantRepository struct {
	db *sql.DB
}

func NewPostgresParticipantRepository(db *sql.DB) ParticipantRepository {
	return &postgresParticipantRepository{db: db}
}

func (r *postgresParticipantRepository) GetByID(ctx context.Context, id int) (*models.Participant, error) {
	query := `
		SELECT id, tournament_id, player_id, nickname, seed_rating, created_at
		FROM tournament_participants
		WHERE id = $1`

	p := &models.Participant{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.TournamentID,
		&p.PlayerID,
		&p.Nickname,
		&p.SeedRating,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to scan participant by id %d: %w", id, err)
	}
	return p, nil
}

func (r *postgresParticipantRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Participant, error) {
	query := `
		SELECT id, tournament_id, player_id, nickname, seed_rating, created_at
		FROM tournament_participants
		WHERE tournament_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	participants := make([]*models.Participant, 0)
	for rows.Next() {
		var p models.Participant
		if scanErr := rows.Scan(
			&p.ID,
			&p.TournamentID,
			&p.PlayerID,
			&p.Nickname,
			&p.SeedRating,
			&p.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", scanErr)
		}
		participants = append(participants, &p)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during participant rows iteration: %w", err)
	}
	return participants, nil
}

func (r *postgresParticipantRepository) Create(ctx context.Context, participant *models.Participant) error {
	query := `
		INSERT INTO tournament_participants (tournament_id, player_id, nickname, seed_rating)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		participant.TournamentID,
		participant.PlayerID,
		participant.Nickname,
		participant.SeedRating,
	).Scan(&participant.ID, &participant.CreatedAt)

	return r.handleParticipantError(err)
}

func (r *postgresParticipantRepository) handleParticipantError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Constraint {
		case "tournament_participants_tournament_id_nickname_key":
			return ErrParticipantNicknameConflict
		case "tournament_participants_tournament_id_fkey":
			return ErrTournamentNotFound
		}
	}
	return err
}
