package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/chess-pairings/models"
)

var ErrRoundNotFound = errors.New("round not found")

type RoundRepository interface {
	GetByID(ctx context.Context, id int) (*models.Round, error)
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Round, error)
	MarkPaired(ctx context.Context, exec SQLExecutor, id int) error
	// CountPaired считает туры турнира, которые уже были сведены
	// (использовано автозавершением турнира).
	CountPaired(ctx context.Context, tournamentID int) (int, error)
}

type postgresRoundRepository struct {
	db *sql.DB
}

func NewPostgresRoundRepository(db *sql.DB) RoundRepository {
	return &postgresRoundRepository{db: db}
}

func (r *postgresRoundRepository) GetByID(ctx context.Context, id int) (*models.Round, error) {
	query := `
		SELECT id, tournament_id, number, status, paired_at, created_at
		FROM rounds
		WHERE id = $1`

	round := &models.Round{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&round.ID,
		&round.TournamentID,
		&round.Number,
		&round.Status,
		&round.PairedAt,
		&round.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to scan round by id %d: %w", id, err)
	}
	return round, nil
}

func (r *postgresRoundRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Round, error) {
	query := `
		SELECT id, tournament_id, number, status, paired_at, created_at
		FROM rounds
		WHERE tournament_id = $1
		ORDER BY number ASC`

	rows, err := r.db.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	rounds := make([]*models.Round, 0)
	for rows.Next() {
		var round models.Round
		if scanErr := rows.Scan(
			&round.ID,
			&round.TournamentID,
			&round.Number,
			&round.Status,
			&round.PairedAt,
			&round.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan round row: %w", scanErr)
		}
		rounds = append(rounds, &round)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during round rows iteration: %w", err)
	}
	return rounds, nil
}

func (r *postgresRoundRepository) MarkPaired(ctx context.Context, exec SQLExecutor, id int) error {
	query := `UPDATE rounds SET status = $1, paired_at = NOW() WHERE id = $2`
	result, err := exec.ExecContext(ctx, query, models.RoundStatusPaired, id)
	if err != nil {
		return fmt.Errorf("failed to mark round %d as paired: %w", id, err)
	}
	return checkAffectedRows(result, ErrRoundNotFound)
}

func (r *postgresRoundRepository) CountPaired(ctx context.Context, tournamentID int) (int, error) {
	query := `SELECT COUNT(*) FROM rounds WHERE tournament_id = $1 AND status <> $2`

	var count int
	if err := r.db.QueryRowContext(ctx, query, tournamentID, models.RoundStatusPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count paired rounds for tournament %d: %w", tournamentID, err)
	}
	return count, nil
}
