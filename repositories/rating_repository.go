package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/chess-pairings/models"
	"github.com/lib/pq"
)

var (
	ErrPlayerRatingNotFound = errors.New("player rating not found")
	ErrPlayerRatingConflict = errors.New("player rating already exists")
	ErrPlayerRatingStale    = errors.New("player rating was updated concurrently")
)

type RatingRepository interface {
	GetByPlayer(ctx context.Context, playerID int) (*models.PlayerRating, error)
	Create(ctx context.Context, exec SQLExecutor, rating *models.PlayerRating) error
	// Update перезаписывает строку рейтинга с оптимистичной проверкой:
	// если games_count уже не равен expectedGamesCount, строку успела
	// поменять параллельная партия и возвращается ErrPlayerRatingStale.
	Update(ctx context.Context, exec SQLExecutor, rating *models.PlayerRating, expectedGamesCount int) error
	InsertHistory(ctx context.Context, exec SQLExecutor, entry *models.RatingHistory) error
	// ListHistoryByPlayer возвращает записи журнала, новые первыми.
	ListHistoryByPlayer(ctx context.Context, playerID, limit int) ([]*models.RatingHistory, error)
	CountHistorySince(ctx context.Context, playerID int, since time.Time) (int, error)
}

type postgresRatingRepository struct {
	db *sql.DB
}

func NewPostgresRatingRepository(db *sql.DB) RatingRepository {
	return &postgresRatingRepository{db: db}
}

func (r *postgresRatingRepository) GetByPlayer(ctx context.Context, playerID int) (*models.PlayerRating, error) {
	query := `
		SELECT id, player_id, rating, rd, volatility, games_count, wins_count, losses_count, draws_count,
		       last_game_at, updated_at, created_at
		FROM player_ratings
		WHERE player_id = $1`

	rating := &models.PlayerRating{}
	err := r.db.QueryRowContext(ctx, query, playerID).Scan(
		&rating.ID,
		&rating.PlayerID,
		&rating.Rating,
		&rating.RD,
		&rating.Volatility,
		&rating.GamesCount,
		&rating.WinsCount,
		&rating.LossesCount,
		&rating.DrawsCount,
		&rating.LastGameAt,
		&rating.UpdatedAt,
		&rating.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerRatingNotFound
		}
		return nil, fmt.Errorf("failed to scan player rating for player %d: %w", playerID, err)
	}
	return rating, nil
}

func (r *postgresRatingRepository) Create(ctx context.Context, exec SQLExecutor, rating *models.PlayerRating) error {
	query := `
		INSERT INTO player_ratings (player_id, rating, rd, volatility, games_count, wins_count, losses_count, draws_count, last_game_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, updated_at, created_at`

	err := exec.QueryRowContext(ctx, query,
		rating.PlayerID,
		rating.Rating,
		rating.RD,
		rating.Volatility,
		rating.GamesCount,
		rating.WinsCount,
		rating.LossesCount,
		rating.DrawsCount,
		rating.LastGameAt,
	).Scan(&rating.ID, &rating.UpdatedAt, &rating.CreatedAt)

	return r.handleRatingError(err)
}

func (r *postgresRatingRepository) Update(ctx context.Context, exec SQLExecutor, rating *models.PlayerRating, expectedGamesCount int) error {
	query := `
		UPDATE player_ratings
		SET rating = $1, rd = $2, volatility = $3, games_count = $4, wins_count = $5,
		    losses_count = $6, draws_count = $7, last_game_at = $8, updated_at = NOW()
		WHERE player_id = $9 AND games_count = $10`

	result, err := exec.ExecContext(ctx, query,
		rating.Rating,
		rating.RD,
		rating.Volatility,
		rating.GamesCount,
		rating.WinsCount,
		rating.LossesCount,
		rating.DrawsCount,
		rating.LastGameAt,
		rating.PlayerID,
		expectedGamesCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update rating for player %d: %w", rating.PlayerID, err)
	}
	// Ноль затронутых строк: либо строки нет, либо снимок устарел.
	// Вызывающий различает это повторным чтением.
	return checkAffectedRows(result, ErrPlayerRatingStale)
}

func (r *postgresRatingRepository) InsertHistory(ctx context.Context, exec SQLExecutor, entry *models.RatingHistory) error {
	query := `
		INSERT INTO rating_history (player_id, old_rating, new_rating, old_rd, new_rd, old_volatility, new_volatility,
		                            match_id, tournament_id, change_reason, opponent_id, opponent_rating, game_result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`

	err := exec.QueryRowContext(ctx, query,
		entry.PlayerID,
		entry.OldRating,
		entry.NewRating,
		entry.OldRD,
		entry.NewRD,
		entry.OldVolatility,
		entry.NewVolatility,
		entry.MatchID,
		entry.TournamentID,
		entry.ChangeReason,
		entry.OpponentID,
		entry.OpponentRating,
		entry.GameResult,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rating history for player %d: %w", entry.PlayerID, err)
	}
	return nil
}

func (r *postgresRatingRepository) ListHistoryByPlayer(ctx context.Context, playerID, limit int) ([]*models.RatingHistory, error) {
	query := `
		SELECT id, player_id, old_rating, new_rating, old_rd, new_rd, old_volatility, new_volatility,
		       match_id, tournament_id, change_reason, opponent_id, opponent_rating, game_result, created_at
		FROM rating_history
		WHERE player_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rating history for player %d: %w", playerID, err)
	}
	defer rows.Close()

	entries := make([]*models.RatingHistory, 0)
	for rows.Next() {
		var entry models.RatingHistory
		if scanErr := rows.Scan(
			&entry.ID,
			&entry.PlayerID,
			&entry.OldRating,
			&entry.NewRating,
			&entry.OldRD,
			&entry.NewRD,
			&entry.OldVolatility,
			&entry.NewVolatility,
			&entry.MatchID,
			&entry.TournamentID,
			&entry.ChangeReason,
			&entry.OpponentID,
			&entry.OpponentRating,
			&entry.GameResult,
			&entry.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan rating history row: %w", scanErr)
		}
		entries = append(entries, &entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rating history rows iteration: %w", err)
	}
	return entries, nil
}

func (r *postgresRatingRepository) CountHistorySince(ctx context.Context, playerID int, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM rating_history WHERE player_id = $1 AND created_at >= $2`

	var count int
	if err := r.db.QueryRowContext(ctx, query, playerID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rating history for player %d: %w", playerID, err)
	}
	return count, nil
}

func (r *postgresRatingRepository) handleRatingError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok {
		if pqErr.Constraint == "player_ratings_player_id_key" {
			return ErrPlayerRatingConflict
		}
	}
	return err
}
