package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Dosada05/chess-pairings/repositories"
)

// tournamentFinalizer архивирует турнир, когда сведены все заявленные туры.
// Архивация идемпотентна: повторный вызов на уже архивном турнире — no-op.
type tournamentFinalizer struct {
	tournamentRepo repositories.TournamentRepository
	roundRepo      repositories.RoundRepository
	logger         *slog.Logger
}

func NewTournamentFinalizer(
	tournamentRepo repositories.TournamentRepository,
	roundRepo repositories.RoundRepository,
	logger *slog.Logger,
) RoundAdvancer {
	return &tournamentFinalizer{
		tournamentRepo: tournamentRepo,
		roundRepo:      roundRepo,
		logger:         logger,
	}
}

func (f *tournamentFinalizer) MaybeFinalize(ctx context.Context, tournamentID int) error {
	tournament, err := f.tournamentRepo.GetByID(ctx, tournamentID)
	if err != nil {
		return fmt.Errorf("get tournament %d for finalization: %w", tournamentID, err)
	}
	if tournament.Archived {
		return nil
	}

	paired, err := f.roundRepo.CountPaired(ctx, tournamentID)
	if err != nil {
		return fmt.Errorf("count paired rounds for tournament %d: %w", tournamentID, err)
	}
	if paired < tournament.Rounds {
		return nil
	}

	if err := f.tournamentRepo.SetArchived(ctx, tournamentID, true); err != nil {
		return fmt.Errorf("archive tournament %d: %w", tournamentID, err)
	}
	f.logger.Info("tournament archived after final round pairing",
		slog.Int("tournament_id", tournamentID),
		slog.Int("rounds", tournament.Rounds))
	return nil
}
