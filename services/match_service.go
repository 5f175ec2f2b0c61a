package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Dosada05/chess-pairings/models"
	"github.com/Dosada05/chess-pairings/repositories"
)

type MatchService interface {
	// RecordResult записывает исход партии, проставляет турнирные очки
	// и запускает рейтинговое обновление для рейтинговых исходов.
	RecordResult(ctx context.Context, matchID int, result models.MatchResult) (*models.Match, error)
}

type matchService struct {
	db             *sql.DB
	tournamentRepo repositories.TournamentRepository
	roundRepo      repositories.RoundRepository
	matchRepo      repositories.MatchRepository
	ratings        RatingService
	logger         *slog.Logger
}

func NewMatchService(
	db *sql.DB,
	tournamentRepo repositories.TournamentRepository,
	roundRepo repositories.RoundRepository,
	matchRepo repositories.MatchRepository,
	ratings RatingService,
	logger *slog.Logger,
) MatchService {
	return &matchService{
		db:             db,
		tournamentRepo: tournamentRepo,
		roundRepo:      roundRepo,
		matchRepo:      matchRepo,
		ratings:        ratings,
		logger:         logger,
	}
}

func (s *matchService) RecordResult(ctx context.Context, matchID int, result models.MatchResult) (*models.Match, error) {
	if !validResult(result) {
		return nil, fmt.Errorf("%w: %q", ErrMatchResultInvalid, result)
	}

	match, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get match %d: %w", ErrStorageFailure, matchID, err)
	}
	if match.IsBye() && result != models.ResultBye {
		return nil, fmt.Errorf("%w: match %d is a bye", ErrMatchResultInvalid, matchID)
	}

	round, err := s.roundRepo.GetByID(ctx, match.RoundID)
	if err != nil {
		return nil, fmt.Errorf("%w: get round %d: %w", ErrStorageFailure, match.RoundID, err)
	}
	tournament, err := s.tournamentRepo.GetByID(ctx, round.TournamentID)
	if err != nil {
		return nil, fmt.Errorf("%w: get tournament %d: %w", ErrStorageFailure, round.TournamentID, err)
	}

	scoreWhite, scoreBlack := ScoreForResult(tournament, result)
	if err := s.matchRepo.UpdateResult(ctx, s.db, matchID, result, scoreWhite, scoreBlack); err != nil {
		return nil, fmt.Errorf("%w: update result for match %d: %w", ErrStorageFailure, matchID, err)
	}

	match.Result = result
	match.ScoreWhite = scoreWhite
	match.ScoreBlack = scoreBlack

	// Обновление рейтинга идёт после фиксации счёта. Его провал не
	// откатывает результат партии: счёт уже достоверен, а рейтинг
	// можно доправить повторной подачей.
	if err := s.ratings.ApplyMatchResult(ctx, match, tournament.ID); err != nil {
		s.logger.Error("rating update failed after result was recorded",
			slog.Int("match_id", matchID),
			slog.String("result", string(result)),
			slog.Any("error", err))
		return match, fmt.Errorf("result recorded, but rating update failed: %w", err)
	}

	return match, nil
}

func validResult(result models.MatchResult) bool {
	switch result {
	case models.ResultWhiteWin, models.ResultBlackWin, models.ResultDraw,
		models.ResultBye, models.ResultForfeitWhite, models.ResultForfeitBlack:
		return true
	}
	return false
}
