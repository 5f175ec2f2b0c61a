package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Dosada05/chess-pairings/cache"
	"github.com/Dosada05/chess-pairings/glicko"
	"github.com/Dosada05/chess-pairings/models"
	"github.com/Dosada05/chess-pairings/repositories"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RatingPolicy управляет посевом новых игроков и учётом технических исходов.
type RatingPolicy struct {
	// RateForfeits включает рейтинговый учёт форфейтов. По умолчанию
	// форфейты и bye рейтинг не двигают.
	RateForfeits bool
	// SeedFloor — граница легаси-рейтинга, выше которой посев считается
	// устоявшимся и получает меньшее начальное отклонение.
	SeedFloor     int
	EstablishedRD float64
	ProvisionalRD float64
}

// DefaultRatingPolicy возвращает политику с принятыми в продакшене порогами.
func DefaultRatingPolicy() RatingPolicy {
	return RatingPolicy{
		SeedFloor:     800,
		EstablishedRD: 150,
		ProvisionalRD: 250,
	}
}

// OutcomePrediction — прогноз исхода партии между двумя игроками.
// Вероятности в сумме дают единицу.
type OutcomePrediction struct {
	WhiteWin float64 `json:"white_win"`
	BlackWin float64 `json:"black_win"`
	Draw     float64 `json:"draw"`
}

type RatingService interface {
	// GetOrInitRating возвращает рейтинг игрока, лениво создавая строку
	// по правилам посева, если её ещё нет.
	GetOrInitRating(ctx context.Context, playerID int, seedRating *int) (*models.PlayerRating, error)
	// ApplyMatchResult атомарно обновляет рейтинги обоих игроков по исходу
	// партии. Нерейтинговые исходы (bye, форфейты при выключенной политике)
	// завершаются успешным no-op.
	ApplyMatchResult(ctx context.Context, match *models.Match, tournamentID int) error
	// PredictOutcome оценивает вероятности исходов между двумя игроками.
	PredictOutcome(ctx context.Context, whitePlayerID, blackPlayerID int) (*OutcomePrediction, error)
	History(ctx context.Context, playerID, limit int) ([]*models.RatingHistory, error)
	// AdjustRating — ручная правка рейтинга с обязательной валидацией.
	AdjustRating(ctx context.Context, playerID int, newRating, newRD, newVolatility float64, reason models.RatingChangeReason) error
}

type ratingService struct {
	db              *sql.DB
	ratingRepo      repositories.RatingRepository
	participantRepo repositories.ParticipantRepository
	validator       RatingValidator
	ratingCache     *cache.RatingCache
	policy          RatingPolicy
	logger          *slog.Logger

	updatesApplied prometheus.Counter
	updatesFailed  prometheus.Counter
}

func NewRatingService(
	db *sql.DB,
	ratingRepo repositories.RatingRepository,
	participantRepo repositories.ParticipantRepository,
	validator RatingValidator,
	ratingCache *cache.RatingCache,
	policy RatingPolicy,
	reg prometheus.Registerer,
	logger *slog.Logger,
) RatingService {
	factory := promauto.With(reg)
	return &ratingService{
		db:              db,
		ratingRepo:      ratingRepo,
		participantRepo: participantRepo,
		validator:       validator,
		ratingCache:     ratingCache,
		policy:          policy,
		logger:          logger,
		updatesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "rating_updates_applied_total",
			Help: "Number of successfully committed rating updates.",
		}),
		updatesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "rating_updates_failed_total",
			Help: "Number of rating updates rolled back.",
		}),
	}
}

func (s *ratingService) GetOrInitRating(ctx context.Context, playerID int, seedRating *int) (*models.PlayerRating, error) {
	if cached, ok := s.ratingCache.Get(playerID); ok {
		return cached, nil
	}

	rating, err := s.ratingRepo.GetByPlayer(ctx, playerID)
	if err == nil {
		s.ratingCache.Set(rating)
		return rating, nil
	}
	if !errors.Is(err, repositories.ErrPlayerRatingNotFound) {
		return nil, fmt.Errorf("%w: get rating for player %d: %w", ErrStorageFailure, playerID, err)
	}

	rating = s.seedRating(playerID, seedRating)
	if createErr := s.ratingRepo.Create(ctx, s.db, rating); createErr != nil {
		if errors.Is(createErr, repositories.ErrPlayerRatingConflict) {
			// Проиграли гонку параллельной инициализации — читаем победителя.
			rating, err = s.ratingRepo.GetByPlayer(ctx, playerID)
			if err != nil {
				return nil, fmt.Errorf("%w: reread rating for player %d: %w", ErrStorageFailure, playerID, err)
			}
			s.ratingCache.Set(rating)
			return rating, nil
		}
		return nil, fmt.Errorf("%w: init rating for player %d: %w", ErrStorageFailure, playerID, createErr)
	}

	s.logger.Info("player rating initialized",
		slog.Int("player_id", playerID),
		slog.Float64("rating", rating.Rating),
		slog.Float64("rd", rating.RD))
	s.ratingCache.Set(rating)
	return rating, nil
}

// seedRating строит начальную строку рейтинга. Легаси-посев выше порога
// получает устоявшееся отклонение, ниже порога — временное; без посева
// игрок стартует с дефолтов Glicko-2.
func (s *ratingService) seedRating(playerID int, seedRating *int) *models.PlayerRating {
	rating := &models.PlayerRating{
		PlayerID:   playerID,
		Rating:     models.RatingDefault,
		RD:         models.RDMax,
		Volatility: models.DefaultVolatility,
	}
	if seedRating != nil {
		rating.Rating = float64(*seedRating)
		if *seedRating > s.policy.SeedFloor {
			rating.RD = s.policy.EstablishedRD
		} else {
			rating.RD = s.policy.ProvisionalRD
		}
	}
	return rating
}

// maxSnapshotAttempts ограничивает пересчёты при проигранных гонках
// за строку рейтинга общего игрока.
const maxSnapshotAttempts = 3

func (s *ratingService) ApplyMatchResult(ctx context.Context, match *models.Match, tournamentID int) error {
	if match == nil || match.IsBye() {
		return nil
	}
	if !s.ratedResult(match.Result) {
		return nil
	}

	whiteScore, blackScore, err := resultScores(match.Result)
	if err != nil {
		return err
	}

	white, err := s.participantRepo.GetByID(ctx, match.WhiteParticipantID)
	if err != nil {
		return fmt.Errorf("%w: get white participant %d: %w", ErrStorageFailure, match.WhiteParticipantID, err)
	}
	black, err := s.participantRepo.GetByID(ctx, *match.BlackParticipantID)
	if err != nil {
		return fmt.Errorf("%w: get black participant %d: %w", ErrStorageFailure, *match.BlackParticipantID, err)
	}

	// Оптимистичный цикл: если строку одного из игроков успела поменять
	// параллельная партия, снимок сбрасывается и дельты считаются заново
	// от свежих значений.
	var applyErr error
	for attempt := 1; attempt <= maxSnapshotAttempts; attempt++ {
		applyErr = s.applyFromSnapshot(ctx, match, tournamentID, white, black, whiteScore, blackScore)
		if applyErr == nil {
			s.updatesApplied.Inc()
			return nil
		}
		if !errors.Is(applyErr, repositories.ErrPlayerRatingStale) {
			break
		}
		s.ratingCache.Invalidate(white.PlayerID)
		s.ratingCache.Invalidate(black.PlayerID)
		s.logger.Warn("stale rating snapshot, recomputing",
			slog.Int("match_id", match.ID),
			slog.Int("attempt", attempt))
	}

	s.updatesFailed.Inc()
	s.ratingCache.Invalidate(white.PlayerID)
	s.ratingCache.Invalidate(black.PlayerID)
	return applyErr
}

// applyFromSnapshot выполняет одну попытку обновления: читает согласованный
// снимок обеих сторон, считает новые значения и проводит транзакцию.
func (s *ratingService) applyFromSnapshot(ctx context.Context, match *models.Match, tournamentID int, white, black *models.Participant, whiteScore, blackScore float64) error {
	whiteRating, err := s.GetOrInitRating(ctx, white.PlayerID, white.SeedRating)
	if err != nil {
		return err
	}
	blackRating, err := s.GetOrInitRating(ctx, black.PlayerID, black.SeedRating)
	if err != nil {
		return err
	}

	// Согласованный снимок: обе стороны считаются от значений соперника
	// ДО обновления, порядок вычислений ни на что не влияет.
	whiteBefore := toGlicko(whiteRating)
	blackBefore := toGlicko(blackRating)

	whiteAfter := clampRating(glicko.Update(whiteBefore, []glicko.Result{{
		OpponentR:  blackBefore.R,
		OpponentRD: blackBefore.RD,
		Score:      whiteScore,
	}}))
	blackAfter := clampRating(glicko.Update(blackBefore, []glicko.Result{{
		OpponentR:  whiteBefore.R,
		OpponentRD: whiteBefore.RD,
		Score:      blackScore,
	}}))

	if s.validator != nil {
		whiteCheck := s.validator.ValidateRatingUpdate(ctx, whiteRating, whiteAfter.R, whiteAfter.RD, whiteAfter.Volatility)
		blackCheck := s.validator.ValidateRatingUpdate(ctx, blackRating, blackAfter.R, blackAfter.RD, blackAfter.Volatility)
		if !whiteCheck.Valid || !blackCheck.Valid {
			return fmt.Errorf("%w: match %d: white=%v black=%v",
				ErrValidationRejected, match.ID, whiteCheck.Errors, blackCheck.Errors)
		}
		logReviewFlags(s.logger, match.ID, white.PlayerID, whiteCheck)
		logReviewFlags(s.logger, match.ID, black.PlayerID, blackCheck)
	}

	return s.commitPair(ctx, match, tournamentID, ratedSide{
		playerID: white.PlayerID, before: whiteRating, after: whiteAfter,
		score: whiteScore, opponentID: black.PlayerID, opponentBefore: blackBefore,
	}, ratedSide{
		playerID: black.PlayerID, before: blackRating, after: blackAfter,
		score: blackScore, opponentID: white.PlayerID, opponentBefore: whiteBefore,
	})
}

// ratedSide — одна сторона рейтингового обновления.
type ratedSide struct {
	playerID       int
	before         *models.PlayerRating
	after          glicko.Rating
	score          float64
	opponentID     int
	opponentBefore glicko.Rating
}

// commitPair проводит обе стороны обновления одной транзакцией:
// две строки рейтинга и две записи журнала, всё или ничего.
func (s *ratingService) commitPair(ctx context.Context, match *models.Match, tournamentID int, sides ...ratedSide) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", ErrRatingUpdateFailed, err)
	}

	var txErr error
	defer func() {
		if txErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("rollback failed after rating update error",
					slog.Any("rollback_error", rbErr), slog.Any("error", txErr))
			}
		}
	}()

	now := time.Now()
	updated := make([]*models.PlayerRating, 0, len(sides))
	for _, side := range sides {
		next := *side.before
		next.Rating = side.after.R
		next.RD = side.after.RD
		next.Volatility = side.after.Volatility
		next.GamesCount++
		switch {
		case side.score == 1:
			next.WinsCount++
		case side.score == 0:
			next.LossesCount++
		default:
			next.DrawsCount++
		}
		next.LastGameAt = &now

		if txErr = s.ratingRepo.Update(ctx, tx, &next, side.before.GamesCount); txErr != nil {
			return fmt.Errorf("%w: update rating for player %d: %w", ErrRatingUpdateFailed, side.playerID, txErr)
		}

		gameResult := gameResultForScore(side.score)
		opponentID := side.opponentID
		opponentRating := side.opponentBefore.R
		matchID := match.ID
		entry := &models.RatingHistory{
			PlayerID:      side.playerID,
			OldRating:     side.before.Rating,
			NewRating:     side.after.R,
			OldRD:         side.before.RD,
			NewRD:         side.after.RD,
			OldVolatility: side.before.Volatility,
			NewVolatility: side.after.Volatility,
			MatchID:       &matchID,
			TournamentID:  &tournamentID,
			ChangeReason:  models.ChangeReasonMatch,
			OpponentID:    &opponentID,
			// В журнал пишется рейтинг соперника до обновления —
			// тот, от которого считалась дельта.
			OpponentRating: &opponentRating,
			GameResult:     &gameResult,
		}
		if txErr = s.ratingRepo.InsertHistory(ctx, tx, entry); txErr != nil {
			return fmt.Errorf("%w: insert history for player %d: %w", ErrRatingUpdateFailed, side.playerID, txErr)
		}
		updated = append(updated, &next)
	}

	if txErr = tx.Commit(); txErr != nil {
		return fmt.Errorf("%w: commit: %w", ErrRatingUpdateFailed, txErr)
	}

	for _, rating := range updated {
		s.ratingCache.Invalidate(rating.PlayerID)
		s.ratingCache.Set(rating)
	}
	return nil
}

func (s *ratingService) PredictOutcome(ctx context.Context, whitePlayerID, blackPlayerID int) (*OutcomePrediction, error) {
	white, err := s.GetOrInitRating(ctx, whitePlayerID, nil)
	if err != nil {
		return nil, err
	}
	black, err := s.GetOrInitRating(ctx, blackPlayerID, nil)
	if err != nil {
		return nil, err
	}

	expected := glicko.ExpectedScore(toGlicko(white), toGlicko(black))

	// Эвристика ничьей: базовые 10% плюс поправка на разрыв, потолок 30%.
	// Остаток делится между победами пропорционально ожидаемому счёту.
	diff := math.Abs(white.Rating - black.Rating)
	pDraw := math.Min(0.3, 0.1+diff/1000)

	return &OutcomePrediction{
		WhiteWin: expected * (1 - pDraw),
		BlackWin: (1 - expected) * (1 - pDraw),
		Draw:     pDraw,
	}, nil
}

func (s *ratingService) History(ctx context.Context, playerID, limit int) ([]*models.RatingHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	entries, err := s.ratingRepo.ListHistoryByPlayer(ctx, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list history for player %d: %w", ErrStorageFailure, playerID, err)
	}
	return entries, nil
}

func (s *ratingService) AdjustRating(ctx context.Context, playerID int, newRating, newRD, newVolatility float64, reason models.RatingChangeReason) error {
	current, err := s.ratingRepo.GetByPlayer(ctx, playerID)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerRatingNotFound) {
			return fmt.Errorf("%w: player %d", ErrRatingNotFound, playerID)
		}
		return fmt.Errorf("%w: get rating for player %d: %w", ErrStorageFailure, playerID, err)
	}

	if s.validator != nil {
		check := s.validator.ValidateRatingUpdate(ctx, current, newRating, newRD, newVolatility)
		if !check.Valid {
			return fmt.Errorf("%w: %v", ErrValidationRejected, check.Errors)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", ErrRatingUpdateFailed, err)
	}

	var txErr error
	defer func() {
		if txErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("rollback failed after manual adjustment error",
					slog.Any("rollback_error", rbErr), slog.Any("error", txErr))
			}
		}
	}()

	next := *current
	next.Rating = newRating
	next.RD = newRD
	next.Volatility = newVolatility
	if txErr = s.ratingRepo.Update(ctx, tx, &next, current.GamesCount); txErr != nil {
		return fmt.Errorf("%w: update rating for player %d: %w", ErrRatingUpdateFailed, playerID, txErr)
	}

	entry := &models.RatingHistory{
		PlayerID:      playerID,
		OldRating:     current.Rating,
		NewRating:     newRating,
		OldRD:         current.RD,
		NewRD:         newRD,
		OldVolatility: current.Volatility,
		NewVolatility: newVolatility,
		ChangeReason:  reason,
	}
	if txErr = s.ratingRepo.InsertHistory(ctx, tx, entry); txErr != nil {
		return fmt.Errorf("%w: insert history for player %d: %w", ErrRatingUpdateFailed, playerID, txErr)
	}

	if txErr = tx.Commit(); txErr != nil {
		return fmt.Errorf("%w: commit: %w", ErrRatingUpdateFailed, txErr)
	}

	s.ratingCache.Invalidate(playerID)
	s.ratingCache.Set(&next)
	s.logger.Info("rating adjusted manually",
		slog.Int("player_id", playerID),
		slog.Float64("old_rating", current.Rating),
		slog.Float64("new_rating", newRating),
		slog.String("reason", string(reason)))
	return nil
}

// ratedResult учитывает политику по форфейтам.
func (s *ratingService) ratedResult(result models.MatchResult) bool {
	if result.Rated() {
		return true
	}
	if s.policy.RateForfeits {
		return result == models.ResultForfeitWhite || result == models.ResultForfeitBlack
	}
	return false
}

// resultScores переводит исход в очки Glicko (1 / 0.5 / 0) для белых и чёрных.
func resultScores(result models.MatchResult) (white, black float64, err error) {
	switch result {
	case models.ResultWhiteWin, models.ResultForfeitBlack:
		return 1, 0, nil
	case models.ResultBlackWin, models.ResultForfeitWhite:
		return 0, 1, nil
	case models.ResultDraw:
		return 0.5, 0.5, nil
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrUnratedResult, result)
	}
}

func gameResultForScore(score float64) models.GameResult {
	switch score {
	case 1:
		return models.GameResultWin
	case 0:
		return models.GameResultLoss
	default:
		return models.GameResultDraw
	}
}

func toGlicko(r *models.PlayerRating) glicko.Rating {
	return glicko.Rating{R: r.Rating, RD: r.RD, Volatility: r.Volatility}
}

// clampRating прижимает результат Glicko к допустимым границам.
func clampRating(r glicko.Rating) glicko.Rating {
	r.RD = math.Max(models.RDMin, math.Min(models.RDMax, r.RD))
	r.Volatility = math.Max(models.VolatilityMin, math.Min(models.VolatilityMax, r.Volatility))
	return r
}

func logReviewFlags(logger *slog.Logger, matchID, playerID int, check *ValidationResult) {
	if check.RequiresReview {
		logger.Warn("rating update flagged for review",
			slog.Int("match_id", matchID),
			slog.Int("player_id", playerID),
			slog.Any("warnings", check.Warnings))
	}
}
