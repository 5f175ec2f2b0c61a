package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Dosada05/chess-pairings/models"
	"github.com/Dosada05/chess-pairings/repositories"
)

// Пороги валидации рейтинговых мутаций. Жёсткие проверки отклоняют
// запись, мягкие только помечают её на ручной разбор.
const (
	maxRatingChangePerGame = 200.0

	minSecondsBetweenUpdates = 60
	maxUpdatesPerHour        = 10
	suspiciousAvgChange      = 50.0
	avgChangeWindow          = 5
	streakWindow             = 10
	suspiciousStreakLength   = 8
	historyFetchLimit        = 20
)

// ValidationResult — итог проверки одной мутации рейтинга.
type ValidationResult struct {
	Valid          bool     `json:"valid"`
	Errors         []string `json:"errors,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	RequiresReview bool     `json:"requires_review"`
}

type RatingValidator interface {
	// ValidateRatingUpdate проверяет переход current -> (newRating, newRD, newVol).
	// Ошибки делают результат невалидным, предупреждения — только флаг review.
	ValidateRatingUpdate(ctx context.Context, current *models.PlayerRating, newRating, newRD, newVolatility float64) *ValidationResult
	// ValidateTournamentEligibility решает, допускать ли игрока к рейтинговым партиям.
	ValidateTournamentEligibility(ctx context.Context, playerID int) (*ValidationResult, error)
}

type ratingValidator struct {
	ratingRepo repositories.RatingRepository
	logger     *slog.Logger
}

func NewRatingValidator(ratingRepo repositories.RatingRepository, logger *slog.Logger) RatingValidator {
	return &ratingValidator{ratingRepo: ratingRepo, logger: logger}
}

func (v *ratingValidator) ValidateRatingUpdate(ctx context.Context, current *models.PlayerRating, newRating, newRD, newVolatility float64) *ValidationResult {
	result := &ValidationResult{Valid: true}

	change := math.Abs(newRating - current.Rating)
	if change > maxRatingChangePerGame {
		result.addError(fmt.Sprintf("rating change %.1f exceeds per-game limit %.0f", change, maxRatingChangePerGame))
	}
	if newRD < models.RDMin || newRD > models.RDMax {
		result.addError(fmt.Sprintf("rating deviation %.1f is outside [%.0f, %.0f]", newRD, models.RDMin, models.RDMax))
	}
	if newVolatility < models.VolatilityMin || newVolatility > models.VolatilityMax {
		result.addError(fmt.Sprintf("volatility %.4f is outside [%.2f, %.2f]", newVolatility, models.VolatilityMin, models.VolatilityMax))
	}

	// Мягкие проверки: слишком частые апдейты и подозрительная динамика.
	if current.LastGameAt != nil {
		elapsed := time.Since(*current.LastGameAt)
		if elapsed < minSecondsBetweenUpdates*time.Second {
			result.addWarning(fmt.Sprintf("previous rated game was %.0f seconds ago", elapsed.Seconds()))
		}
	}

	recentCount, err := v.ratingRepo.CountHistorySince(ctx, current.PlayerID, time.Now().Add(-time.Hour))
	if err != nil {
		// Недоступная история не должна блокировать апдейт.
		v.logger.Warn("rate-of-play check skipped: history count failed",
			slog.Int("player_id", current.PlayerID), slog.Any("error", err))
	} else if recentCount > maxUpdatesPerHour {
		result.addWarning(fmt.Sprintf("%d rating updates within the last hour", recentCount))
	}

	history, err := v.ratingRepo.ListHistoryByPlayer(ctx, current.PlayerID, historyFetchLimit)
	if err != nil {
		v.logger.Warn("history heuristics skipped: listing failed",
			slog.Int("player_id", current.PlayerID), slog.Any("error", err))
	} else {
		v.applyHistoryHeuristics(result, history)
	}

	return result
}

func (v *ratingValidator) ValidateTournamentEligibility(ctx context.Context, playerID int) (*ValidationResult, error) {
	result := &ValidationResult{Valid: true}

	rating, err := v.ratingRepo.GetByPlayer(ctx, playerID)
	if err != nil {
		if errors.Is(err, repositories.ErrPlayerRatingNotFound) {
			// Новый игрок допускается, рейтинг будет создан лениво.
			return result, nil
		}
		return nil, fmt.Errorf("%w: get rating for player %d: %w", ErrStorageFailure, playerID, err)
	}

	if rating.RD > models.RDMax {
		result.addError(fmt.Sprintf("rating deviation %.1f is corrupt", rating.RD))
	}
	if rating.Volatility > models.VolatilityMax {
		result.addWarning("volatility at ceiling, rating is unstable")
	}
	return result, nil
}

// applyHistoryHeuristics ищет в недавнем журнале признаки накрутки:
// большие средние дельты, длинные серии побед после серии поражений.
func (v *ratingValidator) applyHistoryHeuristics(result *ValidationResult, history []*models.RatingHistory) {
	if len(history) == 0 {
		return
	}

	window := history
	if len(window) > avgChangeWindow {
		window = window[:avgChangeWindow]
	}
	var total float64
	for _, h := range window {
		total += math.Abs(h.RatingChange())
	}
	if avg := total / float64(len(window)); avg > suspiciousAvgChange {
		result.addWarning(fmt.Sprintf("average rating change %.1f over last %d games", avg, len(window)))
	}

	streakSpan := history
	if len(streakSpan) > streakWindow {
		streakSpan = streakSpan[:streakWindow]
	}
	// Журнал идёт от новых к старым: считаем серию побед с головы,
	// затем серию поражений сразу за ней. Свежие победы после полосы
	// поражений — классический паттерн сандбэггинга.
	i := 0
	wins := 0
	for ; i < len(streakSpan); i++ {
		if streakSpan[i].GameResult == nil || *streakSpan[i].GameResult != models.GameResultWin {
			break
		}
		wins++
	}
	losses := 0
	for ; i < len(streakSpan); i++ {
		if streakSpan[i].GameResult == nil || *streakSpan[i].GameResult != models.GameResultLoss {
			break
		}
		losses++
	}
	if wins >= suspiciousStreakLength/2 && losses >= suspiciousStreakLength/2 {
		result.addWarning(fmt.Sprintf("win streak of %d directly after %d losses", wins, losses))
	} else if wins >= suspiciousStreakLength {
		result.addWarning(fmt.Sprintf("win streak of %d consecutive games", wins))
	}
}

func (r *ValidationResult) addError(msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, msg)
}

func (r *ValidationResult) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
	r.RequiresReview = true
}
