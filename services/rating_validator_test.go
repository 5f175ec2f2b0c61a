package services

import (
	"context"
	"testing"
	"time"

	"github.com/Dosada05/chess-pairings/models"
	"github.com/Dosada05/chess-pairings/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietRatingRepo() *fakeRatingRepo {
	return &fakeRatingRepo{
		ListHistoryByPlayerFunc: func(_ context.Context, _, _ int) ([]*models.RatingHistory, error) {
			return nil, nil
		},
		CountHistorySinceFunc: func(_ context.Context, _ int, _ time.Time) (int, error) {
			return 0, nil
		},
	}
}

func currentRating() *models.PlayerRating {
	return &models.PlayerRating{PlayerID: 7, Rating: 1500, RD: 120, Volatility: 0.06}
}

func TestValidateRatingUpdateAccepts(t *testing.T) {
	v := NewRatingValidator(quietRatingRepo(), testLogger())

	result := v.ValidateRatingUpdate(context.Background(), currentRating(), 1530, 110, 0.06)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.False(t, result.RequiresReview)
}

func TestValidateRatingUpdateHardLimits(t *testing.T) {
	tests := []struct {
		name      string
		newRating float64
		newRD     float64
		newVol    float64
	}{
		{"change above per-game limit", 1750, 110, 0.06},
		{"rd below floor", 1520, 10, 0.06},
		{"rd above ceiling", 1520, 400, 0.06},
		{"volatility below floor", 1520, 110, 0.001},
		{"volatility above ceiling", 1520, 110, 0.5},
	}

	v := NewRatingValidator(quietRatingRepo(), testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateRatingUpdate(context.Background(), currentRating(), tt.newRating, tt.newRD, tt.newVol)
			assert.False(t, result.Valid)
			assert.NotEmpty(t, result.Errors)
		})
	}
}

func TestValidateRatingUpdateFrequencyWarnings(t *testing.T) {
	t.Run("recent game", func(t *testing.T) {
		v := NewRatingValidator(quietRatingRepo(), testLogger())
		rating := currentRating()
		recently := time.Now().Add(-10 * time.Second)
		rating.LastGameAt = &recently

		result := v.ValidateRatingUpdate(context.Background(), rating, 1520, 110, 0.06)
		assert.True(t, result.Valid, "warnings must not block the update")
		assert.True(t, result.RequiresReview)
		assert.NotEmpty(t, result.Warnings)
	})

	t.Run("too many updates per hour", func(t *testing.T) {
		repo := quietRatingRepo()
		repo.CountHistorySinceFunc = func(_ context.Context, _ int, _ time.Time) (int, error) {
			return 25, nil
		}
		v := NewRatingValidator(repo, testLogger())

		result := v.ValidateRatingUpdate(context.Background(), currentRating(), 1520, 110, 0.06)
		assert.True(t, result.Valid)
		assert.True(t, result.RequiresReview)
	})
}

func historyEntry(change float64, result models.GameResult) *models.RatingHistory {
	return &models.RatingHistory{
		OldRating:  1500,
		NewRating:  1500 + change,
		GameResult: &result,
	}
}

func TestValidateRatingUpdateHistoryHeuristics(t *testing.T) {
	t.Run("large average change flagged", func(t *testing.T) {
		repo := quietRatingRepo()
		repo.ListHistoryByPlayerFunc = func(_ context.Context, _, _ int) ([]*models.RatingHistory, error) {
			entries := make([]*models.RatingHistory, 5)
			for i := range entries {
				entries[i] = historyEntry(80, models.GameResultWin)
			}
			return entries, nil
		}
		v := NewRatingValidator(repo, testLogger())

		result := v.ValidateRatingUpdate(context.Background(), currentRating(), 1520, 110, 0.06)
		assert.True(t, result.Valid)
		assert.True(t, result.RequiresReview)
	})

	t.Run("sandbag pattern flagged", func(t *testing.T) {
		repo := quietRatingRepo()
		repo.ListHistoryByPlayerFunc = func(_ context.Context, _, _ int) ([]*models.RatingHistory, error) {
			// От новых к старым: серия побед сразу после серии поражений.
			entries := make([]*models.RatingHistory, 0, 10)
			for i := 0; i < 5; i++ {
				entries = append(entries, historyEntry(10, models.GameResultWin))
			}
			for i := 0; i < 5; i++ {
				entries = append(entries, historyEntry(-10, models.GameResultLoss))
			}
			return entries, nil
		}
		v := NewRatingValidator(repo, testLogger())

		result := v.ValidateRatingUpdate(context.Background(), currentRating(), 1520, 110, 0.06)
		assert.True(t, result.Valid)
		assert.True(t, result.RequiresReview)
	})

	t.Run("mixed history is quiet", func(t *testing.T) {
		repo := quietRatingRepo()
		repo.ListHistoryByPlayerFunc = func(_ context.Context, _, _ int) ([]*models.RatingHistory, error) {
			return []*models.RatingHistory{
				historyEntry(12, models.GameResultWin),
				historyEntry(-9, models.GameResultLoss),
				historyEntry(4, models.GameResultDraw),
				historyEntry(11, models.GameResultWin),
			}, nil
		}
		v := NewRatingValidator(repo, testLogger())

		result := v.ValidateRatingUpdate(context.Background(), currentRating(), 1520, 110, 0.06)
		assert.True(t, result.Valid)
		assert.False(t, result.RequiresReview)
	})
}

func TestValidateRatingUpdateSurvivesHistoryErrors(t *testing.T) {
	repo := quietRatingRepo()
	repo.ListHistoryByPlayerFunc = func(_ context.Context, _, _ int) ([]*models.RatingHistory, error) {
		return nil, assert.AnError
	}
	repo.CountHistorySinceFunc = func(_ context.Context, _ int, _ time.Time) (int, error) {
		return 0, assert.AnError
	}
	v := NewRatingValidator(repo, testLogger())

	result := v.ValidateRatingUpdate(context.Background(), currentRating(), 1520, 110, 0.06)
	assert.True(t, result.Valid, "history unavailability must not block updates")
}

func TestValidateTournamentEligibility(t *testing.T) {
	t.Run("unknown player is eligible", func(t *testing.T) {
		repo := quietRatingRepo()
		repo.GetByPlayerFunc = func(_ context.Context, _ int) (*models.PlayerRating, error) {
			return nil, repositories.ErrPlayerRatingNotFound
		}
		v := NewRatingValidator(repo, testLogger())

		result, err := v.ValidateTournamentEligibility(context.Background(), 7)
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})

	t.Run("existing player is eligible", func(t *testing.T) {
		repo := quietRatingRepo()
		repo.GetByPlayerFunc = func(_ context.Context, _ int) (*models.PlayerRating, error) {
			return currentRating(), nil
		}
		v := NewRatingValidator(repo, testLogger())

		result, err := v.ValidateTournamentEligibility(context.Background(), 7)
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})

	t.Run("storage error wrapped", func(t *testing.T) {
		repo := quietRatingRepo()
		repo.GetByPlayerFunc = func(_ context.Context, _ int) (*models.PlayerRating, error) {
			return nil, assert.AnError
		}
		v := NewRatingValidator(repo, testLogger())

		_, err := v.ValidateTournamentEligibility(context.Background(), 7)
		assert.ErrorIs(t, err, ErrStorageFailure)
	})
}
