package services

import (
	"context"
	"testing"
	"time"

	"github.com/Dosada05/chess-pairings/cache"
	"github.com/Dosada05/chess-pairings/glicko"
	"github.com/Dosada05/chess-pairings/models"
	"github.com/Dosada05/chess-pairings/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRatingService(ratingRepo *fakeRatingRepo, participantRepo *fakeParticipantRepo, validator RatingValidator) (*ratingService, *cache.RatingCache) {
	c := cache.NewRatingCache(time.Minute, nil)
	svc := NewRatingService(nil, ratingRepo, participantRepo, validator, c, DefaultRatingPolicy(), nil, testLogger())
	return svc.(*ratingService), c
}

// newTxRatingService подключает транзакционный драйвер-заглушку, чтобы
// дойти до фиксации обновления, а не останавливаться перед BeginTx.
func newTxRatingService(t *testing.T, ratingRepo *fakeRatingRepo, participantRepo *fakeParticipantRepo) (*ratingService, *cache.RatingCache) {
	c := cache.NewRatingCache(time.Minute, nil)
	svc := NewRatingService(newStubDB(t), ratingRepo, participantRepo, nil, c, DefaultRatingPolicy(), nil, testLogger())
	return svc.(*ratingService), c
}

func matchParticipants() *fakeParticipantRepo {
	return &fakeParticipantRepo{
		GetByIDFunc: func(_ context.Context, id int) (*models.Participant, error) {
			return &models.Participant{ID: id, PlayerID: id + 100}, nil
		},
	}
}

func TestGetOrInitRatingCacheHit(t *testing.T) {
	repoCalled := false
	ratingRepo := &fakeRatingRepo{
		GetByPlayerFunc: func(_ context.Context, _ int) (*models.PlayerRating, error) {
			repoCalled = true
			return nil, repositories.ErrPlayerRatingNotFound
		},
	}
	svc, c := newTestRatingService(ratingRepo, nil, nil)
	c.Set(&models.PlayerRating{PlayerID: 7, Rating: 1700})

	rating, err := svc.GetOrInitRating(context.Background(), 7, nil)
	require.NoError(t, err)
	assert.Equal(t, 1700.0, rating.Rating)
	assert.False(t, repoCalled)
}

func TestGetOrInitRatingSeeding(t *testing.T) {
	tests := []struct {
		name       string
		seed       *int
		wantRating float64
		wantRD     float64
	}{
		{"no seed uses defaults", nil, 1500, 350},
		{"established seed", intPtr(1850), 1850, 150},
		{"provisional seed", intPtr(700), 700, 250},
		{"seed at floor is provisional", intPtr(800), 800, 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var created *models.PlayerRating
			ratingRepo := &fakeRatingRepo{
				GetByPlayerFunc: func(_ context.Context, _ int) (*models.PlayerRating, error) {
					return nil, repositories.ErrPlayerRatingNotFound
				},
				CreateFunc: func(_ context.Context, _ repositories.SQLExecutor, rating *models.PlayerRating) error {
					created = rating
					return nil
				},
			}
			svc, _ := newTestRatingService(ratingRepo, nil, nil)

			rating, err := svc.GetOrInitRating(context.Background(), 7, tt.seed)
			require.NoError(t, err)
			require.NotNil(t, created)
			assert.Equal(t, tt.wantRating, rating.Rating)
			assert.Equal(t, tt.wantRD, rating.RD)
			assert.Equal(t, models.DefaultVolatility, rating.Volatility)
		})
	}
}

func TestGetOrInitRatingLosesInitRace(t *testing.T) {
	calls := 0
	ratingRepo := &fakeRatingRepo{
		GetByPlayerFunc: func(_ context.Context, _ int) (*models.PlayerRating, error) {
			calls++
			if calls == 1 {
				return nil, repositories.ErrPlayerRatingNotFound
			}
			return &models.PlayerRating{PlayerID: 7, Rating: 1620}, nil
		},
		CreateFunc: func(_ context.Context, _ repositories.SQLExecutor, _ *models.PlayerRating) error {
			return repositories.ErrPlayerRatingConflict
		},
	}
	svc, _ := newTestRatingService(ratingRepo, nil, nil)

	rating, err := svc.GetOrInitRating(context.Background(), 7, nil)
	require.NoError(t, err)
	assert.Equal(t, 1620.0, rating.Rating)
}

func TestApplyMatchResultSkipsUnrated(t *testing.T) {
	svc, _ := newTestRatingService(&fakeRatingRepo{}, &fakeParticipantRepo{}, nil)

	t.Run("bye is a no-op", func(t *testing.T) {
		err := svc.ApplyMatchResult(context.Background(), &models.Match{ID: 1, WhiteParticipantID: 11, Result: models.ResultBye}, 1)
		assert.NoError(t, err)
	})

	t.Run("forfeit is a no-op by default", func(t *testing.T) {
		match := &models.Match{ID: 1, WhiteParticipantID: 11, BlackParticipantID: intPtr(12), Result: models.ResultForfeitWhite}
		err := svc.ApplyMatchResult(context.Background(), match, 1)
		assert.NoError(t, err)
	})

	t.Run("not played is a no-op", func(t *testing.T) {
		match := &models.Match{ID: 1, WhiteParticipantID: 11, BlackParticipantID: intPtr(12), Result: models.ResultNotPlayed}
		err := svc.ApplyMatchResult(context.Background(), match, 1)
		assert.NoError(t, err)
	})
}

func TestApplyMatchResultValidationRejected(t *testing.T) {
	participantRepo := &fakeParticipantRepo{
		GetByIDFunc: func(_ context.Context, id int) (*models.Participant, error) {
			return &models.Participant{ID: id, PlayerID: id + 100}, nil
		},
	}
	validator := &fakeValidator{
		ValidateRatingUpdateFunc: func(_ context.Context, _ *models.PlayerRating, _, _, _ float64) *ValidationResult {
			return &ValidationResult{Valid: false, Errors: []string{"rating change too large"}}
		},
	}
	svc, c := newTestRatingService(&fakeRatingRepo{}, participantRepo, validator)
	c.Set(&models.PlayerRating{PlayerID: 111, Rating: 1500, RD: 200, Volatility: 0.06})
	c.Set(&models.PlayerRating{PlayerID: 112, Rating: 1500, RD: 200, Volatility: 0.06})

	match := &models.Match{ID: 1, WhiteParticipantID: 11, BlackParticipantID: intPtr(12), Result: models.ResultWhiteWin}
	err := svc.ApplyMatchResult(context.Background(), match, 1)
	assert.ErrorIs(t, err, ErrValidationRejected)
}

func TestApplyMatchResultCommitsBothSides(t *testing.T) {
	ratings := map[int]*models.PlayerRating{
		121: {PlayerID: 121, Rating: 1600, RD: 120, Volatility: 0.06, GamesCount: 10, WinsCount: 5, LossesCount: 3, DrawsCount: 2},
		122: {PlayerID: 122, Rating: 1450, RD: 140, Volatility: 0.06, GamesCount: 4, WinsCount: 1, LossesCount: 2, DrawsCount: 1},
	}
	var updated []*models.PlayerRating
	var expectedCounts []int
	var history []*models.RatingHistory
	ratingRepo := &fakeRatingRepo{
		GetByPlayerFunc: func(_ context.Context, playerID int) (*models.PlayerRating, error) {
			snapshot := *ratings[playerID]
			return &snapshot, nil
		},
		UpdateFunc: func(_ context.Context, _ repositories.SQLExecutor, rating *models.PlayerRating, expectedGamesCount int) error {
			row := *rating
			updated = append(updated, &row)
			expectedCounts = append(expectedCounts, expectedGamesCount)
			return nil
		},
		InsertHistoryFunc: func(_ context.Context, _ repositories.SQLExecutor, entry *models.RatingHistory) error {
			history = append(history, entry)
			return nil
		},
	}
	svc, c := newTxRatingService(t, ratingRepo, matchParticipants())

	match := &models.Match{ID: 9, WhiteParticipantID: 21, BlackParticipantID: intPtr(22), Result: models.ResultWhiteWin}
	require.NoError(t, svc.ApplyMatchResult(context.Background(), match, 3))

	require.Len(t, updated, 2)
	// Оптимистичный предикат получает счётчик партий из снимка.
	assert.Equal(t, []int{10, 4}, expectedCounts)
	assert.Equal(t, 11, updated[0].GamesCount)
	assert.Equal(t, 6, updated[0].WinsCount)
	assert.Equal(t, 3, updated[1].LossesCount)
	assert.Greater(t, updated[0].Rating, 1600.0)
	assert.Less(t, updated[1].Rating, 1450.0)

	require.Len(t, history, 2)
	// Журнал хранит рейтинг соперника до обновления.
	require.NotNil(t, history[0].OpponentRating)
	assert.Equal(t, 1450.0, *history[0].OpponentRating)
	assert.Equal(t, 1600.0, *history[1].OpponentRating)

	cached, ok := c.Get(121)
	require.True(t, ok)
	assert.Equal(t, 11, cached.GamesCount)
}

func TestApplyMatchResultRetriesStaleSnapshot(t *testing.T) {
	reads := 0
	updateCalls := 0
	ratingRepo := &fakeRatingRepo{
		GetByPlayerFunc: func(_ context.Context, playerID int) (*models.PlayerRating, error) {
			reads++
			return &models.PlayerRating{PlayerID: playerID, Rating: 1500, RD: 150, Volatility: 0.06, GamesCount: reads}, nil
		},
		UpdateFunc: func(_ context.Context, _ repositories.SQLExecutor, _ *models.PlayerRating, _ int) error {
			updateCalls++
			if updateCalls == 1 {
				// Параллельная партия успела записать строку первой.
				return repositories.ErrPlayerRatingStale
			}
			return nil
		},
		InsertHistoryFunc: func(_ context.Context, _ repositories.SQLExecutor, _ *models.RatingHistory) error {
			return nil
		},
	}
	svc, _ := newTxRatingService(t, ratingRepo, matchParticipants())

	match := &models.Match{ID: 9, WhiteParticipantID: 21, BlackParticipantID: intPtr(22), Result: models.ResultDraw}
	require.NoError(t, svc.ApplyMatchResult(context.Background(), match, 3))

	// Неудачная запись плюс две успешные на повторе.
	assert.Equal(t, 3, updateCalls)
	// После сброса кэша снимок перечитан из хранилища.
	assert.Equal(t, 4, reads)
}

func TestApplyMatchResultStaleSnapshotExhaustsRetries(t *testing.T) {
	updateCalls := 0
	ratingRepo := &fakeRatingRepo{
		GetByPlayerFunc: func(_ context.Context, playerID int) (*models.PlayerRating, error) {
			return &models.PlayerRating{PlayerID: playerID, Rating: 1500, RD: 150, Volatility: 0.06, GamesCount: 10}, nil
		},
		UpdateFunc: func(_ context.Context, _ repositories.SQLExecutor, _ *models.PlayerRating, _ int) error {
			updateCalls++
			return repositories.ErrPlayerRatingStale
		},
	}
	svc, _ := newTxRatingService(t, ratingRepo, matchParticipants())

	match := &models.Match{ID: 9, WhiteParticipantID: 21, BlackParticipantID: intPtr(22), Result: models.ResultWhiteWin}
	err := svc.ApplyMatchResult(context.Background(), match, 3)
	assert.ErrorIs(t, err, ErrRatingUpdateFailed)
	assert.ErrorIs(t, err, repositories.ErrPlayerRatingStale)
	assert.Equal(t, maxSnapshotAttempts, updateCalls)
}

func TestResultScores(t *testing.T) {
	rated := []models.MatchResult{
		models.ResultWhiteWin,
		models.ResultBlackWin,
		models.ResultDraw,
		models.ResultForfeitWhite,
		models.ResultForfeitBlack,
	}
	for _, result := range rated {
		t.Run(string(result), func(t *testing.T) {
			white, black, err := resultScores(result)
			require.NoError(t, err)
			assert.Equal(t, 1.0, white+black)
		})
	}

	t.Run("white win", func(t *testing.T) {
		white, black, err := resultScores(models.ResultWhiteWin)
		require.NoError(t, err)
		assert.Equal(t, 1.0, white)
		assert.Equal(t, 0.0, black)
	})

	t.Run("not played errors", func(t *testing.T) {
		_, _, err := resultScores(models.ResultNotPlayed)
		assert.ErrorIs(t, err, ErrUnratedResult)
	})

	t.Run("bye errors", func(t *testing.T) {
		_, _, err := resultScores(models.ResultBye)
		assert.ErrorIs(t, err, ErrUnratedResult)
	})
}

func TestClampRating(t *testing.T) {
	clamped := clampRating(glicko.Rating{R: 1500, RD: 500, Volatility: 0.5})
	assert.Equal(t, models.RDMax, clamped.RD)
	assert.Equal(t, models.VolatilityMax, clamped.Volatility)

	clamped = clampRating(glicko.Rating{R: 1500, RD: 5, Volatility: 0.001})
	assert.Equal(t, models.RDMin, clamped.RD)
	assert.Equal(t, models.VolatilityMin, clamped.Volatility)
}

func TestPredictOutcome(t *testing.T) {
	svc, c := newTestRatingService(&fakeRatingRepo{}, nil, nil)
	c.Set(&models.PlayerRating{PlayerID: 1, Rating: 1800, RD: 80, Volatility: 0.06})
	c.Set(&models.PlayerRating{PlayerID: 2, Rating: 1500, RD: 80, Volatility: 0.06})

	prediction, err := svc.PredictOutcome(context.Background(), 1, 2)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, prediction.WhiteWin+prediction.BlackWin+prediction.Draw, 1e-9)
	assert.Greater(t, prediction.WhiteWin, prediction.BlackWin)
	// 300 пунктов разницы: 0.1 + 0.3 = 0.4, прижато к потолку 0.3.
	assert.InDelta(t, 0.3, prediction.Draw, 1e-9)
}

func TestPredictOutcomeEqualPlayers(t *testing.T) {
	svc, c := newTestRatingService(&fakeRatingRepo{}, nil, nil)
	c.Set(&models.PlayerRating{PlayerID: 1, Rating: 1500, RD: 100, Volatility: 0.06})
	c.Set(&models.PlayerRating{PlayerID: 2, Rating: 1500, RD: 100, Volatility: 0.06})

	prediction, err := svc.PredictOutcome(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.InDelta(t, prediction.WhiteWin, prediction.BlackWin, 1e-9)
	assert.InDelta(t, 0.1, prediction.Draw, 1e-9)
}

func TestAdjustRatingRejectedByValidator(t *testing.T) {
	ratingRepo := &fakeRatingRepo{
		GetByPlayerFunc: func(_ context.Context, playerID int) (*models.PlayerRating, error) {
			return &models.PlayerRating{PlayerID: playerID, Rating: 1500, RD: 100, Volatility: 0.06}, nil
		},
	}
	validator := &fakeValidator{
		ValidateRatingUpdateFunc: func(_ context.Context, _ *models.PlayerRating, _, _, _ float64) *ValidationResult {
			return &ValidationResult{Valid: false, Errors: []string{"out of bounds"}}
		},
	}
	svc, _ := newTestRatingService(ratingRepo, nil, validator)

	err := svc.AdjustRating(context.Background(), 7, 2500, 100, 0.06, models.ChangeReasonManual)
	assert.ErrorIs(t, err, ErrValidationRejected)
}

func TestAdjustRatingUnknownPlayer(t *testing.T) {
	ratingRepo := &fakeRatingRepo{
		GetByPlayerFunc: func(_ context.Context, _ int) (*models.PlayerRating, error) {
			return nil, repositories.ErrPlayerRatingNotFound
		},
	}
	svc, _ := newTestRatingService(ratingRepo, nil, nil)

	err := svc.AdjustRating(context.Background(), 7, 1600, 100, 0.06, models.ChangeReasonManual)
	assert.ErrorIs(t, err, ErrRatingNotFound)
}

func TestHistoryDefaultLimit(t *testing.T) {
	var gotLimit int
	ratingRepo := &fakeRatingRepo{
		ListHistoryByPlayerFunc: func(_ context.Context, _, limit int) ([]*models.RatingHistory, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	svc, _ := newTestRatingService(ratingRepo, nil, nil)

	_, err := svc.History(context.Background(), 7, 0)
	require.NoError(t, err)
	assert.Equal(t, 50, gotLimit)
}
