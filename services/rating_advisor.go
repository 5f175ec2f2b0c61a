package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Dosada05/chess-pairings/models"
	"github.com/Dosada05/chess-pairings/repositories"
)

// Веса качества пары: близость рейтингов важнее общего баланса.
// Пара принимается только при качестве не ниже порога.
const (
	qualityClosenessWeight = 0.7
	qualityBalanceWeight   = 0.3

	DefaultMaxRatingDiff = 200.0
	DefaultMinQuality    = 0.6
)

// SuggestedPairing — рекомендованная пара с оценкой качества в [0, 1].
type SuggestedPairing struct {
	PlayerID         int     `json:"player_id"`
	OpponentID       int     `json:"opponent_id"`
	PlayerRating     float64 `json:"player_rating"`
	OpponentRating   float64 `json:"opponent_rating"`
	RatingDifference float64 `json:"rating_difference"`
	Quality          float64 `json:"quality"`
}

// RatingAdvisor предлагает пары по близости рейтингов. Это вспомогательный
// инструмент для организаторов, движок жеребьёвки он не заменяет.
type RatingAdvisor interface {
	// SuggestPairings жадно сводит игроков в пары, не превышая maxRatingDiff
	// (<= 0 означает лимит по умолчанию). Непарный остаток отбрасывается.
	SuggestPairings(ctx context.Context, playerIDs []int, maxRatingDiff float64) ([]SuggestedPairing, error)
	// Recommendations возвращает topN лучших пар по качеству.
	Recommendations(ctx context.Context, playerIDs []int, topN int) ([]SuggestedPairing, error)
}

type ratingAdvisor struct {
	ratingRepo repositories.RatingRepository
}

func NewRatingAdvisor(ratingRepo repositories.RatingRepository) RatingAdvisor {
	return &ratingAdvisor{ratingRepo: ratingRepo}
}

type ratedPlayer struct {
	id     int
	rating float64
}

func (a *ratingAdvisor) SuggestPairings(ctx context.Context, playerIDs []int, maxRatingDiff float64) ([]SuggestedPairing, error) {
	if maxRatingDiff <= 0 {
		maxRatingDiff = DefaultMaxRatingDiff
	}

	players, err := a.loadPlayers(ctx, playerIDs)
	if err != nil {
		return nil, err
	}
	if len(players) < 2 {
		return []SuggestedPairing{}, nil
	}

	// Сортировка по убыванию рейтинга; для каждого непарного игрока —
	// ближайший по рейтингу сосед в пределах окна.
	sort.Slice(players, func(i, j int) bool { return players[i].rating > players[j].rating })

	paired := make(map[int]bool, len(players))
	suggestions := make([]SuggestedPairing, 0, len(players)/2)

	for i, player := range players {
		if paired[player.id] {
			continue
		}
		bestIdx := -1
		bestQuality := 0.0
		for j := i + 1; j < len(players); j++ {
			candidate := players[j]
			if paired[candidate.id] {
				continue
			}
			diff := math.Abs(player.rating - candidate.rating)
			if diff > maxRatingDiff {
				break
			}
			if quality := pairingQuality(player.rating, candidate.rating, maxRatingDiff); quality > bestQuality {
				bestQuality = quality
				bestIdx = j
			}
		}
		if bestIdx < 0 || bestQuality < DefaultMinQuality {
			continue
		}

		opponent := players[bestIdx]
		paired[player.id] = true
		paired[opponent.id] = true
		suggestions = append(suggestions, SuggestedPairing{
			PlayerID:         player.id,
			OpponentID:       opponent.id,
			PlayerRating:     player.rating,
			OpponentRating:   opponent.rating,
			RatingDifference: math.Abs(player.rating - opponent.rating),
			Quality:          bestQuality,
		})
	}
	return suggestions, nil
}

func (a *ratingAdvisor) Recommendations(ctx context.Context, playerIDs []int, topN int) ([]SuggestedPairing, error) {
	suggestions, err := a.SuggestPairings(ctx, playerIDs, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Quality != suggestions[j].Quality {
			return suggestions[i].Quality > suggestions[j].Quality
		}
		return suggestions[i].RatingDifference < suggestions[j].RatingDifference
	})
	if topN > 0 && len(suggestions) > topN {
		suggestions = suggestions[:topN]
	}
	return suggestions, nil
}

func (a *ratingAdvisor) loadPlayers(ctx context.Context, playerIDs []int) ([]ratedPlayer, error) {
	players := make([]ratedPlayer, 0, len(playerIDs))
	for _, id := range playerIDs {
		rating, err := a.ratingRepo.GetByPlayer(ctx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrPlayerRatingNotFound) {
				players = append(players, ratedPlayer{id: id, rating: models.RatingDefault})
				continue
			}
			return nil, fmt.Errorf("%w: get rating for player %d: %w", ErrStorageFailure, id, err)
		}
		players = append(players, ratedPlayer{id: id, rating: rating.Rating})
	}
	return players, nil
}

// pairingQuality оценивает пару: близость рейтингов в окне плюс
// сбалансированность относительно среднего уровня пары.
func pairingQuality(r1, r2, maxDiff float64) float64 {
	diff := math.Abs(r1 - r2)
	closeness := 1 - diff/maxDiff
	avg := (r1 + r2) / 2
	balance := 1.0
	if avg > 0 {
		balance = 1 - diff/avg
	}
	quality := qualityClosenessWeight*closeness + qualityBalanceWeight*balance
	return math.Max(0, math.Min(1, quality))
}
