package models

import "time"

// Границы Glicko-2, за которые значения не должны выходить после любого апдейта.
const (
	RatingDefault     = 1500.0
	RDMin             = 30.0
	RDMax             = 350.0
	VolatilityMin     = 0.01
	VolatilityMax     = 0.2
	DefaultVolatility = 0.06
)

// PlayerRating — одна строка на игрока. Создаётся лениво, мутируется
// только через рейтинговый сервис, никогда не удаляется.
type PlayerRating struct {
	ID          int        `json:"id" db:"id"`
	PlayerID    int        `json:"player_id" db:"player_id"`
	Rating      float64    `json:"rating" db:"rating"`
	RD          float64    `json:"rd" db:"rd"`
	Volatility  float64    `json:"volatility" db:"volatility"`
	GamesCount  int        `json:"games_count" db:"games_count"`
	WinsCount   int        `json:"wins_count" db:"wins_count"`
	LossesCount int        `json:"losses_count" db:"losses_count"`
	DrawsCount  int        `json:"draws_count" db:"draws_count"`
	LastGameAt  *time.Time `json:"last_game_at,omitempty" db:"last_game_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// RatingChangeReason — причина записи в журнале рейтинга.
type RatingChangeReason string

const (
	ChangeReasonMatch     RatingChangeReason = "match_result"
	ChangeReasonManual    RatingChangeReason = "manual_adjustment"
	ChangeReasonMigration RatingChangeReason = "migration"
)

// GameResult — исход с точки зрения конкретного игрока (для журнала).
type GameResult string

const (
	GameResultWin  GameResult = "win"
	GameResultLoss GameResult = "loss"
	GameResultDraw GameResult = "draw"
)

// RatingHistory — append-only запись журнала. После вставки не мутируется.
type RatingHistory struct {
	ID             int                `json:"id" db:"id"`
	PlayerID       int                `json:"player_id" db:"player_id"`
	OldRating      float64            `json:"old_rating" db:"old_rating"`
	NewRating      float64            `json:"new_rating" db:"new_rating"`
	OldRD          float64            `json:"old_rd" db:"old_rd"`
	NewRD          float64            `json:"new_rd" db:"new_rd"`
	OldVolatility  float64            `json:"old_volatility" db:"old_volatility"`
	NewVolatility  float64            `json:"new_volatility" db:"new_volatility"`
	MatchID        *int               `json:"match_id,omitempty" db:"match_id"`
	TournamentID   *int               `json:"tournament_id,omitempty" db:"tournament_id"`
	ChangeReason   RatingChangeReason `json:"change_reason" db:"change_reason"`
	OpponentID     *int               `json:"opponent_id,omitempty" db:"opponent_id"`
	OpponentRating *float64           `json:"opponent_rating,omitempty" db:"opponent_rating"`
	GameResult     *GameResult        `json:"game_result,omitempty" db:"game_result"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
}

// RatingChange вычисляет дельту записи журнала.
func (h *RatingHistory) RatingChange() float64 {
	return h.NewRating - h.OldRating
}
