package models

import (
	"strings"
	"time"
)

// PairingSystem представляет систему жеребьёвки, поддерживаемую движком.
type PairingSystem string

const (
	PairingSystemDutch    PairingSystem = "dutch"
	PairingSystemBurstein PairingSystem = "burstein"
)

// Tournament представляет турнир. Создаётся внешним админским флоу,
// ядро жеребьёвки читает его и меняет только флаг архивации.
type Tournament struct {
	ID         int       `json:"id" db:"id"`
	Title      string    `json:"title" db:"title"`
	Format     string    `json:"format" db:"format"`
	Rounds     int       `json:"rounds" db:"rounds"`
	PointsWin  float64   `json:"points_win" db:"points_win"`
	PointsLoss float64   `json:"points_loss" db:"points_loss"`
	PointsDraw float64   `json:"points_draw" db:"points_draw"`
	ByePoints  float64   `json:"bye_points" db:"bye_points"`
	Archived   bool      `json:"archived" db:"archived"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// PairingSystem выбирает вариант движка по подстроке в формате турнира.
// Всё, что не burstein, считается dutch.
func (t *Tournament) PairingSystem() PairingSystem {
	if strings.Contains(strings.ToLower(t.Format), string(PairingSystemBurstein)) {
		return PairingSystemBurstein
	}
	return PairingSystemDutch
}
