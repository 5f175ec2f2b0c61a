package models

import "time"

// Participant — запись участника в турнире. Никнейм уникален в рамках турнира.
type Participant struct {
	ID           int       `json:"id" db:"id"`
	TournamentID int       `json:"tournament_id" db:"tournament_id"`
	PlayerID     int       `json:"player_id" db:"player_id"`
	Nickname     string    `json:"nickname" db:"nickname"`
	SeedRating   *int      `json:"seed_rating,omitempty" db:"seed_rating"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
