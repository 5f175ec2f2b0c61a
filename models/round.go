package models

import "time"

type RoundStatus string

const (
	RoundStatusPending   RoundStatus = "pending"
	RoundStatusPaired    RoundStatus = "paired"
	RoundStatusCompleted RoundStatus = "completed"
)

// Round — тур турнира. Номера 1-based и без пропусков внутри турнира.
type Round struct {
	ID           int         `json:"id" db:"id"`
	TournamentID int         `json:"tournament_id" db:"tournament_id"`
	Number       int         `json:"number" db:"number"`
	Status       RoundStatus `json:"status" db:"status"`
	PairedAt     *time.Time  `json:"paired_at,omitempty" db:"paired_at"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}
