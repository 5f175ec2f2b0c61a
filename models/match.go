package models

// MatchResult — перечисление исходов партии, соответствует ENUM в БД.
type MatchResult string

const (
	ResultNotPlayed    MatchResult = "not_played"
	ResultWhiteWin     MatchResult = "white"
	ResultBlackWin     MatchResult = "black"
	ResultDraw         MatchResult = "draw"
	ResultBye          MatchResult = "bye"
	ResultForfeitWhite MatchResult = "forfeit_white"
	ResultForfeitBlack MatchResult = "forfeit_black"
)

// MatchSource помечает, какой генератор создал партию.
type MatchSource string

const (
	SourceEngine MatchSource = "bbp"
	SourceSystem MatchSource = "system"
)

// Match — партия внутри тура. BlackParticipantID == nil означает bye.
type Match struct {
	ID                 int         `json:"id" db:"id"`
	RoundID            int         `json:"round_id" db:"round_id"`
	WhiteParticipantID int         `json:"white_participant_id" db:"white_participant_id"`
	BlackParticipantID *int        `json:"black_participant_id,omitempty" db:"black_participant_id"`
	BoardNo            int         `json:"board_no" db:"board_no"`
	Result             MatchResult `json:"result" db:"result"`
	ScoreWhite         float64     `json:"score_white" db:"score_white"`
	ScoreBlack         float64     `json:"score_black" db:"score_black"`
	Source             MatchSource `json:"source" db:"source"`
}

// IsBye сообщает, что у белых нет соперника в этой партии.
func (m *Match) IsBye() bool {
	return m.BlackParticipantID == nil
}

// Rated сообщает, участвует ли исход в обновлении рейтинга.
// Bye и форфейты рейтинг не двигают (см. RatingPolicy).
func (r MatchResult) Rated() bool {
	switch r {
	case ResultWhiteWin, ResultBlackWin, ResultDraw:
		return true
	}
	return false
}
