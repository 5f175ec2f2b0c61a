package services

import "github.com/Dosada05/chess-pairings/models"

// ScoreForResult переводит исход партии в пару очков (белые, чёрные)
// по очковой конфигурации турнира. Для неизвестного исхода — нули,
// как для несыгранной партии.
func ScoreForResult(t *models.Tournament, result models.MatchResult) (scoreWhite, scoreBlack float64) {
	switch result {
	case models.ResultWhiteWin, models.ResultForfeitBlack:
		return t.PointsWin, t.PointsLoss
	case models.ResultBlackWin, models.ResultForfeitWhite:
		return t.PointsLoss, t.PointsWin
	case models.ResultDraw:
		return t.PointsDraw, t.PointsDraw
	case models.ResultBye:
		return t.ByePoints, 0
	default:
		return 0, 0
	}
}
