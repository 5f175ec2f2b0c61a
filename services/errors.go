package services

import "errors"

// Общие ошибки сервисного слоя. Движковые ошибки (NotConfigured, Timeout,
// EngineFailure, OutputUnreadable) живут в пакете pairing и пробрасываются
// отсюда без изменения — вызывающий различает их через errors.Is.
var (
	// ErrStorageFailure оборачивает любые ошибки хранилища, чтобы наружу
	// не утекали детали драйвера.
	ErrStorageFailure = errors.New("storage operation failed")

	// Ошибки генерации жеребьёвки
	ErrNotEnoughParticipants = errors.New("not enough participants for pairing generation")
	ErrNoPairsParsed         = errors.New("pairing engine produced no recognizable pairs")
	ErrTournamentArchived    = errors.New("tournament is archived")

	// Ошибки рейтингового конвейера
	ErrRatingUpdateFailed = errors.New("rating update failed")
	ErrValidationRejected = errors.New("rating mutation rejected by validation")
	ErrUnratedResult      = errors.New("match result is not eligible for rating")
	ErrMatchResultInvalid = errors.New("invalid match result")
	ErrRatingNotFound     = errors.New("player rating not found")
)
