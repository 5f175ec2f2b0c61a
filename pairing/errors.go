package pairing

import "errors"

// Ошибки интеграции с внешним движком жеребьёвки. Все они означают один
// проваленный запуск генерации; политика отката — на стороне вызывающего.
var (
	// ErrNotConfigured — бинарник движка не найден; процесс не запускался.
	ErrNotConfigured = errors.New("pairing engine binary is not configured")

	// ErrTimeout — движок превысил отведённое время и был убит.
	ErrTimeout = errors.New("pairing engine timed out")

	// ErrEngineFailure — ненулевой код выхода движка.
	ErrEngineFailure = errors.New("pairing engine exited with an error")

	// ErrOutputUnreadable — нулевой код выхода, но выходной файл
	// отсутствует или не читается.
	ErrOutputUnreadable = errors.New("pairing engine output file is unreadable")
)
