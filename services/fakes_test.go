package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/chess-pairings/models"
	"github.com/Dosada05/chess-pairings/pairing"
	"github.com/Dosada05/chess-pairings/repositories"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int { return &v }

// Драйвер-заглушка: сервисам в тестах нужен настоящий *sql.DB только ради
// Begin/Commit/Rollback, сами запросы перехватывают фейковые репозитории.
type stubTxDriver struct{}

func (stubTxDriver) Open(string) (driver.Conn, error) { return &stubTxConn{}, nil }

type stubTxConn struct{}

func (*stubTxConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("statements are not supported")
}
func (*stubTxConn) Close() error              { return nil }
func (*stubTxConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

var registerStubDriver sync.Once

func newStubDB(t *testing.T) *sql.DB {
	t.Helper()
	registerStubDriver.Do(func() {
		sql.Register("txstub", stubTxDriver{})
	})
	db, err := sql.Open("txstub", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeTournamentRepo struct {
	GetByIDFunc     func(ctx context.Context, id int) (*models.Tournament, error)
	SetArchivedFunc func(ctx context.Context, id int, archived bool) error
}

func (f *fakeTournamentRepo) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	return f.GetByIDFunc(ctx, id)
}

func (f *fakeTournamentRepo) SetArchived(ctx context.Context, id int, archived bool) error {
	return f.SetArchivedFunc(ctx, id, archived)
}

type fakeParticipantRepo struct {
	GetByIDFunc          func(ctx context.Context, id int) (*models.Participant, error)
	ListByTournamentFunc func(ctx context.Context, tournamentID int) ([]*models.Participant, error)
	CreateFunc           func(ctx context.Context, participant *models.Participant) error
}

func (f *fakeParticipantRepo) GetByID(ctx context.Context, id int) (*models.Participant, error) {
	return f.GetByIDFunc(ctx, id)
}

func (f *fakeParticipantRepo) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Participant, error) {
	return f.ListByTournamentFunc(ctx, tournamentID)
}

func (f *fakeParticipantRepo) Create(ctx context.Context, participant *models.Participant) error {
	return f.CreateFunc(ctx, participant)
}

type fakeRoundRepo struct {
	GetByIDFunc          func(ctx context.Context, id int) (*models.Round, error)
	ListByTournamentFunc func(ctx context.Context, tournamentID int) ([]*models.Round, error)
	MarkPairedFunc       func(ctx context.Context, exec repositories.SQLExecutor, id int) error
	CountPairedFunc      func(ctx context.Context, tournamentID int) (int, error)
}

func (f *fakeRoundRepo) GetByID(ctx context.Context, id int) (*models.Round, error) {
	return f.GetByIDFunc(ctx, id)
}

func (f *fakeRoundRepo) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Round, error) {
	return f.ListByTournamentFunc(ctx, tournamentID)
}

func (f *fakeRoundRepo) MarkPaired(ctx context.Context, exec repositories.SQLExecutor, id int) error {
	return f.MarkPairedFunc(ctx, exec, id)
}

func (f *fakeRoundRepo) CountPaired(ctx context.Context, tournamentID int) (int, error) {
	return f.CountPairedFunc(ctx, tournamentID)
}

type fakeMatchRepo struct {
	CreateFunc                      func(ctx context.Context, exec repositories.SQLExecutor, match *models.Match) error
	GetByIDFunc                     func(ctx context.Context, id int) (*models.Match, error)
	ListByRoundFunc                 func(ctx context.Context, roundID int) ([]*models.Match, error)
	ListByTournamentBeforeRoundFunc func(ctx context.Context, tournamentID, beforeRoundNumber int) ([]*models.Match, error)
	ListByTournamentFunc            func(ctx context.Context, tournamentID int) ([]*models.Match, error)
	UpdateResultFunc                func(ctx context.Context, exec repositories.SQLExecutor, id int, result models.MatchResult, scoreWhite, scoreBlack float64) error
}

func (f *fakeMatchRepo) Create(ctx context.Context, exec repositories.SQLExecutor, match *models.Match) error {
	return f.CreateFunc(ctx, exec, match)
}

func (f *fakeMatchRepo) GetByID(ctx context.Context, id int) (*models.Match, error) {
	return f.GetByIDFunc(ctx, id)
}

func (f *fakeMatchRepo) ListByRound(ctx context.Context, roundID int) ([]*models.Match, error) {
	return f.ListByRoundFunc(ctx, roundID)
}

func (f *fakeMatchRepo) ListByTournamentBeforeRound(ctx context.Context, tournamentID, beforeRoundNumber int) ([]*models.Match, error) {
	return f.ListByTournamentBeforeRoundFunc(ctx, tournamentID, beforeRoundNumber)
}

func (f *fakeMatchRepo) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error) {
	return f.ListByTournamentFunc(ctx, tournamentID)
}

func (f *fakeMatchRepo) UpdateResult(ctx context.Context, exec repositories.SQLExecutor, id int, result models.MatchResult, scoreWhite, scoreBlack float64) error {
	return f.UpdateResultFunc(ctx, exec, id, result, scoreWhite, scoreBlack)
}

type fakeRatingRepo struct {
	GetByPlayerFunc         func(ctx context.Context, playerID int) (*models.PlayerRating, error)
	CreateFunc              func(ctx context.Context, exec repositories.SQLExecutor, rating *models.PlayerRating) error
	UpdateFunc              func(ctx context.Context, exec repositories.SQLExecutor, rating *models.PlayerRating, expectedGamesCount int) error
	InsertHistoryFunc       func(ctx context.Context, exec repositories.SQLExecutor, entry *models.RatingHistory) error
	ListHistoryByPlayerFunc func(ctx context.Context, playerID, limit int) ([]*models.RatingHistory, error)
	CountHistorySinceFunc   func(ctx context.Context, playerID int, since time.Time) (int, error)
}

func (f *fakeRatingRepo) GetByPlayer(ctx context.Context, playerID int) (*models.PlayerRating, error) {
	return f.GetByPlayerFunc(ctx, playerID)
}

func (f *fakeRatingRepo) Create(ctx context.Context, exec repositories.SQLExecutor, rating *models.PlayerRating) error {
	return f.CreateFunc(ctx, exec, rating)
}

func (f *fakeRatingRepo) Update(ctx context.Context, exec repositories.SQLExecutor, rating *models.PlayerRating, expectedGamesCount int) error {
	return f.UpdateFunc(ctx, exec, rating, expectedGamesCount)
}

func (f *fakeRatingRepo) InsertHistory(ctx context.Context, exec repositories.SQLExecutor, entry *models.RatingHistory) error {
	return f.InsertHistoryFunc(ctx, exec, entry)
}

func (f *fakeRatingRepo) ListHistoryByPlayer(ctx context.Context, playerID, limit int) ([]*models.RatingHistory, error) {
	return f.ListHistoryByPlayerFunc(ctx, playerID, limit)
}

func (f *fakeRatingRepo) CountHistorySince(ctx context.Context, playerID int, since time.Time) (int, error) {
	return f.CountHistorySinceFunc(ctx, playerID, since)
}

type fakeEngineRunner struct {
	RunFunc func(ctx context.Context, system models.PairingSystem, document string, tournamentID, roundID int) (*pairing.RunResult, error)
}

func (f *fakeEngineRunner) Run(ctx context.Context, system models.PairingSystem, document string, tournamentID, roundID int) (*pairing.RunResult, error) {
	return f.RunFunc(ctx, system, document, tournamentID, roundID)
}

type fakeRoundAdvancer struct {
	MaybeFinalizeFunc func(ctx context.Context, tournamentID int) error
	calls             int
}

func (f *fakeRoundAdvancer) MaybeFinalize(ctx context.Context, tournamentID int) error {
	f.calls++
	if f.MaybeFinalizeFunc != nil {
		return f.MaybeFinalizeFunc(ctx, tournamentID)
	}
	return nil
}

type fakeValidator struct {
	ValidateRatingUpdateFunc          func(ctx context.Context, current *models.PlayerRating, newRating, newRD, newVolatility float64) *ValidationResult
	ValidateTournamentEligibilityFunc func(ctx context.Context, playerID int) (*ValidationResult, error)
}

func (f *fakeValidator) ValidateRatingUpdate(ctx context.Context, current *models.PlayerRating, newRating, newRD, newVolatility float64) *ValidationResult {
	if f.ValidateRatingUpdateFunc != nil {
		return f.ValidateRatingUpdateFunc(ctx, current, newRating, newRD, newVolatility)
	}
	return &ValidationResult{Valid: true}
}

func (f *fakeValidator) ValidateTournamentEligibility(ctx context.Context, playerID int) (*ValidationResult, error) {
	if f.ValidateTournamentEligibilityFunc != nil {
		return f.ValidateTournamentEligibilityFunc(ctx, playerID)
	}
	return &ValidationResult{Valid: true}, nil
}

type fakeRatingService struct {
	GetOrInitRatingFunc  func(ctx context.Context, playerID int, seedRating *int) (*models.PlayerRating, error)
	ApplyMatchResultFunc func(ctx context.Context, match *models.Match, tournamentID int) error
	PredictOutcomeFunc   func(ctx context.Context, whitePlayerID, blackPlayerID int) (*OutcomePrediction, error)
	HistoryFunc          func(ctx context.Context, playerID, limit int) ([]*models.RatingHistory, error)
	AdjustRatingFunc     func(ctx context.Context, playerID int, newRating, newRD, newVolatility float64, reason models.RatingChangeReason) error
}

func (f *fakeRatingService) GetOrInitRating(ctx context.Context, playerID int, seedRating *int) (*models.PlayerRating, error) {
	return f.GetOrInitRatingFunc(ctx, playerID, seedRating)
}

func (f *fakeRatingService) ApplyMatchResult(ctx context.Context, match *models.Match, tournamentID int) error {
	return f.ApplyMatchResultFunc(ctx, match, tournamentID)
}

func (f *fakeRatingService) PredictOutcome(ctx context.Context, whitePlayerID, blackPlayerID int) (*OutcomePrediction, error) {
	return f.PredictOutcomeFunc(ctx, whitePlayerID, blackPlayerID)
}

func (f *fakeRatingService) History(ctx context.Context, playerID, limit int) ([]*models.RatingHistory, error) {
	return f.HistoryFunc(ctx, playerID, limit)
}

func (f *fakeRatingService) AdjustRating(ctx context.Context, playerID int, newRating, newRD, newVolatility float64, reason models.RatingChangeReason) error {
	return f.AdjustRatingFunc(ctx, playerID, newRating, newRD, newVolatility, reason)
}
