package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/Dosada05/chess-pairings/models"
	"github.com/Dosada05/chess-pairings/pairing"
	"github.com/Dosada05/chess-pairings/repositories"
	"golang.org/x/sync/singleflight"
)

// EngineRunner — контракт запуска внешнего движка (реализуется pairing.Runner).
type EngineRunner interface {
	Run(ctx context.Context, system models.PairingSystem, document string, tournamentID, roundID int) (*pairing.RunResult, error)
}

// RoundAdvancer — внешний коллаборатор, проверяющий после генерации,
// не пора ли автозавершить турнир.
type RoundAdvancer interface {
	MaybeFinalize(ctx context.Context, tournamentID int) error
}

// GenerationResult — итог одного вызова генерации.
type GenerationResult struct {
	Matches []*models.Match
	// AlreadyPaired сообщает, что тур уже был сведён и вернулся
	// существующий набор партий (повторный вызов — чистое чтение).
	AlreadyPaired bool
	RunID         string
}

// StandingsEntry — строка текущей таблицы турнира.
type StandingsEntry struct {
	ParticipantID int     `json:"participant_id"`
	Nickname      string  `json:"nickname"`
	Points        float64 `json:"points"`
}

type PairingService interface {
	// GeneratePairings строит входной документ, запускает движок,
	// разбирает вывод и идемпотентно сохраняет партии тура.
	GeneratePairings(ctx context.Context, tournamentID, roundID int) (*GenerationResult, error)
	// FallbackPairings — простая швейцарка без движка. Никогда не
	// вызывается автоматически: откат — решение вызывающего.
	FallbackPairings(ctx context.Context, tournamentID, roundID int) (*GenerationResult, error)
	Standings(ctx context.Context, tournamentID int) ([]StandingsEntry, error)
}

type pairingService struct {
	db              *sql.DB
	tournamentRepo  repositories.TournamentRepository
	participantRepo repositories.ParticipantRepository
	roundRepo       repositories.RoundRepository
	matchRepo       repositories.MatchRepository
	runner          EngineRunner
	advancer        RoundAdvancer
	logger          *slog.Logger

	// Схлопывает конкурирующие генерации одного тура внутри процесса.
	// Межпроцессную гонку закрывает уникальный индекс (round_id, board_no).
	generation singleflight.Group
}

func NewPairingService(
	db *sql.DB,
	tournamentRepo repositories.TournamentRepository,
	participantRepo repositories.ParticipantRepository,
	roundRepo repositories.RoundRepository,
	matchRepo repositories.MatchRepository,
	runner EngineRunner,
	advancer RoundAdvancer,
	logger *slog.Logger,
) PairingService {
	return &pairingService{
		db:              db,
		tournamentRepo:  tournamentRepo,
		participantRepo: participantRepo,
		roundRepo:       roundRepo,
		matchRepo:       matchRepo,
		runner:          runner,
		advancer:        advancer,
		logger:          logger,
	}
}

func (s *pairingService) GeneratePairings(ctx context.Context, tournamentID, roundID int) (*GenerationResult, error) {
	v, err, _ := s.generation.Do(strconv.Itoa(roundID), func() (interface{}, error) {
		return s.generate(ctx, tournamentID, roundID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*GenerationResult), nil
}

func (s *pairingService) generate(ctx context.Context, tournamentID, roundID int) (*GenerationResult, error) {
	state, err := s.readState(ctx, tournamentID, roundID)
	if err != nil {
		return nil, err
	}

	// Идемпотентность: уже сведённый тур возвращается как есть.
	if len(state.existing) > 0 {
		s.logger.Info("round already paired, returning existing matches",
			slog.Int("round_id", roundID), slog.Int("matches", len(state.existing)))
		return &GenerationResult{Matches: state.existing, AlreadyPaired: true}, nil
	}

	if len(state.participants) == 0 {
		return nil, fmt.Errorf("%w: tournament %d has no participants", ErrNotEnoughParticipants, tournamentID)
	}
	if len(state.participants) == 1 {
		// Единственный участник получает bye — запускать движок не для чего.
		return s.persistSingleBye(ctx, state)
	}

	document, err := pairing.BuildDocument(pairing.DocumentParams{
		Tournament:   state.tournament,
		Participants: state.participants,
		PriorMatches: state.priorMatches,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build pairing document for round %d: %w", roundID, err)
	}

	runResult, err := s.runner.Run(ctx, state.tournament.PairingSystem(), document, tournamentID, roundID)
	if err != nil {
		return nil, fmt.Errorf("pairing engine run failed for round %d: %w", roundID, err)
	}

	pairs := pairing.ParseOutput(runResult.Output)
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w (round %d, run %s)", ErrNoPairsParsed, roundID, runResult.RunID)
	}

	matches, err := s.persistPairs(ctx, state, pairs, models.SourceEngine)
	if err != nil {
		return nil, err
	}

	s.maybeAdvance(ctx, tournamentID, len(matches))

	return &GenerationResult{Matches: matches, RunID: runResult.RunID}, nil
}

func (s *pairingService) FallbackPairings(ctx context.Context, tournamentID, roundID int) (*GenerationResult, error) {
	v, err, _ := s.generation.Do("fallback-"+strconv.Itoa(roundID), func() (interface{}, error) {
		return s.fallback(ctx, tournamentID, roundID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*GenerationResult), nil
}

func (s *pairingService) fallback(ctx context.Context, tournamentID, roundID int) (*GenerationResult, error) {
	state, err := s.readState(ctx, tournamentID, roundID)
	if err != nil {
		return nil, err
	}
	if len(state.existing) > 0 {
		return &GenerationResult{Matches: state.existing, AlreadyPaired: true}, nil
	}
	if len(state.participants) == 0 {
		return nil, fmt.Errorf("%w: tournament %d has no participants", ErrNotEnoughParticipants, tournamentID)
	}
	if len(state.participants) == 1 {
		return s.persistSingleBye(ctx, state)
	}

	matches, err := s.persistPairs(ctx, state, simpleSwissPairs(len(state.participants)), models.SourceSystem)
	if err != nil {
		return nil, err
	}

	s.maybeAdvance(ctx, tournamentID, len(matches))

	return &GenerationResult{Matches: matches}, nil
}

func (s *pairingService) Standings(ctx context.Context, tournamentID int) ([]StandingsEntry, error) {
	participants, err := s.participantRepo.ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("%w: list participants for tournament %d: %w", ErrStorageFailure, tournamentID, err)
	}
	matches, err := s.matchRepo.ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("%w: list matches for tournament %d: %w", ErrStorageFailure, tournamentID, err)
	}

	points := make(map[int]float64, len(participants))
	for _, m := range matches {
		points[m.WhiteParticipantID] += m.ScoreWhite
		if m.BlackParticipantID != nil {
			points[*m.BlackParticipantID] += m.ScoreBlack
		}
	}

	entries := make([]StandingsEntry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, StandingsEntry{
			ParticipantID: p.ID,
			Nickname:      p.Nickname,
			Points:        points[p.ID],
		})
	}
	sortStandings(entries)
	return entries, nil
}

// tournamentState — снимок состояния, нужный для одной генерации.
type tournamentState struct {
	tournament   *models.Tournament
	round        *models.Round
	participants []*models.Participant
	priorMatches []*models.Match
	existing     []*models.Match
}

func (s *pairingService) readState(ctx context.Context, tournamentID, roundID int) (*tournamentState, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get tournament %d: %w", ErrStorageFailure, tournamentID, err)
	}
	if tournament.Archived {
		return nil, fmt.Errorf("%w: tournament %d", ErrTournamentArchived, tournamentID)
	}

	round, err := s.roundRepo.GetByID(ctx, roundID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoundNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get round %d: %w", ErrStorageFailure, roundID, err)
	}
	if round.TournamentID != tournamentID {
		return nil, fmt.Errorf("round %d does not belong to tournament %d", roundID, tournamentID)
	}

	existing, err := s.matchRepo.ListByRound(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("%w: list matches for round %d: %w", ErrStorageFailure, roundID, err)
	}

	participants, err := s.participantRepo.ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("%w: list participants for tournament %d: %w", ErrStorageFailure, tournamentID, err)
	}

	priorMatches, err := s.matchRepo.ListByTournamentBeforeRound(ctx, tournamentID, round.Number)
	if err != nil {
		return nil, fmt.Errorf("%w: list prior matches for tournament %d: %w", ErrStorageFailure, tournamentID, err)
	}

	return &tournamentState{
		tournament:   tournament,
		round:        round,
		participants: participants,
		priorMatches: priorMatches,
		existing:     existing,
	}, nil
}

// simpleSwissPairs сводит позиции по порядку вставки: соседние пары,
// последний нечётный получает bye.
func simpleSwissPairs(n int) []pairing.Pair {
	pairs := make([]pairing.Pair, 0, n/2+1)
	limit := n - n%2
	for i := 0; i < limit; i += 2 {
		black := i + 2
		pairs = append(pairs, pairing.Pair{WhitePos: i + 1, BlackPos: &black})
	}
	if n%2 == 1 {
		pairs = append(pairs, pairing.Pair{WhitePos: n})
	}
	return pairs
}

// assembleMatches переводит пары движка в партии с плотной нумерацией
// досок начиная с 1. Пара с неразрешимым белым слотом пропускается —
// номер доски при этом не расходуется; неразрешимый чёрный слот
// превращает пару в bye.
func assembleMatches(state *tournamentState, pairs []pairing.Pair, source models.MatchSource, logger *slog.Logger) []*models.Match {
	matches := make([]*models.Match, 0, len(pairs))
	board := 1
	for _, pair := range pairs {
		white := participantAt(state.participants, pair.WhitePos)
		if white == nil {
			logger.Warn("skipping pair: white position does not resolve to a participant",
				slog.Int("round_id", state.round.ID),
				slog.Int("white_pos", pair.WhitePos))
			continue
		}

		match := &models.Match{
			RoundID:            state.round.ID,
			WhiteParticipantID: white.ID,
			BoardNo:            board,
			Result:             models.ResultNotPlayed,
			Source:             source,
		}
		if pair.BlackPos != nil {
			if black := participantAt(state.participants, *pair.BlackPos); black != nil {
				id := black.ID
				match.BlackParticipantID = &id
			} else {
				logger.Warn("black position does not resolve to a participant, pairing as bye",
					slog.Int("round_id", state.round.ID),
					slog.Int("black_pos", *pair.BlackPos))
			}
		}
		if match.IsBye() {
			match.Result = models.ResultBye
			match.ScoreWhite = state.tournament.ByePoints
		}
		matches = append(matches, match)
		board++
	}
	return matches
}

func (s *pairingService) persistPairs(ctx context.Context, state *tournamentState, pairs []pairing.Pair, source models.MatchSource) ([]*models.Match, error) {
	matches := assembleMatches(state, pairs, source, s.logger)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %w", ErrStorageFailure, err)
	}

	inserted := make([]*models.Match, 0, len(matches))
	var txErr error
	defer func() {
		if txErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("rollback failed after pairing persist error",
					slog.Any("rollback_error", rbErr), slog.Any("error", txErr))
			}
		}
	}()

	for _, match := range matches {
		if txErr = s.matchRepo.Create(ctx, tx, match); txErr != nil {
			return nil, fmt.Errorf("%w: insert match on board %d: %w", ErrStorageFailure, match.BoardNo, txErr)
		}
		inserted = append(inserted, match)
	}

	if len(inserted) > 0 {
		if txErr = s.roundRepo.MarkPaired(ctx, tx, state.round.ID); txErr != nil {
			return nil, fmt.Errorf("%w: mark round %d paired: %w", ErrStorageFailure, state.round.ID, txErr)
		}
	}

	if txErr = tx.Commit(); txErr != nil {
		return nil, fmt.Errorf("%w: commit pairing transaction: %w", ErrStorageFailure, txErr)
	}
	return inserted, nil
}

func (s *pairingService) persistSingleBye(ctx context.Context, state *tournamentState) (*GenerationResult, error) {
	matches, err := s.persistPairs(ctx, state, []pairing.Pair{{WhitePos: 1}}, models.SourceSystem)
	if err != nil {
		return nil, err
	}
	s.maybeAdvance(ctx, state.tournament.ID, len(matches))
	return &GenerationResult{Matches: matches}, nil
}

// maybeAdvance дёргает автозавершение турнира. Проверка не запускается,
// если генерация не дала ни одной партии, а её ошибка не валит генерацию.
func (s *pairingService) maybeAdvance(ctx context.Context, tournamentID, insertedCount int) {
	if insertedCount == 0 || s.advancer == nil {
		return
	}
	if err := s.advancer.MaybeFinalize(ctx, tournamentID); err != nil {
		s.logger.Warn("tournament finalization check failed",
			slog.Int("tournament_id", tournamentID), slog.Any("error", err))
	}
}

// participantAt переводит 1-based позицию документа в участника.
func participantAt(participants []*models.Participant, pos int) *models.Participant {
	if pos < 1 || pos > len(participants) {
		return nil
	}
	return participants[pos-1]
}

func sortStandings(entries []StandingsEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].Nickname < entries[j].Nickname
	})
}
