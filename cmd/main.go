package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Dosada05/chess-pairings/cache"
	"github.com/Dosada05/chess-pairings/config"
	"github.com/Dosada05/chess-pairings/db"
	"github.com/Dosada05/chess-pairings/models"
	"github.com/Dosada05/chess-pairings/pairing"
	"github.com/Dosada05/chess-pairings/repositories"
	"github.com/Dosada05/chess-pairings/services"
	"github.com/Dosada05/chess-pairings/storage"
	"github.com/prometheus/client_golang/prometheus"
)

const usage = `usage:
  pairings pair <tournament_id> <round_id>      generate pairings via engine
  pairings fallback <tournament_id> <round_id>  generate simple swiss pairings
  pairings result <match_id> <result>           record a match result
  pairings standings <tournament_id>            print current standings
  pairings predict <white_player> <black_player> predict match outcome
  pairings history <player_id>                  print rating history`

func main() {
	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Контекст, отменяемый по сигналу завершения
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Подключение к базе данных
	dbConn, err := db.Connect(ctx, cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := dbConn.Close(); closeErr != nil {
			logger.Error("failed to close database connection", slog.Any("error", closeErr))
		}
	}()
	logger.Info("database connection established")

	// Архиватор артефактов движка (опционален: без R2 просто не архивируем)
	var archiver pairing.ArtifactArchiver
	if cfg.ArtifactStoreConfigured() {
		uploader, upErr := storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
		})
		if upErr != nil {
			logger.Error("failed to initialize artifact uploader", slog.Any("error", upErr))
			os.Exit(1)
		}
		archiver = storage.NewEngineArtifactStore(uploader, cfg.ArtifactPrefix)
		logger.Info("engine artifact archiving enabled")
	}

	// Инициализация репозиториев
	tournamentRepo := repositories.NewPostgresTournamentRepository(dbConn)
	participantRepo := repositories.NewPostgresParticipantRepository(dbConn)
	roundRepo := repositories.NewPostgresRoundRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	ratingRepo := repositories.NewPostgresRatingRepository(dbConn)

	// Инициализация сервисов
	registry := prometheus.NewRegistry()
	ratingCache := cache.NewRatingCache(cfg.RatingCacheTTL, registry)

	runner := pairing.NewRunner(pairing.RunnerConfig{
		BinaryPath: cfg.EngineBinaryPath,
		SearchDir:  cfg.EngineSearchDir,
		Timeout:    cfg.EngineTimeout,
		Retries:    cfg.EngineRetries,
	}, logger, archiver)

	validator := services.NewRatingValidator(ratingRepo, logger)
	policy := services.DefaultRatingPolicy()
	policy.RateForfeits = cfg.RateForfeits
	ratingService := services.NewRatingService(dbConn, ratingRepo, participantRepo, validator, ratingCache, policy, registry, logger)
	finalizer := services.NewTournamentFinalizer(tournamentRepo, roundRepo, logger)
	pairingService := services.NewPairingService(dbConn, tournamentRepo, participantRepo, roundRepo, matchRepo, runner, finalizer, logger)
	matchService := services.NewMatchService(dbConn, tournamentRepo, roundRepo, matchRepo, ratingService, logger)

	if err := run(ctx, os.Args[1], os.Args[2:], pairingService, matchService, ratingService, logger); err != nil {
		logger.Error("command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	command string,
	args []string,
	pairings services.PairingService,
	matches services.MatchService,
	ratings services.RatingService,
	logger *slog.Logger,
) error {
	switch command {
	case "pair", "fallback":
		tournamentID, roundID, err := twoIntArgs(args)
		if err != nil {
			return err
		}
		var result *services.GenerationResult
		if command == "pair" {
			result, err = pairings.GeneratePairings(ctx, tournamentID, roundID)
		} else {
			result, err = pairings.FallbackPairings(ctx, tournamentID, roundID)
		}
		if err != nil {
			return err
		}
		if result.AlreadyPaired {
			logger.Info("round was already paired", slog.Int("matches", len(result.Matches)))
		}
		for _, m := range result.Matches {
			if m.IsBye() {
				fmt.Printf("board %d: %d bye\n", m.BoardNo, m.WhiteParticipantID)
				continue
			}
			fmt.Printf("board %d: %d - %d\n", m.BoardNo, m.WhiteParticipantID, *m.BlackParticipantID)
		}
		return nil

	case "result":
		if len(args) != 2 {
			return fmt.Errorf("result requires <match_id> <result>")
		}
		matchID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid match id %q: %w", args[0], err)
		}
		match, err := matches.RecordResult(ctx, matchID, models.MatchResult(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("match %d: %s (%.1f - %.1f)\n", match.ID, match.Result, match.ScoreWhite, match.ScoreBlack)
		return nil

	case "standings":
		if len(args) != 1 {
			return fmt.Errorf("standings requires <tournament_id>")
		}
		tournamentID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid tournament id %q: %w", args[0], err)
		}
		entries, err := pairings.Standings(ctx, tournamentID)
		if err != nil {
			return err
		}
		for i, entry := range entries {
			fmt.Printf("%d. %s %.1f\n", i+1, entry.Nickname, entry.Points)
		}
		return nil

	case "predict":
		whiteID, blackID, err := twoIntArgs(args)
		if err != nil {
			return err
		}
		prediction, err := ratings.PredictOutcome(ctx, whiteID, blackID)
		if err != nil {
			return err
		}
		fmt.Printf("white %.1f%%  draw %.1f%%  black %.1f%%\n",
			prediction.WhiteWin*100, prediction.Draw*100, prediction.BlackWin*100)
		return nil

	case "history":
		if len(args) != 1 {
			return fmt.Errorf("history requires <player_id>")
		}
		playerID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid player id %q: %w", args[0], err)
		}
		entries, err := ratings.History(ctx, playerID, 50)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			fmt.Printf("%s  %.1f -> %.1f (%s)\n",
				entry.CreatedAt.Format(time.RFC3339), entry.OldRating, entry.NewRating, entry.ChangeReason)
		}
		return nil

	default:
		fmt.Fprintln(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func twoIntArgs(args []string) (int, int, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("expected two numeric arguments")
	}
	first, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid argument %q: %w", args[0], err)
	}
	second, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid argument %q: %w", args[1], err)
	}
	return first, second, nil
}
