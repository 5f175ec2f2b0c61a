package pairing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Dosada05/chess-pairings/models"
	"github.com/google/uuid"
)

const (
	DefaultTimeout = 6 * time.Second
	DefaultRetries = 1
	MaxRetries     = 2

	defaultSearchDir   = "bin/bbp"
	fallbackBinaryName = "bbpPairings"
	outputExcerptLimit = 500
	retryBackoffBase   = 300 * time.Millisecond
)

// RunnerConfig — настройки запуска внешнего движка.
type RunnerConfig struct {
	// BinaryPath — явный путь к бинарнику. Относительный путь
	// разрешается от текущей директории процесса.
	BinaryPath string
	// SearchDir — директория автопоиска платформенных сборок.
	SearchDir string
	Timeout   time.Duration
	Retries   int
}

// ArtifactArchiver сохраняет рабочие файлы запуска во внешнее хранилище
// для диагностики. Ошибки архивации не влияют на результат запуска.
type ArtifactArchiver interface {
	ArchiveRun(ctx context.Context, runID string, files map[string]string) error
}

// RunResult — сырой текст, прочитанный после успешного запуска движка.
type RunResult struct {
	RunID     string
	Output    string
	Checklist string
}

// Runner находит, запускает и супервизирует процесс движка жеребьёвки.
// Каждый запуск получает собственную временную директорию, поэтому
// параллельные генерации для разных туров не разделяют состояние.
type Runner struct {
	cfg      RunnerConfig
	logger   *slog.Logger
	archiver ArtifactArchiver
}

func NewRunner(cfg RunnerConfig, logger *slog.Logger, archiver ArtifactArchiver) *Runner {
	if cfg.SearchDir == "" {
		cfg.SearchDir = defaultSearchDir
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Retries > MaxRetries {
		cfg.Retries = MaxRetries
	}
	return &Runner{cfg: cfg, logger: logger, archiver: archiver}
}

// Run записывает входной документ во временную директорию, запускает
// движок с флагом системы и возвращает текст выходного файла и чеклиста.
// Повторяет запуск до cfg.Retries раз с короткой паузой; наружу уходит
// причина последней неудачи.
func (r *Runner) Run(ctx context.Context, system models.PairingSystem, document string, tournamentID, roundID int) (*RunResult, error) {
	bin, err := r.resolveBinary()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	workDir := filepath.Join(os.TempDir(), fmt.Sprintf("bbp-%d-%d-%s", tournamentID, roundID, runID))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create engine working directory %s: %w", workDir, err)
	}

	inputPath := filepath.Join(workDir, "input.trfx")
	outputPath := filepath.Join(workDir, "outfile.txt")
	checklistPath := filepath.Join(workDir, "checklist.txt")

	defer func() {
		r.archiveArtifacts(ctx, runID, map[string]string{
			"input.trfx":    inputPath,
			"outfile.txt":   outputPath,
			"checklist.txt": checklistPath,
		})
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			r.logger.Warn("failed to remove engine working directory",
				slog.String("work_dir", workDir), slog.Any("error", rmErr))
		}
	}()

	if err := os.WriteFile(inputPath, []byte(document), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write engine input document %s: %w", inputPath, err)
	}

	args := []string{systemFlag(system), inputPath, "-p", outputPath, "-l", checklistPath}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoffBase + time.Duration(attempt-1)*retryBackoffBase
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, runErr := r.runOnce(ctx, bin, args, workDir, outputPath, checklistPath)
		if runErr == nil {
			result.RunID = runID
			return result, nil
		}
		lastErr = runErr
		r.logger.Warn("pairing engine attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("tournament_id", tournamentID),
			slog.Int("round_id", roundID),
			slog.Any("error", runErr))
	}
	return nil, lastErr
}

func (r *Runner) runOnce(ctx context.Context, bin string, args []string, workDir, outputPath, checklistPath string) (*RunResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s (workdir: %s)", ErrTimeout, r.cfg.Timeout, workDir)
	}
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, fmt.Errorf("%w: exit code %d (workdir: %s)\nstderr: %s\nstdout: %s",
			ErrEngineFailure, exitCode, workDir, excerpt(stderr.String()), excerpt(stdout.String()))
	}

	outputBytes, readErr := os.ReadFile(outputPath)
	if readErr != nil {
		return nil, fmt.Errorf("%w: %s (workdir: %s): %v", ErrOutputUnreadable, outputPath, workDir, readErr)
	}

	// Чеклист — вспомогательный артефакт, его отсутствие не ошибка.
	checklistBytes, _ := os.ReadFile(checklistPath)

	return &RunResult{
		Output:    string(outputBytes),
		Checklist: string(checklistBytes),
	}, nil
}

// resolveBinary находит бинарник движка: явный путь из конфигурации,
// затем платформенная сборка в SearchDir, затем имя в PATH. Если ничего
// не нашлось — ErrNotConfigured, процесс не запускается вовсе.
func (r *Runner) resolveBinary() (string, error) {
	if r.cfg.BinaryPath != "" {
		path := r.cfg.BinaryPath
		if !filepath.IsAbs(path) {
			if cwd, err := os.Getwd(); err == nil {
				path = filepath.Join(cwd, path)
			}
		}
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: configured path %s is not accessible", ErrNotConfigured, path)
		}
		return path, nil
	}

	candidate := filepath.Join(r.cfg.SearchDir, platformBinaryName())
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}

	if path, err := exec.LookPath(fallbackBinaryName); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%w: no binary at %s and %q not found in PATH", ErrNotConfigured, candidate, fallbackBinaryName)
}

func (r *Runner) archiveArtifacts(ctx context.Context, runID string, files map[string]string) {
	if r.archiver == nil {
		return
	}
	if err := r.archiver.ArchiveRun(ctx, runID, files); err != nil {
		r.logger.Warn("failed to archive engine run artifacts",
			slog.String("run_id", runID), slog.Any("error", err))
	}
}

func systemFlag(system models.PairingSystem) string {
	if system == models.PairingSystemBurstein {
		return "--burstein"
	}
	return "--dutch"
}

func platformBinaryName() string {
	switch runtime.GOOS {
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "bbpPairings-macos-arm64"
		}
		return "bbpPairings-macos-amd64"
	case "linux":
		switch runtime.GOARCH {
		case "arm64":
			return "bbpPairings-linux-arm64"
		case "amd64":
			return "bbpPairings-linux-amd64"
		}
		return "bbpPairings"
	case "windows":
		return "bbpPairings.exe"
	}
	return "bbpPairings"
}

func excerpt(s string) string {
	if len(s) > outputExcerptLimit {
		return s[:outputExcerptLimit]
	}
	return s
}
