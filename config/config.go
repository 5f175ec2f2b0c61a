package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	DatabaseURL string

	// Движок жеребьёвки
	EngineBinaryPath string
	EngineSearchDir  string
	EngineTimeout    time.Duration
	EngineRetries    int

	// Объектное хранилище артефактов запусков (опционально)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	ArtifactPrefix    string

	RatingCacheTTL time.Duration
	RateForfeits   bool
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	// Загружаем .env файл, если он есть. Ошибку не считаем фатальной.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	timeout, err := durationFromEnvMS("BBP_TIMEOUT_MS", 6000)
	if err != nil {
		return nil, err
	}

	retries, err := intFromEnv("BBP_RETRIES", 1)
	if err != nil {
		return nil, err
	}
	if retries < 0 || retries > 2 {
		return nil, fmt.Errorf("BBP_RETRIES must be between 0 and 2, got %d", retries)
	}

	cacheTTL, err := durationFromEnvMS("RATING_CACHE_TTL_MS", 30000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:       dbURL,
		EngineBinaryPath:  os.Getenv("BBP_PAIRINGS_BIN"),
		EngineSearchDir:   os.Getenv("BBP_SEARCH_DIR"),
		EngineTimeout:     timeout,
		EngineRetries:     retries,
		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		ArtifactPrefix:    os.Getenv("ENGINE_ARTIFACT_PREFIX"),
		RatingCacheTTL:    cacheTTL,
		RateForfeits:      os.Getenv("RATE_FORFEITS") == "true",
	}

	return cfg, nil
}

// ArtifactStoreConfigured сообщает, заданы ли все параметры R2.
// Без них артефакты запусков движка просто не архивируются.
func (c *Config) ArtifactStoreConfigured() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

func durationFromEnvMS(name string, def int) (time.Duration, error) {
	ms, err := intFromEnv(name, def)
	if err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", name, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func intFromEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return value, nil
}
