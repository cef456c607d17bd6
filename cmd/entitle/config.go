package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/xraph/entitle"
)

const (
	storeMemory   = "memory"
	storePostgres = "postgres"
)

// Config holds the environment-driven settings of the entitle CLI.
type Config struct {
	Env      string
	LogLevel string

	Store       string
	DatabaseURL string
	MaxConns    int

	RedisURL    string
	RabbitMQURL string
	Exchange    string

	SchedulingEnabled bool
	EndingSoonDays    int
	SweepInterval     time.Duration
	SweepLockTTL      time.Duration

	MetricsAddr string
}

// IsDevelopment reports whether the CLI runs with development fallbacks.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// loadConfig reads a .env file when present, then the process environment.
func loadConfig() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := Config{
		Env:      getEnv("ENTITLE_ENV", "production"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Store:       strings.ToLower(getEnv("ENTITLE_STORE", storeMemory)),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MaxConns:    getIntEnv("DATABASE_MAX_CONNS", 0),

		RedisURL:    getEnv("REDIS_URL", ""),
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),
		Exchange:    getEnv("ENTITLE_EXCHANGE", ""),

		SchedulingEnabled: getBoolEnv("SCHEDULING_ENABLED", true),
		EndingSoonDays:    getIntEnv("ENDING_SOON_DAYS", entitle.DefaultEndingSoonDays),
		SweepInterval:     getDurationEnv("SWEEP_INTERVAL", entitle.DefaultSweepInterval),
		SweepLockTTL:      getDurationEnv("SWEEP_LOCK_TTL", entitle.DefaultLockTTL),

		MetricsAddr: getEnv("METRICS_ADDR", "0.0.0.0:9464"),
	}

	switch cfg.Store {
	case storeMemory:
	case storePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required when ENTITLE_STORE=%s", storePostgres)
		}
	default:
		return cfg, fmt.Errorf("unknown ENTITLE_STORE %q (want %s or %s)", cfg.Store, storeMemory, storePostgres)
	}

	if cfg.EndingSoonDays <= 0 {
		return cfg, fmt.Errorf("ENDING_SOON_DAYS must be positive, got %d", cfg.EndingSoonDays)
	}
	if cfg.SweepInterval <= 0 {
		return cfg, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", cfg.SweepInterval)
	}

	return cfg, nil
}

// newLogger builds the process logger. Development mode and LOG_LEVEL=debug
// both enable debug output.
func newLogger(cfg Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getBoolEnv(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}
