package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/lock"
	"github.com/xraph/entitle/signal"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/store/postgres"
)

// lockPrefix namespaces sweep locks in a shared Redis.
const lockPrefix = "entitle:lock:"

// openStore opens the backend selected by ENTITLE_STORE.
func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	switch cfg.Store {
	case storePostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return memory.New(), nil
	}
}

// openLocker returns a Redis locker when REDIS_URL is set. Without one the
// lock only excludes sweeps inside this process.
func openLocker(ctx context.Context, cfg Config, logger *slog.Logger) (lock.Locker, func() error, error) {
	if cfg.RedisURL == "" {
		logger.Debug("REDIS_URL not set, sweep lock is process-local")
		return lock.NewMemory(), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return lock.NewRedis(client, lockPrefix, logger), client.Close, nil
}

// openEmitter dials RabbitMQ when RABBITMQ_URL is set. In development a
// missing or unreachable broker degrades to a noop emitter.
func openEmitter(cfg Config, logger *slog.Logger) (signal.Emitter, func() error, error) {
	noop := func() error { return nil }

	if cfg.RabbitMQURL == "" {
		if !cfg.IsDevelopment() {
			logger.Warn("RABBITMQ_URL not set, lifecycle signals will not be published")
		}
		return signal.Noop{}, noop, nil
	}

	mq, err := signal.NewRabbitMQ(cfg.RabbitMQURL, cfg.Exchange, logger)
	if err != nil {
		if cfg.IsDevelopment() {
			logger.Warn("rabbitmq unavailable, using noop emitter", "error", err)
			return signal.Noop{}, noop, nil
		}
		return nil, nil, err
	}
	return mq, mq.Close, nil
}

// newEngine builds an engine over s. The CLI drives sweeps itself, so the
// engine's own background loop stays off.
func newEngine(s store.Store, cfg Config, logger *slog.Logger, opts ...entitle.Option) *entitle.Engine {
	base := []entitle.Option{
		entitle.WithLogger(logger),
		entitle.WithEndingSoonDays(cfg.EndingSoonDays),
	}
	return entitle.New(s, append(base, opts...)...)
}
