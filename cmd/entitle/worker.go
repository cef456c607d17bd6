package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/observability"
)

const metricsShutdownTimeout = 5 * time.Second

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Sweep subscriptions on an interval and serve metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runWorker(ctx, cfg, newLogger(cfg))
		},
	}
}

func runWorker(ctx context.Context, cfg Config, logger *slog.Logger) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	locker, closeLocker, err := openLocker(ctx, cfg, logger)
	if err != nil {
		_ = s.Close()
		return err
	}
	defer closeLocker() //nolint:errcheck

	emitter, closeEmitter, err := openEmitter(cfg, logger)
	if err != nil {
		_ = s.Close()
		return err
	}
	defer closeEmitter() //nolint:errcheck

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	engine := newEngine(s, cfg, logger,
		entitle.WithEmitter(emitter),
		entitle.WithLocker(locker, cfg.SweepLockTTL),
		entitle.WithPlugin(metrics),
		entitle.WithSweepObserver(metrics.RecordSweep),
	)
	if err := engine.Start(ctx); err != nil {
		_ = s.Close()
		return err
	}
	defer func() {
		if err := engine.Stop(context.Background()); err != nil {
			logger.Warn("engine stop failed", "error", err)
		}
	}()

	startMetricsServer(ctx, cfg.MetricsAddr, reg, engine, logger)

	if !cfg.SchedulingEnabled {
		logger.Info("scheduling disabled, serving metrics only")
		<-ctx.Done()
		return nil
	}

	engine.Scheduler().Run(ctx, cfg.SweepInterval)
	return nil
}

func healthHandler(reg *prometheus.Registry, engine *entitle.Engine) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := engine.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func startMetricsServer(ctx context.Context, addr string, reg *prometheus.Registry, engine *entitle.Engine, logger *slog.Logger) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      healthHandler(reg, engine),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("failed to shut down metrics server cleanly", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped unexpectedly", "error", err)
		}
	}()
}
