package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/observability"
	"github.com/xraph/entitle/store/memory"
)

// cleanEnv clears every variable the CLI reads so host settings cannot leak
// into a test.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENTITLE_ENV", "LOG_LEVEL", "ENTITLE_STORE", "DATABASE_URL",
		"DATABASE_MAX_CONNS", "REDIS_URL", "RABBITMQ_URL", "ENTITLE_EXCHANGE",
		"SCHEDULING_ENABLED", "ENDING_SOON_DAYS", "SWEEP_INTERVAL",
		"SWEEP_LOCK_TTL", "METRICS_ADDR",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	defer func() { Version, GitCommit = oldVersion, oldCommit }()

	Version = "1.2.3"
	GitCommit = "abcdef"

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "entitle 1.2.3")
	assert.Contains(t, out, "Commit: abcdef")
}

func TestMigrateCmd_Memory(t *testing.T) {
	cleanEnv(t)

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "memory store migrated\n", out)
}

func TestSweepCmd_Memory(t *testing.T) {
	cleanEnv(t)
	t.Setenv("ENTITLE_ENV", "development")

	out, err := execute(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "ended: candidates=0 emitted=0 skipped=0 failed=0")
	assert.Contains(t, out, "ending_soon: candidates=0 emitted=0 skipped=0 failed=0")
}

func TestSweepCmd_InvalidConfig(t *testing.T) {
	cleanEnv(t)
	t.Setenv("ENTITLE_STORE", "cassandra")

	_, err := execute(t, "sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ENTITLE_STORE")
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
		check   func(t *testing.T, cfg Config)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, storeMemory, cfg.Store)
				assert.True(t, cfg.SchedulingEnabled)
				assert.Equal(t, entitle.DefaultEndingSoonDays, cfg.EndingSoonDays)
				assert.Equal(t, time.Minute, cfg.SweepInterval)
				assert.Equal(t, 55*time.Second, cfg.SweepLockTTL)
				assert.Equal(t, "0.0.0.0:9464", cfg.MetricsAddr)
				assert.False(t, cfg.IsDevelopment())
			},
		},
		{
			name: "overrides",
			env: map[string]string{
				"ENTITLE_ENV":        "development",
				"ENTITLE_STORE":      "Postgres",
				"DATABASE_URL":       "postgres://localhost/entitle",
				"SCHEDULING_ENABLED": "false",
				"ENDING_SOON_DAYS":   "3",
				"SWEEP_INTERVAL":     "30s",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, storePostgres, cfg.Store)
				assert.False(t, cfg.SchedulingEnabled)
				assert.Equal(t, 3, cfg.EndingSoonDays)
				assert.Equal(t, 30*time.Second, cfg.SweepInterval)
				assert.True(t, cfg.IsDevelopment())
			},
		},
		{
			name: "malformed values fall back",
			env: map[string]string{
				"ENDING_SOON_DAYS":   "soon",
				"SWEEP_INTERVAL":     "often",
				"SCHEDULING_ENABLED": "maybe",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, entitle.DefaultEndingSoonDays, cfg.EndingSoonDays)
				assert.Equal(t, time.Minute, cfg.SweepInterval)
				assert.True(t, cfg.SchedulingEnabled)
			},
		},
		{
			name:    "postgres without url",
			env:     map[string]string{"ENTITLE_STORE": "postgres"},
			wantErr: "DATABASE_URL is required",
		},
		{
			name:    "non-positive lookahead",
			env:     map[string]string{"ENDING_SOON_DAYS": "0"},
			wantErr: "ENDING_SOON_DAYS must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := loadConfig()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestHealthHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))
	engine := entitle.New(memory.New(),
		entitle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		entitle.WithPlugin(metrics),
	)
	require.NoError(t, engine.Start(context.Background()))

	srv := httptest.NewServer(healthHandler(reg, engine))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "entitle_sweep_runs_total")

	require.NoError(t, engine.Stop(context.Background()))

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRunWorker_StopsOnCancel(t *testing.T) {
	cleanEnv(t)
	t.Setenv("ENTITLE_ENV", "development")
	t.Setenv("SWEEP_INTERVAL", "10ms")
	t.Setenv("METRICS_ADDR", "127.0.0.1:0")

	cfg, err := loadConfig()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runWorker(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
