package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/pixelforge/backend/internal/admission"
	"github.com/pixelforge/backend/internal/auth"
	"github.com/pixelforge/backend/internal/config"
	"github.com/pixelforge/backend/internal/dashboard"
	"github.com/pixelforge/backend/internal/dispatch"
	"github.com/pixelforge/backend/internal/generation"
	"github.com/pixelforge/backend/internal/ledger"
	"github.com/pixelforge/backend/internal/progress"
	"github.com/pixelforge/backend/internal/quota"
	"github.com/pixelforge/backend/internal/reconciler"
	"github.com/pixelforge/backend/internal/router"
	"github.com/pixelforge/backend/internal/validation"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	if err := applyMigrations(ctx, pool, "migrations"); err != nil {
		slog.Error("Schema migrations failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Ledger and quotas
	ledgerSvc := ledger.NewService(ledger.NewRepository(pool))
	quotas := quota.NewRepository(pool)

	// Progress cache: Redis when configured, in-process otherwise.
	var progressStore progress.Store
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("Cannot reach Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		progressStore = progress.NewRedisStore(rdb)
		slog.Info("Progress cache on Redis", "addr", cfg.RedisAddr)
	} else {
		progressStore = progress.NewMemoryStore()
	}

	jobStore := generation.NewRepository(pool)
	rec := reconciler.New(jobStore, ledgerSvc, quotas, logger)

	// Generation service: enqueue func is set after the River client is
	// created (breaks the init cycle).
	var insertMu sync.Mutex
	var insertFn generation.EnqueueFunc
	enqueue := func(ctx context.Context, args dispatch.GenerateJobArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, args)
	}
	genSvc := generation.NewService(jobStore, enqueue, rec, progressStore, logger)

	// Provider registry from config. The first provider doubles as the
	// fallback for models no one claims.
	providers := make(map[string]dispatch.Provider, len(cfg.Providers))
	var fallback dispatch.Provider
	for _, p := range cfg.Providers {
		provider := dispatch.NewHTTPProvider(p.BaseURL, p.Timeout.Std())
		providers[p.Name] = provider
		if fallback == nil {
			fallback = provider
		}
	}
	registry := dispatch.NewRegistry(fallback)
	for name, p := range providers {
		registry.Register(name, p)
	}

	policy := dispatch.Policy{
		MaxAttempts:      cfg.Dispatch.MaxAttempts,
		BackoffBase:      cfg.Dispatch.BackoffBase.Std(),
		Timeout:          cfg.Dispatch.Timeout.Std(),
		ProgressInterval: cfg.Dispatch.ProgressInterval.Std(),
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, dispatch.NewGenerateWorker(genSvc, rec, registry, progressStore, policy, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.Dispatch.Workers},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, args dispatch.GenerateJobArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Auth
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, ledgerSvc, quotas, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)

	// Admission gate: budget comes from the account row, spend from the
	// job table, quota from the per-user limits.
	gate := admission.NewGate(authRepo, jobStore, quotas)

	validator, err := validation.NewValidator(cfg.SchemaDir)
	if err != nil {
		slog.Error("Schema validator init failed", "dir", cfg.SchemaDir, "error", err)
		os.Exit(1)
	}

	genHandler := &generation.Handler{
		Gate:      gate,
		Service:   genSvc,
		Validator: validator,
		Logger:    logger,
	}
	dashHandler := dashboard.NewHandler(ledgerSvc, logger)

	apiRouter := router.New(authHandler, genHandler, dashHandler, authSvc)

	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:3000"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	// Start River client (processes jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}

// applyMigrations runs every *.sql file in dir in lexical order. Statements
// are idempotent (CREATE IF NOT EXISTS), so reruns are safe.
func applyMigrations(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		sql, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return err
		}
		slog.Info("Applied migration", "file", name)
	}
	return nil
}
