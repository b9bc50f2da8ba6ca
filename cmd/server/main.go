package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/queue"
	"github.com/stemsi/exstem-engine/internal/repository/postgres"
	"github.com/stemsi/exstem-engine/internal/repository/rediscache"
	"github.com/stemsi/exstem-engine/internal/router"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/timer"
	"github.com/stemsi/exstem-engine/internal/validator"
	"github.com/stemsi/exstem-engine/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem attempt engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	testRepo := postgres.NewTestRepository(pool)
	testCache := rediscache.NewTestCache(testRepo, rdb, cfg.TestCacheTTL, log)
	attemptRepo := postgres.NewAttemptRepository(pool)
	integrityRepo := postgres.NewIntegrityRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)
	attemptService := service.NewAttemptService(
		testCache,
		attemptRepo,
		queue.NewRedisQueue(rdb),
		timer.NewAuthority(timer.SystemClock{}),
		cfg.DefaultMaxExits,
		cfg.SubmitGrace,
		log,
	)
	rankingService := service.NewRankingService(attemptRepo, log)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load scheduled tests before a cohort starts hitting the start endpoint.
	for _, id := range cfg.WarmTestIDs {
		t, err := testRepo.GetTest(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("test_id", id.String()).Msg("Cache prewarm skipped")
			continue
		}
		if err := testCache.Warm(ctx, t); err != nil {
			log.Warn().Err(err).Str("test_id", id.String()).Msg("Cache prewarm failed")
		}
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, rediscache.NewInFlightGuard(rdb, cfg.AutosaveGuardTTL), log),
		WS: handler.NewWSHandler(attemptService, handler.WSConfig{
			AllowedOrigins:   cfg.AllowedOrigins,
			AutosaveInterval: cfg.AutosaveInterval,
			TimerTick:        cfg.TimerTick,
		}, log),
		System: handler.NewSystemHandler(map[string]handler.PingFunc{
			"postgres": database.PostgresCheck(pool),
			"redis":    database.RedisCheck(rdb),
		}, log),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, authService, handlers, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	opts := worker.DefaultBatchOptions()
	opts.Size = cfg.WorkerBatchSize
	opts.Window = cfg.WorkerBatchWindow

	// ─── Run Server and Background Workers ────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		worker.NewRankingWorker(rdb, rankingService, opts, log).Start(gctx)
		return nil
	})
	g.Go(func() error {
		worker.NewIntegrityWorker(rdb, integrityRepo, opts, log).Start(gctx)
		return nil
	})

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
