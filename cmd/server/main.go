package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/proctorly/examlive-backend/internal/config"
	"github.com/proctorly/examlive-backend/internal/database"
	"github.com/proctorly/examlive-backend/internal/handler"
	"github.com/proctorly/examlive-backend/internal/logger"
	"github.com/proctorly/examlive-backend/internal/realtime"
	"github.com/proctorly/examlive-backend/internal/repository"
	"github.com/proctorly/examlive-backend/internal/router"
	"github.com/proctorly/examlive-backend/internal/service"
	"github.com/proctorly/examlive-backend/internal/validator"
	"github.com/proctorly/examlive-backend/internal/worker"
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
		Msg("Starting ExamLive Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	userRepo := repository.NewUserRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)

	// ─── Initialize Realtime Core ──────────────────────────────────────
	registry := realtime.NewRegistry(log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, userRepo, rdb)
	catalogService := service.NewCatalogService(examRepo, rdb, cfg, log)
	rooms := realtime.NewRoomManager(registry, catalogService, attemptRepo, log)

	attemptLocks := service.NewAttemptLock()
	relayService := service.NewRelayService(attemptRepo, attemptLocks, log)
	scoringService := service.NewScoringService(attemptRepo, questionRepo, rooms, registry, attemptLocks, log)
	proctorService := service.NewProctorService(attemptRepo, authService, registry, rdb, log)
	attemptService := service.NewAttemptService(attemptRepo, catalogService, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Attempt: handler.NewAttemptHandler(attemptService, catalogService),
		WS:      handler.NewWSHandler(registry, rooms, relayService, proctorService, scoringService, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(rdb, catalogService, attemptRepo, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	countdownWorker := worker.NewCountdownWorker(rooms, catalogService, attemptRepo, scoringService, registry, cfg.CountdownInterval, log)
	proctorWorker := worker.NewProctorWorker(pool, rdb, log)

	go countdownWorker.Start(workerCtx)
	go proctorWorker.Start(workerCtx)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all active exams into Redis BEFORE accepting traffic.
	// This avoids race conditions from lazy loading under thundering herd.
	if err := catalogService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
