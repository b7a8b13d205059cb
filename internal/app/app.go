package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"survey-platform/internal/config"
	"survey-platform/internal/database"
	"survey-platform/internal/event"
	"survey-platform/internal/handler"
	"survey-platform/internal/legacy"
	"survey-platform/internal/middleware"
	"survey-platform/internal/model"
	"survey-platform/internal/repository"
	"survey-platform/internal/router"
	"survey-platform/internal/scheduler"
	"survey-platform/internal/service"
)

// Fixed id for the recurring garbage-collector schedule entry, so restarts
// reuse the same row instead of accumulating duplicates.
const garbageCollectorTaskID = "00000000-0000-0000-0000-000000000001"

type App struct {
	server       *http.Server
	db           *database.DB
	cleanupFuncs []func()
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	pool := db.Pool
	userRepo := repository.NewUserRepository(pool)
	projectRepo := repository.NewProjectRepository(pool)
	accountTrashRepo := repository.NewAccountTrashRepository(pool)
	projectTrashRepo := repository.NewProjectTrashRepository(pool)
	periodicTaskRepo := repository.NewPeriodicTaskRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	usageRepo := repository.NewUsageCounterRepository(pool)
	slog.Info("database ready")

	bus := event.NewBus()
	legacyClient := legacy.NewClient(cfg.LegacyBaseURL, cfg.LegacyAPIToken, cfg.LegacyTimeout)

	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTAccessTTL)
	authMiddleware := middleware.NewAuthMiddleware(authService)
	authHandler := handler.NewAuthHandler(authService)

	auditService := service.NewAuditService(auditRepo)
	auditHandler := handler.NewAuditHandler(auditService)

	runner := scheduler.NewRunner(cfg.PurgeWorkers, cfg.PurgeQueueSize)
	purgeService := service.NewPurgeService(
		service.PurgeConfig{
			RetryPolicy: scheduler.RetryPolicy{
				BackoffBase: cfg.PurgeBackoffBase,
				BackoffMax:  cfg.PurgeBackoffMax,
				MaxRetries:  cfg.PurgeMaxRetries,
			},
			StaleAfter:         cfg.GCStaleAfter,
			CompletedRetention: cfg.GCRetention,
		},
		accountTrashRepo, projectTrashRepo, userRepo, projectRepo,
		service.NewProjectEraser(projectRepo, bus),
		auditRepo, legacyClient, usageRepo, periodicTaskRepo, bus)
	if err := purgeService.RegisterTasks(runner); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to register purge tasks: %w", err)
	}

	trashService := service.NewTrashService(
		userRepo, projectRepo, accountTrashRepo, projectTrashRepo,
		periodicTaskRepo, auditRepo, runner, bus, cfg.TrashGracePeriod)
	trashHandler := handler.NewTrashHandler(trashService)

	usageService := service.NewUsageCounterService(usageRepo, bus)

	if err := periodicTaskRepo.EnsureRecurring(context.Background(), model.PeriodicTask{
		ID:        garbageCollectorTaskID,
		Name:      "trash garbage collector",
		Task:      service.TaskGarbageCollector,
		Interval:  cfg.GCInterval,
		NextRunAt: time.Now().UTC().Add(cfg.GCInterval),
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed garbage collector schedule: %w", err)
	}

	runner.Start()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	beat := scheduler.NewBeat(periodicTaskRepo, runner, cfg.BeatInterval)
	go beat.Start(workerCtx)
	unsubscribeUsage := usageService.Start(workerCtx)

	healthCheck := func(w http.ResponseWriter, r *http.Request) {
		if err := db.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}

	appRouter := router.New(cfg, authMiddleware, router.Handlers{
		Auth:  authHandler,
		Trash: trashHandler,
		Audit: auditHandler,
	}, healthCheck)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      appRouter,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	return &App{
		server: server,
		db:     db,
		cleanupFuncs: []func(){
			workerCancel,
			unsubscribeUsage,
			runner.Stop,
			db.Close,
		},
	}, nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}

	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	slog.Info("server stopped")
	return nil
}
