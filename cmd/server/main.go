package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stitchworks/be-mfg-subbatches/internal/client"
	"github.com/stitchworks/be-mfg-subbatches/internal/handler"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/cache"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/config"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/database"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/events"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/logger"
	"github.com/stitchworks/be-mfg-subbatches/internal/platform/middleware"
	"github.com/stitchworks/be-mfg-subbatches/internal/repository"
	"github.com/stitchworks/be-mfg-subbatches/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Sub-Batch Tracking Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Optional NATS event publishing
	natsClient, err := events.Connect(cfg.NATS.URL, cfg.Service.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer natsClient.Close()
	if natsClient != nil {
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	}
	publisher := client.NewEventPublisher(natsClient, log.Logger)

	// Optional Redis kanban cache
	kanbanCache, err := cache.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KanbanTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer kanbanCache.Close()
	if kanbanCache != nil {
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connection established")
	}

	// Initialize repositories
	subBatchRepo := repository.NewSubBatchRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	workLogRepo := repository.NewWorkLogRepository(db)
	exceptionRepo := repository.NewExceptionRepository(db)
	historyRepo := repository.NewHistoryRepository(db)

	// Master-data service client
	masterDataURL := getEnv("MASTERDATA_URL", "http://localhost:8081")
	masterData := client.NewMasterDataClient(masterDataURL)
	log.Info().Str("masterdata_url", masterDataURL).Msg("Master-data client initialized")

	// Initialize services
	routingService := service.NewRoutingService(subBatchRepo, workflowRepo, assignmentRepo, workLogRepo, exceptionRepo, masterData, publisher, kanbanCache, log)
	stageService := service.NewStageService(subBatchRepo, assignmentRepo, publisher, kanbanCache, log)
	exceptionService := service.NewExceptionService(subBatchRepo, workflowRepo, assignmentRepo, workLogRepo, exceptionRepo, masterData, publisher, kanbanCache, log)
	workLogService := service.NewWorkLogService(subBatchRepo, assignmentRepo, workLogRepo, exceptionRepo, masterData, publisher, log)
	viewService := service.NewViewService(subBatchRepo, workflowRepo, assignmentRepo, workLogRepo, exceptionRepo, historyRepo, kanbanCache, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(routingService, stageService, exceptionService, workLogService, viewService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("POST /api/v1/subbatches/dispatch", httpHandler.Dispatch)
	mux.HandleFunc("POST /api/v1/subbatches/advance", httpHandler.Advance)
	mux.HandleFunc("POST /api/v1/subbatches/complete", httpHandler.MarkCompleted)
	mux.HandleFunc("POST /api/v1/assignments/stage", httpHandler.MoveStage)
	mux.HandleFunc("POST /api/v1/assignments/reject", httpHandler.Reject)
	mux.HandleFunc("POST /api/v1/assignments/alter", httpHandler.Alter)
	mux.HandleFunc("POST /api/v1/worklogs", httpHandler.LogWork)
	mux.HandleFunc("GET /api/v1/departments/kanban", httpHandler.KanbanView)
	mux.HandleFunc("GET /api/v1/subbatches/flow", httpHandler.Flow)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
