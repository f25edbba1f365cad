package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bimakw/solana-ingestor/internal/application/services"
	"github.com/bimakw/solana-ingestor/internal/config"
	"github.com/bimakw/solana-ingestor/internal/domain/repositories"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/cache"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/database"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/datasource"
	"github.com/bimakw/solana-ingestor/internal/infrastructure/storage"
	"github.com/bimakw/solana-ingestor/internal/presentation/handlers"
	"github.com/bimakw/solana-ingestor/internal/presentation/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()

	settings, err := cfg.IngestionSettings()
	if err != nil {
		logger.Fatal("Invalid ingestion settings", zap.Error(err))
	}

	logger.Info("Starting solana-ingestor",
		zap.String("mode", string(settings.Mode)),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("data_sources", len(settings.DataSources)),
		zap.Int("port", cfg.API.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hybrid storage
	var (
		hybrid *storage.Hybrid
		db     *database.PostgresDB
	)
	switch cfg.Storage.Backend {
	case "postgres":
		db, err = database.NewPostgresDB(cfg.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		if err := db.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to ensure database schema", zap.Error(err))
		}
		hybrid = db.Hybrid()
	case "memory":
		hybrid = storage.NewMemoryHybrid(logger)
	default:
		logger.Fatal("Unknown storage backend", zap.String("backend", cfg.Storage.Backend))
	}
	defer hybrid.Close()

	// Slot checkpoint store (optional)
	var (
		checkpoints   repositories.SlotCheckpointRepository
		healthChecker handlers.HealthChecker
	)
	switch {
	case cfg.Redis.Enabled():
		store, err := cache.NewRedisCheckpointStore(cfg.Redis, logger)
		if err != nil {
			logger.Warn("Failed to connect to Redis, running without checkpoints", zap.Error(err))
			break
		}
		defer store.Close()
		checkpoints, healthChecker = store, store
	case db != nil:
		checkpoints, healthChecker = database.NewCheckpointRepo(db.DB()), db
	default:
		logger.Warn("No checkpoint store configured, ingestion restarts from the chain head")
	}

	// Ingestion pipeline
	monitor := services.NewHealthMonitor(services.HealthMonitorConfig{
		CheckInterval:      cfg.Health.CheckInterval,
		CheckTimeout:       cfg.Health.CheckTimeout,
		DegradedThreshold:  cfg.Health.DegradedThreshold,
		UnhealthyThreshold: cfg.Health.UnhealthyThreshold,
	}, logger)

	ingestion := services.NewIngestionService(monitor, datasource.NewFactory(logger), checkpoints, logger)
	ingestion.RegisterProcessor(services.NewGraphProcessor(hybrid.Graph(), logger))

	if err := ingestion.Initialize(ctx, settings, hybrid); err != nil {
		logger.Fatal("Failed to initialize ingestion", zap.Error(err))
	}
	if err := ingestion.Start(ctx); err != nil {
		logger.Fatal("Failed to start ingestion", zap.Error(err))
	}

	// Create handlers
	ingestionHandler := handlers.NewIngestionHandler(ingestion, monitor, logger)
	storageHandler := handlers.NewStorageHandler(hybrid, logger)
	healthHandler := handlers.NewHealthHandler(hybrid, healthChecker, monitor)

	// Setup router
	r := chi.NewRouter()

	// Middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)

	// Health endpoints (no rate limiting)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimiter(cfg.API.RateLimitRPS))
		ingestionHandler.RegisterRoutes(r)
		storageHandler.RegisterRoutes(r)
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	// Run server in goroutine
	go func() {
		logger.Info("API server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Received shutdown signal, stopping ingestion...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	ingestion.Stop(shutdownCtx)
	ingestion.Close(shutdownCtx)

	logger.Info("Ingestor stopped",
		zap.Uint64("last_processed_slot", ingestion.LastProcessedSlot()),
	)
}

func setupLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoding := "json"
	encoderConfig := zap.NewProductionEncoderConfig()
	if format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := config.Build()
	return logger
}
