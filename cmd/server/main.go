package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/letter-verify-server/internal/api"
	"github.com/letter-verify-server/internal/config"
	"github.com/letter-verify-server/internal/database"
	"github.com/letter-verify-server/internal/domain"
	"github.com/letter-verify-server/internal/repository"
	"github.com/letter-verify-server/internal/service"
	"github.com/letter-verify-server/internal/session"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	// Flag/provenance store per configured backend
	var flagStore domain.FlagStore
	var provStore domain.ProvenanceStore
	var closeStore func() error
	var dbHealth api.HealthChecker

	switch cfg.Store.Backend {
	case "postgres":
		runner, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), cfg.Database.MigrationsPath, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize migrations")
		}
		if err := runner.Up(); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
		runner.Close()

		pool, err := database.NewConnection(context.Background(), &cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to establish database pool")
		}
		defer pool.Close()
		dbHealth = pool

		store, err := repository.NewPostgresStore(configManager.GetDatabaseConnectionString(), logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open postgres store")
		}
		flagStore, provStore, closeStore = store, store, store.Close
	default:
		store, err := repository.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open sqlite store")
		}
		flagStore, provStore, closeStore = store, store, store.Close
	}
	defer closeStore()

	cachedProv, err := repository.NewCachedProvenanceStore(provStore, cfg.Store.CacheSize, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize provenance cache")
	}

	sessions, err := session.NewRedisSessionStore(cfg.Redis.URL, cfg.Redis.SessionTTL, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to session store")
	}
	defer sessions.Close()

	obfuscator := service.NewPHIObfuscator(logger, cfg.PHI.PhonePattern)

	server := api.NewServer(configManager, logger, api.Dependencies{
		Diff:       service.NewTokenDiffEngine(logger),
		Obfuscator: obfuscator,
		Detector:   service.NewHallucinationDetector(logger),
		Scorer:     service.NewHallucinationRiskScorer(logger),
		Builder:    service.NewAuditProvenanceBuilder(logger),
		Scrubber:   service.NewTelemetryScrubber(obfuscator),
		Flags:      flagStore,
		Provenance: cachedProv,
		Sessions:   sessions,
		DBHealth:   dbHealth,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"backend": cfg.Store.Backend,
	}).Info("Starting letter verification server")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newLogger builds the process logger from config
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
