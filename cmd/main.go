package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rail-service/wallet_ledger/internal/api/routes"
	"github.com/rail-service/wallet_ledger/internal/infrastructure/config"
	"github.com/rail-service/wallet_ledger/internal/infrastructure/database"
	"github.com/rail-service/wallet_ledger/internal/infrastructure/di"
	"github.com/rail-service/wallet_ledger/pkg/graceful"
	"github.com/rail-service/wallet_ledger/pkg/logger"
	"github.com/rail-service/wallet_ledger/pkg/secrets"
	"github.com/rail-service/wallet_ledger/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	if cfg.Secrets.Provider == "aws" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		provider, err := secrets.NewAWSSecretsManagerProvider(ctx, cfg.Secrets.Region, cfg.Secrets.Prefix)
		if err != nil {
			log.Fatal("Failed to create secrets provider", "error", err)
		}
		cached := secrets.NewCachedProvider(provider, config.Seconds(cfg.Secrets.CacheTTL))
		if err := cfg.ResolveSecrets(ctx, cached); err != nil {
			log.Fatal("Failed to resolve secrets", "error", err)
		}
		cancel()
		log.Info("Secrets resolved from AWS Secrets Manager", "prefix", cfg.Secrets.Prefix)
	}

	tracingShutdown, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	container, err := di.NewContainer(cfg, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	if container.DB != nil {
		if err := database.RunMigrations(container.DB.DB, cfg.Database.MigrationsPath); err != nil {
			log.Fatal("Failed to run migrations", "error", err)
		}
		log.Info("Database migrations applied", "source", cfg.Database.MigrationsPath)
	}

	if container.Scheduler != nil {
		if err := container.Scheduler.Start(); err != nil {
			log.Fatal("Failed to start reconciliation scheduler", "error", err)
		}
	}

	statsCtx, stopStats := context.WithCancel(context.Background())
	go container.CollectPoolStats(statsCtx)

	router := routes.SetupRoutes(container)
	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    config.Seconds(cfg.Server.ReadTimeout),
		WriteTimeout:   config.Seconds(cfg.Server.WriteTimeout),
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
			"storage", cfg.Storage.Driver,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	shutdown := graceful.NewShutdownManager(server, 30*time.Second, log)
	shutdown.Register("pool-stats", graceful.ShutdownFunc(func(context.Context) error {
		stopStats()
		return nil
	}))
	shutdown.Register("container", graceful.ShutdownFunc(container.Close))
	shutdown.Register("tracing", graceful.ShutdownFunc(tracingShutdown))
	shutdown.WaitForShutdown()

	log.Info("Server exited gracefully")
}
