package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet-migrator/internal/api"
	"wallet-migrator/internal/archive"
	"wallet-migrator/internal/chain"
	"wallet-migrator/internal/config"
	"wallet-migrator/internal/database"
	"wallet-migrator/internal/health"
	"wallet-migrator/internal/jobs"
	"wallet-migrator/internal/logger"
	"wallet-migrator/internal/networks"

	"github.com/gofiber/fiber/v2"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().Error().Interface("panic", r).Msg("Application panicked, recovering")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.GetLogger().Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Init(cfg.LogLevel)
	log := logger.GetLogger()

	if cfg.Server.ServiceToken == "" {
		log.Fatal().Msg("SERVER_SERVICE_TOKEN is not set, service cannot authenticate callers")
	}

	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	store := database.NewStore(db)
	defer store.Close()

	if err := database.RunMigrations(db, cfg.Database); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var archiver api.Archiver
	if cfg.Archive.Enabled {
		a, err := archive.New(ctx, cfg.Archive, logger.Component("archive"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize archive")
		}
		archiver = a
	}

	scheduler, err := jobs.NewScheduler(logger.Component("jobs"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	// Spent attestations are kept until their nonce can no longer verify.
	retention := 2 * cfg.Attestation.NonceBucket
	if err := scheduler.SchedulePurge(store, cfg.Server.NoncePurgeInterval, retention); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule attestation purge")
	}
	scheduler.Start()
	defer scheduler.Shutdown()

	checker := health.NewChecker(30*time.Second, logger.Component("health"))
	checker.AddComponent("database", store)

	registry := networks.New(cfg.Networks, cfg.EnabledNetworks)
	pool := chain.NewPool(registry, cfg.HTTP.Timeout, logger.Component("chain"))
	defer pool.Close()
	for _, desc := range registry.All() {
		if desc.RpcEndpoint == "" {
			continue
		}
		client, err := pool.Get(ctx, desc.Name)
		if err != nil {
			log.Warn().Err(err).Str("network", desc.Name.String()).Msg("Network unavailable for health checks")
			continue
		}
		checker.RegisterNetwork(ctx, desc.Name, client)
	}

	app := fiber.New(fiber.Config{
		AppName:      "wallet-migration-backend",
		ReadTimeout:  cfg.HTTP.Timeout,
		WriteTimeout: cfg.HTTP.Timeout,
	})
	handler := api.NewHandler(store, archiver, cfg.Attestation.NonceBucket, logger.Component("api"))
	api.SetupRoutes(app, handler, cfg.Server.ServiceToken, checker)

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down server")
		checker.SetReady(false)
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	checker.SetReady(true)
	log.Info().Str("port", cfg.Server.Port).Msg("Starting wallet migration backend")
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Error().Err(err).Msg("Server stopped")
	}
}
