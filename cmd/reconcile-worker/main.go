package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/craftzone/craftzone-api/internal/config"
	"github.com/craftzone/craftzone-api/internal/domain/ledger"
	"github.com/craftzone/craftzone-api/internal/domain/notification"
	"github.com/craftzone/craftzone-api/internal/domain/reconcile"
	"github.com/craftzone/craftzone-api/internal/pkg/clock"
	"github.com/craftzone/craftzone-api/internal/pkg/database"
	"github.com/craftzone/craftzone-api/internal/pkg/logger"
	"github.com/craftzone/craftzone-api/internal/pkg/storage"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, LogFile: cfg.LogFile}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().Dur("interval", cfg.ReconcileInterval).Msg("Starting reconcile-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: 4, MaxIdleConns: 2})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	var blob storage.Storage
	if cfg.StorageEnabled() {
		s3, err := storage.NewS3Storage(context.Background(), storage.Config{
			S3Endpoint:  cfg.S3Endpoint,
			S3Region:    cfg.S3Region,
			S3Bucket:    cfg.S3Bucket,
			S3AccessKey: cfg.S3AccessKey,
			S3SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 storage client")
		}
		blob = s3
	} else {
		log.Warn().Msg("S3 not configured, reports are only logged")
	}

	// Mismatch events are persisted and fanned out to admin feeds through
	// the same Redis channel the API uses.
	hub := notification.NewHub(rdb)
	go hub.Run()
	defer hub.Shutdown()
	dispatcher := notification.NewDispatcher(256, notification.NewAuditRepository(db), hub)
	defer dispatcher.Close()

	runner := database.NewTxRunner(db, cfg.TxMaxRetries, cfg.TxRetryBackoff)
	ledgerService := ledger.NewService(ledger.NewRepository(runner), dispatcher)
	svc := reconcile.NewService(ledgerService, blob, dispatcher, clock.RealClock{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	reconcile.NewWorker(svc, rdb, cfg.ReconcileInterval).Run(ctx)
}
