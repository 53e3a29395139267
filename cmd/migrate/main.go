package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/craftzone/craftzone-api/internal/config"
	"github.com/craftzone/craftzone-api/internal/pkg/database"
	"github.com/craftzone/craftzone-api/internal/pkg/logger"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	log.Info().Dur("took", time.Since(start)).Msg("Migrations applied")
}
