package main

import (
	"context"
	"time"

	"companion-bot/internal/infra/config"
	"companion-bot/internal/infra/db"
	"companion-bot/internal/infra/log"
)

func main() {
	cfg := config.Load()
	logger := log.NewServiceLogger(cfg.AppEnv, "migrate")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.PGDSN, 2)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate: нет подключения к БД")
	}
	defer pool.Close()

	if err := db.Migrate(pool, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrate: миграции не применены")
	}
}
