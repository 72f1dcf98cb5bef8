package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"companion-bot/internal/adapters/httpapi"
	"companion-bot/internal/adapters/repo"
	"companion-bot/internal/content"
	"companion-bot/internal/infra/config"
	"companion-bot/internal/infra/db"
	httpinfra "companion-bot/internal/infra/http"
	"companion-bot/internal/infra/log"
	"companion-bot/internal/infra/metrics"
	"companion-bot/internal/infra/queue"
	"companion-bot/internal/usecase/affinity"
	"companion-bot/internal/usecase/cards"
)

func main() {
	cfg := config.Load()
	logger := log.NewServiceLogger(cfg.AppEnv, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AdminToken == "" {
		logger.Warn().Msg("api: ADMIN_TOKEN не задан, административные маршруты закрыты")
	}

	bundle, err := content.Load(cfg.Engine.ContentFile, cfg.Engine.MilestoneMax)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: некорректный контент")
	}

	pool, err := db.Connect(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	api := httpapi.New(httpapi.Deps{
		Affinity: affinity.NewLedger(store, affinity.Options{
			Floor:      cfg.Engine.AffinityFloor,
			DailyLimit: cfg.Engine.DailyLimit,
			Location:   cfg.Location(),
		}),
		Cards:   cards.NewVault(bundle.Catalog, store),
		Claims:  store,
		Inputs:  queue.NewRedisInputQueue(rdb, cfg.Queues.Inbound, cfg.Queues.InboundAttempts),
		Content: bundle,
		Logger:  logger,
	})

	srv := httpinfra.NewServer(logger)
	api.Mount(srv.Router, cfg.AdminToken, cfg.Telegram.Token)

	logger.Info().Int("port", cfg.Port).Msg("api: запуск")
	if err := srv.Run(ctx, ":"+strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("api: сервер остановлен с ошибкой")
	}
}
