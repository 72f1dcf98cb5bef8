package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"companion-bot/internal/adapters/bot"
	"companion-bot/internal/content"
	"companion-bot/internal/infra/config"
	httpinfra "companion-bot/internal/infra/http"
	"companion-bot/internal/infra/log"
	"companion-bot/internal/infra/metrics"
	"companion-bot/internal/infra/queue"
)

func main() {
	cfg := config.Load()
	logger := log.NewServiceLogger(cfg.AppEnv, "bot-gateway")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bundle, err := content.Load(cfg.Engine.ContentFile, cfg.Engine.MilestoneMax)
	if err != nil {
		logger.Fatal().Err(err).Msg("некорректный контент")
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}
	if cfg.Telegram.WebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("некорректный адрес вебхука")
		}
		if _, err := botAPI.Request(wh); err != nil {
			logger.Error().Err(err).Msg("не удалось установить вебхук")
		}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	inputs := queue.NewRedisInputQueue(rdb, cfg.Queues.Inbound, cfg.Queues.InboundAttempts)

	h := bot.NewHandler(botAPI, logger, inputs, bundle, cfg.Telegram.Character)
	notifier := bot.NewNotifier(botAPI, logger, bundle)

	srv := httpinfra.NewServer(logger)
	srv.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// 500 заставит Telegram повторить доставку, если очередь недоступна.
		if err := h.HandleUpdate(r.Context(), update); err != nil {
			http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Int("port", cfg.Port).Msg("бот-гейтвей запущен")
		return srv.Run(gctx, ":"+strconv.Itoa(cfg.Port))
	})
	if cfg.RabbitURL != "" {
		consumer, err := queue.NewRabbitEventConsumer(cfg.RabbitURL, cfg.Queues.Exchange, cfg.Queues.GatewayEvents, nil, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("не удалось подключиться к RabbitMQ")
		}
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(gctx, notifier.Handle) })
	} else {
		logger.Warn().Msg("RABBITMQ_URL не задан, события движка не доставляются")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("бот-гейтвей остановлен с ошибкой")
	}
	logger.Info().Msg("остановка бота")
}
