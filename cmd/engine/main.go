package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"companion-bot/internal/adapters/events"
	"companion-bot/internal/adapters/repo"
	sentimentadapter "companion-bot/internal/adapters/sentiment"
	"companion-bot/internal/content"
	"companion-bot/internal/domain"
	"companion-bot/internal/infra/cache"
	"companion-bot/internal/infra/config"
	"companion-bot/internal/infra/db"
	applog "companion-bot/internal/infra/log"
	"companion-bot/internal/infra/metrics"
	"companion-bot/internal/infra/openai"
	"companion-bot/internal/infra/queue"
	"companion-bot/internal/usecase/affinity"
	"companion-bot/internal/usecase/cards"
	"companion-bot/internal/usecase/milestone"
	"companion-bot/internal/usecase/notify"
	"companion-bot/internal/usecase/progression"
	"companion-bot/internal/usecase/sentiment"
	"companion-bot/internal/usecase/story"
)

func main() {
	cfg := config.Load()
	logger := applog.NewServiceLogger(cfg.AppEnv, "engine")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	bundle, err := content.Load(cfg.Engine.ContentFile, cfg.Engine.MilestoneMax)
	if err != nil {
		logger.Fatal().Err(err).Msg("engine: некорректный контент")
	}

	pool, err := db.Connect(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("engine: нет подключения к БД")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	inputs := queue.NewRedisInputQueue(rdb, cfg.Queues.Inbound, cfg.Queues.InboundAttempts)
	if n, err := inputs.Requeue(ctx); err != nil {
		logger.Error().Err(err).Msg("engine: не удалось вернуть зависшие события")
	} else if n > 0 {
		logger.Warn().Int("count", n).Msg("engine: возвращены зависшие события")
	}

	sinks := events.FanOut{events.NewLogSink(logger)}
	if cfg.RabbitURL != "" {
		publisher, err := queue.NewRabbitEventPublisher(cfg.RabbitURL, cfg.Queues.Exchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("engine: не удалось подключиться к RabbitMQ")
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	} else {
		logger.Warn().Msg("engine: RABBITMQ_URL не задан, события только пишутся в журнал")
	}
	emitter := notify.NewEmitter(sinks, logger)

	scorer := sentiment.NewPolicy(classifier(cfg, logger), sentiment.Config{
		MaxAttempts:     cfg.Classifier.MaxAttempts,
		InitialInterval: cfg.Classifier.Backoff,
		AttemptTimeout:  cfg.OpenAI.Timeout,
	}, logger)

	rnd, err := cards.NewCryptoSeededRand()
	if err != nil {
		logger.Fatal().Err(err).Msg("engine: не удалось инициализировать генератор")
	}
	allocator := cards.NewAllocator(bundle.Catalog, store, rnd)
	vault := cards.NewVault(bundle.Catalog, store)
	tracker := milestone.NewTracker(bundle.Schedule, store, allocator, vault, logger)
	ledger := affinity.NewLedger(store, affinity.Options{
		Floor:      cfg.Engine.AffinityFloor,
		DailyLimit: cfg.Engine.DailyLimit,
		Location:   cfg.Location(),
	})
	stories, err := story.NewManager(bundle.Stories, story.Deps{
		Scorer:  scorer,
		Drawer:  allocator,
		Granter: vault,
		Audit:   store,
		Events:  emitter,
		Logger:  logger,
		Timeout: cfg.Engine.StoryTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("engine: некорректные истории")
	}
	defer stories.Close()

	service := progression.NewService(progression.Deps{
		Content:     bundle,
		Ledger:      ledger,
		Tracker:     tracker,
		Stories:     stories,
		Scorer:      scorer,
		Emotions:    store,
		Preferences: store,
		Audit:       store,
		Guard:       cache.NewRedis(rdb, "engine:"),
		Events:      emitter,
		Logger:      logger,
		SpamWindow:  cfg.Engine.SpamWindow,
		DedupeTTL:   cfg.Engine.DedupeTTL,
	})

	logger.Info().Int("workers", cfg.Engine.Workers).Str("queue", cfg.Queues.Inbound).Msg("engine: запуск обработки очереди")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Engine.Workers; i++ {
		w := &worker{
			log:    logger.With().Int("worker", i).Logger(),
			queue:  inputs,
			engine: service,
		}
		g.Go(func() error { return w.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("engine: обработка остановлена с ошибкой")
	}
	logger.Info().Msg("engine: остановлен")
}

func classifier(cfg config.AppConfig, logger zerolog.Logger) domain.SentimentClassifier {
	pattern := sentimentadapter.NewPattern(nil, nil)
	if cfg.OpenAI.APIKey == "" {
		logger.Warn().Msg("engine: OPENAI_API_KEY не задан, используется эвристический классификатор")
		return pattern
	}
	client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	return sentimentadapter.NewBlend(sentimentadapter.NewOpenAI(client, cfg.OpenAI.Model, cfg.OpenAI.RPS), pattern)
}
