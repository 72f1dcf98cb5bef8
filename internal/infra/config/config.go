package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"

	"companion-bot/internal/domain"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
		Character  string `envconfig:"TG_DEFAULT_CHARACTER" default:"kagari"`
	} `envconfig:""`

	AdminToken string `envconfig:"ADMIN_TOKEN"`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"10"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Inbound         string `envconfig:"INBOUND_QUEUE_KEY" default:"engine_inputs"`
		InboundAttempts int    `envconfig:"INBOUND_MAX_ATTEMPTS" default:"5"`
		Exchange        string `envconfig:"EVENTS_EXCHANGE" default:"engine.events"`
		GatewayEvents   string `envconfig:"GATEWAY_EVENTS_QUEUE" default:"gateway.events"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"10s"`
		RPS     float64       `envconfig:"OPENAI_RPS" default:"5"`
	} `envconfig:""`

	Classifier struct {
		MaxAttempts int           `envconfig:"CLASSIFIER_MAX_ATTEMPTS" default:"3"`
		Backoff     time.Duration `envconfig:"CLASSIFIER_BACKOFF" default:"200ms"`
	} `envconfig:""`

	Engine struct {
		// Floor не задан по умолчанию: счёт может уходить в минус.
		AffinityFloor *int          `envconfig:"AFFINITY_FLOOR"`
		DailyLimit    int           `envconfig:"DAILY_MESSAGE_LIMIT" default:"0"`
		StoryTimeout  time.Duration `envconfig:"STORY_TIMEOUT" default:"10m"`
		Workers       int           `envconfig:"ENGINE_WORKERS" default:"8"`
		SpamWindow    time.Duration `envconfig:"SPAM_WINDOW" default:"3s"`
		DedupeTTL     time.Duration `envconfig:"INPUT_DEDUPE_TTL" default:"24h"`
		ContentFile   string        `envconfig:"CONTENT_FILE"`
		MilestoneMax  int           `envconfig:"MILESTONE_MAX" default:"5000"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает и проверяет конфиг без завершения процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate проверяет значения, которые envconfig не может проверить сам.
func (c AppConfig) Validate() error {
	if _, err := time.LoadLocation(c.TZ); err != nil {
		return domain.NewConfigError("TZ", "неизвестный часовой пояс %q", c.TZ)
	}
	if c.Engine.DailyLimit < 0 {
		return domain.NewConfigError("DAILY_MESSAGE_LIMIT", "должен быть неотрицательным")
	}
	if c.Engine.Workers <= 0 {
		return domain.NewConfigError("ENGINE_WORKERS", "должен быть положительным")
	}
	if c.Engine.MilestoneMax <= 0 {
		return domain.NewConfigError("MILESTONE_MAX", "должен быть положительным")
	}
	if c.Engine.StoryTimeout <= 0 {
		return domain.NewConfigError("STORY_TIMEOUT", "должен быть положительным")
	}
	if c.Classifier.MaxAttempts <= 0 {
		return domain.NewConfigError("CLASSIFIER_MAX_ATTEMPTS", "должен быть положительным")
	}
	return nil
}

// Location возвращает часовой пояс сервиса.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
