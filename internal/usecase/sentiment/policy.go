// Package sentiment оборачивает внешний классификатор в политику ограниченных повторов.
package sentiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
)

// ErrOutOfRange — классификатор вернул значение вне {-1, 0, +1}.
var ErrOutOfRange = errors.New("оценка вне диапазона")

// Config задаёт политику повторов.
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	AttemptTimeout  time.Duration
	Fallback        int
}

// DefaultConfig возвращает политику по умолчанию: три попытки, нейтральная оценка при неудаче.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		AttemptTimeout:  10 * time.Second,
		Fallback:        0,
	}
}

// Result — итог классификации. При Fallback=true Score равен значению по умолчанию, Err содержит последнюю ошибку.
type Result struct {
	Score    int
	Attempts int
	Fallback bool
	Err      error
}

// retryable реализуют ошибки классификатора, которые знают, стоит ли повторять запрос.
type retryable interface {
	Retryable() bool
}

// Policy вызывает классификатор с повторами и никогда не блокирует движок дольше лимита попыток.
type Policy struct {
	classifier domain.SentimentClassifier
	cfg        Config
	log        zerolog.Logger
}

// NewPolicy создаёт политику. Нулевые поля конфигурации заменяются значениями по умолчанию.
func NewPolicy(classifier domain.SentimentClassifier, cfg Config, logger zerolog.Logger) *Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	return &Policy{classifier: classifier, cfg: cfg, log: logger.With().Str("component", "sentiment").Logger()}
}

func (p *Policy) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.InitialInterval
	exp.MaxInterval = p.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.cfg.MaxAttempts-1)), ctx)
}

// Classify оценивает текст. Ошибки не возвращаются: при исчерпании попыток выдаётся оценка по умолчанию.
func (p *Policy) Classify(ctx context.Context, text string) Result {
	var (
		score    int
		attempts int
	)
	op := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		defer cancel()
		v, err := p.classifier.Classify(attemptCtx, text)
		if err != nil {
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("%w: %v", domain.ErrClassifierTimeout, err)
			}
			var r retryable
			if errors.As(err, &r) && !r.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		if v < -1 || v > 1 {
			return backoff.Permanent(fmt.Errorf("%w: %d", ErrOutOfRange, v))
		}
		score = v
		return nil
	}
	err := backoff.Retry(op, p.backoff(ctx))
	if err == nil {
		return Result{Score: score, Attempts: attempts}
	}
	metrics.IncClassifierFallback()
	p.log.Warn().Err(err).Int("attempts", attempts).Msg("классификатор недоступен, используется нейтральная оценка")
	return Result{Score: p.cfg.Fallback, Attempts: attempts, Fallback: true, Err: err}
}
