package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
)

// RedisInputQueue реализует очередь входящих событий на базе Redis lists.
// Полученный элемент переносится в список обработки и снимается с него при подтверждении.
type RedisInputQueue struct {
	client     *redis.Client
	key        string
	processing string
	deadLetter string
	maxAttempt int
}

var _ domain.InputQueue = (*RedisInputQueue)(nil)

type envelope struct {
	Input   domain.Input `json:"input"`
	Attempt int          `json:"attempt"`
}

// NewRedisInputQueue создаёт очередь по указанному ключу. После maxAttempt неудачных доставок событие
// перекладывается в список <key>:dead.
func NewRedisInputQueue(client *redis.Client, key string, maxAttempt int) *RedisInputQueue {
	if maxAttempt <= 0 {
		maxAttempt = 5
	}
	return &RedisInputQueue{
		client:     client,
		key:        key,
		processing: key + ":processing",
		deadLetter: key + ":dead",
		maxAttempt: maxAttempt,
	}
}

// Enqueue публикует событие в очередь.
func (q *RedisInputQueue) Enqueue(ctx context.Context, in domain.Input) error {
	return q.push(ctx, envelope{Input: in, Attempt: 1}, q.key)
}

func (q *RedisInputQueue) push(ctx context.Context, env envelope, key string) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", key, start, err)
	if err != nil {
		return fmt.Errorf("push input: %w", err)
	}
	return nil
}

// Receive блокирующе читает событие. ack(true) удаляет его, ack(false) возвращает в очередь
// с увеличенным номером попытки.
func (q *RedisInputQueue) Receive(ctx context.Context) (domain.Input, domain.InputAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Input{}, nil, err
		}

		start := time.Now()
		raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.Input{}, nil, ctx.Err()
				}
				continue
			}
			metrics.ObserveNetworkRequest("redis", "blmove", q.key, start, err)
			return domain.Input{}, nil, err
		}
		metrics.ObserveNetworkRequest("redis", "blmove", q.key, start, nil)

		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			_ = q.client.LRem(context.WithoutCancel(ctx), q.processing, 1, raw).Err()
			return domain.Input{}, nil, fmt.Errorf("decode input: %w", err)
		}
		return env.Input, q.acker(ctx, raw, env), nil
	}
}

func (q *RedisInputQueue) acker(ctx context.Context, raw string, env envelope) domain.InputAckFunc {
	return func(success bool) error {
		ctx := context.WithoutCancel(ctx)
		if !success {
			next := env
			next.Attempt++
			target := q.key
			if next.Attempt > q.maxAttempt {
				target = q.deadLetter
			}
			if err := q.push(ctx, next, target); err != nil {
				return err
			}
		}
		start := time.Now()
		err := q.client.LRem(ctx, q.processing, 1, raw).Err()
		metrics.ObserveNetworkRequest("redis", "lrem", q.processing, start, err)
		if err != nil {
			return fmt.Errorf("ack input: %w", err)
		}
		return nil
	}
}

// Requeue возвращает в очередь события, зависшие в списке обработки после аварийной остановки.
func (q *RedisInputQueue) Requeue(ctx context.Context) (int, error) {
	moved := 0
	for {
		start := time.Now()
		_, err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "LEFT").Result()
		metrics.ObserveNetworkRequest("redis", "lmove", q.processing, start, err)
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}
