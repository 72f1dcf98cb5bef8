package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
)

// RabbitEventPublisher публикует события движка в topic exchange. Ключ маршрутизации равен типу события.
type RabbitEventPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

var _ domain.EventSink = (*RabbitEventPublisher)(nil)

// NewRabbitEventPublisher подключается к брокеру и объявляет exchange.
func NewRabbitEventPublisher(url, exchange string) (*RabbitEventPublisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if exchange == "" {
		return nil, errors.New("exchange name is empty")
	}
	conn, ch, err := dialExchange(url, exchange)
	if err != nil {
		return nil, err
	}
	return &RabbitEventPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func dialExchange(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}

// Publish отправляет событие как persistent JSON-сообщение.
func (p *RabbitEventPublisher) Publish(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Kind),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	start := time.Now()
	err = p.ch.PublishWithContext(ctx, p.exchange, string(event.Kind), false, false, msg)
	metrics.ObserveNetworkRequest("rabbitmq", "publish", p.exchange, start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *RabbitEventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// EventHandler обрабатывает событие. Ошибка возвращает сообщение в очередь.
type EventHandler func(ctx context.Context, event domain.Event) error

// RabbitEventConsumer читает события из очереди, привязанной к exchange.
type RabbitEventConsumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   zerolog.Logger
}

// NewRabbitEventConsumer объявляет очередь и привязывает её к указанным типам событий.
// Пустой список означает подписку на все события.
func NewRabbitEventConsumer(url, exchange, queueName string, kinds []domain.EventKind, logger zerolog.Logger) (*RabbitEventConsumer, error) {
	conn, ch, err := dialExchange(url, exchange)
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	keys := []string{"#"}
	if len(kinds) > 0 {
		keys = keys[:0]
		for _, k := range kinds {
			keys = append(keys, string(k))
		}
	}
	for _, key := range keys {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("bind queue %s: %w", key, err)
		}
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitEventConsumer{conn: conn, ch: ch, queue: q.Name, log: logger}, nil
}

// Run читает события до отмены контекста или закрытия канала.
func (c *RabbitEventConsumer) Run(ctx context.Context, handle EventHandler) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}
			c.deliver(ctx, d, handle)
		}
	}
}

func (c *RabbitEventConsumer) deliver(ctx context.Context, d amqp.Delivery, handle EventHandler) {
	var event domain.Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.log.Error().Err(err).Str("message_id", d.MessageId).Msg("rabbitmq: некорректное событие, отбрасываем")
		_ = d.Nack(false, false)
		return
	}
	if err := handle(ctx, event); err != nil {
		c.log.Warn().Err(err).Str("event_id", event.ID).Str("kind", string(event.Kind)).Msg("rabbitmq: ошибка обработки события")
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	if err := d.Ack(false); err != nil {
		c.log.Error().Err(err).Str("event_id", event.ID).Msg("rabbitmq: не удалось подтвердить событие")
	}
}

// Close закрывает соединение.
func (c *RabbitEventConsumer) Close() error {
	return c.conn.Close()
}
