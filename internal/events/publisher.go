package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/assetledger/internal/ledger"
)

const (
	// DefaultStream is the Redis stream ledger events are appended to.
	DefaultStream = "ledger:events"

	contentTypeJSON = "application/json"
)

// Envelope wraps an event for delivery to external consumers.
type Envelope struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	PublishedAt time.Time       `json:"published_at"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEnvelope encodes event with a fresh id.
func NewEnvelope(event ledger.Event) (Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", event.EventName(), err)
	}
	return Envelope{
		ID:          uuid.NewString(),
		Name:        event.EventName(),
		PublishedAt: time.Now().UTC(),
		Payload:     payload,
	}, nil
}

// LoggerPublisher writes each event to the structured logger.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish writes the event to the structured logger.
func (p *LoggerPublisher) Publish(_ context.Context, event ledger.Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("ledger event published", "name", event.EventName(), "event", event)
	return nil
}

// RedisPublisher appends events to a Redis stream.
type RedisPublisher struct {
	cache  *redis.Client
	stream string
}

// NewRedisPublisher builds a stream publisher. An empty stream name selects DefaultStream.
func NewRedisPublisher(cache *redis.Client, stream string) *RedisPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisPublisher{cache: cache, stream: stream}
}

// Publish adds one stream entry holding the envelope fields.
func (p *RedisPublisher) Publish(ctx context.Context, event ledger.Event) error {
	env, err := NewEnvelope(event)
	if err != nil {
		return err
	}
	err = p.cache.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"id":           env.ID,
			"name":         env.Name,
			"published_at": env.PublishedAt.Format(time.RFC3339Nano),
			"payload":      string(env.Payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// AMQPChannel is the subset of *amqp.Channel the publisher needs.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher sends envelopes to a topic exchange, routed by event name.
type AMQPPublisher struct {
	ch       AMQPChannel
	exchange string
}

// NewAMQPPublisher declares exchange as a durable topic exchange and returns
// a publisher for it.
func NewAMQPPublisher(ch AMQPChannel, exchange string) (*AMQPPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{ch: ch, exchange: exchange}, nil
}

// Publish sends the JSON envelope with the event name as routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, event ledger.Event) error {
	env, err := NewEnvelope(event)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, env.Name, false, false, amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Timestamp:    env.PublishedAt,
		Type:         env.Name,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.exchange, err)
	}
	return nil
}

// Multi delivers every event to each publisher in order. All publishers are
// tried; their errors are joined.
type Multi []ledger.Publisher

// Publish fans event out to every publisher.
func (m Multi) Publish(ctx context.Context, event ledger.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
