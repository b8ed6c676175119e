// Package rabbitmq publishes and consumes tasks through a RabbitMQ topic exchange.
// Failed deliveries are rejected without requeue and land on the dead-letter queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hongminglow/accounts/internal/tasks"
)

var (
	_ tasks.Queue    = (*Broker)(nil)
	_ tasks.Consumer = (*Broker)(nil)
)

// Config describes the exchange topology.
type Config struct {
	URL      string
	Exchange string
	Queue    string
	Prefetch int
}

func (c Config) deadLetterExchange() string { return c.Exchange + ".dlx" }
func (c Config) deadLetterQueue() string    { return c.Queue + ".dead" }

// Broker owns one connection and channel used for publishing and consuming.
type Broker struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	conn *amqp.Connection
	mu   sync.Mutex // guards publishing on ch
	ch   *amqp.Channel
}

// Dial connects and declares the exchange, the work queue and its dead-letter pair.
func Dial(cfg Config, logger *slog.Logger) (*Broker, error) {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	b := &Broker{cfg: cfg, logger: logger, now: time.Now, conn: conn, ch: ch}
	if err := b.declare(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) declare() error {
	cfg := b.cfg
	if err := b.ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := b.ch.ExchangeDeclare(cfg.deadLetterExchange(), "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx: %w", err)
	}
	if _, err := b.ch.QueueDeclare(cfg.deadLetterQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq: %w", err)
	}
	if err := b.ch.QueueBind(cfg.deadLetterQueue(), "#", cfg.deadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("bind dlq: %w", err)
	}

	args := amqp.Table{"x-dead-letter-exchange": cfg.deadLetterExchange()}
	if _, err := b.ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := b.ch.QueueBind(cfg.Queue, "#", cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	if err := b.ch.Qos(cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

// Enqueue publishes a persistent message routed by task name.
func (b *Broker) Enqueue(ctx context.Context, name string, payload any) (tasks.Handle, error) {
	env, err := tasks.NewEnvelope(name, payload, b.now())
	if err != nil {
		return tasks.Handle{}, err
	}
	msg, err := publishing(env)
	if err != nil {
		return tasks.Handle{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ch.PublishWithContext(ctx, b.cfg.Exchange, name, false, false, msg); err != nil {
		return tasks.Handle{}, fmt.Errorf("publish %s: %w", name, err)
	}
	return env.Handle(), nil
}

// Consume acknowledges handled deliveries and dead-letters failed ones.
func (b *Broker) Consume(ctx context.Context, fn tasks.HandleFunc) error {
	msgs, err := b.ch.ConsumeWithContext(ctx, b.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume failed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed")
			}
			b.handle(ctx, d, fn)
		}
	}
}

func (b *Broker) handle(ctx context.Context, d amqp.Delivery, fn tasks.HandleFunc) {
	env, err := envelopeFrom(d)
	if err == nil {
		err = fn(ctx, env)
	}
	if err != nil {
		b.logger.Error("task rejected", "routing_key", d.RoutingKey, "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// Close shuts the channel and connection.
func (b *Broker) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func publishing(env tasks.Envelope) (amqp.Publishing, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode envelope: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         env.Name,
		Timestamp:    env.EnqueuedAt,
		Body:         body,
	}, nil
}

func envelopeFrom(d amqp.Delivery) (tasks.Envelope, error) {
	var env tasks.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		return tasks.Envelope{}, fmt.Errorf("decode delivery: %w", err)
	}
	if env.Name == "" {
		env.Name = d.RoutingKey
	}
	return env, nil
}
