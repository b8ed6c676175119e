// Package redisq is a Redis list backed task queue (LPUSH / BRPOP).
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hongminglow/accounts/internal/tasks"
)

const defaultBlockTimeout = 5 * time.Second

var (
	_ tasks.Queue    = (*Queue)(nil)
	_ tasks.Consumer = (*Queue)(nil)
)

// Queue stores envelopes on a Redis list and moves failed ones to "<name>:dead".
type Queue struct {
	client       *redis.Client
	key          string
	deadKey      string
	blockTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// Dial parses a redis:// URL and verifies the connection.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// New binds a queue named name to client.
func New(client *redis.Client, name string, logger *slog.Logger) *Queue {
	return &Queue{
		client:       client,
		key:          name,
		deadKey:      name + ":dead",
		blockTimeout: defaultBlockTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

func (q *Queue) Enqueue(ctx context.Context, name string, payload any) (tasks.Handle, error) {
	env, err := tasks.NewEnvelope(name, payload, q.now())
	if err != nil {
		return tasks.Handle{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return tasks.Handle{}, fmt.Errorf("encode envelope: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return tasks.Handle{}, fmt.Errorf("enqueue %s: %w", name, err)
	}
	return env.Handle(), nil
}

// Consume blocks on the list and hands each envelope to fn.
func (q *Queue) Consume(ctx context.Context, fn tasks.HandleFunc) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := q.client.BRPop(ctx, q.blockTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Error("dequeue failed", "queue", q.key, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) < 2 {
			continue
		}

		var env tasks.Envelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			q.logger.Error("discarding malformed task", "queue", q.key, "error", err)
			q.bury(ctx, tasks.Envelope{Payload: json.RawMessage(`null`)}, err)
			continue
		}
		if err := fn(ctx, env); err != nil {
			q.bury(ctx, env, err)
		}
	}
}

// DeadLetters returns up to limit failed tasks, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]tasks.DeadLetter, error) {
	raw, err := q.client.LRange(ctx, q.deadKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]tasks.DeadLetter, 0, len(raw))
	for _, item := range raw {
		var dl tasks.DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, nil
}

func (q *Queue) bury(ctx context.Context, env tasks.Envelope, cause error) {
	data, err := json.Marshal(tasks.DeadLetter{Envelope: env, Error: cause.Error(), FailedAt: q.now().UTC()})
	if err != nil {
		q.logger.Error("encode dead letter", "error", err)
		return
	}
	// the consumer context may already be cancelled
	buryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := q.client.LPush(buryCtx, q.deadKey, data).Err(); err != nil {
		q.logger.Error("push dead letter", "queue", q.deadKey, "error", err)
	}
}

// Close releases the client.
func (q *Queue) Close() error {
	return q.client.Close()
}
