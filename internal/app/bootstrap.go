// Package app builds the runtime dependencies named by the configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hongminglow/accounts/internal/account"
	"github.com/hongminglow/accounts/internal/auth"
	"github.com/hongminglow/accounts/internal/config"
	"github.com/hongminglow/accounts/internal/mail"
	"github.com/hongminglow/accounts/internal/metrics"
	"github.com/hongminglow/accounts/internal/middleware"
	"github.com/hongminglow/accounts/internal/notify"
	"github.com/hongminglow/accounts/internal/storage"
	"github.com/hongminglow/accounts/internal/storage/memory"
	"github.com/hongminglow/accounts/internal/storage/postgres"
	"github.com/hongminglow/accounts/internal/tasks"
	"github.com/hongminglow/accounts/internal/tasks/rabbitmq"
	"github.com/hongminglow/accounts/internal/tasks/redisq"
)

// OpenStore connects the configured storage backend, migrating Postgres when enabled.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		return memory.New(), nil
	case config.StoragePostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := migrate(ctx, pool, logger); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return postgres.New(pool), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (err error) {
	m, err := postgres.NewMigrator(pool, logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, m.Close()) }()
	return m.Up(ctx)
}

// Queue is a task queue together with the consumer side of the same backend.
type Queue struct {
	tasks.Queue
	Consumer tasks.Consumer
	close    func() error
}

// Close releases the backend connection.
func (q Queue) Close() error {
	if q.close == nil {
		return nil
	}
	return q.close()
}

// OpenQueue connects the configured task queue backend.
func OpenQueue(ctx context.Context, cfg config.Config, logger *slog.Logger) (Queue, error) {
	switch cfg.QueueBackend {
	case config.QueueMemory:
		q := tasks.NewMemoryQueue(cfg.QueueCapacity)
		return Queue{Queue: q, Consumer: q}, nil
	case config.QueueRedis:
		client, err := redisq.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return Queue{}, err
		}
		q := redisq.New(client, cfg.QueueName, logger)
		return Queue{Queue: q, Consumer: q, close: q.Close}, nil
	case config.QueueRabbitMQ:
		b, err := rabbitmq.Dial(rabbitmq.Config{
			URL:      cfg.RabbitURL,
			Exchange: cfg.RabbitExchange,
			Queue:    cfg.QueueName,
			Prefetch: cfg.RabbitPrefetch,
		}, logger)
		if err != nil {
			return Queue{}, err
		}
		return Queue{Queue: b, Consumer: b, close: b.Close}, nil
	default:
		return Queue{}, fmt.Errorf("unsupported queue backend %q", cfg.QueueBackend)
	}
}

// MailTransport returns the configured mail transport.
func MailTransport(cfg config.Config, logger *slog.Logger) mail.Transport {
	if cfg.MailTransport == config.MailSMTP {
		return mail.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	return mail.NewLogTransport(logger)
}

// RateLimiter returns nil when rate limiting is disabled.
func RateLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (middleware.RateLimiter, func(), error) {
	if cfg.RateLimitPerMinute <= 0 {
		return nil, func() {}, nil
	}
	if cfg.RateLimitBackend == "redis" {
		client, err := redisq.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		rl := middleware.NewRedisRateLimiter(client, cfg.RateLimitPerMinute, logger)
		return rl, func() { _ = client.Close() }, nil
	}
	rl := middleware.NewMemoryRateLimiter(cfg.RateLimitPerMinute)
	return rl, rl.Close, nil
}

// NewAccountService assembles the account service from configuration.
func NewAccountService(cfg config.Config, store storage.Store, queue tasks.Queue, logger *slog.Logger, m *metrics.Metrics) *account.Service {
	issuer := auth.NewTokenIssuer(cfg.TokenSecret, cfg.TokenIssuer, cfg.TokenTTL)
	return account.NewService(store, issuer,
		auth.NewHasher(cfg.BcryptCost),
		auth.NewPasswordPolicy(cfg.PasswordMinLength),
		queue,
		account.WithLogger(logger),
		account.WithMetrics(m),
		account.WithRevokeOnPasswordChange(cfg.RevokeTokensOnPasswordChange),
	)
}

// NewWorker registers every task handler and returns a worker over consumer.
func NewWorker(cfg config.Config, store storage.Store, consumer tasks.Consumer, logger *slog.Logger, m *metrics.Metrics) *tasks.Worker {
	registry := tasks.NewRegistry()
	notify.NewDispatcher(store, MailTransport(cfg, logger), cfg.MailFrom, logger, m).Register(registry)
	return tasks.NewWorker(consumer, registry, logger.With("component", "worker"),
		tasks.WithConcurrency(cfg.WorkerConcurrency),
		tasks.WithObserver(m),
	)
}
