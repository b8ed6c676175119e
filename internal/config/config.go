package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Storage, queue and mail backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	QueueMemory   = "memory"
	QueueRedis    = "redis"
	QueueRabbitMQ = "rabbitmq"

	MailLog  = "log"
	MailSMTP = "smtp"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	ServiceName     string        `envconfig:"SERVICE_NAME" default:"accounts"`
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	CORSOrigins     []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"json"`
	OTLPEndpoint    string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"postgres"`
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	AutoMigrate    bool   `envconfig:"AUTO_MIGRATE" default:"true"`

	TokenSecret                  string        `envconfig:"TOKEN_SECRET" required:"true"`
	TokenIssuer                  string        `envconfig:"TOKEN_ISSUER" default:"accounts"`
	TokenTTL                     time.Duration `envconfig:"TOKEN_TTL" default:"10h"`
	TokenPurgeInterval           time.Duration `envconfig:"TOKEN_PURGE_INTERVAL" default:"1h"`
	RevokeTokensOnPasswordChange bool          `envconfig:"REVOKE_TOKENS_ON_PASSWORD_CHANGE" default:"false"`
	PasswordMinLength            int           `envconfig:"PASSWORD_MIN_LENGTH" default:"8"`
	BcryptCost                   int           `envconfig:"BCRYPT_COST" default:"10"`

	QueueBackend      string `envconfig:"QUEUE_BACKEND" default:"memory"`
	QueueName         string `envconfig:"QUEUE_NAME" default:"accounts.tasks"`
	QueueCapacity     int    `envconfig:"QUEUE_CAPACITY" default:"1024"`
	RedisURL          string `envconfig:"REDIS_URL"`
	RabbitURL         string `envconfig:"RABBIT_URL"`
	RabbitExchange    string `envconfig:"RABBIT_EXCHANGE" default:"accounts.tasks"`
	RabbitPrefetch    int    `envconfig:"RABBIT_PREFETCH" default:"8"`
	EmbeddedWorker    bool   `envconfig:"EMBEDDED_WORKER" default:"true"`
	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"2"`

	MailTransport string `envconfig:"MAIL_TRANSPORT" default:"log"`
	MailFrom      string `envconfig:"MAIL_FROM" default:"noreply@example.com"`
	SMTPHost      string `envconfig:"SMTP_HOST"`
	SMTPPort      int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername  string `envconfig:"SMTP_USERNAME"`
	SMTPPassword  string `envconfig:"SMTP_PASSWORD"`

	RateLimitPerMinute int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"20"`
	RateLimitBackend   string `envconfig:"RATE_LIMIT_BACKEND" default:"memory"`
	TrustProxyHeaders  bool   `envconfig:"TRUST_PROXY_HEADERS" default:"false"`
}

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	cfg.CORSOrigins = parseCSV(strings.Join(cfg.CORSOrigins, ","))
	cfg.StorageBackend = normalize(cfg.StorageBackend)
	cfg.QueueBackend = normalize(cfg.QueueBackend)
	cfg.MailTransport = normalize(cfg.MailTransport)
	cfg.RateLimitBackend = normalize(cfg.RateLimitBackend)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports combinations of settings that cannot work together.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageBackend {
	case StoragePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres storage backend"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_BACKEND %q", c.StorageBackend))
	}

	if strings.TrimSpace(c.TokenSecret) == "" {
		errs = append(errs, errors.New("TOKEN_SECRET is required"))
	}
	if c.TokenTTL < 0 {
		errs = append(errs, errors.New("TOKEN_TTL must not be negative"))
	}

	switch c.QueueBackend {
	case QueueMemory:
		if !c.EmbeddedWorker {
			errs = append(errs, errors.New("the memory queue requires EMBEDDED_WORKER=true"))
		}
	case QueueRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis queue"))
		}
	case QueueRabbitMQ:
		if c.RabbitURL == "" {
			errs = append(errs, errors.New("RABBIT_URL is required for the rabbitmq queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported QUEUE_BACKEND %q", c.QueueBackend))
	}

	switch c.MailTransport {
	case MailLog:
	case MailSMTP:
		if c.SMTPHost == "" {
			errs = append(errs, errors.New("SMTP_HOST is required for the smtp mail transport"))
		}
		// The memory store serializes every request behind one lock, and the
		// welcome send runs inside a store transaction.
		if c.StorageBackend == StorageMemory {
			errs = append(errs, errors.New("the smtp mail transport requires STORAGE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported MAIL_TRANSPORT %q", c.MailTransport))
	}

	switch c.RateLimitBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis rate limiter"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q", c.RateLimitBackend))
	}

	return errors.Join(errs...)
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
