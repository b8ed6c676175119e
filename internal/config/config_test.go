package config

import (
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv clears every variable Config reads, then applies kv.
func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	typ := reflect.TypeOf(Config{})
	for i := range typ.NumField() {
		key := typ.Field(i).Tag.Get("envconfig")
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, map[string]string{
		"DATABASE_URL": "postgres://localhost/accounts",
		"TOKEN_SECRET": "s3cret",
	})

	cfg, err := Load()
	require.NoError(t, err)

	want := Config{
		ServiceName:        "accounts",
		Port:               "8080",
		ShutdownTimeout:    15 * time.Second,
		CORSOrigins:        []string{"*"},
		LogLevel:           "info",
		LogFormat:          "json",
		StorageBackend:     StoragePostgres,
		DatabaseURL:        "postgres://localhost/accounts",
		AutoMigrate:        true,
		TokenSecret:        "s3cret",
		TokenIssuer:        "accounts",
		TokenTTL:           10 * time.Hour,
		TokenPurgeInterval: time.Hour,
		PasswordMinLength:  8,
		BcryptCost:         10,
		QueueBackend:       QueueMemory,
		QueueName:          "accounts.tasks",
		QueueCapacity:      1024,
		RabbitExchange:     "accounts.tasks",
		RabbitPrefetch:     8,
		EmbeddedWorker:     true,
		WorkerConcurrency:  2,
		MailTransport:      MailLog,
		MailFrom:           "noreply@example.com",
		SMTPPort:           587,
		RateLimitPerMinute: 20,
		RateLimitBackend:   "memory",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, ":8080", cfg.HTTPAddress())
}

func TestLoadOverrides(t *testing.T) {
	setEnv(t, map[string]string{
		"STORAGE_BACKEND":                  " Memory ",
		"TOKEN_SECRET":                     "s3cret",
		"TOKEN_TTL":                        "0s",
		"REVOKE_TOKENS_ON_PASSWORD_CHANGE": "true",
		"CORS_ALLOWED_ORIGINS":             " https://a.example , ,https://b.example",
		"QUEUE_BACKEND":                    "redis",
		"REDIS_URL":                        "redis://localhost:6379/0",
		"EMBEDDED_WORKER":                  "false",
		"TRUST_PROXY_HEADERS":              "true",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.Zero(t, cfg.TokenTTL)
	assert.True(t, cfg.RevokeTokensOnPasswordChange)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, QueueRedis, cfg.QueueBackend)
	assert.False(t, cfg.EmbeddedWorker)
	assert.True(t, cfg.TrustProxyHeaders)
}

func TestLoadRequiresSecret(t *testing.T) {
	setEnv(t, map[string]string{"STORAGE_BACKEND": "memory"})

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_SECRET")
}

func TestValidate(t *testing.T) {
	base := Config{
		StorageBackend:   StorageMemory,
		TokenSecret:      "s",
		QueueBackend:     QueueMemory,
		EmbeddedWorker:   true,
		MailTransport:    MailLog,
		RateLimitBackend: "memory",
	}
	require.NoError(t, base.Validate())

	smtp := base
	smtp.StorageBackend, smtp.DatabaseURL = StoragePostgres, "postgres://localhost/accounts"
	smtp.MailTransport, smtp.SMTPHost = MailSMTP, "mail.local"
	require.NoError(t, smtp.Validate())

	tests := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"postgres without url":  {func(c *Config) { c.StorageBackend = StoragePostgres }, "DATABASE_URL"},
		"unknown storage":       {func(c *Config) { c.StorageBackend = "sqlite" }, "STORAGE_BACKEND"},
		"memory queue detached": {func(c *Config) { c.EmbeddedWorker = false }, "EMBEDDED_WORKER"},
		"rabbit without url":    {func(c *Config) { c.QueueBackend = QueueRabbitMQ }, "RABBIT_URL"},
		"smtp without host":     {func(c *Config) { c.MailTransport = MailSMTP }, "SMTP_HOST"},
		"smtp on memory store":  {func(c *Config) { c.MailTransport, c.SMTPHost = MailSMTP, "mail.local" }, "STORAGE_BACKEND=postgres"},
		"redis limiter":         {func(c *Config) { c.RateLimitBackend = "redis" }, "REDIS_URL"},
		"negative ttl":          {func(c *Config) { c.TokenTTL = -time.Second }, "TOKEN_TTL"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseCSV(t *testing.T) {
	assert.Equal(t, []string{"*"}, parseCSV(""))
	assert.Equal(t, []string{"a", "b"}, parseCSV(" a, ,b "))
}
