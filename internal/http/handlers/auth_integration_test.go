package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/accounts/internal/account"
	"github.com/hongminglow/accounts/internal/auth"
	"github.com/hongminglow/accounts/internal/logging"
	"github.com/hongminglow/accounts/internal/mail"
	"github.com/hongminglow/accounts/internal/middleware"
	"github.com/hongminglow/accounts/internal/models/dto"
	"github.com/hongminglow/accounts/internal/notify"
	"github.com/hongminglow/accounts/internal/storage/postgres"
	"github.com/hongminglow/accounts/internal/tasks"
)

type countingTransport struct{ sent chan string }

func (c countingTransport) Send(_ context.Context, msg mail.Message) error {
	c.sent <- msg.To[0]
	return nil
}

// TestAccountIntegration exercises the account endpoints and the welcome mail
// against a live Postgres database.
func TestAccountIntegration(t *testing.T) {
	if os.Getenv("RUN_POSTGRES_INTEGRATION") != "true" {
		t.Skip("set RUN_POSTGRES_INTEGRATION=true to run this integration test")
	}

	loadDotEnv()
	dbURL := os.Getenv("DATABASE_URL")
	require.NotEmpty(t, dbURL, "DATABASE_URL is required")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.Connect(ctx, dbURL)
	require.NoError(t, err)
	migrator, err := postgres.NewMigrator(pool, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, migrator.Up(ctx))
	require.NoError(t, migrator.Close())

	store := postgres.New(pool)
	defer store.Close()

	queue := tasks.NewMemoryQueue(16)
	issuer := auth.NewTokenIssuer("integration-secret", "accounts-it", time.Hour)
	svc := account.NewService(store, issuer, auth.NewHasher(4), auth.NewPasswordPolicy(8), queue)

	transport := countingTransport{sent: make(chan string, 4)}
	registry := tasks.NewRegistry()
	notify.NewDispatcher(store, transport, "noreply@example.com", logging.Discard(), nil).Register(registry)
	worker := tasks.NewWorker(queue, registry, logging.Discard())
	go func() { _ = worker.Run(ctx) }()

	mux := http.NewServeMux()
	NewAccountHandler(svc, logging.Discard(), middleware.RateLimit(nil, nil, false), middleware.RequireAuth(svc, logging.Discard())).Register(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	email := fmt.Sprintf("apitest_%d@example.com", time.Now().UnixNano())

	resp := post(t, ts.URL+"/api/register", "", registerBody(email))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	registered := decode[dto.AccountResponse](t, resp)

	select {
	case to := <-transport.sent:
		assert.Equal(t, email, to)
	case <-time.After(5 * time.Second):
		t.Fatal("welcome mail was not sent")
	}

	resp = post(t, ts.URL+"/api/register", "", registerBody(email))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, ts.URL+"/api/login", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	loggedIn := decode[dto.AccountResponse](t, resp)
	assert.Equal(t, registered.ID, loggedIn.ID)
	assert.NotEqual(t, registered.Token, loggedIn.Token)

	assert.Equal(t, http.StatusNoContent, post(t, ts.URL+"/api/logout", loggedIn.Token, nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, post(t, ts.URL+"/api/logout", loggedIn.Token, nil).StatusCode)

	sent, err := notify.NewDispatcher(store, transport, "noreply@example.com", logging.Discard(), nil).SendWelcome(ctx, registered.ID)
	require.NoError(t, err)
	assert.False(t, sent, "welcome mail is sent once")
}

func loadDotEnv() {
	paths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}
	for _, path := range paths {
		_ = godotenv.Overload(path)
	}
}
