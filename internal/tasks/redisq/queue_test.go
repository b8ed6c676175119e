package redisq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/accounts/internal/tasks"
)

func newQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Dial(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)

	q := New(client, "accounts.tasks", slog.New(slog.NewTextHandler(io.Discard, nil)))
	q.blockTimeout = 100 * time.Millisecond
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestEnqueuePushesEnvelope(t *testing.T) {
	q, mr := newQueue(t)

	h, err := q.Enqueue(context.Background(), "send_welcome_mail_task", map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "send_welcome_mail_task", h.Name)

	items, err := mr.List("accounts.tasks")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0], `"user_id":"u1"`)
	assert.Contains(t, items[0], h.ID)
}

func TestConsumeDeliversAndBuriesFailures(t *testing.T) {
	q, _ := newQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.Enqueue(ctx, "ok", map[string]string{"n": "1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "fail", map[string]string{"n": "2"})
	require.NoError(t, err)

	var seen []string
	err = q.Consume(ctx, func(ctx context.Context, env tasks.Envelope) error {
		seen = append(seen, env.Name)
		if len(seen) == 2 {
			cancel()
		}
		if env.Name == "fail" {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "fail"}, seen, "FIFO order")

	dead, err := q.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "fail", dead[0].Envelope.Name)
	assert.Equal(t, "boom", dead[0].Error)
}

func TestConsumeSkipsMalformed(t *testing.T) {
	q, mr := newQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := mr.Lpush("accounts.tasks", "{not json")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "ok", nil)
	require.NoError(t, err)

	var names []string
	err = q.Consume(ctx, func(ctx context.Context, env tasks.Envelope) error {
		names = append(names, env.Name)
		cancel()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, names)

	dead, err := q.DeadLetters(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}

func TestConsumeStopsOnCancel(t *testing.T) {
	q, _ := newQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := q.Consume(ctx, func(ctx context.Context, env tasks.Envelope) error {
		t.Fatal("no task expected")
		return nil
	})
	assert.NoError(t, err)
}

func TestDialRejectsBadURL(t *testing.T) {
	_, err := Dial(context.Background(), "://nope")
	assert.Error(t, err)
}
