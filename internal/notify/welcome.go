// Package notify delivers account notifications at most once per user.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hongminglow/accounts/internal/mail"
	"github.com/hongminglow/accounts/internal/metrics"
	"github.com/hongminglow/accounts/internal/models"
	"github.com/hongminglow/accounts/internal/storage"
	"github.com/hongminglow/accounts/internal/tasks"
)

// WelcomeTask is the queue name of the welcome mail task.
const WelcomeTask = "send_welcome_mail_task"

const (
	welcomeSubject = "Welcome to the Tribe"
	welcomeBody    = "Welcome to our platform, your registration was successful."
)

// WelcomePayload is the body of a WelcomeTask.
type WelcomePayload struct {
	UserID uuid.UUID `json:"user_id"`
}

// Dispatcher sends notifications and records receipts for them.
type Dispatcher struct {
	store     storage.Store
	transport mail.Transport
	from      string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher wires the dispatcher. metrics may be nil.
func NewDispatcher(store storage.Store, transport mail.Transport, from string, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{store: store, transport: transport, from: from, logger: logger, metrics: m}
}

// SendWelcome delivers the welcome mail unless a receipt already exists.
// It reports whether a mail was sent by this call. A missing user is not an error.
func (d *Dispatcher) SendWelcome(ctx context.Context, userID uuid.UUID) (bool, error) {
	var sent bool
	err := d.store.WithTx(ctx, func(ctx context.Context, repos storage.Repositories) error {
		user, err := repos.Users().LockByID(ctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			d.logger.WarnContext(ctx, "welcome mail skipped: user not found", "user_id", userID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		exists, err := repos.Receipts().Exists(ctx, user.ID, models.EmailWelcome)
		if err != nil {
			return fmt.Errorf("check receipt: %w", err)
		}
		if exists {
			return nil
		}

		msg := mail.Message{
			From:    d.from,
			To:      []string{user.Email},
			Subject: welcomeSubject,
			Body:    welcomeBody,
		}
		if err := d.transport.Send(ctx, msg); err != nil {
			return fmt.Errorf("send welcome mail: %w", err)
		}

		err = repos.Receipts().Create(ctx, &models.EmailReceipt{UserID: user.ID, EmailType: models.EmailWelcome})
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("record receipt: %w", err)
		}
		sent = true
		return nil
	})
	if err != nil {
		d.metrics.WelcomeMail(metrics.ResultFailure)
		return false, err
	}

	if sent {
		d.metrics.WelcomeMail(metrics.ResultSuccess)
		d.logger.InfoContext(ctx, "welcome mail sent", "user_id", userID)
	} else {
		d.metrics.WelcomeMail(metrics.ResultSkipped)
	}
	return sent, nil
}

// HandleWelcomeTask is the task handler for WelcomeTask.
func (d *Dispatcher) HandleWelcomeTask(ctx context.Context, raw json.RawMessage) error {
	payload, err := tasks.Decode[WelcomePayload](raw)
	if err != nil {
		return err
	}
	if payload.UserID == uuid.Nil {
		return errors.New("welcome task: user_id is required")
	}
	_, err = d.SendWelcome(ctx, payload.UserID)
	return err
}

// Register binds the dispatcher's task handlers.
func (d *Dispatcher) Register(registry *tasks.Registry) {
	registry.Register(WelcomeTask, d.HandleWelcomeTask)
}
