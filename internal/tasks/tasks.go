// Package tasks moves named units of work from request handlers to workers.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned when a bounded queue cannot accept more work.
	ErrQueueFull = errors.New("task queue is full")
	// ErrUnknownTask is returned when no handler is registered for a task name.
	ErrUnknownTask = errors.New("unknown task")
)

// Handle identifies an enqueued task. Callers never wait on it.
type Handle struct {
	ID         string
	Name       string
	EnqueuedAt time.Time
}

// Envelope is the wire form of a task shared by every backend.
type Envelope struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handle returns the caller-facing handle of the envelope.
func (e Envelope) Handle() Handle {
	return Handle{ID: e.ID, Name: e.Name, EnqueuedAt: e.EnqueuedAt}
}

// NewEnvelope marshals payload into a fresh envelope.
func NewEnvelope(name string, payload any, now time.Time) (Envelope, error) {
	if name == "" {
		return Envelope{}, errors.New("task name is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Envelope{ID: uuid.NewString(), Name: name, Payload: raw, EnqueuedAt: now.UTC()}, nil
}

// Queue accepts tasks for asynchronous execution.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload any) (Handle, error)
}

// HandleFunc processes one envelope. A returned error sends it to the
// backend's dead-letter channel.
type HandleFunc func(ctx context.Context, env Envelope) error

// Consumer feeds envelopes to fn until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, fn HandleFunc) error
}

// DeadLetter is a task that failed, with the reason.
type DeadLetter struct {
	Envelope Envelope  `json:"envelope"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Decode unmarshals a payload into T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}
