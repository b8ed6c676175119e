package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HandlerFunc processes a decoded task payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Registry maps task names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds name to h, replacing any previous handler.
func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Dispatch runs the handler registered for env.Name.
func (r *Registry) Dispatch(ctx context.Context, env Envelope) error {
	r.mu.RLock()
	h, ok := r.handlers[env.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, env.Name)
	}
	return h(ctx, env.Payload)
}

// Observer receives task outcomes. Metrics implement it.
type Observer interface {
	TaskProcessed(task string, err error, took time.Duration)
}

// Worker pulls tasks from a consumer and dispatches them. Each task runs once;
// failures are logged and left to the consumer's dead-letter channel.
type Worker struct {
	consumer    Consumer
	registry    *Registry
	logger      *slog.Logger
	observer    Observer
	concurrency int
	taskTimeout time.Duration
}

// WorkerOption customises a Worker.
type WorkerOption func(*Worker)

func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithTaskTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.taskTimeout = d
		}
	}
}

func WithObserver(o Observer) WorkerOption {
	return func(w *Worker) { w.observer = o }
}

func NewWorker(consumer Consumer, registry *Registry, logger *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		consumer:    consumer,
		registry:    registry,
		logger:      logger,
		concurrency: 1,
		taskTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes with the configured concurrency until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "concurrency", w.concurrency)
	g, ctx := errgroup.WithContext(ctx)
	for range w.concurrency {
		g.Go(func() error {
			return w.consumer.Consume(ctx, w.process)
		})
	}
	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}

func (w *Worker) process(ctx context.Context, env Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	start := time.Now()
	err := w.registry.Dispatch(ctx, env)
	took := time.Since(start)
	if w.observer != nil {
		w.observer.TaskProcessed(env.Name, err, took)
	}

	log := w.logger.With("task", env.Name, "task_id", env.ID, "duration", took)
	if err != nil {
		log.Error("task failed", "error", err)
		return err
	}
	log.Debug("task completed")
	return nil
}
