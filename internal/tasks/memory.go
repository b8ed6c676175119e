package tasks

import (
	"context"
	"sync"
	"time"
)

const maxDeadLetters = 256

// MemoryQueue is a bounded in-process queue. It serves as both Queue and
// Consumer and only works with an embedded worker.
type MemoryQueue struct {
	jobs chan Envelope
	now  func() time.Time

	mu   sync.Mutex
	dead []DeadLetter
}

// NewMemoryQueue returns a queue holding at most capacity pending tasks.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryQueue{jobs: make(chan Envelope, capacity), now: time.Now}
}

// Enqueue never blocks; a full queue yields ErrQueueFull.
func (q *MemoryQueue) Enqueue(ctx context.Context, name string, payload any) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	env, err := NewEnvelope(name, payload, q.now())
	if err != nil {
		return Handle{}, err
	}
	select {
	case q.jobs <- env:
		return env.Handle(), nil
	default:
		return Handle{}, ErrQueueFull
	}
}

// Consume runs fn for each task until ctx is done.
func (q *MemoryQueue) Consume(ctx context.Context, fn HandleFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-q.jobs:
			if err := fn(ctx, env); err != nil {
				q.bury(env, err)
			}
		}
	}
}

// Pending reports how many tasks wait to be consumed.
func (q *MemoryQueue) Pending() int {
	return len(q.jobs)
}

// DeadLetters returns a copy of the most recent failed tasks.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

func (q *MemoryQueue) bury(env Envelope, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.dead) == maxDeadLetters {
		q.dead = q.dead[1:]
	}
	q.dead = append(q.dead, DeadLetter{Envelope: env, Error: err.Error(), FailedAt: q.now().UTC()})
}
