// Package queue carries render jobs from the simulation core to whatever
// renders channel content. The core only ever hands a job over; rendering
// backlog or failure can never stall a tick.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpkarvonen/villaged/internal/model"
)

// Envelope wraps one render job with delivery metadata.
type Envelope struct {
	ID         string          `json:"id"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Job        model.RenderJob `json:"job"`
}

// Queue accepts render jobs. Implementations must be safe for concurrent
// use.
type Queue interface {
	Enqueue(ctx context.Context, job model.RenderJob) error
}

// Memory is an in-process FIFO queue. It is the default backend; a broker
// can replace it without the core noticing.
type Memory struct {
	mu     sync.Mutex
	items  []Envelope
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewMemory returns an empty in-process queue.
func NewMemory() *Memory {
	return &Memory{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Enqueue appends a job.
func (q *Memory) Enqueue(ctx context.Context, job model.RenderJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	q.items = append(q.items, Envelope{
		ID:         uuid.NewString(),
		EnqueuedAt: time.Now().UTC(),
		Job:        job,
	})
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until a job is available, the queue closes, or ctx ends.
func (q *Memory) Dequeue(ctx context.Context) (Envelope, bool, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.wake <- struct{}{}:
				default:
				}
			}
			return env, true, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Envelope{}, false, nil
		}
		select {
		case <-ctx.Done():
			return Envelope{}, false, ctx.Err()
		case <-q.wake:
		case <-q.done:
		}
	}
}

// Len returns the number of pending jobs.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue. Pending jobs can still be dequeued.
func (q *Memory) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()
}
