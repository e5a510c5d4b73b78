// Package taskqueue holds deferred action executions until a worker picks
// them up.
package taskqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task asks a worker to execute ActionID against InstanceID.
type Task struct {
	ID         string
	InstanceID string
	ActionID   string

	EnqueuedAt time.Time

	// NotBefore is the earliest time the task may be dequeued. Zero means
	// immediately.
	NotBefore time.Time

	// Attempts counts executions already tried.
	Attempts int
}

// Queue is a FIFO of tasks ordered by NotBefore.
type Queue interface {
	// Enqueue adds a task. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until one
	// is available or ctx is done.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the number of queued tasks, eligible or not.
	Len(ctx context.Context) (int, error)
}

// normalize fills in ID, EnqueuedAt and NotBefore.
func normalize(t Task, now time.Time) Task {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = now
	}
	if t.NotBefore.IsZero() {
		t.NotBefore = t.EnqueuedAt
	}
	return t
}
