package taskqueue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryQueue is a Queue held in process memory. It is safe for
// concurrent use.
type InMemoryQueue struct {
	mu    sync.Mutex
	tasks []Task
	wake  chan struct{}
	limit int
}

// NewInMemoryQueue creates a queue holding at most capacity tasks.
// Enqueue blocks while the queue is full.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		wake:  make(chan struct{}),
		limit: capacity,
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

// broadcast wakes every waiter. Callers hold q.mu.
func (q *InMemoryQueue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	t = normalize(t, time.Now())
	for {
		q.mu.Lock()
		if len(q.tasks) < q.limit {
			// keep sorted by NotBefore; equal keys stay in insertion order
			i := sort.Search(len(q.tasks), func(i int) bool {
				return q.tasks[i].NotBefore.After(t.NotBefore)
			})
			q.tasks = append(q.tasks, Task{})
			copy(q.tasks[i+1:], q.tasks[i:])
			q.tasks[i] = t
			q.broadcast()
			q.mu.Unlock()
			return nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		wait := time.Duration(-1)
		if len(q.tasks) > 0 {
			head := q.tasks[0]
			if d := time.Until(head.NotBefore); d > 0 {
				wait = d
			} else {
				q.tasks = q.tasks[1:]
				q.broadcast()
				q.mu.Unlock()
				return &head, nil
			}
		}
		wake := q.wake
		q.mu.Unlock()

		var (
			tm    *time.Timer
			timer <-chan time.Time
		)
		if wait >= 0 {
			tm = time.NewTimer(wait)
			timer = tm.C
		}
		select {
		case <-wake:
		case <-timer:
		case <-ctx.Done():
		}
		if tm != nil {
			tm.Stop()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (q *InMemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks), nil
}
