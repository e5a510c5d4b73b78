package taskqueue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryQueue(t *testing.T) {
	runQueueContract(t, func(t *testing.T) Queue {
		return NewInMemoryQueue(0)
	})
}

func TestInMemoryQueue_EnqueueBlocksWhenFull(t *testing.T) {
	q := NewInMemoryQueue(1)
	ctx := context.Background()

	if err := q.Enqueue(ctx, Task{InstanceID: "i", ActionID: "a"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	full, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(full, Task{InstanceID: "i", ActionID: "b"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Enqueue to block on a full queue, got %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, Task{InstanceID: "i", ActionID: "c"}) }()

	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Enqueue after Dequeue failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Enqueue stayed blocked after space was freed")
	}
}
