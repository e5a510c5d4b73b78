package taskqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// runQueueContract exercises behaviour every Queue implementation shares.
func runQueueContract(t *testing.T, newQueue func(t *testing.T) Queue) {
	t.Run("FIFO", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		for _, action := range []string{"a1", "a2", "a3"} {
			if err := q.Enqueue(ctx, Task{InstanceID: "inst", ActionID: action}); err != nil {
				t.Fatalf("Enqueue %s failed: %v", action, err)
			}
			// distinct EnqueuedAt for stores ordering on it
			time.Sleep(2 * time.Millisecond)
		}
		if n, err := q.Len(ctx); err != nil || n != 3 {
			t.Fatalf("expected Len 3, got %d (err %v)", n, err)
		}

		for _, want := range []string{"a1", "a2", "a3"} {
			got, err := q.Dequeue(ctx)
			if err != nil {
				t.Fatalf("Dequeue failed: %v", err)
			}
			if got.ActionID != want || got.InstanceID != "inst" {
				t.Fatalf("expected %s, got %+v", want, got)
			}
			if got.ID == "" {
				t.Fatalf("expected a generated task id")
			}
			if got.EnqueuedAt.IsZero() || got.NotBefore.IsZero() {
				t.Fatalf("expected timestamps to be filled: %+v", got)
			}
		}
		if n, err := q.Len(ctx); err != nil || n != 0 {
			t.Fatalf("expected Len 0, got %d (err %v)", n, err)
		}
	})

	t.Run("KeepsFields", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		in := Task{ID: "task-1", InstanceID: "i", ActionID: "a", Attempts: 2}
		if err := q.Enqueue(ctx, in); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if got.ID != "task-1" || got.Attempts != 2 {
			t.Fatalf("unexpected task: %+v", got)
		}
	})

	t.Run("NotBeforeDelaysDelivery", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		delay := 150 * time.Millisecond
		if err := q.Enqueue(ctx, Task{InstanceID: "i", ActionID: "later", NotBefore: time.Now().Add(delay)}); err != nil {
			t.Fatalf("Enqueue later failed: %v", err)
		}
		if err := q.Enqueue(ctx, Task{InstanceID: "i", ActionID: "now"}); err != nil {
			t.Fatalf("Enqueue now failed: %v", err)
		}

		first, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if first.ActionID != "now" {
			t.Fatalf("expected the due task first, got %s", first.ActionID)
		}

		start := time.Now()
		second, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if second.ActionID != "later" {
			t.Fatalf("expected delayed task, got %s", second.ActionID)
		}
		if waited := time.Since(start); waited < delay/2 {
			t.Fatalf("delayed task delivered too early (waited %v)", waited)
		}
	})

	t.Run("DequeueBlocksUntilTaskArrives", func(t *testing.T) {
		q := newQueue(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		got := make(chan *Task, 1)
		go func() {
			task, err := q.Dequeue(ctx)
			if err != nil {
				got <- nil
				return
			}
			got <- task
		}()

		time.Sleep(50 * time.Millisecond)
		if err := q.Enqueue(ctx, Task{InstanceID: "i", ActionID: "late"}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}

		select {
		case task := <-got:
			if task == nil || task.ActionID != "late" {
				t.Fatalf("unexpected task: %+v", task)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("Dequeue did not return after Enqueue")
		}
	})

	t.Run("DequeueHonorsContextCancellation", func(t *testing.T) {
		q := newQueue(t)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := q.Dequeue(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("EachTaskDeliveredOnce", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		const n = 20
		for range n {
			if err := q.Enqueue(ctx, Task{InstanceID: "i", ActionID: "a"}); err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}
		}

		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var (
			mu   sync.Mutex
			seen = map[string]int{}
			wg   sync.WaitGroup
		)
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					mu.Lock()
					done := len(seen) >= n
					mu.Unlock()
					if done {
						return
					}
					qctx, qcancel := context.WithTimeout(dctx, 300*time.Millisecond)
					task, err := q.Dequeue(qctx)
					qcancel()
					if err != nil {
						return
					}
					mu.Lock()
					seen[task.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(seen) != n {
			t.Fatalf("expected %d distinct tasks, got %d", n, len(seen))
		}
		for id, c := range seen {
			if c != 1 {
				t.Fatalf("task %s delivered %d times", id, c)
			}
		}
	})
}
