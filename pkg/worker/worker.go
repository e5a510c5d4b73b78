package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/flowstate/internal/taskqueue"
	"github.com/petrijr/flowstate/pkg/api"
)

// ErrRetryScheduled is joined to the execution error when a failed task
// was put back on the queue.
var ErrRetryScheduled = errors.New("worker: retry scheduled")

const defaultRetryEnqueueTimeout = 5 * time.Second

// Config tunes a Worker.
type Config struct {
	// MaxAttempts is the total number of executions per task. Values below
	// 1 mean 1.
	MaxAttempts int

	// Backoff delays retry n by n*Backoff.
	Backoff time.Duration

	// Concurrency is the number of goroutines Run starts. Defaults to 1.
	Concurrency int

	// RetryEnqueueTimeout bounds putting a failed task back on the queue.
	// It applies even after the caller's context is done. Defaults to 5s.
	RetryEnqueueTimeout time.Duration

	Logger *slog.Logger
}

// Worker pulls tasks from a Queue and executes them using an Engine.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	cfg    Config
	now    func() time.Time
}

// New creates a Worker that tries each task once.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return NewWithConfig(engine, queue, Config{})
}

// NewWithConfig creates a Worker with the given retry settings.
func NewWithConfig(engine api.Engine, queue taskqueue.Queue, cfg Config) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RetryEnqueueTimeout <= 0 {
		cfg.RetryEnqueueTimeout = defaultRetryEnqueueTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		engine: engine,
		queue:  queue,
		cfg:    cfg,
		now:    time.Now,
	}
}

// EnqueueAction schedules actionID against instanceID and returns the task id.
func (w *Worker) EnqueueAction(ctx context.Context, instanceID, actionID string) (string, error) {
	return w.EnqueueActionAt(ctx, instanceID, actionID, time.Time{})
}

// EnqueueActionAt is like EnqueueAction but the task is not executed
// before at.
func (w *Worker) EnqueueActionAt(ctx context.Context, instanceID, actionID string, at time.Time) (string, error) {
	if instanceID == "" || actionID == "" {
		return "", errors.New("worker: instance id and action id are required")
	}
	t := taskqueue.Task{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		ActionID:   actionID,
		EnqueuedAt: w.now(),
		NotBefore:  at,
	}
	if err := w.queue.Enqueue(ctx, t); err != nil {
		return "", fmt.Errorf("enqueue action %q for %s: %w", actionID, instanceID, err)
	}
	return t.ID, nil
}

// ProcessOne pulls a single task from the queue and executes it.
// Returns (processed, error):
//   - processed == false: no task was obtained (ctx done or queue failure)
//   - processed == true: err is the execution result; a retried task
//     carries ErrRetryScheduled as well
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	_, execErr := w.engine.ExecuteAction(ctx, task.InstanceID, task.ActionID)
	if execErr == nil {
		return true, nil
	}

	attempt := task.Attempts + 1
	if !retryable(execErr) || attempt >= w.cfg.MaxAttempts {
		return true, execErr
	}

	retry := *task
	retry.Attempts = attempt
	retry.NotBefore = w.now().Add(time.Duration(attempt) * w.cfg.Backoff)
	enqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.RetryEnqueueTimeout)
	defer cancel()
	if err := w.queue.Enqueue(enqCtx, retry); err != nil {
		return true, errors.Join(execErr, fmt.Errorf("re-enqueue task %s: %w", task.ID, err))
	}
	return true, errors.Join(execErr, ErrRetryScheduled)
}

// Run processes tasks with cfg.Concurrency goroutines until ctx is done.
// Execution failures are logged, not returned.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := range w.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx, i)
		}()
	}
	wg.Wait()
	return nil
}

func (w *Worker) loop(ctx context.Context, id int) {
	log := w.cfg.Logger.With(slog.Int("worker", id))
	for {
		processed, err := w.ProcessOne(ctx)
		if ctx.Err() != nil {
			return
		}
		switch {
		case !processed && err != nil:
			log.ErrorContext(ctx, "dequeue failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		case errors.Is(err, ErrRetryScheduled):
			log.WarnContext(ctx, "queued action failed, retry scheduled", slog.Any("error", err))
		case err != nil:
			log.InfoContext(ctx, "queued action rejected",
				slog.String("kind", string(api.KindOf(err))),
				slog.Any("error", err),
			)
		}
	}
}

// retryable reports whether err may succeed on a later attempt: lost
// compare-and-swap races and unclassified store failures.
func retryable(err error) bool {
	switch api.KindOf(err) {
	case api.KindConflict, "":
		return true
	default:
		return false
	}
}
