// Package worker executes queued actions in the background.
//
// Callers enqueue (instance, action) pairs instead of calling
// Engine.ExecuteAction directly. A Worker dequeues each task and executes
// it. Tasks that fail because another writer committed first (kind
// Conflict) or because the store was unavailable are re-enqueued with a
// linear backoff until MaxAttempts is reached. Rejections such as
// IllegalTransition are final and are not retried.
//
// Queues come from the flowstate package (NewInMemoryQueue, NewSQLiteQueue,
// NewMongoQueue). Several workers may share a durable queue; each task is
// handed to exactly one of them.
package worker
