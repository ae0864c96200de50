// Package queue keeps one FIFO per group and drains each with at most one
// worker goroutine, so episodes of a group are applied in submission order
// while different groups progress in parallel.
package queue

import "errors"

// Sentinel errors for queue operations.
var (
	// ErrClosed is returned by Enqueue once Close has been called.
	ErrClosed = errors.New("queue: closed")

	// ErrNoQueue means no job was ever enqueued for the group.
	ErrNoQueue = errors.New("queue: no queue for group")

	// ErrQueueEmpty is returned by Peek on a queue with nothing waiting.
	ErrQueueEmpty = errors.New("queue: queue is empty")

	// ErrIndexRange is returned by Peek for an index outside the queue.
	ErrIndexRange = errors.New("queue: index out of range")

	// ErrNoHandler means the manager was built without a job handler.
	ErrNoHandler = errors.New("queue: no handler configured")
)
