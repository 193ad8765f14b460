package write

import "errors"

// Sentinel errors for write serializer operations.
var (
	// ErrSerializerStopped indicates that the serializer no longer accepts or applies tasks.
	// It is returned by Submit after Stop, and attached to every task still queued
	// when a forced shutdown discards the backlog.
	ErrSerializerStopped = errors.New("write serializer stopped")

	// ErrSerializerTimeout indicates that the caller stopped waiting for a task.
	// The outcome is unknown: the task stays queued and will still be applied.
	ErrSerializerTimeout = errors.New("write serializer timeout")

	// ErrTaskPending is returned by Task.Result before the task has completed.
	ErrTaskPending = errors.New("write task pending")
)
