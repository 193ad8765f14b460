package write

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"uplink/internal/domain/entity"
)

// Op identifies the kind of mutation a task applies.
type Op string

// OpUpsertRecord inserts a record or replaces the row with the same URL.
const OpUpsertRecord Op = "upsert_record"

// WriteResult is the outcome of a successfully applied task.
type WriteResult struct {
	RecordID int64
	URL      string
}

// Task is a single queued write. It completes exactly once and is never reused.
//
// Waiting on a task never cancels it: once enqueued, the worker applies it
// regardless of what the submitter does.
type Task struct {
	ID         string
	Op         Op
	Record     *entity.Record
	EnqueuedAt time.Time

	ctx    context.Context
	done   chan struct{}
	once   sync.Once
	result WriteResult
	err    error
}

func newTask(ctx context.Context, rec *entity.Record) *Task {
	return &Task{
		ID:         uuid.NewString(),
		Op:         OpUpsertRecord,
		Record:     rec,
		EnqueuedAt: time.Now(),
		ctx:        ctx,
		done:       make(chan struct{}),
	}
}

// Done returns a channel that is closed when the task completes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the outcome without blocking.
// It returns ErrTaskPending while the task is still queued or running.
func (t *Task) Result() (WriteResult, error) {
	select {
	case <-t.done:
		return t.result, t.err
	default:
		return WriteResult{}, ErrTaskPending
	}
}

// Wait blocks until the task completes or ctx is done.
//
// Returns:
//   - WriteResult: ID and URL of the stored record
//   - error: The task error, or ErrSerializerTimeout (wrapping ctx.Err()) when the
//     caller stopped waiting first. In the latter case the task is still applied.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
//	defer cancel()
//	res, err := task.Wait(ctx)
//	if errors.Is(err, write.ErrSerializerTimeout) {
//	    // outcome unknown
//	}
func (t *Task) Wait(ctx context.Context) (WriteResult, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return WriteResult{}, fmt.Errorf("%w: task %s: %w", ErrSerializerTimeout, t.ID, ctx.Err())
	}
}

func (t *Task) complete(res WriteResult, err error) {
	t.once.Do(func() {
		t.result = res
		t.err = err
		close(t.done)
	})
}
