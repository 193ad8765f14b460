// Package write provides the single-writer queue through which every mutation
// reaches the record store.
//
// A Serializer owns one worker goroutine that applies tasks strictly in arrival
// order, so for any URL the last submitted write wins. Producers never block on
// the worker itself; they only block while the queue buffer is full.
package write

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"uplink/internal/domain/entity"
	"uplink/internal/observability/metrics"
	"uplink/internal/repository"
)

// Config holds serializer tuning.
type Config struct {
	QueueCapacity   int           // Buffered tasks before Submit blocks
	DefaultTimeout  time.Duration // Wait timeout used by SubmitAndWait when none is given
	ShutdownTimeout time.Duration // Suggested deadline for a graceful Stop
	ApplyTimeout    time.Duration // Upper bound for a single repository call
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:   1024,
		DefaultTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		ApplyTimeout:    30 * time.Second,
	}
}

type state int32

const (
	stateIdle state = iota
	stateRunning
	stateStopping
	stateStopped
)

// Stats is a snapshot of serializer counters. Counters are monotonic.
type Stats struct {
	TotalWrites      uint64 `json:"total_writes"`
	SuccessfulWrites uint64 `json:"successful_writes"`
	FailedWrites     uint64 `json:"failed_writes"`
	QueueDepth       int    `json:"queue_depth"`
	Running          bool   `json:"running"`
}

// Option configures a Serializer.
type Option func(*Serializer)

// WithLogger sets the logger used by the worker.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Serializer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Serializer applies record writes one at a time.
// It must be started explicitly with Start and stopped with Stop.
type Serializer struct {
	repo   repository.RecordRepository
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex // guards state and the queue close
	state state
	queue chan *Task

	closing   chan struct{} // closed when Stop begins; unblocks producers waiting on a full queue
	abort     chan struct{} // closed when a Stop deadline expires
	exited    chan struct{} // closed when no more tasks will be applied
	closeOnce sync.Once
	abortOnce sync.Once

	total     atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
}

// NewSerializer creates a Serializer in the idle state.
// Tasks submitted before Start are queued and applied once the worker runs.
func NewSerializer(repo repository.RecordRepository, cfg Config, opts ...Option) *Serializer {
	def := DefaultConfig()
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = def.ApplyTimeout
	}

	s := &Serializer{
		repo:    repo,
		cfg:     cfg,
		logger:  slog.Default(),
		queue:   make(chan *Task, cfg.QueueCapacity),
		closing: make(chan struct{}),
		abort:   make(chan struct{}),
		exited:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Serializer) Config() Config {
	return s.cfg
}

// Start launches the worker goroutine. Calling Start on a running serializer
// is a no-op; calling it after Stop returns ErrSerializerStopped.
func (s *Serializer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return nil
	case stateStopping, stateStopped:
		return ErrSerializerStopped
	}

	s.state = stateRunning
	go s.run()

	s.logger.Info("write serializer started",
		slog.Int("queue_capacity", s.cfg.QueueCapacity),
		slog.Int("queued", len(s.queue)))
	return nil
}

// Submit enqueues a write of rec and returns its task handle.
//
// Submit never waits for the worker. When the queue is full it blocks until
// space frees up, ctx is done, or the serializer stops; in the last two cases
// nothing is enqueued.
//
// Returns:
//   - *Task: Handle to wait on
//   - error: ErrSerializerStopped after Stop, entity.ErrInvalidInput for a nil record,
//     or the ctx error
func (s *Serializer) Submit(ctx context.Context, rec *entity.Record) (*Task, error) {
	if rec == nil {
		return nil, fmt.Errorf("Submit: %w: record is nil", entity.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("Submit: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == stateStopping || s.state == stateStopped {
		return nil, ErrSerializerStopped
	}
	select {
	case <-s.closing:
		return nil, ErrSerializerStopped
	default:
	}

	task := newTask(ctx, rec)
	select {
	case s.queue <- task:
	case <-ctx.Done():
		return nil, fmt.Errorf("Submit: %w", ctx.Err())
	case <-s.closing:
		return nil, ErrSerializerStopped
	}

	metrics.SetWriteQueueDepth(len(s.queue))
	return task, nil
}

// SubmitAndWait submits rec and waits for its outcome.
// A timeout <= 0 uses Config.DefaultTimeout. On timeout the error wraps
// ErrSerializerTimeout and the write is still applied later.
func (s *Serializer) SubmitAndWait(ctx context.Context, rec *entity.Record, timeout time.Duration) (WriteResult, error) {
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	task, err := s.Submit(ctx, rec)
	if err != nil {
		return WriteResult{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return task.Wait(waitCtx)
}

// Stats returns a snapshot of the counters.
func (s *Serializer) Stats() Stats {
	s.mu.RLock()
	running := s.state == stateRunning
	s.mu.RUnlock()

	return Stats{
		TotalWrites:      s.total.Load(),
		SuccessfulWrites: s.succeeded.Load(),
		FailedWrites:     s.failed.Load(),
		QueueDepth:       len(s.queue),
		Running:          running,
	}
}

// Stop closes intake and waits for the worker to drain the queue.
//
// If ctx expires first, the task in flight is allowed to finish and every task
// still queued fails with ErrSerializerStopped; Stop then returns the ctx error.
// A serializer that was never started fails its queued tasks immediately.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
//	defer cancel()
//	if err := serializer.Stop(ctx); err != nil {
//	    logger.Warn("write queue not fully drained", slog.Any("error", err))
//	}
func (s *Serializer) Stop(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	prev := s.state
	if prev == stateIdle || prev == stateRunning {
		s.state = stateStopping
		close(s.queue)
	}
	s.mu.Unlock()

	if prev == stateIdle {
		// no worker: fail the backlog here
		for task := range s.queue {
			s.discard(task)
		}
		close(s.exited)
	}

	select {
	case <-s.exited:
		s.markStopped()
		s.logger.Info("write serializer stopped",
			slog.Uint64("total_writes", s.total.Load()),
			slog.Uint64("failed_writes", s.failed.Load()))
		return nil
	case <-ctx.Done():
		s.abortOnce.Do(func() { close(s.abort) })
		<-s.exited
		s.markStopped()
		s.logger.Warn("write serializer forced shutdown",
			slog.Uint64("total_writes", s.total.Load()),
			slog.Uint64("failed_writes", s.failed.Load()))
		return fmt.Errorf("Stop: %w", ctx.Err())
	}
}

func (s *Serializer) markStopped() {
	s.mu.Lock()
	s.state = stateStopped
	s.mu.Unlock()
	metrics.SetWriteQueueDepth(0)
}

func (s *Serializer) run() {
	defer close(s.exited)

	for task := range s.queue {
		select {
		case <-s.abort:
			s.discard(task)
			continue
		default:
		}
		s.apply(task)
	}
}

func (s *Serializer) apply(task *Task) {
	metrics.RecordWriteWait(time.Since(task.EnqueuedAt))

	// a forced Stop waits for this call, so it must be bounded
	ctx, cancel := context.WithTimeout(context.WithoutCancel(task.ctx), s.cfg.ApplyTimeout)
	defer cancel()

	start := time.Now()
	id, err := s.upsert(ctx, task)
	duration := time.Since(start)

	s.total.Add(1)
	if err != nil {
		s.failed.Add(1)
		metrics.RecordWrite("failure", duration)
		s.logger.Warn("write task failed",
			slog.String("task_id", task.ID),
			slog.String("url", task.Record.URL),
			slog.Duration("duration", duration),
			slog.Any("error", err))
		task.complete(WriteResult{}, err)
	} else {
		s.succeeded.Add(1)
		metrics.RecordWrite("success", duration)
		s.logger.Debug("write task applied",
			slog.String("task_id", task.ID),
			slog.Int64("record_id", id),
			slog.String("url", task.Record.URL),
			slog.Duration("duration", duration))
		task.complete(WriteResult{RecordID: id, URL: task.Record.URL}, nil)
	}

	metrics.SetWriteQueueDepth(len(s.queue))
}

// upsert calls the repository and converts panics into task errors.
func (s *Serializer) upsert(ctx context.Context, task *Task) (id int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in write task",
				slog.String("task_id", task.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			id = 0
			err = entity.NewStorageError("Upsert", fmt.Errorf("panic: %v", r))
		}
	}()

	id, err = s.repo.Upsert(ctx, task.Record)
	if err != nil && !errors.Is(err, entity.ErrStorage) {
		err = entity.NewStorageError("Upsert", err)
	}
	return id, err
}

func (s *Serializer) discard(task *Task) {
	s.total.Add(1)
	s.failed.Add(1)
	metrics.RecordWrite("aborted", 0)
	task.complete(WriteResult{}, fmt.Errorf("task %s: %w", task.ID, ErrSerializerStopped))
}
