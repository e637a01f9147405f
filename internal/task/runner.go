package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidPayload is returned by Submit when the payload fails validation.
var ErrInvalidPayload = errors.New("invalid task payload")

// interruptedMessage marks tasks that were running when the process stopped.
const interruptedMessage = "interrupted"

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// PollInterval is how often idle workers check for ready tasks
	PollInterval time.Duration

	// MaxRetries is how many times a transient failure is rescheduled
	// If negative, defaults to DefaultMaxRetries
	MaxRetries int

	// RetryDelay is the fixed countdown before a rescheduled task runs again
	// If zero or negative, defaults to DefaultRetryDelay
	RetryDelay time.Duration
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:  2,
		PollInterval: DefaultPollInterval,
		MaxRetries:   DefaultMaxRetries,
		RetryDelay:   DefaultRetryDelay,
	}
}

// TaskRunner manages background task processing: it accepts submissions,
// runs them on a worker pool and answers result queries.
type TaskRunner struct {
	queue    Queue
	store    TaskStore
	pool     *WorkerPool
	reporter *MemoryReporter
	policy   RetryPolicy
	logger   *slog.Logger
	now      func() time.Time

	lockMu  sync.Mutex
	release func()
}

// NewTaskRunner creates a new TaskRunner. store may be nil, in which case
// tasks live only as long as the queue does.
func NewTaskRunner(
	queue Queue,
	handlers Handlers,
	store TaskStore,
	config TaskRunnerConfig,
	logger *slog.Logger,
) *TaskRunner {
	policy := RetryPolicy{MaxRetries: config.MaxRetries, Delay: config.RetryDelay}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = DefaultMaxRetries
	}
	if policy.Delay <= 0 {
		policy.Delay = DefaultRetryDelay
	}

	reporter := NewMemoryReporter()
	pool := NewWorkerPool(queue, handlers, policy, reporter, WorkerPoolConfig{
		WorkerCount:  config.WorkerCount,
		PollInterval: config.PollInterval,
	}, logger)

	r := &TaskRunner{
		queue:    queue,
		store:    store,
		pool:     pool,
		reporter: reporter,
		policy:   policy,
		logger:   logger.With("component", "task_runner"),
		now:      func() time.Time { return time.Now().UTC() },
	}

	if store != nil {
		pool.SetObserver(r.persist)
	}
	return r
}

// SetErrorHandler allows setting a custom handler called for every task
// that ends in failure
func (r *TaskRunner) SetErrorHandler(handler func(d *Descriptor, result Result)) {
	r.pool.SetErrorHandler(handler)
}

// Submit validates payload and enqueues it as a new task, returning its ID
// without waiting for execution.
func (r *TaskRunner) Submit(ctx context.Context, payload Payload) (uuid.UUID, error) {
	if payload == nil {
		return uuid.Nil, fmt.Errorf("%w: payload is nil", ErrInvalidPayload)
	}
	if err := payload.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	d, err := r.queue.Enqueue(ctx, payload.Kind(), raw, r.policy.MaxRetries, 0)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	// The task is queued either way; a failed save only costs crash recovery.
	r.persist(ctx, d, nil)
	r.pool.Wake()

	r.logger.Debug("task submitted",
		"task_id", d.ID,
		"task_kind", d.Kind)

	return d.ID, nil
}

// ResultOf returns the result of a finished task, or the current status of
// one that is still pending. Returns ErrTaskNotFound for unknown IDs.
func (r *TaskRunner) ResultOf(ctx context.Context, id uuid.UUID) (Result, error) {
	if result, ok := r.reporter.ResultOf(id); ok {
		return result, nil
	}

	d, err := r.queue.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrTaskNotFound) {
		return Result{}, fmt.Errorf("failed to get task: %w", err)
	}
	if d != nil && !d.Status.Terminal() {
		return statusResult(d), nil
	}

	if r.store != nil {
		stored, result, err := r.store.GetTask(ctx, id)
		switch {
		case err == nil && result != nil:
			return *result, nil
		case err == nil:
			return statusResult(stored), nil
		case !errors.Is(err, ErrTaskNotFound):
			return Result{}, fmt.Errorf("failed to get task: %w", err)
		}
	}

	if d != nil {
		return statusResult(d), nil
	}
	return Result{}, ErrTaskNotFound
}

// Wait blocks until the task reaches a terminal status or ctx is done.
// Results already evicted from memory are read back from the task store.
func (r *TaskRunner) Wait(ctx context.Context, id uuid.UUID) (Result, error) {
	if _, ok := r.reporter.ResultOf(id); !ok && r.store != nil {
		if _, result, err := r.store.GetTask(ctx, id); err == nil && result != nil {
			return *result, nil
		}
	}
	return r.reporter.Wait(ctx, id)
}

// Start recovers unfinished tasks and starts the workers. When the task
// store is a RunnerLocker, Start first takes its lock and fails with
// ErrRunnerLockHeld if another runner already has it.
func (r *TaskRunner) Start(ctx context.Context) error {
	if locker, ok := r.store.(RunnerLocker); ok {
		release, err := locker.AcquireRunnerLock(ctx)
		if err != nil {
			return fmt.Errorf("failed to lock task store: %w", err)
		}
		r.lockMu.Lock()
		r.release = release
		r.lockMu.Unlock()
	}

	if err := r.Recover(ctx); err != nil {
		r.releaseLock()
		return fmt.Errorf("failed to recover tasks: %w", err)
	}
	r.pool.Start()
	return nil
}

// Stop gracefully shuts down the task runner. Running tasks are finished
// first; no new tasks are accepted afterwards.
func (r *TaskRunner) Stop() {
	r.pool.Stop()
	r.queue.Close()
	r.releaseLock()
}

// releaseLock gives up the task store lock, if held.
func (r *TaskRunner) releaseLock() {
	r.lockMu.Lock()
	release := r.release
	r.release = nil
	r.lockMu.Unlock()

	if release != nil {
		release()
	}
}

// Recover loads unfinished tasks from the store. Pending and retrying tasks
// are queued again under their original IDs. Tasks that were running when
// the previous process stopped are failed as interrupted: a transfer may
// already have been committed, and running it again could apply it twice.
// Recover assumes no other runner is executing tasks from the same store.
func (r *TaskRunner) Recover(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	tasks, err := r.store.GetTasksByStatus(ctx, StatusPending, StatusRetrying, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to get unfinished tasks: %w", err)
	}

	r.logger.Info("recovering unfinished tasks", "count", len(tasks))

	for _, d := range tasks {
		if d.Status == StatusRunning {
			r.interrupt(ctx, d)
			continue
		}

		if err := r.queue.Restore(ctx, d); err != nil {
			r.logger.Error("failed to requeue task",
				"task_id", d.ID,
				"task_kind", d.Kind,
				"error", err)
		}
	}

	return nil
}

// interrupt fails a task that was cut off mid-execution.
func (r *TaskRunner) interrupt(ctx context.Context, d *Descriptor) {
	completed := r.now()
	d.Status = StatusFailed
	d.LastError = interruptedMessage
	d.UpdatedAt = completed

	result := Result{
		TaskID:      d.ID,
		Kind:        d.Kind,
		Status:      StatusFailed,
		ErrorClass:  ClassInterrupted,
		Message:     interruptedMessage,
		Attempts:    d.Attempt,
		CompletedAt: &completed,
	}

	r.persist(ctx, d, &result)
	r.reporter.Report(ctx, result)

	r.logger.Warn("failed interrupted task",
		"task_id", d.ID,
		"task_kind", d.Kind,
		"attempt", d.Attempt)
}

// persist writes d to the task store, logging failures.
func (r *TaskRunner) persist(ctx context.Context, d *Descriptor, result *Result) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveTask(ctx, d, result); err != nil {
		r.logger.Error("failed to persist task",
			"task_id", d.ID,
			"status", d.Status,
			"error", err)
	}
}
