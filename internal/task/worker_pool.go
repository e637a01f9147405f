package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often idle workers look for ready tasks.
const DefaultPollInterval = 100 * time.Millisecond

// Observer is told about every state change a worker makes to a task.
// result is non-nil once the task is terminal.
type Observer func(ctx context.Context, d *Descriptor, result *Result)

// WorkerPool manages a pool of worker goroutines that process tasks
// from a task queue. It handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	// queue provides the tasks to be processed
	queue QueueReader

	// handlers maps each task kind to its operation
	handlers Handlers

	// policy decides what happens to failed tasks
	policy RetryPolicy

	// reporter receives terminal results
	reporter Reporter

	workerCount  int
	pollInterval time.Duration

	// wake nudges one idle worker to poll immediately
	wake chan struct{}

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is used for cancellation and shutdown signaling
	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	logger    *slog.Logger
	now       func() time.Time

	// errorHandler is called when a task fails for good
	// If nil, failures are only logged
	errorHandler func(d *Descriptor, result Result)

	// observer is called on every task state change, if set
	observer Observer
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// PollInterval is how long an idle worker waits before checking the queue again
	// If zero or negative, defaults to DefaultPollInterval
	PollInterval time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:  2,
		PollInterval: DefaultPollInterval,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(
	queue QueueReader,
	handlers Handlers,
	policy RetryPolicy,
	reporter Reporter,
	config WorkerPoolConfig,
	logger *slog.Logger,
) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:        queue,
		handlers:     handlers,
		policy:       policy,
		reporter:     reporter,
		workerCount:  workerCount,
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With("component", "worker_pool"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetErrorHandler allows setting a custom error handler for terminal task failures
func (p *WorkerPool) SetErrorHandler(handler func(d *Descriptor, result Result)) {
	p.errorHandler = handler
}

// SetObserver registers fn to be called on every task state change.
func (p *WorkerPool) SetObserver(fn Observer) {
	p.observer = fn
}

// Start launches the workers. Calling it again has no effect.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting worker pool",
			"worker_count", p.workerCount,
			"poll_interval", p.pollInterval)

		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Stop signals workers to exit and waits for them. A task being executed
// is finished first; it is never cancelled part-way.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Wake lets an idle worker know that new work may be ready.
func (p *WorkerPool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// worker repeatedly takes ready tasks until the pool is stopped
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if p.ctx.Err() != nil {
			p.logger.Debug("stopping worker", "worker_id", id)
			return
		}

		d, err := p.queue.NextReady(p.ctx)
		if err != nil && p.ctx.Err() == nil {
			p.logger.Error("failed to fetch next task", "worker_id", id, "error", err)
		}
		if d != nil {
			p.processTask(d, id)
			continue
		}

		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping worker", "worker_id", id)
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// processTask runs one attempt of d and decides where it goes next.
func (p *WorkerPool) processTask(d *Descriptor, workerID int) {
	ctx := context.Background()
	logger := p.logger.With(
		"task_id", d.ID,
		"task_kind", d.Kind,
		"worker_id", workerID,
	)

	d.Status = StatusRunning
	d.Attempt++
	d.UpdatedAt = p.now()
	p.update(ctx, d, nil, logger)

	logger = logger.With("attempt", d.Attempt)
	logger.Info("processing task")

	outcome := p.execute(ctx, d)

	if outcome.OK() {
		d.Status = StatusSucceeded
		d.LastError = ""
		logger.Info("task completed successfully")
		p.finish(ctx, d, outcome, logger)
		return
	}

	d.LastError = outcome.Message()
	decision := p.policy.Decide(outcome.Class, d.Attempt, d.MaxRetries)
	if decision.Action == ActionReschedule {
		d.Status = StatusRetrying
		d.UpdatedAt = p.now()
		p.update(ctx, d, nil, logger)

		err := p.queue.Reschedule(ctx, d, decision.Delay)
		if err == nil {
			p.notify(ctx, d, nil)
			logger.Warn("task failed, rescheduled",
				"error_class", outcome.Class,
				"error", outcome.Err,
				"retry_in", decision.Delay,
				"ready_at", d.ReadyAt)
			return
		}
		logger.Error("failed to reschedule task", "error", err)
	}

	d.Status = StatusFailed
	logger.Error("task execution failed",
		"error_class", outcome.Class,
		"error", outcome.Err)
	p.finish(ctx, d, outcome, logger)
}

// execute dispatches d, turning a panicking handler into a failure.
func (p *WorkerPool) execute(ctx context.Context, d *Descriptor) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Failure(ClassStoreFailure, fmt.Errorf("task panicked: %v", r))
		}
	}()
	return p.handlers.Dispatch(ctx, d.Kind, d.Payload)
}

// finish records the terminal state of d and reports its result.
func (p *WorkerPool) finish(ctx context.Context, d *Descriptor, outcome Outcome, logger *slog.Logger) {
	completed := p.now()
	d.UpdatedAt = completed

	result := Result{
		TaskID:      d.ID,
		Kind:        d.Kind,
		Status:      d.Status,
		Value:       outcome.Value,
		ErrorClass:  outcome.Class,
		Message:     outcome.Message(),
		Attempts:    d.Attempt,
		CompletedAt: &completed,
	}

	p.update(ctx, d, &result, logger)
	p.reporter.Report(ctx, result)

	if d.Status == StatusFailed && p.errorHandler != nil {
		p.errorHandler(d, result)
	}
}

// update writes d back to the queue and tells the observer.
func (p *WorkerPool) update(ctx context.Context, d *Descriptor, result *Result, logger *slog.Logger) {
	if err := p.queue.Update(ctx, d); err != nil {
		logger.Error("failed to update task state",
			"status", d.Status,
			"error", err)
	}
	p.notify(ctx, d, result)
}

func (p *WorkerPool) notify(ctx context.Context, d *Descriptor, result *Result) {
	if p.observer != nil {
		p.observer(ctx, d.Clone(), result)
	}
}
