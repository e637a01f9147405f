package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryPolicy{MaxRetries: 3, Delay: time.Millisecond}

type poolFixture struct {
	pool     *WorkerPool
	queue    *MemoryQueue
	reporter *MemoryReporter
}

func newPoolFixture(t *testing.T, handlers Handlers, policy RetryPolicy, workers int) *poolFixture {
	t.Helper()
	queue := NewMemoryQueue(setupTestLogger())
	reporter := NewMemoryReporter()
	pool := NewWorkerPool(queue, handlers, policy, reporter, WorkerPoolConfig{
		WorkerCount:  workers,
		PollInterval: 5 * time.Millisecond,
	}, setupTestLogger())
	t.Cleanup(pool.Stop)
	return &poolFixture{pool: pool, queue: queue, reporter: reporter}
}

func (f *poolFixture) enqueue(t *testing.T, kind Kind, maxRetries int) uuid.UUID {
	t.Helper()
	d, err := f.queue.Enqueue(context.Background(), kind, json.RawMessage(`{}`), maxRetries, 0)
	require.NoError(t, err)
	f.pool.Wake()
	return d.ID
}

func (f *poolFixture) wait(t *testing.T, id uuid.UUID) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := f.reporter.Wait(ctx, id)
	require.NoError(t, err, "timed out waiting for task %s", id)
	return res
}

func constHandler(outcome Outcome) Handler {
	return func(ctx context.Context, payload json.RawMessage) Outcome {
		return outcome
	}
}

func TestNewWorkerPool(t *testing.T) {
	logger := setupTestLogger()
	queue := NewMemoryQueue(logger)
	reporter := NewMemoryReporter()

	pool := NewWorkerPool(queue, Handlers{}, DefaultRetryPolicy(), reporter, WorkerPoolConfig{
		WorkerCount: 5,
	}, logger)

	assert.NotNil(t, pool)
	assert.Equal(t, 5, pool.workerCount)
	assert.Equal(t, DefaultPollInterval, pool.pollInterval)
	assert.NotNil(t, pool.ctx)
	assert.NotNil(t, pool.cancel)
	assert.Nil(t, pool.errorHandler)

	// Test with invalid worker count (should default to 1)
	pool = NewWorkerPool(queue, Handlers{}, DefaultRetryPolicy(), reporter, WorkerPoolConfig{}, logger)
	assert.Equal(t, 1, pool.workerCount)

	pool = NewWorkerPool(queue, Handlers{}, DefaultRetryPolicy(), reporter, WorkerPoolConfig{WorkerCount: -5}, logger)
	assert.Equal(t, 1, pool.workerCount)
}

func TestWorkerPool_SetErrorHandler(t *testing.T) {
	f := newPoolFixture(t, Handlers{}, fastRetry, 1)

	assert.Nil(t, f.pool.errorHandler)
	f.pool.SetErrorHandler(func(d *Descriptor, result Result) {})
	assert.NotNil(t, f.pool.errorHandler)
}

func TestWorkerPool_Start_Stop(t *testing.T) {
	f := newPoolFixture(t, Handlers{}, fastRetry, 2)

	f.pool.Start()
	f.pool.Start() // second start is ignored
	time.Sleep(20 * time.Millisecond)
	f.pool.Stop()
}

func TestWorkerPool_ProcessTask_Success(t *testing.T) {
	f := newPoolFixture(t, Handlers{
		KindCreateRiskAssessment: constHandler(Success("done")),
	}, fastRetry, 1)
	f.pool.Start()

	id := f.enqueue(t, KindCreateRiskAssessment, 3)
	res := f.wait(t, id)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, "done", res.Value)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, ClassNone, res.ErrorClass)
	assert.NotNil(t, res.CompletedAt)

	d, err := f.queue.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, d.Status)
	assert.Equal(t, 1, d.Attempt)
}

func TestWorkerPool_ProcessTask_FatalError(t *testing.T) {
	var calls atomic.Int32
	f := newPoolFixture(t, Handlers{
		KindTransferFunds: func(ctx context.Context, payload json.RawMessage) Outcome {
			calls.Add(1)
			return Failure(ClassInsufficientFunds, errors.New("insufficient funds"))
		},
	}, fastRetry, 1)

	handled := make(chan Result, 1)
	f.pool.SetErrorHandler(func(d *Descriptor, result Result) {
		handled <- result
	})
	f.pool.Start()

	id := f.enqueue(t, KindTransferFunds, 3)
	res := f.wait(t, id)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ClassInsufficientFunds, res.ErrorClass)
	assert.Equal(t, "insufficient funds", res.Message)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), calls.Load(), "fatal failures are never retried")

	select {
	case got := <-handled:
		assert.Equal(t, id, got.TaskID)
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for error handler")
	}
}

func TestWorkerPool_ProcessTask_Panic(t *testing.T) {
	f := newPoolFixture(t, Handlers{
		KindTransferFunds: func(ctx context.Context, payload json.RawMessage) Outcome {
			panic("test panic")
		},
	}, fastRetry, 1)
	f.pool.Start()

	id := f.enqueue(t, KindTransferFunds, 3)
	res := f.wait(t, id)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ClassStoreFailure, res.ErrorClass)
	assert.Contains(t, res.Message, "panic")

	// The worker survives the panic and keeps processing
	id = f.enqueue(t, KindTransferFunds, 3)
	res = f.wait(t, id)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestWorkerPool_UnknownKind(t *testing.T) {
	f := newPoolFixture(t, Handlers{}, fastRetry, 1)
	f.pool.Start()

	id := f.enqueue(t, KindCreateRiskAssessment, 3)
	res := f.wait(t, id)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ClassUnknownKind, res.ErrorClass)
	assert.Equal(t, 1, res.Attempts)
}

func TestWorkerPool_RetriesUntilBudgetSpent(t *testing.T) {
	var calls atomic.Int32
	f := newPoolFixture(t, Handlers{
		KindTransferFunds: func(ctx context.Context, payload json.RawMessage) Outcome {
			calls.Add(1)
			return Failure(ClassAccountNotFound, errors.New("account 999 not found"))
		},
	}, fastRetry, 2)
	f.pool.Start()

	id := f.enqueue(t, KindTransferFunds, 3)
	res := f.wait(t, id)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ClassAccountNotFound, res.ErrorClass)
	assert.Equal(t, 4, res.Attempts, "three reschedules, then failure on the fourth run")
	assert.Equal(t, int32(4), calls.Load())
}

func TestWorkerPool_RetryThenSucceed(t *testing.T) {
	var calls atomic.Int32
	f := newPoolFixture(t, Handlers{
		KindTransferFunds: func(ctx context.Context, payload json.RawMessage) Outcome {
			if calls.Add(1) < 3 {
				return Failure(ClassAccountNotFound, nil)
			}
			return Success(nil)
		},
	}, fastRetry, 1)

	var (
		mu       sync.Mutex
		statuses []Status
	)
	f.pool.SetObserver(func(ctx context.Context, d *Descriptor, result *Result) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, d.Status)
	})
	f.pool.Start()

	id := f.enqueue(t, KindTransferFunds, 3)
	res := f.wait(t, id)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 3, res.Attempts)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{
		StatusRunning, StatusRetrying, StatusPending,
		StatusRunning, StatusRetrying, StatusPending,
		StatusRunning, StatusSucceeded,
	}, statuses)
}

func TestWorkerPool_RetryWaitsForReadyAt(t *testing.T) {
	var calls atomic.Int32
	f := newPoolFixture(t, Handlers{
		KindTransferFunds: func(ctx context.Context, payload json.RawMessage) Outcome {
			calls.Add(1)
			return Failure(ClassAccountNotFound, nil)
		},
	}, RetryPolicy{MaxRetries: 3, Delay: time.Hour}, 1)
	f.pool.Start()

	id := f.enqueue(t, KindTransferFunds, 3)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "rescheduled task must not run before its delay")

	d, err := f.queue.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, d.Status)
	assert.Equal(t, 1, d.Attempt)
	assert.True(t, d.ReadyAt.After(time.Now().Add(59*time.Minute)))

	_, done := f.reporter.ResultOf(id)
	assert.False(t, done)
}

func TestWorkerPool_ExecutesEachTaskOnce(t *testing.T) {
	var (
		mu   sync.Mutex
		runs = make(map[string]int)
	)
	f := newPoolFixture(t, Handlers{
		KindCreateRiskAssessment: func(ctx context.Context, payload json.RawMessage) Outcome {
			mu.Lock()
			runs[string(payload)]++
			mu.Unlock()
			return Success(nil)
		},
	}, fastRetry, 4)
	f.pool.Start()

	const taskCount = 100
	var ids []uuid.UUID
	for i := 0; i < taskCount; i++ {
		payload, err := json.Marshal(map[string]int{"n": i})
		require.NoError(t, err)
		d, err := f.queue.Enqueue(context.Background(), KindCreateRiskAssessment, payload, 3, 0)
		require.NoError(t, err)
		ids = append(ids, d.ID)
		f.pool.Wake()
	}

	for _, id := range ids {
		res := f.wait(t, id)
		assert.Equal(t, StatusSucceeded, res.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, runs, taskCount)
	for payload, n := range runs {
		assert.Equal(t, 1, n, "payload %s ran %d times", payload, n)
	}
}

func TestWorkerPool_Shutdown_DuringTask(t *testing.T) {
	taskStarted := make(chan struct{})
	allowFinish := make(chan struct{})
	var cancelled atomic.Bool

	f := newPoolFixture(t, Handlers{
		KindTransferFunds: func(ctx context.Context, payload json.RawMessage) Outcome {
			close(taskStarted)
			select {
			case <-ctx.Done():
				cancelled.Store(true)
			case <-allowFinish:
			}
			return Success(nil)
		},
	}, fastRetry, 1)
	f.pool.Start()

	id := f.enqueue(t, KindTransferFunds, 3)

	select {
	case <-taskStarted:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for task to start")
	}

	stopDone := make(chan struct{})
	go func() {
		f.pool.Stop()
		close(stopDone)
	}()

	// Stop waits for the in-flight task instead of cancelling it
	select {
	case <-stopDone:
		t.Fatal("Stop returned while a task was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(allowFinish)

	select {
	case <-stopDone:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for worker pool to stop")
	}

	assert.False(t, cancelled.Load(), "in-flight work is never cancelled")
	res, ok := f.reporter.ResultOf(id)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, res.Status)
}
