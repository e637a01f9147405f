package task

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DefaultResultRetention is how many terminal results a MemoryReporter keeps
// before evicting the oldest. Evicted results are still served from the task
// store.
const DefaultResultRetention = 10000

// Reporter receives the final result of every task.
type Reporter interface {
	Report(ctx context.Context, result Result)
}

// MemoryReporter keeps recent terminal results in memory and lets callers
// wait for them.
type MemoryReporter struct {
	mu        sync.Mutex
	results   map[uuid.UUID]Result
	order     []uuid.UUID
	retention int
	waiters   map[uuid.UUID][]chan Result
}

// NewMemoryReporter creates an empty reporter keeping DefaultResultRetention results.
func NewMemoryReporter() *MemoryReporter {
	return &MemoryReporter{
		results:   make(map[uuid.UUID]Result),
		retention: DefaultResultRetention,
		waiters:   make(map[uuid.UUID][]chan Result),
	}
}

// SetRetention changes how many results are kept. Values below 1 are ignored.
func (r *MemoryReporter) SetRetention(n int) {
	if n < 1 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retention = n
	r.evict()
}

// Report records result and releases anyone waiting on it.
func (r *MemoryReporter) Report(ctx context.Context, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.results[result.TaskID]; !ok {
		r.order = append(r.order, result.TaskID)
	}
	r.results[result.TaskID] = result
	for _, ch := range r.waiters[result.TaskID] {
		ch <- result
	}
	delete(r.waiters, result.TaskID)
	r.evict()
}

// evict drops the oldest results beyond the retention limit. Callers hold mu.
func (r *MemoryReporter) evict() {
	for len(r.order) > r.retention {
		delete(r.results, r.order[0])
		r.order[0] = uuid.Nil
		r.order = r.order[1:]
	}
}

// ResultOf returns the reported result for id, if any.
func (r *MemoryReporter) ResultOf(id uuid.UUID) (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, ok := r.results[id]
	return result, ok
}

// Wait blocks until a result for id is reported or ctx is done.
func (r *MemoryReporter) Wait(ctx context.Context, id uuid.UUID) (Result, error) {
	r.mu.Lock()
	if result, ok := r.results[id]; ok {
		r.mu.Unlock()
		return result, nil
	}
	ch := make(chan Result, 1)
	r.waiters[id] = append(r.waiters[id], ch)
	r.mu.Unlock()

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		r.removeWaiter(id, ch)
		return Result{}, ctx.Err()
	}
}

// removeWaiter unregisters ch. A result that raced in is dropped with it.
func (r *MemoryReporter) removeWaiter(id uuid.UUID, ch chan Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	waiters := r.waiters[id]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(r.waiters, id)
		return
	}
	r.waiters[id] = waiters
}
