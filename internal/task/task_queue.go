package task

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bank-api/internal/store"
)

// Common errors returned by queues
var (
	ErrQueueClosed  = errors.New("task queue is closed")
	ErrTaskNotFound = store.ErrTaskNotFound
)

// QueueWriter lets services create tasks.
type QueueWriter interface {
	// Enqueue creates a task of kind with the given payload, ready after delay.
	// It is the only place descriptors are created; it assigns a fresh ID.
	Enqueue(ctx context.Context, kind Kind, payload json.RawMessage, maxRetries int, delay time.Duration) (*Descriptor, error)

	// Close prevents further task creation.
	Close()
}

// QueueReader lets workers take and hand back tasks.
type QueueReader interface {
	// NextReady returns the earliest-enqueued pending task whose ReadyAt has
	// passed, or nil when none is ready. It never blocks waiting for work, and
	// a task is handed to exactly one caller.
	NextReady(ctx context.Context) (*Descriptor, error)

	// Reschedule returns d to the queue as pending, ready after delay.
	// It sets d.Status and d.ReadyAt.
	Reschedule(ctx context.Context, d *Descriptor, delay time.Duration) error

	// Update records the current state of a task held by a worker.
	Update(ctx context.Context, d *Descriptor) error
}

// Queue holds tasks between enqueue and pickup.
type Queue interface {
	QueueWriter
	QueueReader

	// Get returns a copy of the task's current state.
	Get(ctx context.Context, id uuid.UUID) (*Descriptor, error)

	// Restore re-inserts a task recovered from durable storage, keeping its ID.
	// Restoring a task that is already queued is a no-op.
	Restore(ctx context.Context, d *Descriptor) error
}

// MemoryQueue is an in-process Queue. Pending tasks are kept in enqueue order.
type MemoryQueue struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*Descriptor
	pending []*Descriptor
	queued  map[uuid.UUID]struct{}
	seq     uint64
	closed  bool
	now     func() time.Time
	logger  *slog.Logger
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue(logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{
		tasks:  make(map[uuid.UUID]*Descriptor),
		queued: make(map[uuid.UUID]struct{}),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "memory_queue"),
	}
}

// SetClock replaces the time source used for ReadyAt.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Enqueue implements QueueWriter.
func (q *MemoryQueue) Enqueue(
	ctx context.Context,
	kind Kind,
	payload json.RawMessage,
	maxRetries int,
	delay time.Duration,
) (*Descriptor, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	now := q.now()
	q.seq++
	d := &Descriptor{
		ID:         uuid.New(),
		Kind:       kind,
		Payload:    append(json.RawMessage(nil), payload...),
		MaxRetries: maxRetries,
		ReadyAt:    now.Add(delay),
		Seq:        q.seq,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	q.tasks[d.ID] = d
	q.push(d)

	q.logger.Debug("task enqueued",
		"task_id", d.ID,
		"task_kind", d.Kind,
		"ready_at", d.ReadyAt,
		"queue_len", len(q.pending))

	return d.Clone(), nil
}

// NextReady implements QueueReader.
func (q *MemoryQueue) NextReady(ctx context.Context) (*Descriptor, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for i, d := range q.pending {
		if d.ReadyAt.After(now) {
			continue
		}
		q.pending = slices.Delete(q.pending, i, i+1)
		delete(q.queued, d.ID)
		return d.Clone(), nil
	}
	return nil, nil
}

// Reschedule implements QueueReader.
func (q *MemoryQueue) Reschedule(ctx context.Context, d *Descriptor, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.tasks[d.ID]
	if !ok {
		return ErrTaskNotFound
	}

	now := q.now()
	d.Status = StatusPending
	d.ReadyAt = now.Add(delay)
	d.UpdatedAt = now
	*rec = *d.Clone()
	q.push(rec)
	return nil
}

// Update implements QueueReader.
func (q *MemoryQueue) Update(ctx context.Context, d *Descriptor) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.tasks[d.ID]
	if !ok {
		return ErrTaskNotFound
	}
	*rec = *d.Clone()
	return nil
}

// Get implements Queue.
func (q *MemoryQueue) Get(ctx context.Context, id uuid.UUID) (*Descriptor, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return rec.Clone(), nil
}

// Restore implements Queue.
func (q *MemoryQueue) Restore(ctx context.Context, d *Descriptor) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[d.ID]; ok {
		return nil
	}

	rec := d.Clone()
	rec.Status = StatusPending
	if rec.Seq == 0 {
		q.seq++
		rec.Seq = q.seq
	} else if rec.Seq > q.seq {
		q.seq = rec.Seq
	}
	q.tasks[rec.ID] = rec
	q.push(rec)
	return nil
}

// Close implements QueueWriter.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.logger.Info("task queue closed")
	}
}

// Len returns the number of tasks waiting for pickup, ready or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// push inserts d into pending by Seq. Callers hold q.mu.
func (q *MemoryQueue) push(d *Descriptor) {
	if _, ok := q.queued[d.ID]; ok {
		return
	}
	i := sort.Search(len(q.pending), func(i int) bool { return q.pending[i].Seq > d.Seq })
	q.pending = slices.Insert(q.pending, i, d)
	q.queued[d.ID] = struct{}{}
}

var _ Queue = (*MemoryQueue)(nil)
