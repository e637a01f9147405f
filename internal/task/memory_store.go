package task

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type storedTask struct {
	d      *Descriptor
	result *Result
}

// MemoryTaskStore implements TaskStore in process memory.
// SaveFn can be replaced to inject failures.
type MemoryTaskStore struct {
	mutex  sync.RWMutex
	tasks  map[uuid.UUID]storedTask
	locked bool
	SaveFn func(ctx context.Context, d *Descriptor, result *Result) error
}

// NewMemoryTaskStore creates an empty MemoryTaskStore
func NewMemoryTaskStore() *MemoryTaskStore {
	s := &MemoryTaskStore{
		tasks: make(map[uuid.UUID]storedTask),
	}

	s.SaveFn = func(ctx context.Context, d *Descriptor, result *Result) error {
		s.mutex.Lock()
		defer s.mutex.Unlock()

		if existing, ok := s.tasks[d.ID]; ok && existing.d.UpdatedAt.After(d.UpdatedAt) {
			return nil
		}

		rec := storedTask{d: d.Clone()}
		if result != nil {
			r := *result
			rec.result = &r
		}
		s.tasks[d.ID] = rec
		return nil
	}

	return s
}

// SaveTask implements TaskStore
func (s *MemoryTaskStore) SaveTask(ctx context.Context, d *Descriptor, result *Result) error {
	return s.SaveFn(ctx, d, result)
}

// GetTask implements TaskStore
func (s *MemoryTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*Descriptor, *Result, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rec, ok := s.tasks[id]
	if !ok {
		return nil, nil, ErrTaskNotFound
	}

	var result *Result
	if rec.result != nil {
		r := *rec.result
		result = &r
	}
	return rec.d.Clone(), result, nil
}

// GetTasksByStatus implements TaskStore
func (s *MemoryTaskStore) GetTasksByStatus(ctx context.Context, statuses ...Status) ([]*Descriptor, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var out []*Descriptor
	for _, rec := range s.tasks {
		if slices.Contains(statuses, rec.d.Status) {
			out = append(out, rec.d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

var _ TaskStore = (*MemoryTaskStore)(nil)

// AcquireRunnerLock implements RunnerLocker.
func (s *MemoryTaskStore) AcquireRunnerLock(ctx context.Context) (func(), error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.locked {
		return nil, ErrRunnerLockHeld
	}
	s.locked = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mutex.Lock()
			s.locked = false
			s.mutex.Unlock()
		})
	}, nil
}

var _ RunnerLocker = (*MemoryTaskStore)(nil)
