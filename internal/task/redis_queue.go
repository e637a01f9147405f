package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces the keys a RedisQueue owns.
const DefaultRedisPrefix = "bank:tasks"

// popReady moves every due task from the delayed set into the ready set,
// scored by enqueue sequence, then pops the lowest sequence.
//
// KEYS[1] delayed zset, KEYS[2] ready zset, KEYS[3] data hash
// ARGV[1] now in unix milliseconds
var popReady = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  local raw = redis.call('HGET', KEYS[3], id)
  if raw then
    local seq = cjson.decode(raw)['seq']
    redis.call('ZADD', KEYS[2], seq, id)
  end
end
local popped = redis.call('ZPOPMIN', KEYS[2])
if #popped == 0 then
  return false
end
return redis.call('HGET', KEYS[3], popped[1])
`)

// RedisQueue is a Queue kept in Redis so queued tasks outlive the process.
// Descriptors live as JSON in a hash; not-yet-ready tasks sit in a delay
// set scored by ReadyAt and move to a ready set scored by Seq when due.
//
// Only one TaskRunner may consume a given prefix at a time. Recovery fails
// every task persisted as running, which would cut off another runner's
// work. TaskRunner.Start enforces this through the task store's
// RunnerLocker when it has one.
type RedisQueue struct {
	rdb    redis.UniversalClient
	prefix string
	closed atomic.Bool
	now    func() time.Time
	logger *slog.Logger
}

// NewRedisQueue creates a queue on rdb under prefix.
func NewRedisQueue(rdb redis.UniversalClient, prefix string, logger *slog.Logger) *RedisQueue {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisQueue{
		rdb:    rdb,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "redis_queue"),
	}
}

func (q *RedisQueue) dataKey() string    { return q.prefix + ":data" }
func (q *RedisQueue) seqKey() string     { return q.prefix + ":seq" }
func (q *RedisQueue) delayedKey() string { return q.prefix + ":delayed" }
func (q *RedisQueue) readyKey() string   { return q.prefix + ":ready" }

// Enqueue implements QueueWriter.
func (q *RedisQueue) Enqueue(
	ctx context.Context,
	kind Kind,
	payload json.RawMessage,
	maxRetries int,
	delay time.Duration,
) (*Descriptor, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}

	seq, err := q.rdb.Incr(ctx, q.seqKey()).Uint64()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate task sequence: %w", err)
	}

	now := q.now()
	d := &Descriptor{
		ID:         uuid.New(),
		Kind:       kind,
		Payload:    append(json.RawMessage(nil), payload...),
		MaxRetries: maxRetries,
		ReadyAt:    now.Add(delay),
		Seq:        seq,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := q.schedule(ctx, d, false); err != nil {
		return nil, err
	}

	q.logger.Debug("task enqueued",
		"task_id", d.ID,
		"task_kind", d.Kind,
		"ready_at", d.ReadyAt)

	return d, nil
}

// NextReady implements QueueReader.
func (q *RedisQueue) NextReady(ctx context.Context) (*Descriptor, error) {
	keys := []string{q.delayedKey(), q.readyKey(), q.dataKey()}
	raw, err := popReady.Run(ctx, q.rdb, keys, q.now().UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop ready task: %w", err)
	}
	return decodeDescriptor(raw)
}

// Reschedule implements QueueReader.
func (q *RedisQueue) Reschedule(ctx context.Context, d *Descriptor, delay time.Duration) error {
	if err := q.requireExists(ctx, d.ID); err != nil {
		return err
	}
	now := q.now()
	d.Status = StatusPending
	d.ReadyAt = now.Add(delay)
	d.UpdatedAt = now
	return q.schedule(ctx, d, false)
}

// Update implements QueueReader.
func (q *RedisQueue) Update(ctx context.Context, d *Descriptor) error {
	if err := q.requireExists(ctx, d.ID); err != nil {
		return err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := q.rdb.HSet(ctx, q.dataKey(), d.ID.String(), raw).Err(); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// Get implements Queue.
func (q *RedisQueue) Get(ctx context.Context, id uuid.UUID) (*Descriptor, error) {
	raw, err := q.rdb.HGet(ctx, q.dataKey(), id.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return decodeDescriptor(raw)
}

// Restore implements Queue. Set membership makes it idempotent.
func (q *RedisQueue) Restore(ctx context.Context, d *Descriptor) error {
	rec := d.Clone()
	rec.Status = StatusPending
	if rec.Seq == 0 {
		seq, err := q.rdb.Incr(ctx, q.seqKey()).Uint64()
		if err != nil {
			return fmt.Errorf("failed to allocate task sequence: %w", err)
		}
		rec.Seq = seq
	}
	return q.schedule(ctx, rec, true)
}

// Close implements QueueWriter. The Redis client is owned by the caller.
func (q *RedisQueue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		q.logger.Info("task queue closed")
	}
}

// schedule writes d and puts it in the delay set. With onlyNew, a task that
// is already waiting keeps its existing position.
func (q *RedisQueue) schedule(ctx context.Context, d *Descriptor, onlyNew bool) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	id := d.ID.String()
	if onlyNew {
		waiting, err := q.isWaiting(ctx, id)
		if err != nil {
			return err
		}
		if waiting {
			return nil
		}
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.dataKey(), id, raw)
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(d.ReadyAt.UnixMilli()),
			Member: id,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule task: %w", err)
	}
	return nil
}

func (q *RedisQueue) isWaiting(ctx context.Context, id string) (bool, error) {
	for _, key := range []string{q.delayedKey(), q.readyKey()} {
		_, err := q.rdb.ZScore(ctx, key, id).Result()
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, redis.Nil) {
			return false, fmt.Errorf("failed to check task membership: %w", err)
		}
	}
	return false, nil
}

func (q *RedisQueue) requireExists(ctx context.Context, id uuid.UUID) error {
	ok, err := q.rdb.HExists(ctx, q.dataKey(), id.String()).Result()
	if err != nil {
		return fmt.Errorf("failed to look up task: %w", err)
	}
	if !ok {
		return ErrTaskNotFound
	}
	return nil
}

func decodeDescriptor(raw string) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &d, nil
}

var _ Queue = (*RedisQueue)(nil)
