package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bank-api/internal/platform/logger"
	"github.com/phrazzld/bank-api/internal/store"
	"github.com/phrazzld/bank-api/internal/task"
)

// PostgresTaskStore implements the task.TaskStore interface using PostgreSQL
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgresTaskStore
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

var (
	_ task.TaskStore    = (*PostgresTaskStore)(nil)
	_ task.RunnerLocker = (*PostgresTaskStore)(nil)
)

// runnerLockKey is the advisory lock key held by the active task runner.
const runnerLockKey int64 = 0x62616e6b

// AcquireRunnerLock takes a session-level advisory lock on a dedicated
// connection. The lock lasts until release is called or the connection
// drops, so a crashed runner does not keep it.
func (s *PostgresTaskStore) AcquireRunnerLock(ctx context.Context) (func(), error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	pool, ok := s.db.(interface {
		Conn(ctx context.Context) (*sql.Conn, error)
	})
	if !ok {
		return nil, fmt.Errorf("runner lock needs a connection pool, got %T", s.db)
	}

	conn, err := pool.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection for runner lock: %w", MapError(err))
	}

	var acquired bool
	err = conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, runnerLockKey).Scan(&acquired)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to take runner lock: %w", MapError(err))
	}
	if !acquired {
		_ = conn.Close()
		log.Warn("runner lock held by another process")
		return nil, task.ErrRunnerLockHeld
	}

	log.Info("runner lock acquired")

	release := func() {
		// The caller's context may already be cancelled at shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, runnerLockKey); err != nil {
			s.logger.Error("failed to release runner lock", "error", err)
		}
		if err := conn.Close(); err != nil {
			s.logger.Error("failed to close runner lock connection", "error", err)
		}
	}
	return release, nil
}

const taskColumns = `id, kind, payload, status, attempt, max_retries, ready_at, seq,
		error_message, result, created_at, updated_at`

// SaveTask upserts the task. The WHERE clause drops writes that are older
// than what is already stored.
func (s *PostgresTaskStore) SaveTask(ctx context.Context, d *task.Descriptor, result *task.Result) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var (
		resultJSON []byte
		errorClass string
	)
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode task result: %w", err)
		}
		errorClass = string(result.ErrorClass)
	}

	query := `
		INSERT INTO tasks (id, kind, payload, status, attempt, max_retries, ready_at, seq,
			error_class, error_message, result, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt = EXCLUDED.attempt,
			ready_at = EXCLUDED.ready_at,
			error_class = EXCLUDED.error_class,
			error_message = EXCLUDED.error_message,
			result = EXCLUDED.result,
			updated_at = EXCLUDED.updated_at
		WHERE tasks.updated_at <= EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID,
		d.Kind.String(),
		[]byte(d.Payload),
		string(d.Status),
		d.Attempt,
		d.MaxRetries,
		d.ReadyAt,
		int64(d.Seq),
		nullString(errorClass),
		nullString(d.LastError),
		nullBytes(resultJSON),
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", d.ID,
			"task_kind", d.Kind,
			"status", d.Status,
			"error", err)
		return fmt.Errorf("failed to save task to database: %w", MapError(err))
	}

	return nil
}

// GetTask returns the stored task and its result, if it has one.
func (s *PostgresTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*task.Descriptor, *task.Result, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	d, result, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, task.ErrTaskNotFound
		}
		log.Error("failed to get task", "task_id", id, "error", err)
		return nil, nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}
	return d, result, nil
}

// GetTasksByStatus retrieves tasks in any of the given statuses, oldest first.
func (s *PostgresTaskStore) GetTasksByStatus(ctx context.Context, statuses ...task.Status) ([]*task.Descriptor, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(status)
	}

	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE status IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY created_at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks by status",
			"statuses", statuses,
			"error", err)
		return nil, fmt.Errorf("failed to query tasks by status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*task.Descriptor
	for rows.Next() {
		d, _, err := scanTask(rows)
		if err != nil {
			log.Error("failed to scan task row", "error", err)
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, d)
	}

	if err := rows.Err(); err != nil {
		log.Error("error iterating task rows", "error", err)
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Descriptor, *task.Result, error) {
	var (
		d            task.Descriptor
		kind         string
		status       string
		payload      []byte
		seq          int64
		errorMessage sql.NullString
		resultJSON   []byte
	)

	err := row.Scan(
		&d.ID,
		&kind,
		&payload,
		&status,
		&d.Attempt,
		&d.MaxRetries,
		&d.ReadyAt,
		&seq,
		&errorMessage,
		&resultJSON,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, nil, err
	}

	d.Kind, err = task.ParseKind(kind)
	if err != nil {
		return nil, nil, err
	}
	d.Payload = json.RawMessage(payload)
	d.Status = task.Status(status)
	d.Seq = uint64(seq)
	d.LastError = errorMessage.String

	if len(resultJSON) == 0 {
		return &d, nil, nil
	}

	var result task.Result
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, nil, fmt.Errorf("failed to decode task result: %w", err)
	}
	return &d, &result, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullBytes keeps an absent JSON document as SQL NULL.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
