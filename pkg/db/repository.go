package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

var (
	// ErrTaskNotFound is returned when no row matches the task id.
	ErrTaskNotFound = errors.New("task row not found")
	// ErrTaskConflict is returned on a duplicate insert or a guarded update
	// whose precondition no longer holds.
	ErrTaskConflict = errors.New("task row conflict")
)

// TaskRow is a row in the a2a_tasks table.
type TaskRow struct {
	ID        string
	ContextID string
	RequestID string
	State     string
	Result    json.RawMessage
	Error     json.RawMessage
	Created   time.Time
	Modified  time.Time
}

// TaskRepository persists task rows.
type TaskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a TaskRepository on the given pool.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

// InsertTask creates a task row in the given initial state.
func (r *TaskRepository) InsertTask(ctx context.Context, id, contextID, requestID, state string) error {
	slog.Debug(fmt.Sprintf("%s - InsertTask id=%s context=%s", repoLogPrefix, id, contextID))

	_, err := r.pool.Exec(ctx,
		`INSERT INTO a2a_tasks (id, context_id, request_id, state, created, modified)
		 VALUES ($1, $2, $3, $4, now(), now())`,
		id, contextID, requestID, state)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%s - task %s: %w", repoLogPrefix, id, ErrTaskConflict)
		}
		return fmt.Errorf("%s - insert task %s: %w", repoLogPrefix, id, err)
	}
	return nil
}

// UpdateTaskState moves a task from fromState to toState, storing the
// optional result and error documents. The WHERE clause makes the update a
// compare-and-set, so a row that already left fromState is never touched.
func (r *TaskRepository) UpdateTaskState(ctx context.Context, id, fromState, toState string, result, errDoc json.RawMessage) error {
	slog.Debug(fmt.Sprintf("%s - UpdateTaskState id=%s %s -> %s", repoLogPrefix, id, fromState, toState))

	tag, err := r.pool.Exec(ctx,
		`UPDATE a2a_tasks
		 SET state = $3, result = $4, error = $5, modified = now()
		 WHERE id = $1 AND state = $2`,
		id, fromState, toState, nullableJSON(result), nullableJSON(errDoc))
	if err != nil {
		return fmt.Errorf("%s - update task %s: %w", repoLogPrefix, id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := r.GetTask(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%s - task %s not in state %s: %w", repoLogPrefix, id, fromState, ErrTaskConflict)
}

// GetTask loads a task row by id.
func (r *TaskRepository) GetTask(ctx context.Context, id string) (*TaskRow, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, context_id, request_id, state, result, error, created, modified
		 FROM a2a_tasks
		 WHERE id = $1`, id)

	var t TaskRow
	var result, errDoc []byte
	err := row.Scan(&t.ID, &t.ContextID, &t.RequestID, &t.State, &result, &errDoc, &t.Created, &t.Modified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s - task %s: %w", repoLogPrefix, id, ErrTaskNotFound)
		}
		return nil, fmt.Errorf("%s - scan task %s: %w", repoLogPrefix, id, err)
	}
	t.Result = result
	t.Error = errDoc
	return &t, nil
}

// CountByState returns the number of tasks per state.
func (r *TaskRepository) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT state, count(*) FROM a2a_tasks GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("%s - count tasks: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("%s - scan count: %w", repoLogPrefix, err)
		}
		out[state] = n
	}
	return out, rows.Err()
}

// Ping checks database connectivity.
func (r *TaskRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
