package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/db"
)

const postgresLogPrefix = "tasks:postgres"

// taskRepository is the subset of db.TaskRepository used by PostgresTracker.
type taskRepository interface {
	InsertTask(ctx context.Context, id, contextID, requestID, state string) error
	UpdateTaskState(ctx context.Context, id, fromState, toState string, result, errDoc json.RawMessage) error
	GetTask(ctx context.Context, id string) (*db.TaskRow, error)
}

// PostgresTracker persists tasks in the a2a_tasks table. Rows are kept after
// delivery so finished tasks remain observable.
type PostgresTracker struct {
	repo taskRepository
}

// NewPostgresTracker creates a tracker backed by repo.
func NewPostgresTracker(repo taskRepository) *PostgresTracker {
	return &PostgresTracker{repo: repo}
}

func (p *PostgresTracker) Create(ctx context.Context, contextID string, opts ...CreateOption) (string, error) {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}
	id := o.taskID
	if id == "" {
		id = uuid.NewString()
	}
	if err := p.repo.InsertTask(ctx, id, contextID, o.requestID, string(StateCreated)); err != nil {
		if errors.Is(err, db.ErrTaskConflict) {
			return "", fmt.Errorf("%s - %s: %w", postgresLogPrefix, id, ErrTaskExists)
		}
		return "", fmt.Errorf("%s - create %s: %w", postgresLogPrefix, id, err)
	}
	return id, nil
}

func (p *PostgresTracker) Transition(ctx context.Context, taskID string, to State, payload Payload) error {
	if err := payload.check(to); err != nil {
		return err
	}
	from, ok := PreviousState(to)
	if !ok {
		return fmt.Errorf("%s - %s cannot enter %s: %w", postgresLogPrefix, taskID, to, ErrInvalidTransition)
	}

	var resultDoc, errDoc json.RawMessage
	var err error
	if payload.Result != nil {
		if resultDoc, err = json.Marshal(payload.Result); err != nil {
			return fmt.Errorf("%s - encode result: %w", postgresLogPrefix, err)
		}
	}
	if payload.Error != nil {
		if errDoc, err = json.Marshal(payload.Error); err != nil {
			return fmt.Errorf("%s - encode error: %w", postgresLogPrefix, err)
		}
	}

	err = p.repo.UpdateTaskState(ctx, taskID, string(from), string(to), resultDoc, errDoc)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrTaskNotFound):
		return fmt.Errorf("%s - %s: %w", postgresLogPrefix, taskID, ErrNotFound)
	case errors.Is(err, db.ErrTaskConflict):
		return fmt.Errorf("%s - %s -> %s: %w", postgresLogPrefix, taskID, to, ErrInvalidTransition)
	default:
		return fmt.Errorf("%s - transition %s: %w", postgresLogPrefix, taskID, err)
	}
}

func (p *PostgresTracker) Get(ctx context.Context, taskID string) (*Task, error) {
	row, err := p.repo.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			return nil, fmt.Errorf("%s - %s: %w", postgresLogPrefix, taskID, ErrNotFound)
		}
		return nil, err
	}
	t := &Task{
		ID:        row.ID,
		ContextID: row.ContextID,
		RequestID: row.RequestID,
		State:     State(row.State),
		CreatedAt: row.Created,
		UpdatedAt: row.Modified,
	}
	if len(row.Result) > 0 {
		var r a2a.TaskResult
		if err := json.Unmarshal(row.Result, &r); err != nil {
			return nil, fmt.Errorf("%s - decode result %s: %w", postgresLogPrefix, taskID, err)
		}
		t.Result = &r
	}
	if len(row.Error) > 0 {
		var e a2a.RPCError
		if err := json.Unmarshal(row.Error, &e); err != nil {
			return nil, fmt.Errorf("%s - decode error %s: %w", postgresLogPrefix, taskID, err)
		}
		t.Error = &e
	}
	return t, nil
}

// Release is a no-op; rows are retained.
func (p *PostgresTracker) Release(context.Context, string) error {
	return nil
}
