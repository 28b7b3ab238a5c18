// Package tasks tracks background A2A tasks through their lifecycle:
// created -> running -> completed | failed.
package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/morezero/market-agent/pkg/a2a"
)

// State is a task lifecycle state.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task state transition")
	ErrTaskExists        = errors.New("task already exists")
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// allowedFrom lists, for each target state, the only state it may be entered from.
var allowedFrom = map[State]State{
	StateRunning:   StateCreated,
	StateCompleted: StateRunning,
	StateFailed:    StateRunning,
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	prev, ok := allowedFrom[to]
	return ok && prev == from
}

// PreviousState returns the state a task must be in to enter to.
func PreviousState(to State) (State, bool) {
	prev, ok := allowedFrom[to]
	return prev, ok
}

// Task is a snapshot of a tracked unit of work.
type Task struct {
	ID        string
	ContextID string
	RequestID string
	State     State
	Result    *a2a.TaskResult
	Error     *a2a.RPCError
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payload carries the outcome attached to a terminal transition.
type Payload struct {
	Result *a2a.TaskResult
	Error  *a2a.RPCError
}

func (p Payload) check(to State) error {
	switch to {
	case StateCompleted:
		if p.Result == nil || p.Error != nil {
			return errors.Join(ErrInvalidTransition, errors.New("completed requires a result and no error"))
		}
	case StateFailed:
		if p.Error == nil || p.Result != nil {
			return errors.Join(ErrInvalidTransition, errors.New("failed requires an error and no result"))
		}
	default:
		if p.Result != nil || p.Error != nil {
			return errors.Join(ErrInvalidTransition, errors.New("non-terminal states carry no payload"))
		}
	}
	return nil
}

// CreateOption customizes Create.
type CreateOption func(*createOptions)

type createOptions struct {
	taskID    string
	requestID string
}

// WithTaskID uses a caller-supplied task id instead of generating one.
func WithTaskID(id string) CreateOption {
	return func(o *createOptions) { o.taskID = id }
}

// WithRequestID records the envelope id the task was created for.
func WithRequestID(id string) CreateOption {
	return func(o *createOptions) { o.requestID = id }
}

// Tracker records task identity, state and outcome. Implementations must be
// safe for concurrent use by many in-flight tasks.
type Tracker interface {
	Create(ctx context.Context, contextID string, opts ...CreateOption) (string, error)
	Transition(ctx context.Context, taskID string, to State, payload Payload) error
	Get(ctx context.Context, taskID string) (*Task, error)
	// Release drops a terminal task whose outcome has been delivered.
	Release(ctx context.Context, taskID string) error
}
