package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryLogPrefix = "tasks:memory"

// MemoryTracker is an in-process Tracker keyed by task id.
type MemoryTracker struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewMemoryTracker creates an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{tasks: make(map[string]*Task)}
}

func (m *MemoryTracker) Create(_ context.Context, contextID string, opts ...CreateOption) (string, error) {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}
	id := o.taskID
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; ok {
		return "", fmt.Errorf("%s - %s: %w", memoryLogPrefix, id, ErrTaskExists)
	}
	now := time.Now().UTC()
	m.tasks[id] = &Task{
		ID:        id,
		ContextID: contextID,
		RequestID: o.requestID,
		State:     StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	slog.Debug(fmt.Sprintf("%s - created task=%s context=%s", memoryLogPrefix, id, contextID))
	return id, nil
}

func (m *MemoryTracker) Transition(_ context.Context, taskID string, to State, payload Payload) error {
	if err := payload.check(to); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("%s - %s: %w", memoryLogPrefix, taskID, ErrNotFound)
	}
	if !CanTransition(t.State, to) {
		return fmt.Errorf("%s - %s %s -> %s: %w", memoryLogPrefix, taskID, t.State, to, ErrInvalidTransition)
	}
	t.State = to
	t.Result = payload.Result
	t.Error = payload.Error
	t.UpdatedAt = time.Now().UTC()
	slog.Debug(fmt.Sprintf("%s - task=%s state=%s", memoryLogPrefix, taskID, to))
	return nil
}

func (m *MemoryTracker) Get(_ context.Context, taskID string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%s - %s: %w", memoryLogPrefix, taskID, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryTracker) Release(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil
	}
	if !t.State.Terminal() {
		return fmt.Errorf("%s - %s is %s: %w", memoryLogPrefix, taskID, t.State, ErrInvalidTransition)
	}
	delete(m.tasks, taskID)
	return nil
}

// Len returns the number of tracked tasks.
func (m *MemoryTracker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}
