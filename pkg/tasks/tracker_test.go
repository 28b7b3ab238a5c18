package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/db"
)

const trackerTestPrefix = "tasks:tracker_test"

// fakeRepo is an in-memory taskRepository with the same compare-and-set
// semantics as the SQL update.
type fakeRepo struct {
	mu   sync.Mutex
	rows map[string]*db.TaskRow
}

func newFakeRepo() *fakeRepo { return &fakeRepo{rows: map[string]*db.TaskRow{}} }

func (f *fakeRepo) InsertTask(_ context.Context, id, contextID, requestID, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; ok {
		return db.ErrTaskConflict
	}
	f.rows[id] = &db.TaskRow{ID: id, ContextID: contextID, RequestID: requestID, State: state, Created: time.Now()}
	return nil
}

func (f *fakeRepo) UpdateTaskState(_ context.Context, id, from, to string, result, errDoc json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return db.ErrTaskNotFound
	}
	if r.State != from {
		return db.ErrTaskConflict
	}
	r.State, r.Result, r.Error = to, result, errDoc
	return nil
}

func (f *fakeRepo) GetTask(_ context.Context, id string) (*db.TaskRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, db.ErrTaskNotFound
	}
	cp := *r
	return &cp, nil
}

func trackers() map[string]func() Tracker {
	return map[string]func() Tracker{
		"memory":   func() Tracker { return NewMemoryTracker() },
		"postgres": func() Tracker { return NewPostgresTracker(newFakeRepo()) },
	}
}

func sampleResult(id string) *a2a.TaskResult {
	return a2a.NewTaskResult(id, "ctx", a2a.NewTaskStatus(a2a.StateCompleted, nil), nil, nil)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateCreated, StateRunning, true},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateFailed, true},
		{StateCreated, StateCompleted, false},
		{StateCreated, StateFailed, false},
		{StateCompleted, StateFailed, false},
		{StateFailed, StateRunning, false},
		{StateRunning, StateRunning, false},
		{StateRunning, StateCreated, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("%s - CanTransition(%s, %s) = %v, want %v", trackerTestPrefix, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTracker_Lifecycle(t *testing.T) {
	for name, newTracker := range trackers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tr := newTracker()

			id, err := tr.Create(ctx, "ctx-1", WithRequestID("1"))
			if err != nil {
				t.Fatalf("%s - Create: %v", trackerTestPrefix, err)
			}
			task, err := tr.Get(ctx, id)
			if err != nil || task.State != StateCreated || task.ContextID != "ctx-1" {
				t.Fatalf("%s - Get after create: %+v, %v", trackerTestPrefix, task, err)
			}

			if err := tr.Transition(ctx, id, StateRunning, Payload{}); err != nil {
				t.Fatalf("%s - to running: %v", trackerTestPrefix, err)
			}
			if err := tr.Transition(ctx, id, StateCompleted, Payload{Result: sampleResult(id)}); err != nil {
				t.Fatalf("%s - to completed: %v", trackerTestPrefix, err)
			}

			err = tr.Transition(ctx, id, StateFailed, Payload{Error: a2a.InternalError(nil)})
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s - terminal re-entry err = %v, want ErrInvalidTransition", trackerTestPrefix, err)
			}

			task, err = tr.Get(ctx, id)
			if err != nil {
				t.Fatalf("%s - Get: %v", trackerTestPrefix, err)
			}
			if task.State != StateCompleted || task.Result == nil || task.Error != nil {
				t.Errorf("%s - terminal task mutated: %+v", trackerTestPrefix, task)
			}
		})
	}
}

func TestTracker_RejectsSkippedAndMismatchedPayload(t *testing.T) {
	for name, newTracker := range trackers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tr := newTracker()
			id, _ := tr.Create(ctx, "ctx")

			if err := tr.Transition(ctx, id, StateCompleted, Payload{Result: sampleResult(id)}); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s - skip to completed err = %v", trackerTestPrefix, err)
			}
			_ = tr.Transition(ctx, id, StateRunning, Payload{})
			if err := tr.Transition(ctx, id, StateFailed, Payload{}); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s - failed without error err = %v", trackerTestPrefix, err)
			}
			if err := tr.Transition(ctx, id, StateCompleted, Payload{Error: a2a.InternalError(nil)}); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s - completed with error err = %v", trackerTestPrefix, err)
			}
		})
	}
}

func TestTracker_NotFoundAndDuplicate(t *testing.T) {
	for name, newTracker := range trackers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tr := newTracker()
			if _, err := tr.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("%s - Get missing err = %v", trackerTestPrefix, err)
			}
			if err := tr.Transition(ctx, "missing", StateRunning, Payload{}); !errors.Is(err, ErrNotFound) {
				t.Errorf("%s - Transition missing err = %v", trackerTestPrefix, err)
			}
			if _, err := tr.Create(ctx, "c", WithTaskID("t-1")); err != nil {
				t.Fatalf("%s - Create: %v", trackerTestPrefix, err)
			}
			if _, err := tr.Create(ctx, "c", WithTaskID("t-1")); !errors.Is(err, ErrTaskExists) {
				t.Errorf("%s - duplicate err = %v", trackerTestPrefix, err)
			}
		})
	}
}

func TestTracker_ConcurrentTasks(t *testing.T) {
	for name, newTracker := range trackers() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tr := newTracker()
			const n = 50

			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id, err := tr.Create(ctx, fmt.Sprintf("ctx-%d", i))
					if err != nil {
						errs <- err
						return
					}
					if err := tr.Transition(ctx, id, StateRunning, Payload{}); err != nil {
						errs <- err
						return
					}
					if i%2 == 0 {
						errs <- tr.Transition(ctx, id, StateCompleted, Payload{Result: sampleResult(id)})
					} else {
						errs <- tr.Transition(ctx, id, StateFailed, Payload{Error: a2a.InternalError("boom")})
					}
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Errorf("%s - concurrent transition: %v", trackerTestPrefix, err)
				}
			}
		})
	}
}

func TestMemoryTracker_Release(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	id, _ := tr.Create(ctx, "ctx")
	if err := tr.Release(ctx, id); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("%s - releasing live task err = %v", trackerTestPrefix, err)
	}
	_ = tr.Transition(ctx, id, StateRunning, Payload{})
	_ = tr.Transition(ctx, id, StateFailed, Payload{Error: a2a.Timeout(nil)})
	if err := tr.Release(ctx, id); err != nil {
		t.Fatalf("%s - Release: %v", trackerTestPrefix, err)
	}
	if tr.Len() != 0 {
		t.Errorf("%s - Len = %d after release", trackerTestPrefix, tr.Len())
	}
}
