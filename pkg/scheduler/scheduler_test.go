package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/analysis"
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	contexts []string
	calls    atomic.Int32
	fail     string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req *analysis.Request) (*a2a.TaskResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.contexts = append(f.contexts, req.ContextID)
	f.mu.Unlock()
	if req.Messages[0].Parts[0].Text == f.fail {
		return nil, errors.New("provider down")
	}
	return a2a.NewTaskResult("t", req.ContextID, a2a.NewTaskStatus(a2a.StateCompleted, nil), nil, nil), nil
}

func TestRunOnce(t *testing.T) {
	fa := &fakeAnalyzer{fail: "EUR/USD"}
	s := NewScheduler(fa, []string{"BTC", " ETH ", "", "EUR/USD"}, time.Minute, time.Second)

	ok := s.RunOnce(context.Background())
	assert.Equal(t, 2, ok)
	assert.ElementsMatch(t, []string{"scheduled-BTC", "scheduled-ETH", "scheduled-EUR/USD"}, fa.contexts)
}

func TestStartStop(t *testing.T) {
	fa := &fakeAnalyzer{}
	s := NewScheduler(fa, []string{"BTC"}, time.Second, time.Second)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return fa.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestStart_Validation(t *testing.T) {
	assert.Error(t, NewScheduler(&fakeAnalyzer{}, []string{"BTC"}, 0, time.Second).Start(context.Background()))

	idle := NewScheduler(&fakeAnalyzer{}, nil, time.Minute, time.Second)
	require.NoError(t, idle.Start(context.Background()))
	idle.Stop()
}
