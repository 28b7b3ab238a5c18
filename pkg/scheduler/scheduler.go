// Package scheduler periodically analyses a watchlist of instruments.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/analysis"
)

const logPrefix = "scheduler:scheduler"

// Analyzer runs one analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req *analysis.Request) (*a2a.TaskResult, error)
}

// Scheduler runs the watchlist every interval. Overlapping runs are skipped.
type Scheduler struct {
	analyzer  Analyzer
	watchlist []string
	interval  time.Duration
	timeout   time.Duration
	cron      *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a Scheduler. timeout bounds each item's analysis.
func NewScheduler(analyzer Analyzer, watchlist []string, interval, timeout time.Duration) *Scheduler {
	items := make([]string, 0, len(watchlist))
	for _, w := range watchlist {
		if w = strings.TrimSpace(w); w != "" {
			items = append(items, w)
		}
	}
	return &Scheduler{
		analyzer:  analyzer,
		watchlist: items,
		interval:  interval,
		timeout:   timeout,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start registers the job and starts the cron loop. Runs stop when ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("%s - poll interval must be positive, got %s", logPrefix, s.interval)
	}
	if len(s.watchlist) == 0 {
		slog.Info(fmt.Sprintf("%s - empty watchlist, scheduler idle", logPrefix))
		return nil
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	spec := "@every " + s.interval.String()
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(runCtx) }); err != nil {
		return fmt.Errorf("%s - schedule %q: %w", logPrefix, spec, err)
	}
	s.cron.Start()
	slog.Info(fmt.Sprintf("%s - started: %d items %s", logPrefix, len(s.watchlist), spec))
	return nil
}

// Stop halts the loop and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	slog.Info(fmt.Sprintf("%s - stopped", logPrefix))
}

// RunOnce analyses every watchlist item concurrently and returns how many
// succeeded. Failures are logged.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	var (
		mu sync.Mutex
		ok int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range s.watchlist {
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(gctx, s.timeout)
			defer cancel()

			req := &analysis.Request{
				Method:    "scheduled",
				Messages:  []a2a.Message{a2a.NewUserMessage(item)},
				ContextID: ContextID(item),
			}
			result, err := s.analyzer.Analyze(itemCtx, req)
			if err != nil {
				slog.Error(fmt.Sprintf("%s - analysis of %s failed: %v", logPrefix, item, err))
				return nil
			}
			slog.Info(fmt.Sprintf("%s - analysed %s: %s", logPrefix, item, result.Status.State))
			mu.Lock()
			ok++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return ok
}

// ContextID is the conversation id used for a scheduled item.
func ContextID(item string) string {
	return "scheduled-" + item
}
