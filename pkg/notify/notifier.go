// Package notify pushes high-impact analyses to an operator webhook.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/morezero/market-agent/pkg/webhook"
)

const logPrefix = "notify:notifier"

const (
	DefaultThreshold = 0.5
	DefaultCooldown  = 15 * time.Minute
	sendTimeout      = 10 * time.Second
)

// Poster sends a JSON payload to a target.
type Poster interface {
	Post(ctx context.Context, target webhook.Target, payload any) error
}

// Event is the notification body.
type Event struct {
	Key           string  `json:"key"`
	Impact        float64 `json:"impact"`
	Analysis      any     `json:"analysis"`
	News          any     `json:"news"`
	PriceSnapshot any     `json:"price_snapshot"`
}

// Options configures a Notifier.
type Options struct {
	Enabled   bool
	Target    webhook.Target
	Threshold float64
	Cooldown  time.Duration
}

// Notifier fires at most one notification per key per cooldown window when
// the absolute impact reaches the threshold. Every accepted event is logged;
// it is also posted when a target URL is configured.
type Notifier struct {
	poster Poster
	opts   Options
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
	wg   sync.WaitGroup
}

// NewNotifier creates a Notifier. poster may be nil when no URL is set.
func NewNotifier(poster Poster, opts Options) *Notifier {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	return &Notifier{poster: poster, opts: opts, now: time.Now, last: make(map[string]time.Time)}
}

// Notify reports whether the event was accepted. Delivery happens in the
// background and outlives ctx cancellation.
func (n *Notifier) Notify(ctx context.Context, ev Event) bool {
	if n == nil || !n.opts.Enabled || math.Abs(ev.Impact) < n.opts.Threshold {
		return false
	}

	now := n.now()
	n.mu.Lock()
	if last, ok := n.last[ev.Key]; ok && now.Sub(last) < n.opts.Cooldown {
		n.mu.Unlock()
		return false
	}
	n.last[ev.Key] = now
	n.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - market notification key=%s impact=%.2f", logPrefix, ev.Key, ev.Impact))
	if n.poster == nil || n.opts.Target.URL == "" {
		return true
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		if err := n.poster.Post(sendCtx, n.opts.Target, ev); err != nil {
			slog.Warn(fmt.Sprintf("%s - notification for %s to %s failed: %v", logPrefix, ev.Key, n.opts.Target.URL, err))
		}
	}()
	return true
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}
