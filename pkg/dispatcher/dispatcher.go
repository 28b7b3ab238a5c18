// Package dispatcher routes A2A JSON-RPC envelopes to the market analyzer and
// runs non-blocking requests as background tasks that report to a webhook.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/analysis"
	"github.com/morezero/market-agent/pkg/events"
	"github.com/morezero/market-agent/pkg/tasks"
	"github.com/morezero/market-agent/pkg/webhook"
)

const logPrefix = "dispatcher:dispatch"

// DefaultBackgroundTimeout bounds one background task.
const DefaultBackgroundTimeout = 45 * time.Second

// ErrShuttingDown is reported when a background task is submitted after Shutdown.
var ErrShuttingDown = errors.New("dispatcher is shutting down")

// Analyzer produces a TaskResult for a normalized request.
type Analyzer interface {
	Analyze(ctx context.Context, req *analysis.Request) (*a2a.TaskResult, error)
}

// Deliverer posts a response envelope to a callback target.
type Deliverer interface {
	Deliver(ctx context.Context, target webhook.Target, resp *a2a.Response) error
}

// Options configures a Dispatcher. Zero values select defaults.
type Options struct {
	Tracker           tasks.Tracker
	Webhook           Deliverer
	Publisher         events.EventPublisher
	BackgroundTimeout time.Duration
	// DeliveryAttempts is the number of webhook attempts per task; 1 means a
	// single best-effort POST.
	DeliveryAttempts int
	RetryPolicy      webhook.RetryPolicy
	// AgentVersion is checked against the A2A-Version constraint.
	AgentVersion string
}

// Dispatcher is the request entry point.
type Dispatcher struct {
	analyzer  Analyzer
	tracker   tasks.Tracker
	webhook   Deliverer
	publisher events.EventPublisher

	timeout      time.Duration
	attempts     int
	retry        webhook.RetryPolicy
	agentVersion string

	mu       sync.Mutex
	closing  bool
	wg       sync.WaitGroup
	inFlight atomic.Int64

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewDispatcher creates a Dispatcher around analyzer.
func NewDispatcher(analyzer Analyzer, opts Options) *Dispatcher {
	d := &Dispatcher{
		analyzer:     analyzer,
		tracker:      opts.Tracker,
		webhook:      opts.Webhook,
		publisher:    opts.Publisher,
		timeout:      opts.BackgroundTimeout,
		attempts:     opts.DeliveryAttempts,
		retry:        opts.RetryPolicy,
		agentVersion: opts.AgentVersion,
	}
	if d.tracker == nil {
		d.tracker = tasks.NewMemoryTracker()
	}
	if d.webhook == nil {
		d.webhook = webhook.NewClient()
	}
	if d.publisher == nil {
		d.publisher = &events.NoOpPublisher{}
	}
	if d.timeout <= 0 {
		d.timeout = DefaultBackgroundTimeout
	}
	if d.attempts <= 0 {
		d.attempts = 1
	}
	if d.retry == nil {
		d.retry = webhook.ExponentialRetryPolicy{}
	}
	d.baseCtx, d.cancelBase = context.WithCancel(context.Background())
	return d
}

// DispatchOption customizes a single Dispatch call.
type DispatchOption func(*dispatchOptions)

type dispatchOptions struct {
	versionConstraint string
}

// WithVersionConstraint rejects the request unless the agent version
// satisfies constraint.
func WithVersionConstraint(constraint string) DispatchOption {
	return func(o *dispatchOptions) { o.versionConstraint = constraint }
}

// Dispatch parses a raw envelope, handles it and returns the response with
// the HTTP status that matches it.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte, opts ...DispatchOption) (*a2a.Response, int) {
	var o dispatchOptions
	for _, opt := range opts {
		opt(&o)
	}

	call, fail := a2a.Parse(body)
	if fail != nil {
		slog.Warn(fmt.Sprintf("%s - rejected envelope id=%s code=%d: %v", logPrefix, fail.ID, fail.Error.Code, fail.Error.Data))
		return a2a.NewErrorResponse(fail.ID, fail.Error), a2a.HTTPStatus(fail.Error.Code)
	}
	if d.agentVersion != "" {
		if rpcErr := a2a.CheckCompatibility(d.agentVersion, o.versionConstraint); rpcErr != nil {
			return a2a.NewErrorResponse(call.RequestID(), rpcErr), a2a.HTTPStatus(rpcErr.Code)
		}
	}

	resp := d.DispatchCall(ctx, call)
	return resp, StatusFor(resp)
}

// StatusFor maps a response to its HTTP status.
func StatusFor(resp *a2a.Response) int {
	if resp.Error != nil {
		return a2a.HTTPStatus(resp.Error.Code)
	}
	return http.StatusOK
}

// DispatchCall handles a parsed call. It never panics and always returns a
// response carrying the call's id.
func (d *Dispatcher) DispatchCall(ctx context.Context, call a2a.Call) *a2a.Response {
	id := call.RequestID()
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, call.Method(), id))

	switch c := call.(type) {
	case *a2a.MessageSendCall:
		return d.handleMessageSend(ctx, c)
	case *a2a.ExecuteCall:
		return d.handleExecute(ctx, c)
	case *a2a.SummaryCall:
		return d.handleSummary(ctx, c)
	default:
		return a2a.NewErrorResponse(id, a2a.MethodNotFound(call.Method()))
	}
}

func (d *Dispatcher) handleMessageSend(ctx context.Context, c *a2a.MessageSendCall) *a2a.Response {
	req := &analysis.Request{
		Method:    a2a.MethodMessageSend,
		Messages:  c.Params.AllMessages(),
		ContextID: orNewID(c.Params.ContextID),
		TaskID:    c.Params.TaskID,
	}
	return d.route(ctx, c.ID, req, c.Params.Configuration)
}

// handleExecute is always synchronous; the caller owns context and task ids.
func (d *Dispatcher) handleExecute(ctx context.Context, c *a2a.ExecuteCall) *a2a.Response {
	if !c.Params.Configuration.IsBlocking() {
		slog.Debug(fmt.Sprintf("%s - execute id=%s ignores blocking=false", logPrefix, c.ID))
	}
	req := &analysis.Request{
		Method:    a2a.MethodExecute,
		Messages:  c.Params.Messages,
		ContextID: orNewID(c.Params.ContextID),
		TaskID:    c.Params.TaskID,
	}
	return d.runBlocking(ctx, c.ID, req)
}

func (d *Dispatcher) handleSummary(ctx context.Context, c *a2a.SummaryCall) *a2a.Response {
	req := &analysis.Request{
		Method:    a2a.MethodMarketSummary,
		ContextID: orNewID(c.Params.ContextID),
		TaskID:    c.Params.TaskID,
		Summary:   true,
	}
	return d.route(ctx, c.ID, req, c.Params.Configuration)
}

// route picks blocking or background handling from the configuration.
func (d *Dispatcher) route(ctx context.Context, id a2a.RequestID, req *analysis.Request, cfg *a2a.Configuration) *a2a.Response {
	if cfg.IsBlocking() {
		return d.runBlocking(ctx, id, req)
	}
	target := cfg.Target()
	if target == nil {
		slog.Warn(fmt.Sprintf("%s - id=%s blocking=false without callback; handling synchronously, no delivery guarantee",
			logPrefix, id))
		return d.runBlocking(ctx, id, req)
	}
	return d.submit(ctx, id, req, webhook.TargetFrom(target))
}

func (d *Dispatcher) runBlocking(ctx context.Context, id a2a.RequestID, req *analysis.Request) *a2a.Response {
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	result, err := d.analyze(ctx, req)
	if err != nil {
		rpcErr := toRPCError(ctx, err)
		slog.Error(fmt.Sprintf("%s - blocking id=%s task=%s failed: %v", logPrefix, id, req.TaskID, err))
		return a2a.NewErrorResponse(id, rpcErr)
	}
	return a2a.NewResult(id, result)
}

// analyze invokes the analyzer with a panic boundary and rejects nil results.
func (d *Dispatcher) analyze(ctx context.Context, req *analysis.Request) (result *a2a.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - analyzer panic task=%s: %v\n%s", logPrefix, req.TaskID, r, debug.Stack()))
			result, err = nil, errAnalyzerPanic
		}
	}()
	result, err = d.analyzer.Analyze(ctx, req)
	if err == nil && result == nil {
		err = errNoResult
	}
	return result, err
}

var (
	errAnalyzerPanic = errors.New("analysis aborted unexpectedly")
	errNoResult      = errors.New("analysis produced no result")
)

// toRPCError classifies a processing failure for the response envelope.
func toRPCError(ctx context.Context, err error) *a2a.RPCError {
	var rpcErr *a2a.RPCError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, analysis.ErrNoAnalyzableText):
		return a2a.InvalidParams(redact(err.Error()))
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return a2a.Timeout(redact(err.Error()))
	default:
		return a2a.InternalError(redact(err.Error()))
	}
}

func orNewID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// InFlight returns the number of running background tasks.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// Wait blocks until every background task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops accepting background tasks and waits for running ones.
// When ctx ends first, running tasks are cancelled and ctx.Err is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelBase()
		return nil
	case <-ctx.Done():
		slog.Warn(fmt.Sprintf("%s - shutdown deadline reached with %d task(s) in flight; cancelling", logPrefix, d.InFlight()))
		d.cancelBase()
		return ctx.Err()
	}
}
