package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/analysis"
	"github.com/morezero/market-agent/pkg/events"
	"github.com/morezero/market-agent/pkg/tasks"
	"github.com/morezero/market-agent/pkg/webhook"
)

const bgLogPrefix = "dispatcher:background"

// job is one detached unit of work.
type job struct {
	requestID a2a.RequestID
	taskID    string
	req       *analysis.Request
	target    webhook.Target
}

// submit records the task, starts it in the background and returns the
// acknowledgment without waiting for analysis.
func (d *Dispatcher) submit(ctx context.Context, id a2a.RequestID, req *analysis.Request, target webhook.Target) *a2a.Response {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return a2a.NewErrorResponse(id, a2a.InternalError(ErrShuttingDown.Error()))
	}
	d.wg.Add(1)
	d.mu.Unlock()

	opts := []tasks.CreateOption{tasks.WithRequestID(id.String())}
	if req.TaskID != "" {
		opts = append(opts, tasks.WithTaskID(req.TaskID))
	}
	taskID, err := d.tracker.Create(ctx, req.ContextID, opts...)
	if err != nil {
		d.wg.Done()
		slog.Error(fmt.Sprintf("%s - id=%s create task: %v", bgLogPrefix, id, err))
		if errors.Is(err, tasks.ErrTaskExists) {
			return a2a.NewErrorResponse(id, a2a.InvalidParams(fmt.Sprintf("taskId %s is already in use", req.TaskID)))
		}
		return a2a.NewErrorResponse(id, a2a.InternalError("could not record task"))
	}
	req.TaskID = taskID

	j := &job{requestID: id, taskID: taskID, req: req, target: target}
	d.publish(ctx, j, tasks.StateCreated, nil)

	// Keep request-scoped values but not the request's cancellation: the
	// caller's connection closes as soon as the ack is written.
	parent := context.WithoutCancel(ctx)
	d.inFlight.Add(1)
	go d.run(parent, j)

	slog.Info(fmt.Sprintf("%s - accepted id=%s task=%s context=%s callback=%s",
		bgLogPrefix, id, taskID, req.ContextID, target.URL))
	return a2a.NewAck(id)
}

// run is the background failure boundary: every outcome, including panics
// and timeouts, ends in a terminal transition and one delivery sequence.
func (d *Dispatcher) run(parent context.Context, j *job) {
	defer d.wg.Done()
	defer d.inFlight.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - task=%s unrecovered panic in background unit: %v", bgLogPrefix, j.taskID, r))
		}
	}()
	defer func() {
		if err := d.tracker.Release(parent, j.taskID); err != nil {
			slog.Warn(fmt.Sprintf("%s - task=%s release: %v", bgLogPrefix, j.taskID, err))
		}
	}()

	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()
	stop := context.AfterFunc(d.baseCtx, cancel)
	defer stop()

	if err := d.tracker.Transition(ctx, j.taskID, tasks.StateRunning, tasks.Payload{}); err != nil {
		slog.Error(fmt.Sprintf("%s - task=%s transition to running: %v", bgLogPrefix, j.taskID, err))
	}
	d.publish(ctx, j, tasks.StateRunning, nil)

	result, err := d.analyzeWithDeadline(ctx, j.req)

	var resp *a2a.Response
	var rpcErr *a2a.RPCError
	if err != nil {
		rpcErr = toRPCError(ctx, err)
		slog.Error(fmt.Sprintf("%s - task=%s context=%s analysis failed code=%d: %v",
			bgLogPrefix, j.taskID, j.req.ContextID, rpcErr.Code, err))
		resp = a2a.NewErrorResponse(j.requestID, rpcErr)
	} else {
		resp = a2a.NewResult(j.requestID, result)
	}

	// The analysis deadline may already have passed; record and deliver on
	// a context that only shutdown can cancel.
	finishCtx, finishCancel := context.WithCancel(parent)
	defer finishCancel()
	stopFinish := context.AfterFunc(d.baseCtx, finishCancel)
	defer stopFinish()

	if rpcErr != nil {
		d.finish(finishCtx, j, tasks.StateFailed, tasks.Payload{Error: rpcErr})
	} else {
		d.finish(finishCtx, j, tasks.StateCompleted, tasks.Payload{Result: result})
	}

	d.deliver(finishCtx, j, resp, err)
}

// analyzeWithDeadline runs the analyzer so that an analyzer ignoring ctx
// still cannot hold the task past its deadline.
func (d *Dispatcher) analyzeWithDeadline(ctx context.Context, req *analysis.Request) (*a2a.TaskResult, error) {
	type outcome struct {
		result *a2a.TaskResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		r, err := d.analyze(ctx, req)
		ch <- outcome{r, err}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("background processing exceeded %s: %w", d.timeout, ctx.Err())
		}
		return nil, fmt.Errorf("background processing cancelled: %w", ctx.Err())
	}
}

func (d *Dispatcher) finish(ctx context.Context, j *job, to tasks.State, payload tasks.Payload) {
	if err := d.tracker.Transition(ctx, j.taskID, to, payload); err != nil {
		slog.Error(fmt.Sprintf("%s - task=%s transition to %s: %v", bgLogPrefix, j.taskID, to, err))
	}
	d.publish(ctx, j, to, payload.Error)
}

// deliver posts the envelope, retrying temporary failures up to the
// configured number of attempts. A final failure is only logged.
func (d *Dispatcher) deliver(ctx context.Context, j *job, resp *a2a.Response, cause error) {
	for attempt := 1; ; attempt++ {
		err := d.webhook.Deliver(ctx, j.target, resp)
		if err == nil {
			slog.Info(fmt.Sprintf("%s - task=%s delivered to %s (attempt %d, error=%v)",
				bgLogPrefix, j.taskID, j.target.URL, attempt, resp.IsError()))
			return
		}

		var de *webhook.DeliveryError
		retryable := errors.As(err, &de) && de.Temporary()
		if attempt >= d.attempts || !retryable || ctx.Err() != nil {
			slog.Error(fmt.Sprintf("%s - task=%s context=%s delivery to %s failed after %d attempt(s): %v; original error: %v",
				bgLogPrefix, j.taskID, j.req.ContextID, j.target.URL, attempt, redact(err.Error()), cause))
			return
		}

		wait := d.retry.NextDelay(attempt)
		slog.Warn(fmt.Sprintf("%s - task=%s delivery attempt %d failed, retrying in %s: %v",
			bgLogPrefix, j.taskID, attempt, wait, err))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Error(fmt.Sprintf("%s - task=%s delivery abandoned: %v", bgLogPrefix, j.taskID, ctx.Err()))
			return
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, j *job, state tasks.State, rpcErr *a2a.RPCError) {
	ev := &events.TaskEvent{
		TaskID:    j.taskID,
		ContextID: j.req.ContextID,
		RequestID: j.requestID.String(),
		Method:    j.req.Method,
		State:     string(state),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if rpcErr != nil {
		ev.ErrorCode = rpcErr.Code
		ev.Detail = rpcErr.Message
	}
	if err := d.publisher.PublishTaskEvent(ctx, ev); err != nil {
		slog.Warn(fmt.Sprintf("%s - task=%s publish %s event: %v", bgLogPrefix, j.taskID, state, err))
	}
}
