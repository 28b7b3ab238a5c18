package events

import "context"

// EventPublisher publishes task lifecycle events.
type EventPublisher interface {
	PublishTaskEvent(ctx context.Context, event *TaskEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing.
type NoOpPublisher struct{}

// PublishTaskEvent is a no-op.
func (p *NoOpPublisher) PublishTaskEvent(_ context.Context, _ *TaskEvent) error {
	return nil
}

// CallbackPublisher calls a function for each event (tests, in-process hooks).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *TaskEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *TaskEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishTaskEvent calls the callback.
func (p *CallbackPublisher) PublishTaskEvent(ctx context.Context, event *TaskEvent) error {
	return p.callback(ctx, event)
}
