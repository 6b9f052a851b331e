package order

import "context"

// Executor receives orders from the queue worker. It reports acknowledgements
// and fills asynchronously through an EventSink, normally Manager.OnOrderEvent.
// A returned error marks the order FAILED.
type Executor interface {
	OnSignal(ctx context.Context, o Order) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, o Order) error

func (f ExecutorFunc) OnSignal(ctx context.Context, o Order) error { return f(ctx, o) }

// EventSink consumes execution reports.
type EventSink func(OrderEvent)
