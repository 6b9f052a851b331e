package order

import (
	"context"
	"sync"
	"time"

	"execution-core/pkg/common"
)

// AsyncExecutor hands orders to an inner Executor on a bounded set of
// goroutines so the queue worker never waits on venue I/O.
type AsyncExecutor struct {
	inner      Executor
	sink       EventSink
	resultCh   chan ExecutionResult
	workerPool chan struct{}
	wg         sync.WaitGroup
	closed     bool
	mu         sync.Mutex
}

// ExecutionResult represents the outcome of an order execution.
type ExecutionResult struct {
	OrderID   string        `json:"order_id"`
	Success   bool          `json:"success"`
	Error     error         `json:"-"`
	ErrorMsg  string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewAsyncExecutor wraps inner with the given worker count. Failures are
// reported to sink as FAILED events.
func NewAsyncExecutor(inner Executor, sink EventSink, workers int) *AsyncExecutor {
	if workers <= 0 {
		workers = 4
	}
	return &AsyncExecutor{
		inner:      inner,
		sink:       sink,
		resultCh:   make(chan ExecutionResult, 100),
		workerPool: make(chan struct{}, workers),
	}
}

// OnSignal schedules o and returns once a worker slot is taken.
func (a *AsyncExecutor) OnSignal(ctx context.Context, o Order) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrNotRunning
	}
	a.wg.Add(1)
	a.mu.Unlock()

	select {
	case a.workerPool <- struct{}{}:
	case <-ctx.Done():
		a.wg.Done()
		return ctx.Err()
	}

	go func() {
		defer a.wg.Done()
		defer func() { <-a.workerPool }()

		start := time.Now()
		err := a.inner.OnSignal(ctx, o)
		result := ExecutionResult{
			OrderID:   o.ID,
			Success:   err == nil,
			Error:     err,
			Latency:   time.Since(start),
			Timestamp: time.Now(),
		}
		if err != nil {
			result.ErrorMsg = err.Error()
			log.WithField("order_id", o.ID).Warnf("execution failed after %s: %v", result.Latency, err)
			if a.sink != nil {
				a.sink(OrderEvent{OrderID: o.ID, Status: common.StatusFailed, Reason: err.Error(), Time: time.Now()})
			}
		}

		select {
		case a.resultCh <- result:
		default:
			log.WithField("order_id", o.ID).Debug("result channel full, dropping result")
		}
	}()
	return nil
}

// Results returns the result channel for monitoring.
func (a *AsyncExecutor) Results() <-chan ExecutionResult {
	return a.resultCh
}

// Pending returns the number of executions in progress.
func (a *AsyncExecutor) Pending() int {
	return len(a.workerPool)
}

// Close rejects new work, waits for in-flight executions and closes Results.
func (a *AsyncExecutor) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.wg.Wait()
	close(a.resultCh)
}
