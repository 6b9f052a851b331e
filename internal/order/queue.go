package order

import "time"

// Queue is the global FIFO between submitters and the single worker.
// It carries order snapshots so the worker never touches pooled state.
type Queue struct {
	ch chan Order
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1024
	}
	return &Queue{ch: make(chan Order, size)}
}

// Enqueue appends o without blocking; false means the queue is full.
func (q *Queue) Enqueue(o Order) bool {
	select {
	case q.ch <- o:
		return true
	default:
		return false
	}
}

// Dequeue waits up to timeout for the next order. ok is false on timeout.
func (q *Queue) Dequeue(timeout time.Duration) (Order, bool) {
	select {
	case o := <-q.ch:
		return o, true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case o := <-q.ch:
		return o, true
	case <-t.C:
		return Order{}, false
	}
}

func (q *Queue) Len() int { return len(q.ch) }
func (q *Queue) Cap() int { return cap(q.ch) }
