// Package pool provides a bounded arena of reusable values addressed by handle.
//
// Slots are allocated once up front. A free list of slot indices backs both the
// non-blocking and the blocking acquire paths, so a slot is never handed to two
// callers before it is released.
package pool

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "pool")

// ErrClosed is returned by AcquireWait after Close.
var ErrClosed = errors.New("pool closed")

// Handle addresses one slot in a Pool.
type Handle int32

// Invalid is the zero-value sentinel for "no slot".
const Invalid Handle = -1

// Resetter constrains PT to a pointer to T with a Reset method.
type Resetter[T any] interface {
	*T
	Reset()
}

// Pool is a fixed-size arena of T values.
type Pool[T any, PT Resetter[T]] struct {
	items  []T
	inUse  []atomic.Bool
	free   chan Handle
	done   chan struct{}
	closed atomic.Bool

	acquired atomic.Uint64
	released atomic.Uint64
	misses   atomic.Uint64
}

// New allocates size slots. size <= 0 falls back to 256.
func New[T any, PT Resetter[T]](size int) *Pool[T, PT] {
	if size <= 0 {
		size = 256
	}
	p := &Pool[T, PT]{
		items: make([]T, size),
		inUse: make([]atomic.Bool, size),
		free:  make(chan Handle, size),
		done:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		p.free <- Handle(i)
	}
	return p
}

// Acquire returns a free slot without blocking.
func (p *Pool[T, PT]) Acquire() (Handle, PT, bool) {
	select {
	case h := <-p.free:
		return h, p.take(h), true
	default:
		p.misses.Add(1)
		return Invalid, nil, false
	}
}

// AcquireWait blocks until a slot frees up, ctx ends or the pool is closed.
func (p *Pool[T, PT]) AcquireWait(ctx context.Context) (Handle, PT, error) {
	select {
	case h := <-p.free:
		return h, p.take(h), nil
	case <-ctx.Done():
		return Invalid, nil, ctx.Err()
	case <-p.done:
		return Invalid, nil, ErrClosed
	}
}

func (p *Pool[T, PT]) take(h Handle) PT {
	p.inUse[h].Store(true)
	p.acquired.Add(1)
	return PT(&p.items[h])
}

// Release resets the slot and returns it to the free list.
// Releasing an unknown or already free handle is a no-op.
func (p *Pool[T, PT]) Release(h Handle) bool {
	if h < 0 || int(h) >= len(p.items) {
		log.WithField("handle", h).Error("release of out-of-range handle")
		return false
	}
	if !p.inUse[h].CompareAndSwap(true, false) {
		log.WithField("handle", h).Warn("double release ignored")
		return false
	}
	PT(&p.items[h]).Reset()
	p.released.Add(1)
	p.free <- h
	return true
}

// Get returns the value behind an acquired handle, or nil if the slot is free.
func (p *Pool[T, PT]) Get(h Handle) PT {
	if h < 0 || int(h) >= len(p.items) || !p.inUse[h].Load() {
		return nil
	}
	return PT(&p.items[h])
}

// Close wakes blocked AcquireWait callers. Slots stay valid for outstanding holders.
func (p *Pool[T, PT]) Close() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.done)
	}
}

// Size is the total number of slots.
func (p *Pool[T, PT]) Size() int { return len(p.items) }

// Available is the number of free slots.
func (p *Pool[T, PT]) Available() int { return len(p.free) }

// InUse is the number of acquired slots.
func (p *Pool[T, PT]) InUse() int { return len(p.items) - len(p.free) }

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Size      int    `json:"size"`
	Available int    `json:"available"`
	Acquired  uint64 `json:"acquired"`
	Released  uint64 `json:"released"`
	Misses    uint64 `json:"misses"`
}

// Stats returns counters for monitoring.
func (p *Pool[T, PT]) Stats() Stats {
	return Stats{
		Size:      p.Size(),
		Available: p.Available(),
		Acquired:  p.acquired.Load(),
		Released:  p.released.Load(),
		Misses:    p.misses.Load(),
	}
}
