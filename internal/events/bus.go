package events

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "event_bus")

// Publisher is the write side of the bus, kept narrow so managers can take a nil-safe dependency.
type Publisher interface {
	Publish(e Event, payload any)
}

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	merged  map[Event][]chan Envelope
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[Event][]chan any),
		merged: make(map[Event][]chan Envelope),
	}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// SubscribeAll merges several topics into one channel of Envelopes.
// Envelopes arrive in publish order across all topics.
func (b *Bus) SubscribeAll(topics []Event, buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(chan Envelope, buffer)
	for _, topic := range topics {
		b.merged[topic] = append(b.merged[topic], out)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, topic := range topics {
				subs := b.merged[topic]
				for i, c := range subs {
					if c == out {
						b.merged[topic] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			close(out)
		})
	}
	return out, stop
}

// Publish fan-outs the payload to subscribers without blocking; slow subscribers lose events.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			b.drop(e)
		}
	}
	for _, ch := range b.merged[e] {
		select {
		case ch <- Envelope{Topic: e, Payload: payload}:
		default:
			b.drop(e)
		}
	}
}

func (b *Bus) drop(e Event) {
	if n := b.dropped.Add(1); n%1000 == 1 {
		log.WithField("topic", e).Warnf("subscriber slow, %d events dropped so far", n)
	}
}

// Dropped is the number of events lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
