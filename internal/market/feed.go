package market

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"execution-core/internal/events"
	"execution-core/pkg/common"
)

const (
	defaultRouteBuffer = 1024
	maxReconnectDelay  = 30 * time.Second
)

// Feed routes book updates to one aggregator per symbol. Each aggregator is
// owned by a single goroutine, so OnOrderBook is never called concurrently.
// Completed candles and mark prices are published on the bus.
type Feed struct {
	Stream *StreamClient
	Bus    events.Publisher

	interval time.Duration
	routes   map[string]*route
	symbols  []string

	mu            sync.RWMutex
	markListeners []func(common.MarkPrice)

	started atomic.Bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

type route struct {
	agg *CandleAggregator
	in  chan OrderBook
}

// NewFeed creates a feed for symbols. stream may be nil when books are
// pushed through Dispatch (paper mode, tests).
func NewFeed(stream *StreamClient, bus events.Publisher, interval time.Duration, symbols ...string) *Feed {
	f := &Feed{
		Stream:   stream,
		Bus:      bus,
		interval: interval,
		routes:   make(map[string]*route, len(symbols)),
	}
	for _, sym := range symbols {
		if _, ok := f.routes[sym]; ok {
			continue
		}
		r := &route{agg: NewCandleAggregator(sym, interval), in: make(chan OrderBook, defaultRouteBuffer)}
		if bus != nil {
			r.agg.AddListener(func(c Candle) { bus.Publish(events.EventCandle, c) })
		}
		f.routes[sym] = r
		f.symbols = append(f.symbols, sym)
	}
	return f
}

// Symbols returns the routed symbols in registration order.
func (f *Feed) Symbols() []string { return append([]string(nil), f.symbols...) }

// Aggregator returns the aggregator for symbol so callers can register listeners.
func (f *Feed) Aggregator(symbol string) (*CandleAggregator, bool) {
	r, ok := f.routes[symbol]
	if !ok {
		return nil, false
	}
	return r.agg, true
}

// AddMarkListener registers fn for mark price updates.
func (f *Feed) AddMarkListener(fn func(common.MarkPrice)) {
	f.mu.Lock()
	f.markListeners = append(f.markListeners, fn)
	f.mu.Unlock()
}

// Start launches the per-symbol workers and, when a stream client is set,
// the websocket subscriptions. It returns immediately.
func (f *Feed) Start(ctx context.Context) {
	if !f.started.CompareAndSwap(false, true) {
		return
	}
	for _, sym := range f.symbols {
		r := f.routes[sym]
		f.wg.Add(1)
		go f.runRoute(ctx, r)
	}
	if f.Stream == nil {
		log.Infof("market feed started without stream: %d symbols", len(f.symbols))
		return
	}
	for _, sym := range f.symbols {
		symbol := sym
		f.wg.Add(2)
		go f.keepAlive(ctx, symbol, "bookTicker", func(ctx context.Context) error {
			ch, stop, err := f.Stream.SubscribeBookTicker(ctx, symbol)
			if err != nil {
				return err
			}
			defer stop()
			for b := range ch {
				f.Dispatch(b)
			}
			return nil
		})
		go f.keepAlive(ctx, symbol, "markPrice", func(ctx context.Context) error {
			ch, stop, err := f.Stream.SubscribeMarkPrice(ctx, symbol)
			if err != nil {
				return err
			}
			defer stop()
			for mp := range ch {
				f.OnMarkPrice(mp)
			}
			return nil
		})
	}
	log.Infof("market feed started: %d symbols, interval %s", len(f.symbols), f.interval)
}

// Wait blocks until every worker started by Start has exited.
func (f *Feed) Wait() { f.wg.Wait() }

// Dispatch hands book to its symbol's worker without blocking. Updates for
// unknown symbols or full routes are dropped and counted.
func (f *Feed) Dispatch(book OrderBook) bool {
	r, ok := f.routes[book.Symbol]
	if !ok {
		f.dropped.Add(1)
		return false
	}
	select {
	case r.in <- book:
		return true
	default:
		if n := f.dropped.Add(1); n%1000 == 1 {
			log.WithField("symbol", book.Symbol).Warnf("book route full, dropped=%d", n)
		}
		return false
	}
}

// Dropped returns the number of book updates that were not routed.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

// OnMarkPrice fans mp out to mark listeners and the bus.
func (f *Feed) OnMarkPrice(mp common.MarkPrice) {
	f.mu.RLock()
	listeners := append([]func(common.MarkPrice){}, f.markListeners...)
	f.mu.RUnlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("symbol", mp.Symbol).Errorf("mark listener panic: %v", r)
				}
			}()
			fn(mp)
		}()
	}
	if f.Bus != nil {
		f.Bus.Publish(events.EventMarkPrice, mp)
	}
}

func (f *Feed) runRoute(ctx context.Context, r *route) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-r.in:
			r.agg.OnOrderBook(b)
		}
	}
}

// keepAlive runs sub until ctx ends, reconnecting with exponential backoff.
func (f *Feed) keepAlive(ctx context.Context, symbol, stream string, sub func(context.Context) error) {
	defer f.wg.Done()
	delay := time.Second
	for {
		start := time.Now()
		err := sub(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > maxReconnectDelay {
			delay = time.Second
		}
		entry := log.WithField("symbol", symbol).WithField("stream", stream)
		if err != nil {
			entry.Warnf("subscribe failed, retrying in %s: %v", delay, err)
		} else {
			entry.Warnf("stream closed, reconnecting in %s", delay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
