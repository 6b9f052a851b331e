package market

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "market")

// CandleListener receives completed candles.
type CandleListener func(Candle)

// CandleAggregator buckets order-book mid prices into candles. It is single-writer:
// OnOrderBook must not be called concurrently. Listener registration is safe at any time.
type CandleAggregator struct {
	symbol     string
	intervalMs int64
	interval   time.Duration

	current *Candle

	mu        sync.RWMutex
	listeners []CandleListener
}

// NewCandleAggregator creates an aggregator for symbol. Intervals below one
// millisecond are raised to one millisecond.
func NewCandleAggregator(symbol string, interval time.Duration) *CandleAggregator {
	ms := interval.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return &CandleAggregator{
		symbol:     symbol,
		intervalMs: ms,
		interval:   time.Duration(ms) * time.Millisecond,
	}
}

// NewCandleAggregatorSeconds is a convenience for whole-second intervals.
func NewCandleAggregatorSeconds(symbol string, seconds int64) *CandleAggregator {
	return NewCandleAggregator(symbol, time.Duration(seconds)*time.Second)
}

func (a *CandleAggregator) Symbol() string          { return a.symbol }
func (a *CandleAggregator) Interval() time.Duration { return a.interval }

// AddListener registers fn for completed candles.
func (a *CandleAggregator) AddListener(fn CandleListener) {
	if fn == nil {
		return
	}
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// BucketStart floors ts (ms) to the interval.
func (a *CandleAggregator) BucketStart(ts int64) int64 {
	b := ts / a.intervalMs * a.intervalMs
	if ts < 0 && ts%a.intervalMs != 0 {
		b -= a.intervalMs
	}
	return b
}

// OnOrderBook folds a book update into the current candle. When the update
// opens a strictly later bucket, the previous candle is frozen, fanned out to
// listeners and returned with ok set. Updates for earlier buckets are folded
// into the current candle.
func (a *CandleAggregator) OnOrderBook(book OrderBook) (Candle, bool) {
	mid := book.Mid()
	start := a.BucketStart(book.Timestamp)

	if a.current != nil && start <= a.current.StartTime {
		c := a.current
		if mid.GreaterThan(c.High) {
			c.High = mid
		}
		if mid.LessThan(c.Low) {
			c.Low = mid
		}
		c.Close = mid
		c.Ticks++
		return Candle{}, false
	}

	prev := a.current
	a.current = &Candle{
		Symbol:    a.symbol,
		StartTime: start,
		Interval:  a.interval,
		Open:      mid,
		High:      mid,
		Low:       mid,
		Close:     mid,
		Ticks:     1,
	}
	if prev == nil {
		return Candle{}, false
	}
	done := *prev
	a.emit(done)
	return done, true
}

// Current returns a copy of the candle still being built.
func (a *CandleAggregator) Current() (Candle, bool) {
	if a.current == nil {
		return Candle{}, false
	}
	return *a.current, true
}

func (a *CandleAggregator) emit(c Candle) {
	a.mu.RLock()
	listeners := append([]CandleListener(nil), a.listeners...)
	a.mu.RUnlock()
	for _, fn := range listeners {
		a.safeCall(fn, c)
	}
}

func (a *CandleAggregator) safeCall(fn CandleListener, c Candle) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{"symbol": a.symbol, "start": c.StartTime}).
				Errorf("candle listener panic: %v", r)
		}
	}()
	fn(c)
}
