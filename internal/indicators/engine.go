// Package indicators keeps rolling close windows per symbol and derives the
// values strategies read on every completed candle.
package indicators

import (
	"sync"

	"execution-core/internal/market"
)

// Periods configures the windows. Zero disables an indicator.
type Periods struct {
	ShortMA int
	LongMA  int
	RSI     int
}

// DefaultPeriods matches the windows the bundled strategies expect.
func DefaultPeriods() Periods {
	return Periods{ShortMA: 10, LongMA: 30, RSI: 14}
}

// Engine maintains per-symbol close windows.
type Engine struct {
	mu      sync.Mutex
	closes  map[string][]float64
	window  int
	periods Periods
}

// NewEngine keeps at least window closes, widened to fit the longest period.
func NewEngine(p Periods, window int) *Engine {
	window = max(window, p.LongMA, p.RSI+1, p.ShortMA)
	return &Engine{
		closes:  make(map[string][]float64),
		window:  window,
		periods: p,
	}
}

// OnCandle ingests a completed candle and returns the latest values.
// Values whose window is not yet full are omitted.
func (e *Engine) OnCandle(c market.Candle) map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	arr := append(e.closes[c.Symbol], c.Close.InexactFloat64())
	if len(arr) > e.window {
		arr = arr[len(arr)-e.window:]
	}
	e.closes[c.Symbol] = arr

	values := map[string]float64{"close": arr[len(arr)-1]}
	if p := e.periods.ShortMA; p > 0 && len(arr) >= p {
		values["sma_short"] = SMA(arr, p)
	}
	if p := e.periods.LongMA; p > 0 && len(arr) >= p {
		values["sma_long"] = SMA(arr, p)
		values["ema_long"] = EMA(arr, p)
	}
	if p := e.periods.RSI; p > 0 && len(arr) > p {
		values["rsi"] = RSI(arr, p)
	}
	return values
}

// Closes returns a copy of the window held for symbol.
func (e *Engine) Closes(symbol string) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.closes[symbol]...)
}
