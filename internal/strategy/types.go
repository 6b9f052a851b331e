// Package strategy turns completed candles into order signals.
package strategy

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"execution-core/internal/market"
	"execution-core/internal/order"
)

var log = logrus.WithField("component", "strategy")

// Decision is what a strategy wants after a candle. Direction is +1 buy,
// -1 sell and 0 stay.
type Decision struct {
	Direction int
	Reason    string
}

// Strategy is a single-symbol candle consumer. OnCandle is called from one
// goroutine, so implementations keep their state without locks.
type Strategy interface {
	// ID returns the unique instance ID
	ID() string
	// Name returns the human-readable name
	Name() string
	Symbol() string
	OnCandle(c market.Candle, ind map[string]float64) Decision
}

// Binding attaches the sizing and protection settings to a strategy.
type Binding struct {
	Strategy    Strategy
	ActionMode  order.ActionMode
	Size        order.SizeSpec
	StopLossPct decimal.Decimal
}

// OrderSink is the order entry surface the runner needs.
type OrderSink interface {
	OnSignal(order.Signal) bool
	SubmitStopMarketOrder(order.StopRequest) bool
}
