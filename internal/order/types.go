package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"execution-core/internal/market"
	"execution-core/internal/pool"
	"execution-core/pkg/common"
)

// Action tags what an order is for.
type Action string

const (
	ActionNone     Action = ""
	ActionEntry    Action = "ENTRY"
	ActionClose    Action = "CLOSE"
	ActionStopLoss Action = "STOP_LOSS"
)

// ActionMode controls how a signal relates to the strategy's open position.
type ActionMode string

const (
	// OpenClosePosition sizes the order as requested.
	OpenClosePosition ActionMode = "OPEN_CLOSE_POSITION"
	// PositionReversal adds the opposing position so one order flips through zero.
	PositionReversal ActionMode = "POSITION_REVERSAL"
)

// SizeMode selects how a strategy expresses order size.
type SizeMode string

const (
	SizeNotional SizeMode = "NOTIONAL"
	SizeQuantity SizeMode = "QUANTITY"
)

// SizeSpec is a strategy's order size setting.
type SizeSpec struct {
	Mode     SizeMode        `yaml:"mode" json:"mode"`
	Notional decimal.Decimal `yaml:"notional" json:"notional"`
	Quantity decimal.Decimal `yaml:"quantity" json:"quantity"`
}

// Validate rejects a spec whose active field is not positive.
func (s SizeSpec) Validate() error {
	switch s.Mode {
	case SizeNotional:
		if !s.Notional.IsPositive() {
			return fmt.Errorf("%w: notional size %s", ErrInvalidSize, s.Notional)
		}
	case SizeQuantity:
		if !s.Quantity.IsPositive() {
			return fmt.Errorf("%w: quantity size %s", ErrInvalidSize, s.Quantity)
		}
	default:
		return fmt.Errorf("%w: unknown size mode %q", ErrInvalidSize, s.Mode)
	}
	return nil
}

// Order is a pooled order owned by the Manager while in flight.
type Order struct {
	ID              string             `json:"id"`
	ExchangeOrderID string             `json:"exchange_order_id,omitempty"`
	StrategyID      string             `json:"strategy_id"`
	Symbol          string             `json:"symbol"`
	Side            common.Side        `json:"side"`
	Type            common.OrderType   `json:"type"`
	Quantity        decimal.Decimal    `json:"quantity"`
	Price           decimal.Decimal    `json:"price"`
	TriggerPrice    decimal.Decimal    `json:"trigger_price"`
	FilledQty       decimal.Decimal    `json:"filled_qty"`
	AvgPrice        decimal.Decimal    `json:"avg_price"`
	Status          common.OrderStatus `json:"status"`
	Reason          string             `json:"reason,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`

	slot pool.Handle
}

// Reset clears every mutable field before the slot is reused.
func (o *Order) Reset() {
	*o = Order{}
}

// IsTerminal reports whether the order reached FILLED, CANCELED or FAILED.
func (o *Order) IsTerminal() bool { return o.Status.Terminal() }

// RemainingQty is the unfilled quantity.
func (o *Order) RemainingQty() decimal.Decimal {
	r := o.Quantity.Sub(o.FilledQty)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// OnNew acknowledges the order; exchangeID may be empty.
func (o *Order) OnNew(exchangeID string) {
	if o.IsTerminal() {
		return
	}
	if exchangeID != "" {
		o.ExchangeOrderID = exchangeID
	}
	if o.Status == common.StatusPendingNew || o.Status == "" {
		o.Status = common.StatusNew
	}
	o.UpdatedAt = time.Now()
}

// OnCanceled moves a live order to CANCELED.
func (o *Order) OnCanceled(reason string) {
	if o.IsTerminal() {
		return
	}
	o.Status = common.StatusCanceled
	o.Reason = reason
	o.UpdatedAt = time.Now()
}

// OnFailed moves a live order to FAILED.
func (o *Order) OnFailed(reason string) {
	if o.IsTerminal() {
		return
	}
	o.Status = common.StatusFailed
	o.Reason = reason
	o.UpdatedAt = time.Now()
}

// ApplyFill folds a fill into the cumulative quantity and average price.
// final forces FILLED even if the fill leaves a rounding residue.
func (o *Order) ApplyFill(qty, price decimal.Decimal, final bool) {
	qty = qty.Abs()
	total := o.FilledQty.Add(qty)
	if total.IsPositive() {
		o.AvgPrice = o.AvgPrice.Mul(o.FilledQty).Add(price.Mul(qty)).Div(total).Round(12)
	}
	o.FilledQty = total
	if final || total.GreaterThanOrEqual(o.Quantity) {
		o.Status = common.StatusFilled
	} else {
		o.Status = common.StatusPartiallyFilled
	}
	o.UpdatedAt = time.Now()
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s %s %s qty=%s px=%s [%s] strategy=%s",
		o.ID, o.Symbol, o.Side, o.Type, o.Quantity, o.Price, o.Status, o.StrategyID)
}

// OrderMeta is side-table data attached to a live order.
type OrderMeta struct {
	SignalID     string          `json:"signal_id,omitempty"`
	Action       Action          `json:"action,omitempty"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	Tags         []string        `json:"tags,omitempty"`
}

const signalTagPrefix = "signal_id="

// metaFromTags fills Action and SignalID from tags when not set explicitly.
func metaFromTags(meta OrderMeta) OrderMeta {
	for _, tag := range meta.Tags {
		switch {
		case meta.SignalID == "" && strings.HasPrefix(tag, signalTagPrefix):
			meta.SignalID = strings.TrimPrefix(tag, signalTagPrefix)
		case meta.Action == ActionNone:
			switch Action(strings.ToUpper(tag)) {
			case ActionEntry, ActionClose, ActionStopLoss:
				meta.Action = Action(strings.ToUpper(tag))
			}
		}
	}
	return meta
}

// OrderEvent is an execution report delivered back to the Manager.
type OrderEvent struct {
	OrderID         string             `json:"order_id"`
	ExchangeOrderID string             `json:"exchange_order_id,omitempty"`
	Status          common.OrderStatus `json:"status"`
	Side            common.Side        `json:"side,omitempty"`
	LastFilledQty   decimal.Decimal    `json:"last_filled_qty"`
	LastFilledPrice decimal.Decimal    `json:"last_filled_price"`
	IsTaker         bool               `json:"is_taker"`
	Reason          string             `json:"reason,omitempty"`
	Time            time.Time          `json:"time"`
}

// SignalContext carries optional strategy context alongside a signal.
type SignalContext struct {
	Reason     string             `json:"reason,omitempty"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
	Config     map[string]any     `json:"config,omitempty"`
	Candle     *market.Candle     `json:"candle,omitempty"`
	Action     Action             `json:"action,omitempty"`
	Tags       []string           `json:"tags,omitempty"`
}

// Signal is a strategy decision handed to OnSignal.
type Signal struct {
	StrategyID string
	Symbol     string
	// Direction is +1 buy, -1 sell, 0 nothing.
	Direction  int
	Price      decimal.Decimal
	ActionMode ActionMode
	Size       SizeSpec
	SignalID   string
	Tags       []string
	Context    *SignalContext
}

// MarketRequest describes a market order from a strategy.
type MarketRequest struct {
	StrategyID string
	Symbol     string
	Side       common.Side
	Quantity   decimal.Decimal
	// Price is the reference price used for risk valuation.
	Price    decimal.Decimal
	SignalID string
	Action   Action
	Tags     []string
}

// StopRequest describes a stop-market order. A null Quantity defers the stop
// until the entry linked by SignalID fills.
type StopRequest struct {
	StrategyID   string
	Symbol       string
	Side         common.Side
	Quantity     decimal.NullDecimal
	TriggerPrice decimal.Decimal
	SignalID     string
	Tags         []string
}

// EntryFill records a filled entry for stop linkage.
type EntryFill struct {
	Qty      decimal.Decimal `json:"qty"`
	Side     common.Side     `json:"side"`
	Price    decimal.Decimal `json:"price"`
	FilledAt time.Time       `json:"filled_at"`
}

type signalKey struct {
	StrategyID string
	Symbol     string
	SignalID   string
}

type strategyKey struct {
	StrategyID string
	Symbol     string
}
