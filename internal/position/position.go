// Package position tracks per-strategy and account-level positions with exact decimal PnL.
package position

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"execution-core/pkg/decimalx"
)

// Position is the ledger of one (symbol, strategy) pair.
// An empty StrategyID denotes the account-level position of the symbol.
type Position struct {
	Symbol            string          `json:"symbol"`
	StrategyID        string          `json:"strategy_id,omitempty"`
	Amount            decimal.Decimal `json:"position_amount"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	MarkPrice         decimal.Decimal `json:"mark_price"`
	UnrealisedPnL     decimal.Decimal `json:"unrealised_pnl"`
	NetRealizedPnL    decimal.Decimal `json:"net_realized_pnl"`
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin"`
	TotalTradingCost  decimal.Decimal `json:"total_trading_cost"`
	OpenOrders        int             `json:"open_orders"`
	UpdatedAt         time.Time       `json:"updated_at"`

	fees Fees
}

// New creates a flat position charging fees on every trade.
func New(symbol, strategyID string, fees Fees) *Position {
	return &Position{Symbol: symbol, StrategyID: strategyID, fees: fees}
}

// TradeResult describes the effect of one AddTrade call.
type TradeResult struct {
	Fee      decimal.Decimal
	Realized decimal.Decimal
	NetPnL   decimal.Decimal
	// Closing is set when the trade reduced, closed or flipped the position.
	Closing bool
	Flipped bool
}

// AddTrade applies a signed fill (+buy, -sell) at price.
func (p *Position) AddTrade(qty, price decimal.Decimal, isTaker bool) TradeResult {
	var res TradeResult
	if qty.IsZero() {
		return res
	}
	old := p.Amount
	res.Fee = price.Mul(qty).Abs().Mul(p.fees.Rate(isTaker))

	if old.Mul(qty).IsNegative() {
		closeQty := decimalx.Min(qty.Abs(), old.Abs())
		realized := closeQty.Mul(price.Sub(p.EntryPrice))
		if old.IsNegative() {
			realized = realized.Neg()
		}
		res.Closing = true
		res.Realized = realized
		res.NetPnL = realized.Sub(res.Fee)
		p.NetRealizedPnL = p.NetRealizedPnL.Add(res.NetPnL)
	}

	switch {
	case old.IsZero():
		p.EntryPrice = price
	case decimalx.SameSign(old, qty):
		total := old.Add(qty).Abs()
		p.EntryPrice = old.Abs().Mul(p.EntryPrice).Add(qty.Abs().Mul(price)).Div(total)
	case qty.Abs().GreaterThan(old.Abs()):
		p.EntryPrice = price
		res.Flipped = true
	}

	p.Amount = decimalx.RoundPosition(old.Add(qty))
	p.TotalTradingCost = p.TotalTradingCost.Add(res.Fee)
	p.UpdatedAt = time.Now()
	return res
}

// Notional is the signed value of the position at mark.
func (p *Position) Notional(mark decimal.Decimal) decimal.Decimal {
	return p.Amount.Mul(mark)
}

// UpdateUnrealisedPnL revalues the position at mark.
func (p *Position) UpdateUnrealisedPnL(mark decimal.Decimal) decimal.Decimal {
	p.MarkPrice = mark
	if p.Amount.IsZero() {
		p.UnrealisedPnL = decimal.Zero
	} else {
		p.UnrealisedPnL = p.Amount.Mul(mark.Sub(p.EntryPrice))
	}
	p.UpdatedAt = time.Now()
	return p.UnrealisedPnL
}

// UpdateMaintenanceMargin sets |notional| * rate - cum, floored at zero.
func (p *Position) UpdateMaintenanceMargin(mark, rate, cum decimal.Decimal) decimal.Decimal {
	mm := p.Notional(mark).Abs().Mul(rate).Sub(cum)
	if mm.IsNegative() || p.Amount.IsZero() {
		mm = decimal.Zero
	}
	p.MaintenanceMargin = mm
	return mm
}

// IsFlat reports a zero amount.
func (p *Position) IsFlat() bool {
	return p.Amount.IsZero()
}

// Reset zeroes amount, entry price and unrealised PnL. Realized PnL and costs are kept.
func (p *Position) Reset() {
	p.Amount = decimal.Zero
	p.EntryPrice = decimal.Zero
	p.UnrealisedPnL = decimal.Zero
	p.MaintenanceMargin = decimal.Zero
	p.UpdatedAt = time.Now()
}

// Snapshot returns a value copy safe to hand to other goroutines.
func (p *Position) Snapshot() Position {
	return *p
}

func (p *Position) String() string {
	return fmt.Sprintf("%s/%s amount=%s entry=%s upnl=%s rpnl=%s mm=%s cost=%s",
		p.Symbol, p.StrategyID, p.Amount, p.EntryPrice, p.UnrealisedPnL,
		p.NetRealizedPnL, p.MaintenanceMargin, p.TotalTradingCost)
}
