package db

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionSnapshot is the latest state of one (symbol, strategy) position.
type PositionSnapshot struct {
	Symbol            string          `json:"symbol"`
	StrategyID        string          `json:"strategy_id"`
	Amount            decimal.Decimal `json:"amount"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	MarkPrice         decimal.Decimal `json:"mark_price"`
	UnrealisedPnL     decimal.Decimal `json:"unrealised_pnl"`
	NetRealizedPnL    decimal.Decimal `json:"net_realized_pnl"`
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin"`
	TradingCost       decimal.Decimal `json:"trading_cost"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Order is a journaled order row.
type Order struct {
	ID           string          `json:"id"`
	StrategyID   string          `json:"strategy_id"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Type         string          `json:"type"`
	Qty          decimal.Decimal `json:"qty"`
	Price        decimal.Decimal `json:"price"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	Status       string          `json:"status"`
	Action       string          `json:"action"`
	SignalID     string          `json:"signal_id"`
	Reason       string          `json:"reason"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Fill is one execution row.
type Fill struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	StrategyID string          `json:"strategy_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	IsTaker    bool            `json:"is_taker"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RiskEvent records a trading block or its release.
type RiskEvent struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	Reason    string          `json:"reason"`
	Drawdown  decimal.Decimal `json:"drawdown"`
	AUM       decimal.Decimal `json:"aum"`
	PeakAUM   decimal.Decimal `json:"peak_aum"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	UpsertPositionSQL = `
		INSERT INTO position_snapshots (symbol, strategy_id, amount, entry_price, mark_price,
			unrealised_pnl, net_realized_pnl, maintenance_margin, trading_cost, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, strategy_id) DO UPDATE SET
			amount = excluded.amount,
			entry_price = excluded.entry_price,
			mark_price = excluded.mark_price,
			unrealised_pnl = excluded.unrealised_pnl,
			net_realized_pnl = excluded.net_realized_pnl,
			maintenance_margin = excluded.maintenance_margin,
			trading_cost = excluded.trading_cost,
			updated_at = excluded.updated_at`

	UpsertOrderSQL = `
		INSERT INTO orders (id, strategy_id, symbol, side, type, qty, price, trigger_price,
			filled_qty, avg_price, status, action, signal_id, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filled_qty = excluded.filled_qty,
			avg_price = excluded.avg_price,
			status = excluded.status,
			reason = excluded.reason,
			updated_at = excluded.updated_at`

	InsertFillSQL = `
		INSERT OR IGNORE INTO fills (id, order_id, strategy_id, symbol, side, qty, price, is_taker, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	InsertRiskEventSQL = `
		INSERT INTO risk_events (kind, reason, drawdown, aum, peak_aum, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
)

// Args binds p to UpsertPositionSQL.
func (p PositionSnapshot) Args() []any {
	return []any{p.Symbol, p.StrategyID, p.Amount.String(), p.EntryPrice.String(), p.MarkPrice.String(),
		p.UnrealisedPnL.String(), p.NetRealizedPnL.String(), p.MaintenanceMargin.String(),
		p.TradingCost.String(), stamp(p.UpdatedAt)}
}

// Args binds o to UpsertOrderSQL.
func (o Order) Args() []any {
	return []any{o.ID, o.StrategyID, o.Symbol, o.Side, o.Type, o.Qty.String(), o.Price.String(),
		o.TriggerPrice.String(), o.FilledQty.String(), o.AvgPrice.String(), o.Status, o.Action,
		o.SignalID, o.Reason, stamp(o.CreatedAt), stamp(o.UpdatedAt)}
}

// Args binds f to InsertFillSQL.
func (f Fill) Args() []any {
	return []any{f.ID, f.OrderID, f.StrategyID, f.Symbol, f.Side, f.Qty.String(), f.Price.String(),
		f.IsTaker, stamp(f.CreatedAt)}
}

// Args binds e to InsertRiskEventSQL.
func (e RiskEvent) Args() []any {
	return []any{e.Kind, e.Reason, e.Drawdown.String(), e.AUM.String(), e.PeakAUM.String(), stamp(e.CreatedAt)}
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// UpsertPosition writes a snapshot directly, bypassing any batching.
func (d *Database) UpsertPosition(ctx context.Context, p PositionSnapshot) error {
	if _, err := d.DB.ExecContext(ctx, UpsertPositionSQL, p.Args()...); err != nil {
		return fmt.Errorf("upsert position %s/%s: %w", p.Symbol, p.StrategyID, err)
	}
	return nil
}

// UpsertOrder inserts an order or updates its fill state.
func (d *Database) UpsertOrder(ctx context.Context, o Order) error {
	if _, err := d.DB.ExecContext(ctx, UpsertOrderSQL, o.Args()...); err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ID, err)
	}
	return nil
}

// InsertFill records a fill; duplicates by id are ignored.
func (d *Database) InsertFill(ctx context.Context, f Fill) error {
	if _, err := d.DB.ExecContext(ctx, InsertFillSQL, f.Args()...); err != nil {
		return fmt.Errorf("insert fill %s: %w", f.ID, err)
	}
	return nil
}

// InsertRiskEvent appends a risk event.
func (d *Database) InsertRiskEvent(ctx context.Context, e RiskEvent) error {
	if _, err := d.DB.ExecContext(ctx, InsertRiskEventSQL, e.Args()...); err != nil {
		return fmt.Errorf("insert risk event: %w", err)
	}
	return nil
}
