package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("record not found")

const defaultLimit = 100

// Queries is the read side used by the ops API and on startup.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a new Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultLimit
	}
	return limit
}

// ListPositions returns every snapshot ordered by symbol then strategy.
func (q *Queries) ListPositions(ctx context.Context) ([]PositionSnapshot, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT symbol, strategy_id, amount, entry_price, mark_price, unrealised_pnl,
			net_realized_pnl, maintenance_margin, trading_cost, updated_at
		FROM position_snapshots
		ORDER BY symbol, strategy_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []PositionSnapshot
	for rows.Next() {
		var p PositionSnapshot
		if err := rows.Scan(&p.Symbol, &p.StrategyID, &p.Amount, &p.EntryPrice, &p.MarkPrice,
			&p.UnrealisedPnL, &p.NetRealizedPnL, &p.MaintenanceMargin, &p.TradingCost, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const orderColumns = `id, strategy_id, symbol, side, type, qty, price, trigger_price, filled_qty,
	avg_price, status, action, signal_id, reason, created_at, updated_at`

func scanOrder(s interface{ Scan(...any) error }) (Order, error) {
	var o Order
	err := s.Scan(&o.ID, &o.StrategyID, &o.Symbol, &o.Side, &o.Type, &o.Qty, &o.Price, &o.TriggerPrice,
		&o.FilledQty, &o.AvgPrice, &o.Status, &o.Action, &o.SignalID, &o.Reason, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// GetOrder returns one journaled order.
func (q *Queries) GetOrder(ctx context.Context, id string) (Order, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

// ListOrders returns the most recent orders, optionally for one strategy.
func (q *Queries) ListOrders(ctx context.Context, strategyID string, limit int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	args := []any{}
	if strategyID != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ListFills returns fills of one order, or the most recent fills when orderID is empty.
func (q *Queries) ListFills(ctx context.Context, orderID string, limit int) ([]Fill, error) {
	query := `SELECT id, order_id, strategy_id, symbol, side, qty, price, is_taker, created_at FROM fills`
	args := []any{}
	if orderID != "" {
		query += ` WHERE order_id = ?`
		args = append(args, orderID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var out []Fill
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.ID, &f.OrderID, &f.StrategyID, &f.Symbol, &f.Side, &f.Qty, &f.Price,
			&f.IsTaker, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListRiskEvents returns the most recent risk events, newest first.
func (q *Queries) ListRiskEvents(ctx context.Context, limit int) ([]RiskEvent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, kind, reason, drawdown, aum, peak_aum, created_at
		FROM risk_events
		ORDER BY id DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query risk events: %w", err)
	}
	defer rows.Close()

	var out []RiskEvent
	for rows.Next() {
		var e RiskEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.Reason, &e.Drawdown, &e.AUM, &e.PeakAUM, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan risk event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
