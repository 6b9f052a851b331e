package persistence

import (
	"context"

	"github.com/google/uuid"

	"execution-core/internal/events"
	"execution-core/internal/order"
	"execution-core/internal/position"
	"execution-core/internal/risk"
	"execution-core/pkg/db"
)

// Store records positions, orders, fills and risk events through a BatchWriter.
// Every method only appends to the batch buffer.
type Store struct {
	w *BatchWriter
}

func NewStore(w *BatchWriter) *Store {
	return &Store{w: w}
}

// SavePosition upserts the latest snapshot of p.
func (s *Store) SavePosition(p position.Position) {
	row := db.PositionSnapshot{
		Symbol:            p.Symbol,
		StrategyID:        p.StrategyID,
		Amount:            p.Amount,
		EntryPrice:        p.EntryPrice,
		MarkPrice:         p.MarkPrice,
		UnrealisedPnL:     p.UnrealisedPnL,
		NetRealizedPnL:    p.NetRealizedPnL,
		MaintenanceMargin: p.MaintenanceMargin,
		TradingCost:       p.TotalTradingCost,
		UpdatedAt:         p.UpdatedAt,
	}
	s.w.WriteQuery("position_snapshots", db.UpsertPositionSQL, row.Args()...)
}

// SaveOrder upserts the order row; later calls update fill state and status.
func (s *Store) SaveOrder(o order.Order, meta order.OrderMeta) {
	row := db.Order{
		ID:           o.ID,
		StrategyID:   o.StrategyID,
		Symbol:       o.Symbol,
		Side:         string(o.Side),
		Type:         string(o.Type),
		Qty:          o.Quantity,
		Price:        o.Price,
		TriggerPrice: o.TriggerPrice,
		FilledQty:    o.FilledQty,
		AvgPrice:     o.AvgPrice,
		Status:       string(o.Status),
		Action:       string(meta.Action),
		SignalID:     meta.SignalID,
		Reason:       o.Reason,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	s.w.WriteQuery("orders", db.UpsertOrderSQL, row.Args()...)
}

// SaveFill appends a fill under a fresh id.
func (s *Store) SaveFill(f position.Fill) {
	row := db.Fill{
		ID:         uuid.NewString(),
		OrderID:    f.OrderID,
		StrategyID: f.StrategyID,
		Symbol:     f.Symbol,
		Side:       string(f.Side),
		Qty:        f.Qty,
		Price:      f.Price,
		IsTaker:    f.IsTaker,
		CreatedAt:  f.Time,
	}
	s.w.WriteQuery("fills", db.InsertFillSQL, row.Args()...)
}

// SaveBlock records a trading block.
func (s *Store) SaveBlock(ev risk.BlockEvent) {
	row := db.RiskEvent{
		Kind:      "blocked",
		Reason:    ev.Reason,
		Drawdown:  ev.DrawdownRatio,
		AUM:       ev.AUM,
		PeakAUM:   ev.PeakAUM,
		CreatedAt: ev.Time,
	}
	s.w.WriteQuery("risk_events", db.InsertRiskEventSQL, row.Args()...)
}

// SaveClear records the release of a block.
func (s *Store) SaveClear(info risk.DrawdownInfo) {
	row := db.RiskEvent{
		Kind:     "cleared",
		Drawdown: info.CurrentDrawdown,
		AUM:      info.AUM,
		PeakAUM:  info.PeakAUM,
	}
	s.w.WriteQuery("risk_events", db.InsertRiskEventSQL, row.Args()...)
}

// RecordRiskEvents journals block and clear events from bus until ctx ends.
func (s *Store) RecordRiskEvents(ctx context.Context, bus *events.Bus) {
	ch, unsub := bus.SubscribeAll([]events.Event{events.EventRiskBlocked, events.EventRiskCleared}, 64)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-ch:
				if !ok {
					return
				}
				switch p := env.Payload.(type) {
				case risk.BlockEvent:
					s.SaveBlock(p)
				case risk.DrawdownInfo:
					s.SaveClear(p)
				default:
					log.WithField("topic", env.Topic).Warnf("unexpected risk payload %T", env.Payload)
				}
			}
		}
	}()
}

// Metrics exposes the underlying writer counters.
func (s *Store) Metrics() BatchWriterMetrics { return s.w.GetMetrics() }

// Flush forces buffered writes to disk.
func (s *Store) Flush() error { return s.w.Flush() }

var (
	_ position.SnapshotStore = (*Store)(nil)
	_ order.Journal          = (*Store)(nil)
)
