package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/events"
	"execution-core/internal/order"
	"execution-core/internal/position"
	"execution-core/internal/risk"
	"execution-core/pkg/common"
	"execution-core/pkg/db"
)

func openDB(t *testing.T) *db.Database {
	t.Helper()
	d, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestBatchWriterFlushesOnClose(t *testing.T) {
	d := openDB(t)
	bw := NewBatchWriter(d.DB, 100, time.Hour)

	for i := 0; i < 3; i++ {
		bw.WriteQuery("risk_events", db.InsertRiskEventSQL, db.RiskEvent{Kind: "blocked"}.Args()...)
	}
	assert.Equal(t, 3, bw.Pending())
	require.NoError(t, bw.Close())

	m := bw.GetMetrics()
	assert.Equal(t, uint64(3), m.TotalWrites)
	assert.Equal(t, uint64(1), m.TotalBatches)
	assert.Zero(t, m.Pending)

	evs, err := d.Queries().ListRiskEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, evs, 3)

	bw.WriteQuery("risk_events", db.InsertRiskEventSQL, db.RiskEvent{Kind: "late"}.Args()...)
	assert.Equal(t, uint64(1), bw.GetMetrics().Dropped)
}

func TestBatchWriterSizeAndTimerFlush(t *testing.T) {
	d := openDB(t)
	bw := NewBatchWriter(d.DB, 2, 20*time.Millisecond)
	defer bw.Close()

	bw.WriteQuery("risk_events", db.InsertRiskEventSQL, db.RiskEvent{Kind: "a"}.Args()...)
	bw.WriteQuery("risk_events", db.InsertRiskEventSQL, db.RiskEvent{Kind: "b"}.Args()...)
	bw.WriteQuery("risk_events", db.InsertRiskEventSQL, db.RiskEvent{Kind: "c"}.Args()...)

	require.Eventually(t, func() bool {
		evs, err := d.Queries().ListRiskEvents(context.Background(), 10)
		return err == nil && len(evs) == 3
	}, time.Second, 10*time.Millisecond)
}

func TestBatchWriterRollsBackFailedBatch(t *testing.T) {
	d := openDB(t)
	bw := NewBatchWriter(d.DB, 100, time.Hour)
	defer bw.Close()

	bw.WriteQuery("risk_events", db.InsertRiskEventSQL, db.RiskEvent{Kind: "ok"}.Args()...)
	bw.WriteQuery("nope", "INSERT INTO missing_table VALUES (1)")
	assert.Error(t, bw.Flush())
	assert.Equal(t, uint64(1), bw.GetMetrics().TotalErrors)

	evs, err := d.Queries().ListRiskEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestStoreJournalsOrderLifecycle(t *testing.T) {
	d := openDB(t)
	bw := NewBatchWriter(d.DB, 100, time.Hour)
	defer bw.Close()
	store := NewStore(bw)

	fills := position.NewManager(nil, nil, store)
	m := order.NewManager(order.Config{}, nil, nil, nil)
	m.SetFillSink(fills)
	m.SetJournal(store)

	require.True(t, m.SubmitMarketEntry(order.MarketRequest{
		StrategyID: "trend",
		Symbol:     "BTCUSDT",
		Side:       common.SideBuy,
		Quantity:   decimal.RequireFromString("0.5"),
		Price:      decimal.NewFromInt(60000),
		SignalID:   "sig-1",
	}))
	live := m.LiveOrders()
	require.Len(t, live, 1)
	m.OnOrderEvent(order.OrderEvent{
		OrderID:         live[0].ID,
		Status:          common.StatusFilled,
		LastFilledQty:   decimal.RequireFromString("0.5"),
		LastFilledPrice: decimal.NewFromInt(60010),
		IsTaker:         true,
	})
	require.NoError(t, store.Flush())

	ctx := context.Background()
	q := d.Queries()
	o, err := q.GetOrder(ctx, live[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "FILLED", o.Status)
	assert.Equal(t, "ENTRY", o.Action)
	assert.Equal(t, "sig-1", o.SignalID)
	assert.True(t, o.AvgPrice.Equal(decimal.NewFromInt(60010)))

	fl, err := q.ListFills(ctx, live[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, fl, 1)
	assert.True(t, fl[0].Qty.Equal(decimal.RequireFromString("0.5")))

	snaps, err := q.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2, "account and strategy level")
	for _, s := range snaps {
		assert.True(t, s.Amount.Equal(decimal.RequireFromString("0.5")), "%s/%s", s.Symbol, s.StrategyID)
	}
}

func TestStoreRecordsRiskEvents(t *testing.T) {
	d := openDB(t)
	bw := NewBatchWriter(d.DB, 100, 10*time.Millisecond)
	defer bw.Close()
	store := NewStore(bw)

	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.RecordRiskEvents(ctx, bus)

	bus.Publish(events.EventRiskBlocked, risk.BlockEvent{Reason: "max drawdown", DrawdownRatio: decimal.RequireFromString("0.3"), Time: time.Now()})
	bus.Publish(events.EventRiskCleared, risk.DrawdownInfo{AUM: decimal.NewFromInt(1000)})

	require.Eventually(t, func() bool {
		evs, err := d.Queries().ListRiskEvents(context.Background(), 10)
		return err == nil && len(evs) == 2
	}, time.Second, 10*time.Millisecond)

	evs, err := d.Queries().ListRiskEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "cleared", evs[0].Kind)
	assert.Equal(t, "blocked", evs[1].Kind)
	assert.Equal(t, "max drawdown", evs[1].Reason)
}
