package db

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Database {
	t.Helper()
	d, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMigrationsAreIdempotent(t *testing.T) {
	d := openMemory(t)
	require.NoError(t, ApplyMigrations(d))

	ok, err := columnExists(d.DB, "orders", "trigger_price")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPositionSnapshotUpsert(t *testing.T) {
	d := openMemory(t)
	ctx := context.Background()

	p := PositionSnapshot{
		Symbol:     "BTCUSDT",
		StrategyID: "trend",
		Amount:     decimal.RequireFromString("0.123456789"),
		EntryPrice: decimal.RequireFromString("64000.5"),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, d.UpsertPosition(ctx, p))
	p.Amount = decimal.RequireFromString("-0.5")
	require.NoError(t, d.UpsertPosition(ctx, p))
	require.NoError(t, d.UpsertPosition(ctx, PositionSnapshot{Symbol: "BTCUSDT", Amount: decimal.NewFromInt(1)}))

	list, err := d.Queries().ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "", list[0].StrategyID)
	assert.Equal(t, "trend", list[1].StrategyID)
	assert.True(t, list[1].Amount.Equal(decimal.RequireFromString("-0.5")))
	assert.True(t, list[1].EntryPrice.Equal(decimal.RequireFromString("64000.5")))
}

func TestOrderJournal(t *testing.T) {
	d := openMemory(t)
	ctx := context.Background()
	q := d.Queries()

	created := time.Now().Add(-time.Minute)
	o := Order{
		ID:         "EC-1",
		StrategyID: "trend",
		Symbol:     "ETHUSDT",
		Side:       "BUY",
		Type:       "MARKET",
		Qty:        decimal.RequireFromString("2"),
		Status:     "PENDING_NEW",
		Action:     "ENTRY",
		SignalID:   "sig-1",
		CreatedAt:  created,
	}
	require.NoError(t, d.UpsertOrder(ctx, o))

	o.Status = "FILLED"
	o.FilledQty = decimal.RequireFromString("2")
	o.AvgPrice = decimal.RequireFromString("3000.25")
	require.NoError(t, d.UpsertOrder(ctx, o))

	got, err := q.GetOrder(ctx, "EC-1")
	require.NoError(t, err)
	assert.Equal(t, "FILLED", got.Status)
	assert.Equal(t, "sig-1", got.SignalID)
	assert.True(t, got.AvgPrice.Equal(decimal.RequireFromString("3000.25")))
	assert.WithinDuration(t, created, got.CreatedAt, time.Second)

	_, err = q.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.UpsertOrder(ctx, Order{ID: "EC-2", StrategyID: "other", Symbol: "ETHUSDT", Side: "SELL", Type: "MARKET", Qty: decimal.NewFromInt(1), Status: "NEW"}))
	list, err := q.ListOrders(ctx, "trend", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "EC-1", list[0].ID)

	all, err := q.ListOrders(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFillsAndRiskEvents(t *testing.T) {
	d := openMemory(t)
	ctx := context.Background()
	q := d.Queries()

	f := Fill{ID: "f1", OrderID: "EC-1", Symbol: "BTCUSDT", Side: "BUY", Qty: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), IsTaker: true}
	require.NoError(t, d.InsertFill(ctx, f))
	require.NoError(t, d.InsertFill(ctx, f), "duplicate ids are ignored")
	require.NoError(t, d.InsertFill(ctx, Fill{ID: "f2", OrderID: "EC-2", Symbol: "BTCUSDT", Side: "SELL", Qty: decimal.NewFromInt(1), Price: decimal.NewFromInt(101)}))

	fills, err := q.ListFills(ctx, "EC-1", 0)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].IsTaker)

	require.NoError(t, d.InsertRiskEvent(ctx, RiskEvent{Kind: "blocked", Reason: "max drawdown", Drawdown: decimal.RequireFromString("0.3")}))
	require.NoError(t, d.InsertRiskEvent(ctx, RiskEvent{Kind: "cleared"}))

	evs, err := q.ListRiskEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "cleared", evs[0].Kind)
	assert.True(t, evs[1].Drawdown.Equal(decimal.RequireFromString("0.3")))
}
