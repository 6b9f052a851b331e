package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func book(ts int64, mid string) OrderBook {
	m := decimal.RequireFromString(mid)
	return OrderBook{Symbol: "BTCUSDT", Timestamp: ts, BestBid: m.Sub(decimal.NewFromInt(1)), BestAsk: m.Add(decimal.NewFromInt(1))}
}

func TestCandleBucketing(t *testing.T) {
	const t0 = int64(1_700_000_100_000) // aligned to 300s
	agg := NewCandleAggregatorSeconds("BTCUSDT", 300)

	var emitted []Candle
	agg.AddListener(func(c Candle) { emitted = append(emitted, c) })

	ticks := []OrderBook{
		book(t0, "100"),
		book(t0+1_000, "105"),
		book(t0+299_000, "95"),
	}
	for _, b := range ticks {
		_, ok := agg.OnOrderBook(b)
		require.False(t, ok)
	}
	assert.Empty(t, emitted)

	done, ok := agg.OnOrderBook(book(t0+301_000, "110"))
	require.True(t, ok)
	require.Len(t, emitted, 1)
	assert.Equal(t, done, emitted[0])

	assert.Equal(t, t0, done.StartTime)
	assert.Equal(t, t0+300_000, done.EndTime())
	assert.True(t, done.Open.Equal(decimal.NewFromInt(100)))
	assert.True(t, done.High.Equal(decimal.NewFromInt(105)))
	assert.True(t, done.Low.Equal(decimal.NewFromInt(95)))
	assert.True(t, done.Close.Equal(decimal.NewFromInt(95)))
	assert.Equal(t, 3, done.Ticks)

	cur, ok := agg.Current()
	require.True(t, ok)
	assert.Equal(t, t0+300_000, cur.StartTime)
	assert.True(t, cur.Open.Equal(decimal.NewFromInt(110)))
}

func TestCandleMidPrice(t *testing.T) {
	agg := NewCandleAggregator("ETHUSDT", time.Minute)
	agg.OnOrderBook(OrderBook{Symbol: "ETHUSDT", Timestamp: 60_000, BestBid: decimal.RequireFromString("10.1"), BestAsk: decimal.RequireFromString("10.2")})
	cur, ok := agg.Current()
	require.True(t, ok)
	assert.Equal(t, "10.15", cur.Open.String())
}

func TestCandleBucketStart(t *testing.T) {
	agg := NewCandleAggregator("X", 500*time.Millisecond)
	tests := []struct {
		ts, want int64
	}{
		{0, 0},
		{499, 0},
		{500, 500},
		{1234, 1000},
		{-1, -500},
	}
	for _, tt := range tests {
		if got := agg.BucketStart(tt.ts); got != tt.want {
			t.Fatalf("BucketStart(%d)=%d, expected %d", tt.ts, got, tt.want)
		}
	}
}

func TestCandleOutOfOrderFoldsIntoCurrent(t *testing.T) {
	agg := NewCandleAggregatorSeconds("BTCUSDT", 60)
	agg.OnOrderBook(book(60_000, "100"))
	agg.OnOrderBook(book(120_000, "101"))

	_, ok := agg.OnOrderBook(book(61_000, "90"))
	assert.False(t, ok, "late tick does not emit")

	cur, _ := agg.Current()
	assert.Equal(t, int64(120_000), cur.StartTime)
	assert.True(t, cur.Low.Equal(decimal.NewFromInt(90)))
	assert.True(t, cur.Close.Equal(decimal.NewFromInt(90)))
	assert.Equal(t, 2, cur.Ticks)
}

func TestCandleGapEmitsOnlyPrevious(t *testing.T) {
	agg := NewCandleAggregatorSeconds("BTCUSDT", 60)
	agg.OnOrderBook(book(0, "100"))
	done, ok := agg.OnOrderBook(book(600_000, "120"))
	require.True(t, ok)
	assert.Equal(t, int64(0), done.StartTime)
	cur, _ := agg.Current()
	assert.Equal(t, int64(600_000), cur.StartTime)
}

func TestCandleListenerPanicIsolated(t *testing.T) {
	agg := NewCandleAggregatorSeconds("BTCUSDT", 1)
	var got int
	agg.AddListener(func(Candle) { panic("strategy bug") })
	agg.AddListener(func(Candle) { got++ })

	agg.OnOrderBook(book(0, "1"))
	require.NotPanics(t, func() { agg.OnOrderBook(book(1_000, "2")) })
	assert.Equal(t, 1, got)
}
