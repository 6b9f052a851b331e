package indicators

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/market"
)

func TestSMAAndEMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 4.0, SMA(values, 3), 1e-9)
	assert.Zero(t, SMA(values, 6))
	assert.Zero(t, SMA(values, 0))

	// seed 2 (mean of 1,2,3), then 4*0.5+2*0.5=3, then 5*0.5+3*0.5=4
	assert.InDelta(t, 4.0, EMA(values, 3), 1e-9)
}

func TestRSI(t *testing.T) {
	tests := map[string]struct {
		values []float64
		want   float64
	}{
		"all gains":  {values: []float64{1, 2, 3, 4}, want: 100},
		"all losses": {values: []float64{4, 3, 2, 1}, want: 0},
		"flat":       {values: []float64{2, 2, 2, 2}, want: 50},
		"mixed":      {values: []float64{1, 3, 2, 4}, want: 80},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.InDelta(t, tc.want, RSI(tc.values, 3), 1e-9)
		})
	}
	assert.Zero(t, RSI([]float64{1, 2, 3}, 3))
}

func TestEngineWindows(t *testing.T) {
	e := NewEngine(Periods{ShortMA: 2, LongMA: 3, RSI: 2}, 0)
	candle := func(sym string, close int64) market.Candle {
		return market.Candle{Symbol: sym, Close: decimal.NewFromInt(close)}
	}

	v := e.OnCandle(candle("BTCUSDT", 10))
	assert.Equal(t, map[string]float64{"close": 10}, v)

	e.OnCandle(candle("BTCUSDT", 20))
	e.OnCandle(candle("ETHUSDT", 1))
	v = e.OnCandle(candle("BTCUSDT", 30))
	assert.InDelta(t, 25.0, v["sma_short"], 1e-9)
	assert.InDelta(t, 20.0, v["sma_long"], 1e-9)
	assert.InDelta(t, 100.0, v["rsi"], 1e-9)

	e.OnCandle(candle("BTCUSDT", 40))
	require.Len(t, e.Closes("BTCUSDT"), 3, "window trims to the longest period")
	assert.Equal(t, []float64{20, 30, 40}, e.Closes("BTCUSDT"))
	assert.Equal(t, []float64{1}, e.Closes("ETHUSDT"))
}
