package market

import (
	"time"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// OrderBook is a top-of-book update. Timestamp is in milliseconds.
type OrderBook struct {
	Symbol    string          `json:"symbol"`
	Timestamp int64           `json:"timestamp"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
}

// Mid returns (bid+ask)/2.
func (b OrderBook) Mid() decimal.Decimal {
	return b.BestBid.Add(b.BestAsk).Div(two)
}

// Candle is a mid-price OHLC bar. StartTime is the bucket start in milliseconds.
type Candle struct {
	Symbol    string          `json:"symbol"`
	StartTime int64           `json:"start_time"`
	Interval  time.Duration   `json:"interval"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Ticks     int             `json:"ticks"`
}

// EndTime is the exclusive end of the bucket in milliseconds.
func (c Candle) EndTime() int64 {
	return c.StartTime + c.Interval.Milliseconds()
}

// Start returns the bucket start as a UTC time.
func (c Candle) Start() time.Time {
	return time.UnixMilli(c.StartTime).UTC()
}
