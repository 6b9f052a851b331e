package market

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"execution-core/pkg/common"
)

// MockFeed drives a Feed with a synthetic random-walk book for local runs.
type MockFeed struct {
	Feed       *Feed
	StartPrice decimal.Decimal
	Step       decimal.Decimal
	Spread     decimal.Decimal
	Interval   time.Duration
}

func (m *MockFeed) Start(ctx context.Context) {
	if m.Feed == nil {
		log.Warn("mock feed: no feed set")
		return
	}
	price := m.StartPrice
	if !price.IsPositive() {
		price = decimal.NewFromInt(100)
	}
	step := m.Step
	if !step.IsPositive() {
		step = decimal.RequireFromString("0.5")
	}
	spread := m.Spread
	if !spread.IsPositive() {
		spread = decimal.RequireFromString("0.01")
	}
	interval := m.Interval
	if interval <= 0 {
		interval = time.Second
	}

	symbols := m.Feed.Symbols()
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		prices[s] = price
	}
	halfSpread := spread.Div(two)

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				for _, sym := range symbols {
					// simple random walk, floored at one step
					p := prices[sym].Add(step.Mul(decimal.NewFromFloat(rand.Float64()*2 - 1))).Round(8)
					if p.LessThan(step) {
						p = step
					}
					prices[sym] = p
					ts := now.UnixMilli()
					m.Feed.Dispatch(OrderBook{Symbol: sym, Timestamp: ts, BestBid: p.Sub(halfSpread), BestAsk: p.Add(halfSpread)})
					m.Feed.OnMarkPrice(common.MarkPrice{Symbol: sym, Price: p, EventTime: ts})
				}
			}
		}
	}()
}
