package order

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"execution-core/pkg/common"
)

var bpsDivisor = decimal.NewFromInt(10000)

// PriceLookup returns the latest reference price for a symbol.
type PriceLookup func(symbol string) (decimal.Decimal, bool)

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	SlippageBps decimal.Decimal // worst-case adverse slippage on taker fills
	LatencyMin  time.Duration   // simulated venue latency lower bound
	LatencyMax  time.Duration   // simulated venue latency upper bound
}

// PaperExecutor fills orders locally. Market and limit orders fill at once;
// stop-market orders rest until OnMarkPrice crosses their trigger.
type PaperExecutor struct {
	cfg    PaperConfig
	prices PriceLookup

	sinkMu sync.RWMutex
	sink   EventSink

	rngMu sync.Mutex
	rng   *rand.Rand

	mu    sync.Mutex
	stops map[string]Order

	fills atomic.Uint64
}

func NewPaperExecutor(cfg PaperConfig, prices PriceLookup) *PaperExecutor {
	if cfg.LatencyMax > 0 && cfg.LatencyMin > cfg.LatencyMax {
		cfg.LatencyMin, cfg.LatencyMax = cfg.LatencyMax, cfg.LatencyMin
	}
	return &PaperExecutor{
		cfg:    cfg,
		prices: prices,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		stops:  make(map[string]Order),
	}
}

// SetSink wires the execution report consumer.
func (p *PaperExecutor) SetSink(sink EventSink) {
	p.sinkMu.Lock()
	p.sink = sink
	p.sinkMu.Unlock()
}

func (p *PaperExecutor) emit(ev OrderEvent) {
	p.sinkMu.RLock()
	sink := p.sink
	p.sinkMu.RUnlock()
	if sink == nil {
		log.WithField("order_id", ev.OrderID).Warn("paper executor has no sink, dropping event")
		return
	}
	ev.Time = time.Now()
	sink(ev)
}

// OnSignal acknowledges o and fills or parks it.
func (p *PaperExecutor) OnSignal(ctx context.Context, o Order) error {
	if err := p.simulateLatency(ctx); err != nil {
		return err
	}
	p.emit(OrderEvent{OrderID: o.ID, ExchangeOrderID: "PAPER-" + o.ID, Status: common.StatusNew})

	if o.Type == common.OrderTypeStopMarket {
		p.mu.Lock()
		p.stops[o.ID] = o
		p.mu.Unlock()
		log.WithField("order_id", o.ID).WithField("trigger", o.TriggerPrice.String()).Debug("stop parked")
		return nil
	}

	price := o.Price
	if o.Type == common.OrderTypeMarket && p.prices != nil {
		if mark, ok := p.prices(o.Symbol); ok && mark.IsPositive() {
			price = mark
		}
	}
	if !price.IsPositive() {
		p.emit(OrderEvent{OrderID: o.ID, Status: common.StatusFailed, Reason: "no fill price"})
		return nil
	}
	taker := o.Type != common.OrderTypeLimit
	if taker {
		price = p.slip(o.Side, price)
	}
	p.fill(o, price, taker)
	return nil
}

// OnMarkPrice triggers parked stops for mp.Symbol.
func (p *PaperExecutor) OnMarkPrice(mp common.MarkPrice) {
	var triggered []Order
	p.mu.Lock()
	for id, o := range p.stops {
		if o.Symbol != mp.Symbol {
			continue
		}
		hit := (o.Side == common.SideSell && mp.Price.LessThanOrEqual(o.TriggerPrice)) ||
			(o.Side == common.SideBuy && mp.Price.GreaterThanOrEqual(o.TriggerPrice))
		if hit {
			triggered = append(triggered, o)
			delete(p.stops, id)
		}
	}
	p.mu.Unlock()

	for _, o := range triggered {
		log.WithField("order_id", o.ID).Infof("stop triggered at %s (trigger %s)", mp.Price, o.TriggerPrice)
		p.fill(o, p.slip(o.Side, mp.Price), true)
	}
}

// Cancel cancels a parked stop.
func (p *PaperExecutor) Cancel(orderID string) bool {
	p.mu.Lock()
	_, ok := p.stops[orderID]
	delete(p.stops, orderID)
	p.mu.Unlock()
	if ok {
		p.emit(OrderEvent{OrderID: orderID, Status: common.StatusCanceled, Reason: "canceled"})
	}
	return ok
}

// ParkedStops returns the number of resting stops.
func (p *PaperExecutor) ParkedStops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stops)
}

// Fills returns the number of simulated fills.
func (p *PaperExecutor) Fills() uint64 { return p.fills.Load() }

func (p *PaperExecutor) fill(o Order, price decimal.Decimal, taker bool) {
	p.fills.Add(1)
	p.emit(OrderEvent{
		OrderID:         o.ID,
		Status:          common.StatusFilled,
		Side:            o.Side,
		LastFilledQty:   o.Quantity,
		LastFilledPrice: price,
		IsTaker:         taker,
	})
}

func (p *PaperExecutor) slip(side common.Side, price decimal.Decimal) decimal.Decimal {
	if !p.cfg.SlippageBps.IsPositive() {
		return price
	}
	p.rngMu.Lock()
	noise := p.rng.Float64()
	p.rngMu.Unlock()
	frac := p.cfg.SlippageBps.Div(bpsDivisor).Mul(decimal.NewFromFloat(noise))
	if side == common.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(frac)).Round(8)
	}
	return price.Mul(decimal.NewFromInt(1).Sub(frac)).Round(8)
}

func (p *PaperExecutor) simulateLatency(ctx context.Context) error {
	if p.cfg.LatencyMax <= 0 {
		return nil
	}
	delay := p.cfg.LatencyMin
	if span := p.cfg.LatencyMax - p.cfg.LatencyMin; span > 0 {
		p.rngMu.Lock()
		delay += time.Duration(p.rng.Int63n(int64(span) + 1))
		p.rngMu.Unlock()
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
