package strategy

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"execution-core/internal/events"
	"execution-core/internal/indicators"
	"execution-core/internal/market"
	"execution-core/internal/order"
	"execution-core/pkg/common"
)

// Stats counts runner activity.
type Stats struct {
	Candles  uint64 `json:"candles"`
	Signals  uint64 `json:"signals"`
	Accepted uint64 `json:"accepted"`
	Stops    uint64 `json:"stops"`
}

// Runner routes completed candles to the strategies bound to their symbol
// and hands the resulting signals to the order manager.
type Runner struct {
	sink OrderSink
	ind  *indicators.Engine

	mu       sync.RWMutex
	bindings map[string][]Binding
	paused   map[string]bool

	candles  atomic.Uint64
	signals  atomic.Uint64
	accepted atomic.Uint64
	stops    atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner. ind may be nil to use the default periods.
func NewRunner(sink OrderSink, ind *indicators.Engine) *Runner {
	if ind == nil {
		ind = indicators.NewEngine(indicators.DefaultPeriods(), 0)
	}
	return &Runner{
		sink:     sink,
		ind:      ind,
		bindings: make(map[string][]Binding),
		paused:   make(map[string]bool),
	}
}

// Add registers a strategy binding.
func (r *Runner) Add(b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sym := b.Strategy.Symbol()
	r.bindings[sym] = append(r.bindings[sym], b)
	log.WithFields(logrus.Fields{"strategy": b.Strategy.ID(), "symbol": sym}).
		Infof("loaded strategy %s", b.Strategy.Name())
}

// Info describes a bound strategy.
type Info struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Symbol     string           `json:"symbol"`
	ActionMode order.ActionMode `json:"action_mode"`
	Size       order.SizeSpec   `json:"size"`
	Paused     bool             `json:"paused"`
}

// Strategies lists the bindings ordered by symbol then registration.
func (r *Runner) Strategies() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	symbols := make([]string, 0, len(r.bindings))
	for sym := range r.bindings {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	var out []Info
	for _, sym := range symbols {
		for _, b := range r.bindings[sym] {
			out = append(out, Info{
				ID:         b.Strategy.ID(),
				Name:       b.Strategy.Name(),
				Symbol:     sym,
				ActionMode: b.ActionMode,
				Size:       b.Size,
				Paused:     r.paused[b.Strategy.ID()],
			})
		}
	}
	return out
}

func (r *Runner) known(id string) bool {
	for _, bs := range r.bindings {
		for _, b := range bs {
			if b.Strategy.ID() == id {
				return true
			}
		}
	}
	return false
}

// Pause stops routing candles to id until Resume. Unknown ids return false.
func (r *Runner) Pause(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.known(id) {
		return false
	}
	r.paused[id] = true
	log.WithField("strategy", id).Info("strategy paused")
	return true
}

func (r *Runner) Resume(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.known(id) {
		return false
	}
	delete(r.paused, id)
	log.WithField("strategy", id).Info("strategy resumed")
	return true
}

// OnCandle evaluates every active strategy on c's symbol.
func (r *Runner) OnCandle(c market.Candle) {
	r.candles.Add(1)
	values := r.ind.OnCandle(c)

	r.mu.RLock()
	bound := make([]Binding, 0, len(r.bindings[c.Symbol]))
	for _, b := range r.bindings[c.Symbol] {
		if !r.paused[b.Strategy.ID()] {
			bound = append(bound, b)
		}
	}
	r.mu.RUnlock()

	for _, b := range bound {
		d := b.Strategy.OnCandle(c, values)
		if d.Direction == 0 {
			continue
		}
		r.signals.Add(1)
		r.submit(b, c, d, values)
	}
}

func (r *Runner) submit(b Binding, c market.Candle, d Decision, values map[string]float64) {
	id := b.Strategy.ID()
	sig := order.Signal{
		StrategyID: id,
		Symbol:     c.Symbol,
		Direction:  d.Direction,
		Price:      c.Close,
		ActionMode: b.ActionMode,
		Size:       b.Size,
		SignalID:   uuid.NewString(),
		Context: &order.SignalContext{
			Reason:     d.Reason,
			Indicators: values,
			Candle:     &c,
			Action:     order.ActionEntry,
		},
	}
	entry := log.WithFields(logrus.Fields{"strategy": id, "symbol": c.Symbol, "signal_id": sig.SignalID})
	if !r.sink.OnSignal(sig) {
		entry.Debugf("signal not accepted: %s", d.Reason)
		return
	}
	r.accepted.Add(1)
	entry.Infof("signal %+d accepted: %s", d.Direction, d.Reason)

	if !b.StopLossPct.IsPositive() {
		return
	}
	side, _ := common.SideFromSignal(d.Direction)
	req := order.StopRequest{
		StrategyID:   id,
		Symbol:       c.Symbol,
		Side:         side.Opposite(),
		TriggerPrice: StopTrigger(side, c.Close, b.StopLossPct),
		SignalID:     sig.SignalID,
		Tags:         []string{"stop_loss"},
	}
	if r.sink.SubmitStopMarketOrder(req) {
		r.stops.Add(1)
	}
}

// StopTrigger places the stop pct below a buy entry or above a sell entry.
func StopTrigger(entrySide common.Side, price, pct decimal.Decimal) decimal.Decimal {
	if entrySide == common.SideSell {
		return price.Mul(decimal.NewFromInt(1).Add(pct))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(pct))
}

// Start consumes candles from bus until ctx ends or Stop is called.
func (r *Runner) Start(ctx context.Context, bus *events.Bus) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := bus.Subscribe(events.EventCandle, 256)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c, isCandle := msg.(market.Candle)
				if !isCandle {
					log.Errorf("unexpected candle payload %T", msg)
					continue
				}
				r.OnCandle(c)
			}
		}
	}()
	log.Info("strategy runner started")
}

// Stop halts the candle loop and waits for it to exit.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Stats returns the counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Candles:  r.candles.Load(),
		Signals:  r.signals.Load(),
		Accepted: r.accepted.Load(),
		Stops:    r.stops.Load(),
	}
}
