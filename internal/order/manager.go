package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/pool"
	"execution-core/internal/position"
	"execution-core/internal/risk"
	"execution-core/pkg/common"
	"execution-core/pkg/decimalx"
)

var log = logrus.WithField("component", "order_manager")

// RiskGate is the pre-trade check run before an order is queued.
type RiskGate interface {
	ValidateOrder(risk.Order) error
}

// Sizer turns requested sizes into exchange-legal quantities.
type Sizer interface {
	EffectiveQuantity(orderType common.OrderType, symbol string, qty decimal.Decimal) (decimal.Decimal, error)
	EffectiveQuantityByNotional(orderType common.OrderType, symbol string, notional decimal.Decimal) (decimal.Decimal, error)
}

// FillSink receives every fill, normally the position manager.
type FillSink interface {
	OnFill(position.Fill)
}

// Journal records orders and fills. Implementations must not block.
type Journal interface {
	SaveOrder(o Order, meta OrderMeta)
	SaveFill(f position.Fill)
}

// Config sizes the manager.
type Config struct {
	QueueSize int
	PoolSize  int
	IDPrefix  string
	// PollInterval bounds how long the worker waits on an empty queue
	// before re-checking the running flag.
	PollInterval time.Duration
	// EntryTTL is how long a filled entry waits for a linked stop request.
	EntryTTL time.Duration
}

// StrategyStats are per-strategy counters.
type StrategyStats struct {
	Submitted uint64 `json:"submitted"`
	Rejected  uint64 `json:"rejected"`
	Filled    uint64 `json:"filled"`
	Canceled  uint64 `json:"canceled"`
	Failed    uint64 `json:"failed"`
}

// Stats is a snapshot of the manager counters.
type Stats struct {
	Submitted    uint64                   `json:"submitted"`
	Rejected     uint64                   `json:"rejected"`
	Dispatched   uint64                   `json:"dispatched"`
	Filled       uint64                   `json:"filled"`
	Canceled     uint64                   `json:"canceled"`
	Failed       uint64                   `json:"failed"`
	QueueSize    int                      `json:"queue_size"`
	LiveOrders   int                      `json:"live_orders"`
	PendingStops int                      `json:"pending_stops"`
	Entries      int                      `json:"filled_entries"`
	Running      bool                     `json:"running"`
	Pool         pool.Stats               `json:"pool"`
	Strategies   map[string]StrategyStats `json:"strategies"`
}

// Rejection is published when an order does not reach the queue.
type Rejection struct {
	Order  Order  `json:"order"`
	Reason string `json:"reason"`
}

type liveOrder struct {
	order    *Order
	queuedAt time.Time
}

// Manager is the FCFS order manager: one global FIFO queue drained by a
// single worker, with order state, entry/stop linkage and per-strategy
// positions kept under one lock.
type Manager struct {
	cfg      Config
	queue    *Queue
	pool     *pool.Pool[Order, *Order]
	ids      *IDGenerator
	executor Executor
	risk     RiskGate
	sizer    Sizer

	fills   FillSink
	journal Journal
	bus     events.Publisher
	metrics *monitor.SystemMetrics

	mu           sync.Mutex
	live         map[string]liveOrder
	meta         map[string]OrderMeta
	entries      map[signalKey]EntryFill
	pendingStops map[signalKey]StopRequest
	strategyPos  map[strategyKey]decimal.Decimal
	openOrders   map[string]int
	stats        Stats
	perStrategy  map[string]*StrategyStats

	listenersMu         sync.RWMutex
	openOrdersListeners []func(symbol string, n int)

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager wires the manager. risk and sizer may be nil to skip those steps.
func NewManager(cfg Config, executor Executor, rg RiskGate, sizer Sizer) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4096
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 15 * time.Minute
	}
	return &Manager{
		cfg:          cfg,
		queue:        NewQueue(cfg.QueueSize),
		pool:         pool.New[Order](cfg.PoolSize),
		ids:          NewIDGenerator(cfg.IDPrefix),
		executor:     executor,
		risk:         rg,
		sizer:        sizer,
		live:         make(map[string]liveOrder),
		meta:         make(map[string]OrderMeta),
		entries:      make(map[signalKey]EntryFill),
		pendingStops: make(map[signalKey]StopRequest),
		strategyPos:  make(map[strategyKey]decimal.Decimal),
		openOrders:   make(map[string]int),
		perStrategy:  make(map[string]*StrategyStats),
	}
}

func (m *Manager) SetFillSink(s FillSink)                    { m.fills = s }
func (m *Manager) SetJournal(j Journal)                      { m.journal = j }
func (m *Manager) SetBus(bus events.Publisher)               { m.bus = bus }
func (m *Manager) SetMetrics(metrics *monitor.SystemMetrics) { m.metrics = metrics }

// AddOpenOrdersListener registers fn for per-symbol working order counts.
func (m *Manager) AddOpenOrdersListener(fn func(symbol string, n int)) {
	m.listenersMu.Lock()
	m.openOrdersListeners = append(m.openOrdersListeners, fn)
	m.listenersMu.Unlock()
}

// IDs exposes the id generator, e.g. to recognise own orders on a venue stream.
func (m *Manager) IDs() *IDGenerator { return m.ids }

// NewOrder takes an order from the pool with a fresh id in PENDING_NEW.
func (m *Manager) NewOrder() (*Order, error) {
	h, o, ok := m.pool.Acquire()
	if !ok {
		return nil, ErrPoolExhausted
	}
	now := time.Now()
	o.slot = h
	o.ID = m.ids.Next()
	o.Status = common.StatusPendingNew
	o.CreatedAt = now
	o.UpdatedAt = now
	return o, nil
}

func (m *Manager) recycle(o *Order) {
	if m.pool.Get(o.slot) == o {
		m.pool.Release(o.slot)
	}
}

// OnSignal sizes and submits a market order for a strategy signal.
func (m *Manager) OnSignal(sig Signal) bool {
	if m.metrics != nil {
		m.metrics.IncrementSignals()
	}
	entry := log.WithFields(logrus.Fields{"strategy": sig.StrategyID, "symbol": sig.Symbol})
	side, ok := common.SideFromSignal(sig.Direction)
	if !ok {
		entry.Debug("flat signal ignored")
		return false
	}
	qty, err := m.size(sig, side)
	if err != nil {
		entry.WithField("reason", err.Error()).Warn("signal not sized")
		m.countRejection(sig.StrategyID)
		return false
	}

	o, err := m.NewOrder()
	if err != nil {
		entry.WithField("reason", err.Error()).Warn("signal dropped")
		m.countRejection(sig.StrategyID)
		return false
	}
	o.StrategyID = sig.StrategyID
	o.Symbol = sig.Symbol
	o.Side = side
	o.Type = common.OrderTypeMarket
	o.Quantity = qty
	o.Price = sig.Price

	meta := OrderMeta{SignalID: sig.SignalID, Tags: append([]string(nil), sig.Tags...)}
	if sig.Context != nil {
		meta.Action = sig.Context.Action
		meta.Tags = append(meta.Tags, sig.Context.Tags...)
		if sig.Context.Reason != "" {
			entry = entry.WithField("signal_reason", sig.Context.Reason)
		}
	}
	entry.Debugf("signal %d -> %s %s", sig.Direction, side, qty)
	return m.SubmitOrderInternal(o, meta)
}

func (m *Manager) size(sig Signal, side common.Side) (decimal.Decimal, error) {
	if err := sig.Size.Validate(); err != nil {
		return decimal.Zero, err
	}
	var (
		qty decimal.Decimal
		err error
	)
	switch sig.Size.Mode {
	case SizeQuantity:
		qty = sig.Size.Quantity
		if m.sizer != nil {
			qty, err = m.sizer.EffectiveQuantity(common.OrderTypeMarket, sig.Symbol, qty)
		}
	case SizeNotional:
		if m.sizer != nil {
			qty, err = m.sizer.EffectiveQuantityByNotional(common.OrderTypeMarket, sig.Symbol, sig.Size.Notional)
		} else if sig.Price.IsPositive() {
			qty = sig.Size.Notional.Div(sig.Price)
		} else {
			err = fmt.Errorf("%w: notional sizing needs a price", ErrInvalidSize)
		}
	}
	if err != nil {
		return decimal.Zero, err
	}

	if sig.ActionMode == PositionReversal {
		pos := m.StrategyPosition(sig.StrategyID, sig.Symbol)
		if !pos.IsZero() && pos.Sign() != side.Signed(decimal.NewFromInt(1)).Sign() {
			qty = qty.Add(pos.Abs())
		}
	}
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: computed quantity %s", ErrInvalidSize, qty)
	}
	return qty, nil
}

// SubmitOrderInternal risk-checks o and appends it to the global queue.
// The manager owns o from here on; rejected orders go back to the pool.
func (m *Manager) SubmitOrderInternal(o *Order, meta OrderMeta) bool {
	if o == nil {
		return false
	}
	if o.ID == "" {
		m.reject(o, ErrMissingID)
		return false
	}
	if m.risk != nil {
		start := time.Now()
		err := m.risk.ValidateOrder(risk.Order{
			Symbol:     o.Symbol,
			StrategyID: o.StrategyID,
			Side:       o.Side,
			Type:       o.Type,
			Quantity:   o.Quantity,
			Price:      o.Price,
		})
		if m.metrics != nil {
			m.metrics.RiskLatency.RecordDuration(time.Since(start))
		}
		if err != nil {
			m.reject(o, err)
			return false
		}
	}
	meta = metaFromTags(meta)
	if meta.TriggerPrice.IsZero() {
		meta.TriggerPrice = o.TriggerPrice
	}

	m.mu.Lock()
	now := time.Now()
	o.UpdatedAt = now
	snap := *o
	if !m.queue.Enqueue(snap) {
		m.mu.Unlock()
		m.reject(o, ErrQueueFull)
		return false
	}
	m.live[o.ID] = liveOrder{order: o, queuedAt: now}
	m.meta[o.ID] = meta
	m.openOrders[o.Symbol]++
	open := m.openOrders[o.Symbol]
	m.stats.Submitted++
	m.strategyStats(o.StrategyID).Submitted++
	m.mu.Unlock()

	log.WithFields(logrus.Fields{
		"order_id": snap.ID,
		"strategy": snap.StrategyID,
		"symbol":   snap.Symbol,
		"side":     snap.Side,
		"type":     snap.Type,
		"qty":      snap.Quantity.String(),
		"action":   meta.Action,
	}).Info("order queued")

	if m.metrics != nil {
		m.metrics.IncrementQueued()
	}
	m.notifyOpenOrders(snap.Symbol, open)
	if m.journal != nil {
		m.journal.SaveOrder(snap, meta)
	}
	m.publish(events.EventOrderQueued, snap)
	return true
}

func (m *Manager) reject(o *Order, err error) {
	snap := *o
	m.countRejection(o.StrategyID)
	log.WithFields(logrus.Fields{
		"order_id": snap.ID,
		"strategy": snap.StrategyID,
		"symbol":   snap.Symbol,
		"reason":   err.Error(),
	}).Warn("order rejected")
	m.recycle(o)
	m.publish(events.EventOrderRejected, Rejection{Order: snap, Reason: err.Error()})
}

func (m *Manager) countRejection(strategyID string) {
	m.mu.Lock()
	m.stats.Rejected++
	m.strategyStats(strategyID).Rejected++
	m.mu.Unlock()
}

// strategyStats returns the counters for id. Caller holds mu.
func (m *Manager) strategyStats(id string) *StrategyStats {
	s, ok := m.perStrategy[id]
	if !ok {
		s = &StrategyStats{}
		m.perStrategy[id] = s
	}
	return s
}

// SubmitMarketOrder submits a market order with an explicit quantity.
func (m *Manager) SubmitMarketOrder(req MarketRequest) bool {
	entry := log.WithFields(logrus.Fields{"strategy": req.StrategyID, "symbol": req.Symbol})
	if !req.Side.Valid() || !req.Quantity.IsPositive() {
		entry.Warnf("invalid market order: side=%q qty=%s", req.Side, req.Quantity)
		m.countRejection(req.StrategyID)
		return false
	}
	o, err := m.NewOrder()
	if err != nil {
		entry.WithField("reason", err.Error()).Warn("market order dropped")
		m.countRejection(req.StrategyID)
		return false
	}
	o.StrategyID = req.StrategyID
	o.Symbol = req.Symbol
	o.Side = req.Side
	o.Type = common.OrderTypeMarket
	o.Quantity = req.Quantity
	o.Price = req.Price
	return m.SubmitOrderInternal(o, OrderMeta{SignalID: req.SignalID, Action: req.Action, Tags: req.Tags})
}

// SubmitMarketEntry submits a market order tagged as an entry, so a stop
// linked by the same signal id follows its fill.
func (m *Manager) SubmitMarketEntry(req MarketRequest) bool {
	req.Action = ActionEntry
	return m.SubmitMarketOrder(req)
}

// SubmitMarketClose flattens the strategy's own position on symbol.
// Other strategies' positions on the same symbol are untouched.
func (m *Manager) SubmitMarketClose(strategyID, symbol string, price decimal.Decimal) bool {
	pos := m.StrategyPosition(strategyID, symbol)
	if pos.IsZero() {
		log.WithFields(logrus.Fields{"strategy": strategyID, "symbol": symbol}).Warn(ErrNothingToClose.Error())
		m.countRejection(strategyID)
		return false
	}
	side := common.SideSell
	if pos.IsNegative() {
		side = common.SideBuy
	}
	return m.SubmitMarketOrder(MarketRequest{
		StrategyID: strategyID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   pos.Abs(),
		Price:      price,
		Action:     ActionClose,
	})
}

// SubmitStopMarketOrder submits a stop-market order. With no quantity the
// stop is linked to the entry carrying the same signal id: if that entry has
// filled the stop is sized from it now, otherwise it is parked and submitted
// when the entry fills. Parking returns true.
func (m *Manager) SubmitStopMarketOrder(req StopRequest) bool {
	entry := log.WithFields(logrus.Fields{"strategy": req.StrategyID, "symbol": req.Symbol, "signal_id": req.SignalID})
	if !req.TriggerPrice.IsPositive() {
		entry.Warnf("stop rejected: trigger price %s", req.TriggerPrice)
		m.countRejection(req.StrategyID)
		return false
	}
	if req.Quantity.Valid {
		return m.submitStop(req, req.Quantity.Decimal, req.Side)
	}
	if req.SignalID == "" {
		entry.Warn(ErrMissingSignalID.Error())
		m.countRejection(req.StrategyID)
		return false
	}

	key := signalKey{StrategyID: req.StrategyID, Symbol: req.Symbol, SignalID: req.SignalID}
	m.mu.Lock()
	fill, filled := m.entries[key]
	if filled {
		delete(m.entries, key)
	} else {
		m.pendingStops[key] = req
	}
	m.mu.Unlock()

	if filled {
		return m.submitStop(req, fill.Qty, fill.Side.Opposite())
	}
	entry.Infof("stop parked until entry fills (trigger %s)", req.TriggerPrice)
	m.publish(events.EventStopParked, req)
	return true
}

func (m *Manager) submitStop(req StopRequest, qty decimal.Decimal, side common.Side) bool {
	entry := log.WithFields(logrus.Fields{"strategy": req.StrategyID, "symbol": req.Symbol})
	if !side.Valid() || !qty.IsPositive() {
		entry.Warnf("invalid stop: side=%q qty=%s", side, qty)
		m.countRejection(req.StrategyID)
		return false
	}
	o, err := m.NewOrder()
	if err != nil {
		entry.WithField("reason", err.Error()).Warn("stop dropped")
		m.countRejection(req.StrategyID)
		return false
	}
	o.StrategyID = req.StrategyID
	o.Symbol = req.Symbol
	o.Side = side
	o.Type = common.OrderTypeStopMarket
	o.Quantity = qty.Abs()
	o.Price = req.TriggerPrice
	o.TriggerPrice = req.TriggerPrice
	return m.SubmitOrderInternal(o, OrderMeta{
		SignalID:     req.SignalID,
		Action:       ActionStopLoss,
		TriggerPrice: req.TriggerPrice,
		Tags:         req.Tags,
	})
}

// OnOrderEvent applies an execution report. Terminal orders leave the live
// set and return to the pool. Events for unknown ids are logged and skipped.
func (m *Manager) OnOrderEvent(ev OrderEvent) {
	m.mu.Lock()
	lo, ok := m.live[ev.OrderID]
	if !ok {
		m.mu.Unlock()
		log.WithFields(logrus.Fields{"order_id": ev.OrderID, "status": ev.Status}).
			Errorf("%v: event skipped", ErrUnknownOrder)
		return
	}
	o := lo.order
	meta := m.meta[o.ID]

	var (
		fill      *position.Fill
		linked    *StopRequest
		linkedQty decimal.Decimal
		linkedDir common.Side
	)
	switch ev.Status {
	case common.StatusNew:
		o.OnNew(ev.ExchangeOrderID)
	case common.StatusCanceled:
		o.OnCanceled(ev.Reason)
	case common.StatusFailed:
		o.OnFailed(ev.Reason)
	case common.StatusPartiallyFilled, common.StatusFilled:
		final := ev.Status == common.StatusFilled
		qty := ev.LastFilledQty.Abs()
		if qty.IsZero() {
			if final {
				o.Status = common.StatusFilled
				o.UpdatedAt = time.Now()
			}
			break
		}
		side := ev.Side
		if !side.Valid() {
			side = o.Side
		}
		o.ApplyFill(qty, ev.LastFilledPrice, final)

		sk := strategyKey{StrategyID: o.StrategyID, Symbol: o.Symbol}
		m.strategyPos[sk] = decimalx.RoundPosition(m.strategyPos[sk].Add(side.Signed(qty)))
		fill = &position.Fill{
			OrderID:    o.ID,
			Symbol:     o.Symbol,
			StrategyID: o.StrategyID,
			Side:       side,
			Qty:        qty,
			Price:      ev.LastFilledPrice,
			IsTaker:    ev.IsTaker,
			Time:       ev.Time,
		}
		if fill.Time.IsZero() {
			fill.Time = time.Now()
		}

		if o.Status == common.StatusFilled && meta.Action == ActionEntry && meta.SignalID != "" {
			key := signalKey{StrategyID: o.StrategyID, Symbol: o.Symbol, SignalID: meta.SignalID}
			ef := EntryFill{Qty: o.FilledQty, Side: o.Side, Price: o.AvgPrice, FilledAt: fill.Time}
			if req, parked := m.pendingStops[key]; parked {
				delete(m.pendingStops, key)
				linked, linkedQty, linkedDir = &req, ef.Qty, ef.Side.Opposite()
			} else {
				m.expireEntries(fill.Time)
				m.entries[key] = ef
			}
		}
		if m.strategyPos[sk].IsZero() {
			m.dropEntries(sk)
		}
	default:
		log.WithField("order_id", o.ID).Warnf("unhandled order status %q", ev.Status)
	}

	snap := *o
	terminal := o.IsTerminal()
	open := -1
	if terminal {
		delete(m.live, o.ID)
		delete(m.meta, o.ID)
		m.openOrders[o.Symbol]--
		open = m.openOrders[o.Symbol]
		if open <= 0 {
			delete(m.openOrders, o.Symbol)
			open = 0
		}
		ss := m.strategyStats(o.StrategyID)
		switch o.Status {
		case common.StatusFilled:
			m.stats.Filled++
			ss.Filled++
		case common.StatusCanceled:
			m.stats.Canceled++
			ss.Canceled++
		case common.StatusFailed:
			m.stats.Failed++
			ss.Failed++
		}
		m.recycle(o)
	}
	m.mu.Unlock()

	if fill != nil {
		if m.fills != nil {
			m.fills.OnFill(*fill)
		}
		if m.journal != nil {
			m.journal.SaveFill(*fill)
		}
		m.publish(events.EventOrderFilled, *fill)
	}
	if m.journal != nil {
		m.journal.SaveOrder(snap, meta)
	}
	m.publish(events.EventOrderUpdate, snap)
	if open >= 0 {
		m.notifyOpenOrders(snap.Symbol, open)
	}
	if terminal && snap.Status == common.StatusFailed {
		log.WithFields(logrus.Fields{"order_id": snap.ID, "strategy": snap.StrategyID}).Warnf("order failed: %s", snap.Reason)
	}
	if linked != nil {
		log.WithFields(logrus.Fields{"strategy": linked.StrategyID, "signal_id": linked.SignalID}).
			Infof("entry %s filled, submitting linked stop %s %s", snap.ID, linkedDir, linkedQty)
		m.submitStop(*linked, linkedQty, linkedDir)
	}
}

// expireEntries drops filled entries older than EntryTTL. Caller holds mu.
func (m *Manager) expireEntries(now time.Time) {
	for k, ef := range m.entries {
		if now.Sub(ef.FilledAt) > m.cfg.EntryTTL {
			delete(m.entries, k)
		}
	}
}

// dropEntries forgets the filled entries of a flat strategy. Caller holds mu.
func (m *Manager) dropEntries(sk strategyKey) {
	for k := range m.entries {
		if k.StrategyID == sk.StrategyID && k.Symbol == sk.Symbol {
			delete(m.entries, k)
		}
	}
}

// Start launches the queue worker. It is a no-op when already running.
func (m *Manager) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.processOrders(ctx)
	log.Infof("order manager started: queue=%d pool=%d", m.queue.Cap(), m.pool.Size())
}

// Stop clears the running flag and waits up to timeout for the worker.
// It reports whether the worker exited in time.
func (m *Manager) Stop(timeout time.Duration) bool {
	if !m.running.CompareAndSwap(true, false) {
		return true
	}
	m.cancel()
	select {
	case <-m.done:
		log.Info("order manager stopped")
		return true
	case <-time.After(timeout):
		log.Warnf("order manager worker did not stop within %s", timeout)
		return false
	}
}

func (m *Manager) processOrders(ctx context.Context) {
	defer close(m.done)
	for m.running.Load() && ctx.Err() == nil {
		o, ok := m.queue.Dequeue(m.cfg.PollInterval)
		if !ok {
			continue
		}
		m.dispatch(ctx, o)
	}
}

func (m *Manager) dispatch(ctx context.Context, o Order) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("order_id", o.ID).Errorf("dispatch panic: %v", r)
			if m.metrics != nil {
				m.metrics.IncrementErrors()
			}
		}
	}()

	m.mu.Lock()
	lo, live := m.live[o.ID]
	if live {
		m.stats.Dispatched++
	}
	m.mu.Unlock()
	if !live {
		log.WithField("order_id", o.ID).Debug("order left the live set while queued, skipping")
		return
	}
	if m.metrics != nil {
		m.metrics.QueueLatency.RecordDuration(time.Since(lo.queuedAt))
		m.metrics.IncrementDispatched()
	}
	if m.executor == nil {
		m.OnOrderEvent(OrderEvent{OrderID: o.ID, Status: common.StatusFailed, Reason: "no executor"})
		return
	}

	start := time.Now()
	err := m.executor.OnSignal(ctx, o)
	if m.metrics != nil {
		m.metrics.ExecLatency.RecordDuration(time.Since(start))
	}
	if err != nil {
		log.WithField("order_id", o.ID).Errorf("executor error: %v", err)
		m.OnOrderEvent(OrderEvent{OrderID: o.ID, Status: common.StatusFailed, Reason: err.Error(), Time: time.Now()})
	}
}

func (m *Manager) notifyOpenOrders(symbol string, n int) {
	m.listenersMu.RLock()
	listeners := append([]func(string, int){}, m.openOrdersListeners...)
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("symbol", symbol).Errorf("open orders listener panic: %v", r)
				}
			}()
			fn(symbol, n)
		}()
	}
}

func (m *Manager) publish(e events.Event, payload any) {
	if m.bus != nil {
		m.bus.Publish(e, payload)
	}
}

// QueueSize is the number of orders waiting for the worker.
func (m *Manager) QueueSize() int { return m.queue.Len() }

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := m.stats
	s.LiveOrders = len(m.live)
	s.PendingStops = len(m.pendingStops)
	s.Entries = len(m.entries)
	s.Strategies = make(map[string]StrategyStats, len(m.perStrategy))
	for id, ss := range m.perStrategy {
		s.Strategies[id] = *ss
	}
	m.mu.Unlock()
	s.QueueSize = m.queue.Len()
	s.Running = m.running.Load()
	s.Pool = m.pool.Stats()
	return s
}

// StrategyPosition is the strategy's net filled quantity on symbol.
func (m *Manager) StrategyPosition(strategyID, symbol string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategyPos[strategyKey{StrategyID: strategyID, Symbol: symbol}]
}

// OpenOrders is the number of live orders on symbol.
func (m *Manager) OpenOrders(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openOrders[symbol]
}

// Order returns a snapshot of a live order.
func (m *Manager) Order(id string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lo, ok := m.live[id]
	if !ok {
		return Order{}, false
	}
	return *lo.order, true
}

// Meta returns the side-table entry of a live order.
func (m *Manager) Meta(id string) (OrderMeta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.meta[id]
	return meta, ok
}

// LiveOrders returns snapshots of every live order in creation order.
func (m *Manager) LiveOrders() []Order {
	m.mu.Lock()
	out := make([]Order, 0, len(m.live))
	for _, lo := range m.live {
		out = append(out, *lo.order)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PendingStops returns the parked stop requests.
func (m *Manager) PendingStops() []StopRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StopRequest, 0, len(m.pendingStops))
	for _, req := range m.pendingStops {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out
}
