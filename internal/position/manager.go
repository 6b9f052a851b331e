package position

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"execution-core/internal/margin"
	"execution-core/pkg/common"
)

var log = logrus.WithField("component", "position_manager")

// Key identifies a position. An empty StrategyID is the account-level position.
type Key struct {
	Symbol     string
	StrategyID string
}

// Fill is one execution routed to the ledger.
type Fill struct {
	OrderID    string
	Symbol     string
	StrategyID string
	Side       common.Side
	Qty        decimal.Decimal
	Price      decimal.Decimal
	IsTaker    bool
	Time       time.Time
}

// ExchangePosition seeds an account-level position from the exchange.
type ExchangePosition struct {
	Symbol            string
	Amount            decimal.Decimal
	EntryPrice        decimal.Decimal
	UnrealisedPnL     decimal.Decimal
	MaintenanceMargin decimal.Decimal
}

// RealizedPnL is emitted when a trade reduces, closes or flips a position.
type RealizedPnL struct {
	Symbol     string
	StrategyID string
	Realized   decimal.Decimal
	Fee        decimal.Decimal
	Net        decimal.Decimal
	Time       time.Time
}

// SnapshotStore persists point-in-time positions. Implementations must not block.
type SnapshotStore interface {
	SavePosition(p Position)
}

// MarginSource resolves maintenance-margin brackets.
type MarginSource interface {
	BracketByNotional(symbol string, notional decimal.Decimal) (margin.Bracket, bool)
}

type slot struct {
	mu  sync.Mutex
	pos *Position
}

// Manager owns every Position and serialises mutation per key.
type Manager struct {
	margins MarginSource
	fees    *FeeSchedule
	store   SnapshotStore

	mu        sync.RWMutex
	positions map[Key]*slot
	marks     map[string]decimal.Decimal

	lmu               sync.RWMutex
	realizedListeners []func(RealizedPnL)
	upnlListeners     []func(total decimal.Decimal)
	mmListeners       []func(total decimal.Decimal)
	changeListeners   []func(Position)
}

// NewManager wires margin brackets and fee rates. store may be nil.
func NewManager(margins MarginSource, fees *FeeSchedule, store SnapshotStore) *Manager {
	if fees == nil {
		fees = NewFeeSchedule(Fees{})
	}
	return &Manager{
		margins:   margins,
		fees:      fees,
		store:     store,
		positions: make(map[Key]*slot),
		marks:     make(map[string]decimal.Decimal),
	}
}

// AddRealizedPnLListener is called once per closing trade and per affected key.
func (m *Manager) AddRealizedPnLListener(fn func(RealizedPnL)) {
	m.lmu.Lock()
	m.realizedListeners = append(m.realizedListeners, fn)
	m.lmu.Unlock()
}

// AddUnrealisedPnLListener receives the account-level unrealised PnL total.
func (m *Manager) AddUnrealisedPnLListener(fn func(decimal.Decimal)) {
	m.lmu.Lock()
	m.upnlListeners = append(m.upnlListeners, fn)
	m.lmu.Unlock()
}

// AddMaintenanceMarginListener receives the account-level maintenance margin total.
func (m *Manager) AddMaintenanceMarginListener(fn func(decimal.Decimal)) {
	m.lmu.Lock()
	m.mmListeners = append(m.mmListeners, fn)
	m.lmu.Unlock()
}

// AddPositionListener receives a snapshot after every mutation.
func (m *Manager) AddPositionListener(fn func(Position)) {
	m.lmu.Lock()
	m.changeListeners = append(m.changeListeners, fn)
	m.lmu.Unlock()
}

func (m *Manager) slot(k Key, create bool) *slot {
	m.mu.RLock()
	s, ok := m.positions[k]
	m.mu.RUnlock()
	if ok || !create {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.positions[k]; ok {
		return s
	}
	s = &slot{pos: New(k.Symbol, k.StrategyID, m.fees.Get(k.Symbol))}
	m.positions[k] = s
	return s
}

// InitialPositions seeds account-level positions reported by the exchange.
func (m *Manager) InitialPositions(list []ExchangePosition) {
	for _, ep := range list {
		s := m.slot(Key{Symbol: ep.Symbol}, true)
		s.mu.Lock()
		s.pos.Amount = ep.Amount
		s.pos.EntryPrice = ep.EntryPrice
		s.pos.UnrealisedPnL = ep.UnrealisedPnL
		s.pos.MaintenanceMargin = ep.MaintenanceMargin
		s.pos.UpdatedAt = time.Now()
		snap := s.pos.Snapshot()
		s.mu.Unlock()
		log.WithField("symbol", ep.Symbol).Infof("initial position %s", snap.String())
		m.changed(snap)
	}
}

// OnFill applies a fill to the strategy position (if any) and to the account-level position.
func (m *Manager) OnFill(f Fill) {
	if !f.Qty.IsPositive() || !f.Price.IsPositive() {
		log.WithField("order_id", f.OrderID).Errorf("fill with qty=%s price=%s skipped", f.Qty, f.Price)
		return
	}
	signed := f.Side.Signed(f.Qty)
	keys := []Key{{Symbol: f.Symbol}}
	if f.StrategyID != "" {
		keys = append(keys, Key{Symbol: f.Symbol, StrategyID: f.StrategyID})
	}
	for _, k := range keys {
		m.applyTrade(k, signed, f)
	}
	m.publishTotals()
}

func (m *Manager) applyTrade(k Key, signed decimal.Decimal, f Fill) {
	s := m.slot(k, true)
	s.mu.Lock()
	res := s.pos.AddTrade(signed, f.Price, f.IsTaker)
	m.revalue(s.pos)
	snap := s.pos.Snapshot()
	s.mu.Unlock()

	if res.Closing {
		ev := RealizedPnL{
			Symbol:     k.Symbol,
			StrategyID: k.StrategyID,
			Realized:   res.Realized,
			Fee:        res.Fee,
			Net:        res.NetPnL,
			Time:       f.Time,
		}
		m.lmu.RLock()
		listeners := append([]func(RealizedPnL){}, m.realizedListeners...)
		m.lmu.RUnlock()
		for _, fn := range listeners {
			safeCall("realized_pnl", func() { fn(ev) })
		}
	}
	m.changed(snap)
}

// revalue recomputes margin and unrealised PnL at the last mark. Caller holds the slot lock.
func (m *Manager) revalue(p *Position) {
	m.mu.RLock()
	mark, ok := m.marks[p.Symbol]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if m.margins != nil {
		if b, found := m.margins.BracketByNotional(p.Symbol, p.Notional(mark)); found {
			p.UpdateMaintenanceMargin(mark, b.MaintMarginRatio, b.Cum)
		}
	}
	p.UpdateUnrealisedPnL(mark)
}

// OnMarkPrice revalues every position of the symbol.
func (m *Manager) OnMarkPrice(mp common.MarkPrice) {
	if !mp.Price.IsPositive() {
		return
	}
	m.mu.Lock()
	m.marks[mp.Symbol] = mp.Price
	slots := make([]*slot, 0, 4)
	for k, s := range m.positions {
		if k.Symbol == mp.Symbol {
			slots = append(slots, s)
		}
	}
	m.mu.Unlock()

	for _, s := range slots {
		s.mu.Lock()
		m.revalue(s.pos)
		snap := s.pos.Snapshot()
		s.mu.Unlock()
		m.changed(snap)
	}
	if len(slots) > 0 {
		m.publishTotals()
	}
}

// SetOpenOrders records the working order count on a position.
func (m *Manager) SetOpenOrders(symbol, strategyID string, n int) {
	s := m.slot(Key{Symbol: symbol, StrategyID: strategyID}, true)
	s.mu.Lock()
	s.pos.OpenOrders = n
	s.mu.Unlock()
}

// ResetPosition zeroes a flat position's entry price after a full close.
func (m *Manager) ResetPosition(symbol, strategyID string) bool {
	s := m.slot(Key{Symbol: symbol, StrategyID: strategyID}, false)
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.pos.Reset()
	snap := s.pos.Snapshot()
	s.mu.Unlock()
	m.changed(snap)
	return true
}

// Position returns a snapshot of the (symbol, strategy) position.
func (m *Manager) Position(symbol, strategyID string) (Position, bool) {
	s := m.slot(Key{Symbol: symbol, StrategyID: strategyID}, false)
	if s == nil {
		return Position{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos.Snapshot(), true
}

// PositionAmount is the signed amount, zero when unknown.
func (m *Manager) PositionAmount(symbol, strategyID string) decimal.Decimal {
	p, _ := m.Position(symbol, strategyID)
	return p.Amount
}

// AggregatePosition nets every strategy position of symbol.
// Without strategy positions it falls back to the account-level one.
func (m *Manager) AggregatePosition(symbol string) (Position, bool) {
	agg := Position{Symbol: symbol}
	found := false
	var weighted decimal.Decimal
	for _, p := range m.Positions() {
		if p.Symbol != symbol || p.StrategyID == "" {
			continue
		}
		found = true
		agg.Amount = agg.Amount.Add(p.Amount)
		agg.NetRealizedPnL = agg.NetRealizedPnL.Add(p.NetRealizedPnL)
		agg.UnrealisedPnL = agg.UnrealisedPnL.Add(p.UnrealisedPnL)
		agg.TotalTradingCost = agg.TotalTradingCost.Add(p.TotalTradingCost)
		agg.MaintenanceMargin = agg.MaintenanceMargin.Add(p.MaintenanceMargin)
		agg.OpenOrders += p.OpenOrders
		weighted = weighted.Add(p.Amount.Mul(p.EntryPrice))
		if p.UpdatedAt.After(agg.UpdatedAt) {
			agg.UpdatedAt = p.UpdatedAt
			agg.MarkPrice = p.MarkPrice
		}
	}
	if !found {
		return m.Position(symbol, "")
	}
	if !agg.Amount.IsZero() {
		agg.EntryPrice = weighted.Div(agg.Amount)
	}
	return agg, true
}

// Positions returns snapshots of all positions ordered by symbol then strategy.
func (m *Manager) Positions() []Position {
	m.mu.RLock()
	slots := make([]*slot, 0, len(m.positions))
	for _, s := range m.positions {
		slots = append(slots, s)
	}
	m.mu.RUnlock()

	out := make([]Position, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		out = append(out, s.pos.Snapshot())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].StrategyID < out[j].StrategyID
	})
	return out
}

// TotalUnrealisedPnL sums account-level positions.
func (m *Manager) TotalUnrealisedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.Positions() {
		if p.StrategyID == "" {
			total = total.Add(p.UnrealisedPnL)
		}
	}
	return total
}

// TotalMaintenanceMargin sums account-level positions.
func (m *Manager) TotalMaintenanceMargin() decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.Positions() {
		if p.StrategyID == "" {
			total = total.Add(p.MaintenanceMargin)
		}
	}
	return total
}

func (m *Manager) publishTotals() {
	m.lmu.RLock()
	upnl := append([]func(decimal.Decimal){}, m.upnlListeners...)
	mm := append([]func(decimal.Decimal){}, m.mmListeners...)
	m.lmu.RUnlock()
	if len(upnl) == 0 && len(mm) == 0 {
		return
	}

	totalUPnL := m.TotalUnrealisedPnL()
	for _, fn := range upnl {
		safeCall("unrealised_pnl", func() { fn(totalUPnL) })
	}
	totalMM := m.TotalMaintenanceMargin()
	for _, fn := range mm {
		safeCall("maintenance_margin", func() { fn(totalMM) })
	}
}

func (m *Manager) changed(snap Position) {
	if m.store != nil {
		m.store.SavePosition(snap)
	}
	m.lmu.RLock()
	listeners := append([]func(Position){}, m.changeListeners...)
	m.lmu.RUnlock()
	for _, fn := range listeners {
		safeCall("position_change", func() { fn(snap) })
	}
}

func safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("listener", name).Errorf("listener panicked: %v", r)
		}
	}()
	fn()
}
