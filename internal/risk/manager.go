package risk

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"execution-core/internal/events"
	"execution-core/internal/position"
	"execution-core/pkg/common"
)

var log = logrus.WithField("component", "risk_manager")

// PriceProvider returns the price to value an order at. A zero price with a nil
// error means "no price" and rejects the order; an error falls back to the cached mark.
type PriceProvider func(symbol string) (decimal.Decimal, error)

// PositionSource exposes live positions. When a symbol has an account-level
// position there, it is preferred over the cached mirrors.
type PositionSource interface {
	Position(symbol, strategyID string) (position.Position, bool)
}

// Manager is the pre-trade gate and the lifetime drawdown breaker.
type Manager struct {
	mu  sync.RWMutex
	cfg Config

	whitelist bool
	allowed   map[string]struct{}
	symbols   map[string]SymbolOptions

	aum        decimal.Decimal
	peakAUM    decimal.Decimal
	initialAUM decimal.Decimal
	aumSeen    bool
	ddRatio    decimal.Decimal

	blocked     bool
	blockReason string
	blockedAt   time.Time

	walletBalance decimal.Decimal
	marginRatio   decimal.Decimal
	unrealisedPnL decimal.Decimal
	maintMargin   decimal.Decimal

	positions  map[string]decimal.Decimal
	openOrders map[string]int
	marks      map[string]decimal.Decimal

	lossDay   string
	dailyLoss map[string]decimal.Decimal

	varValue  decimal.Decimal
	varPV     decimal.Decimal
	symbolVaR map[string][2]decimal.Decimal

	priceProvider  PriceProvider
	positionSource PositionSource
	limiter        *rate.Limiter
	bus            events.Publisher

	checks      atomic.Uint64
	rejections  atomic.Uint64
	blockEvents atomic.Uint64
	latencyNs   atomic.Uint64
	causesMu    sync.Mutex
	causes      map[string]uint64

	reportMu     sync.Mutex
	reportCancel context.CancelFunc
	reportDone   chan struct{}
}

// NewInMemory creates a manager with cfg. bus may be nil.
func NewInMemory(cfg Config, bus events.Publisher) *Manager {
	m := &Manager{
		cfg:        cfg,
		allowed:    make(map[string]struct{}),
		symbols:    make(map[string]SymbolOptions),
		positions:  make(map[string]decimal.Decimal),
		openOrders: make(map[string]int),
		marks:      make(map[string]decimal.Decimal),
		dailyLoss:  make(map[string]decimal.Decimal),
		symbolVaR:  make(map[string][2]decimal.Decimal),
		causes:     make(map[string]uint64),
		bus:        bus,
	}
	m.applyConfig(cfg)
	log.Infof("risk manager initialized: max_drawdown=%s min_order_size=%s whitelist=%d",
		cfg.MaxDrawdown, cfg.MinOrderSize, len(m.allowed))
	return m
}

// GetConfig returns a copy of the current config.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// UpdateConfig swaps the limits. The drawdown state and latch are untouched.
func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyConfig(cfg)
}

func (m *Manager) applyConfig(cfg Config) {
	m.cfg = cfg
	m.whitelist = len(cfg.AllowedSymbols) > 0
	m.allowed = make(map[string]struct{}, len(cfg.AllowedSymbols))
	for _, s := range cfg.AllowedSymbols {
		m.allowed[s] = struct{}{}
	}
	m.limiter = nil
	if cfg.OrderRateLimit > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.OrderRateLimit), max(cfg.OrderRateBurst, 1))
	}
}

// SetPriceProvider installs (or clears with nil) the order price provider.
func (m *Manager) SetPriceProvider(p PriceProvider) {
	m.mu.Lock()
	m.priceProvider = p
	m.mu.Unlock()
}

// SetPositionSource wires live positions.
func (m *Manager) SetPositionSource(ps PositionSource) {
	m.mu.Lock()
	m.positionSource = ps
	m.mu.Unlock()
}

// AddSymbol whitelists symbol (when the whitelist is enabled) and stores overrides.
func (m *Manager) AddSymbol(symbol string, opts SymbolOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols[symbol] = opts
	if m.whitelist {
		m.allowed[symbol] = struct{}{}
	}
}

// RemoveSymbol drops overrides and whitelist membership.
func (m *Manager) RemoveSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.symbols, symbol)
	delete(m.allowed, symbol)
}

func (m *Manager) minOrderSize(symbol string) decimal.Decimal {
	if opts, ok := m.symbols[symbol]; ok && opts.MinOrderSize.Valid {
		return opts.MinOrderSize.Decimal
	}
	return m.cfg.MinOrderSize
}

// ValidatePreorder runs the stateless sanity checks.
func (m *Manager) ValidatePreorder(o Order) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.preorder(o)
}

func (m *Manager) preorder(o Order) error {
	if o.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidOrder)
	}
	qty := o.Quantity.Abs()
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity %s", ErrInvalidOrder, o.Quantity)
	}
	if floor := m.minOrderSize(o.Symbol); qty.LessThan(floor) {
		return fmt.Errorf("%w: %s < %s", ErrBelowMinSize, qty, floor)
	}
	return nil
}

// ValidateOrder runs every check and returns nil when the order may be queued.
func (m *Manager) ValidateOrder(o Order) error {
	start := time.Now()
	m.checks.Add(1)
	err := m.validate(o)
	m.latencyNs.Add(uint64(time.Since(start).Nanoseconds()))
	if err != nil {
		m.rejections.Add(1)
		m.countCause(err)
		log.WithFields(logrus.Fields{
			"symbol":   o.Symbol,
			"strategy": o.StrategyID,
			"side":     o.Side,
			"qty":      o.Quantity.String(),
		}).Warnf("order rejected: %v", err)
	}
	return err
}

func (m *Manager) validate(o Order) error {
	m.mu.RLock()
	if err := m.preorder(o); err != nil {
		m.mu.RUnlock()
		return err
	}
	if m.blocked {
		ev := m.blockEventLocked()
		m.mu.RUnlock()
		m.publishBlock(ev)
		return fmt.Errorf("%w: %s", ErrTradingBlocked, ev.Reason)
	}
	dd, maxDD := m.ddRatio, m.cfg.MaxDrawdown
	breach := m.peakAUM.IsPositive() && maxDD.IsPositive() && dd.GreaterThan(maxDD)
	m.mu.RUnlock()

	if breach {
		ev, changed := m.block(fmt.Sprintf("max drawdown exceeded: %s > %s", dd.StringFixed(4), maxDD))
		m.publishBlock(ev)
		if changed {
			log.Errorf("trading blocked: %s", ev.Reason)
		}
		return fmt.Errorf("%w: %s > %s", ErrDrawdown, dd.StringFixed(4), maxDD)
	}

	if err := m.checkLimits(o); err != nil {
		return err
	}

	m.mu.RLock()
	limiter := m.limiter
	m.mu.RUnlock()
	if limiter != nil && !limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}

func (m *Manager) checkLimits(o Order) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := m.cfg

	if m.whitelist {
		if _, ok := m.allowed[o.Symbol]; !ok {
			return fmt.Errorf("%w: %s", ErrSymbolNotAllowed, o.Symbol)
		}
	}

	price, ok := m.orderPrice(o)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPrice, o.Symbol)
	}
	qty := o.Quantity.Abs()

	if cfg.MaxOrderValue.IsPositive() {
		if v := qty.Mul(price); v.GreaterThan(cfg.MaxOrderValue) {
			return fmt.Errorf("%w: %s > %s", ErrOrderValue, v, cfg.MaxOrderValue)
		}
	}

	side := o.Side
	if !side.Valid() {
		side = common.SideBuy
	}
	current := m.positionAmount(o.Symbol)
	projected := current.Add(side.Signed(qty))
	reducing := projected.Abs().LessThanOrEqual(current.Abs())

	if !reducing {
		projectedValue := projected.Abs().Mul(price)
		if cfg.MaxPositionValue.IsPositive() && projectedValue.GreaterThan(cfg.MaxPositionValue) {
			return fmt.Errorf("%w: %s > %s", ErrPositionValue, projectedValue, cfg.MaxPositionValue)
		}
		if cfg.MaxLeverage.IsPositive() && m.aum.IsPositive() {
			gross := projectedValue.Add(m.grossExposureExcluding(o.Symbol))
			if lev := gross.Div(m.aum); lev.GreaterThan(cfg.MaxLeverage) {
				return fmt.Errorf("%w: %s > %s", ErrLeverage, lev.StringFixed(4), cfg.MaxLeverage)
			}
		}
	}

	if cfg.MaxOpenOrders > 0 {
		if n := m.openOrderCount(o.Symbol); n >= cfg.MaxOpenOrders {
			return fmt.Errorf("%w: %d >= %d", ErrOpenOrders, n, cfg.MaxOpenOrders)
		}
	}

	if cfg.MaxLossPerDay.IsPositive() && m.aum.IsPositive() {
		threshold := cfg.MaxLossPerDay.Mul(m.aum)
		for _, bucket := range []string{o.Symbol, GlobalBucket} {
			if loss := m.dailyLoss[bucket].Neg(); loss.GreaterThan(threshold) {
				return fmt.Errorf("%w: %s loss %s > %s", ErrDailyLoss, bucket, loss, threshold)
			}
		}
	}

	if cfg.MaxVaRRatio.IsPositive() {
		if r, ok := ratio(m.varValue, m.varPV); ok && r.GreaterThan(cfg.MaxVaRRatio) {
			return fmt.Errorf("%w: global %s > %s", ErrVaR, r.StringFixed(4), cfg.MaxVaRRatio)
		}
		if v, found := m.symbolVaR[o.Symbol]; found {
			if r, ok := ratio(v[0], v[1]); ok && r.GreaterThan(cfg.MaxVaRRatio) {
				return fmt.Errorf("%w: %s %s > %s", ErrVaR, o.Symbol, r.StringFixed(4), cfg.MaxVaRRatio)
			}
		}
	}
	return nil
}

// orderPrice resolves the valuation price. Caller holds mu.
func (m *Manager) orderPrice(o Order) (decimal.Decimal, bool) {
	if o.Price.IsPositive() {
		return o.Price, true
	}
	if m.priceProvider != nil {
		p, err := m.priceProvider(o.Symbol)
		if err == nil {
			return p, p.IsPositive()
		}
		log.WithField("symbol", o.Symbol).Warnf("price provider failed, using cached mark: %v", err)
	}
	p, ok := m.marks[o.Symbol]
	return p, ok && p.IsPositive()
}

func (m *Manager) positionAmount(symbol string) decimal.Decimal {
	if m.positionSource != nil {
		if p, ok := m.positionSource.Position(symbol, ""); ok {
			return p.Amount
		}
	}
	return m.positions[symbol]
}

func (m *Manager) openOrderCount(symbol string) int {
	if m.positionSource != nil {
		if p, ok := m.positionSource.Position(symbol, ""); ok && p.OpenOrders > 0 {
			return p.OpenOrders
		}
	}
	return m.openOrders[symbol]
}

func (m *Manager) grossExposureExcluding(symbol string) decimal.Decimal {
	total := decimal.Zero
	for sym, amt := range m.positions {
		if sym == symbol {
			continue
		}
		if mark, ok := m.marks[sym]; ok {
			total = total.Add(amt.Abs().Mul(mark))
		}
	}
	return total
}

func ratio(num, den decimal.Decimal) (decimal.Decimal, bool) {
	if !den.IsPositive() {
		return decimal.Zero, false
	}
	return num.Div(den), true
}

// SetAUM records the account value, latching the first one as initial AUM.
func (m *Manager) SetAUM(aum decimal.Decimal) {
	m.mu.Lock()
	m.aum = aum
	if !m.aumSeen {
		m.aumSeen = true
		m.initialAUM = aum
		log.Infof("initial AUM latched at %s", aum)
	}
	m.mu.Unlock()
	m.UpdateDrawdown(aum)
}

// UpdateDrawdown folds aum into the peak and running-max drawdown ratio.
func (m *Manager) UpdateDrawdown(aum decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.peakAUM.IsZero() || aum.GreaterThan(m.peakAUM):
		m.peakAUM = aum
		m.ddRatio = decimal.Zero
	case aum.IsPositive() && aum.LessThan(m.peakAUM):
		dd := m.peakAUM.Sub(aum).Div(m.peakAUM)
		if dd.GreaterThan(m.ddRatio) {
			m.ddRatio = dd
		}
	}
}

// ResetDrawdown restarts the episode at the current AUM and lifts a drawdown block.
// Blocks raised for other reasons stay in place.
func (m *Manager) ResetDrawdown() {
	m.mu.Lock()
	m.peakAUM = m.aum
	m.ddRatio = decimal.Zero
	cleared := m.blocked && strings.Contains(strings.ToLower(m.blockReason), "drawdown")
	if cleared {
		m.blocked = false
		m.blockReason = ""
		m.blockedAt = time.Time{}
	}
	m.mu.Unlock()

	log.Infof("drawdown reset, block cleared=%v", cleared)
	if cleared && m.bus != nil {
		m.bus.Publish(events.EventRiskCleared, m.GetDrawdownInfo())
	}
}

// Block latches trading off with reason.
func (m *Manager) Block(reason string) {
	ev, changed := m.block(reason)
	if changed {
		log.Errorf("trading blocked: %s", reason)
	}
	m.publishBlock(ev)
}

// ClearBlock lifts any block regardless of reason.
func (m *Manager) ClearBlock() {
	m.mu.Lock()
	was := m.blocked
	m.blocked = false
	m.blockReason = ""
	m.blockedAt = time.Time{}
	m.mu.Unlock()
	if was {
		log.Info("trading block cleared")
		if m.bus != nil {
			m.bus.Publish(events.EventRiskCleared, m.GetDrawdownInfo())
		}
	}
}

func (m *Manager) block(reason string) (BlockEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := !m.blocked
	if changed {
		m.blocked = true
		m.blockReason = reason
		m.blockedAt = time.Now()
	}
	return m.blockEventLocked(), changed
}

func (m *Manager) blockEventLocked() BlockEvent {
	return BlockEvent{
		Reason:        m.blockReason,
		DrawdownRatio: m.ddRatio,
		AUM:           m.aum,
		PeakAUM:       m.peakAUM,
		Time:          time.Now(),
	}
}

func (m *Manager) publishBlock(ev BlockEvent) {
	m.blockEvents.Add(1)
	if m.bus != nil {
		m.bus.Publish(events.EventRiskBlocked, ev)
	}
}

// IsBlocked reports the latch state.
func (m *Manager) IsBlocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blocked
}

// GetDrawdownInfo returns a consistent snapshot of the breaker.
func (m *Manager) GetDrawdownInfo() DrawdownInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drawdownInfoLocked()
}

func (m *Manager) drawdownInfoLocked() DrawdownInfo {
	info := DrawdownInfo{
		State:             StateActive,
		TradingBlocked:    m.blocked,
		BlockReason:       m.blockReason,
		AUM:               m.aum,
		PeakAUM:           m.peakAUM,
		InitialAUM:        m.initialAUM,
		CurrentDrawdown:   m.ddRatio,
		MaxDrawdown:       m.cfg.MaxDrawdown,
		WalletBalance:     m.walletBalance,
		MarginRatio:       m.marginRatio,
		UnrealisedPnL:     m.unrealisedPnL,
		MaintenanceMargin: m.maintMargin,
	}
	if m.blocked {
		info.State = StateBlocked
		at := m.blockedAt
		info.BlockedAt = &at
	}
	if m.initialAUM.IsPositive() {
		info.LifetimePnLRatio = m.aum.Sub(m.initialAUM).Div(m.initialAUM)
	}
	return info
}

// OnWalletBalanceUpdate is the AUM feed: AUM is the balance plus the last
// unrealised PnL reported through OnUnrealisedPnLUpdate.
func (m *Manager) OnWalletBalanceUpdate(balance decimal.Decimal) {
	m.mu.Lock()
	m.walletBalance = balance
	aum := balance.Add(m.unrealisedPnL)
	m.mu.Unlock()
	m.SetAUM(aum)
}

func (m *Manager) OnMarginRatioUpdate(v decimal.Decimal) {
	m.mu.Lock()
	m.marginRatio = v
	m.mu.Unlock()
}

func (m *Manager) OnUnrealisedPnLUpdate(v decimal.Decimal) {
	m.mu.Lock()
	m.unrealisedPnL = v
	m.mu.Unlock()
}

func (m *Manager) OnMaintenanceMarginUpdate(v decimal.Decimal) {
	m.mu.Lock()
	m.maintMargin = v
	m.mu.Unlock()
}

func (m *Manager) OnPositionAmountUpdate(symbol string, amount decimal.Decimal) {
	m.mu.Lock()
	m.positions[symbol] = amount
	m.mu.Unlock()
}

func (m *Manager) OnOpenOrdersUpdate(symbol string, n int) {
	if n < 0 {
		n = 0
	}
	m.mu.Lock()
	m.openOrders[symbol] = n
	m.mu.Unlock()
}

func (m *Manager) OnMarkPriceUpdate(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	m.mu.Lock()
	m.marks[symbol] = price
	m.mu.Unlock()
}

// OnMarkPrice adapts the mark price feed.
func (m *Manager) OnMarkPrice(mp common.MarkPrice) {
	m.OnMarkPriceUpdate(mp.Symbol, mp.Price)
}

// UpdateDailyLoss accumulates realized pnl into the symbol and global buckets.
// Buckets roll over at the UTC day boundary.
func (m *Manager) UpdateDailyLoss(pnl decimal.Decimal, symbol string) {
	today := time.Now().UTC().Format("2006-01-02")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lossDay != today {
		if m.lossDay != "" {
			log.Infof("daily loss rollover from %s", m.lossDay)
		}
		m.dailyLoss = make(map[string]decimal.Decimal)
		m.lossDay = today
	}
	if symbol != "" {
		m.dailyLoss[symbol] = m.dailyLoss[symbol].Add(pnl)
	}
	m.dailyLoss[GlobalBucket] = m.dailyLoss[GlobalBucket].Add(pnl)
}

// DailyLoss returns the accumulated pnl of a bucket.
func (m *Manager) DailyLoss(bucket string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyLoss[bucket]
}

// ResetDailyLoss zeroes every bucket.
func (m *Manager) ResetDailyLoss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.Infof("daily loss reset, global was %s", m.dailyLoss[GlobalBucket])
	m.dailyLoss = make(map[string]decimal.Decimal)
}

// SetVaR records the portfolio VaR against portfolio value.
func (m *Manager) SetVaR(varValue, portfolioValue decimal.Decimal) {
	m.mu.Lock()
	m.varValue = varValue
	m.varPV = portfolioValue
	m.mu.Unlock()
}

// SetSymbolVaR records a per-symbol VaR.
func (m *Manager) SetSymbolVaR(symbol string, varValue, portfolioValue decimal.Decimal) {
	m.mu.Lock()
	m.symbolVaR[symbol] = [2]decimal.Decimal{varValue, portfolioValue}
	m.mu.Unlock()
}

// VaR returns the portfolio VaR value.
func (m *Manager) VaR() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.varValue
}

var (
	half       = decimal.RequireFromString("0.5")
	assessHigh = decimal.RequireFromString("0.8")
)

// VaRAssessment is a sizing multiplier: 0 above 80% VaR, 0.5 above 50%, else 1.
func (m *Manager) VaRAssessment(symbol string) decimal.Decimal {
	m.mu.RLock()
	v, ok := m.symbolVaR[symbol]
	m.mu.RUnlock()
	if !ok {
		return decimal.NewFromInt(1)
	}
	r, ok := ratio(v[0], v[1])
	switch {
	case !ok:
		return decimal.NewFromInt(1)
	case r.GreaterThan(assessHigh):
		return decimal.Zero
	case r.GreaterThan(half):
		return half
	}
	return decimal.NewFromInt(1)
}

func (m *Manager) countCause(err error) {
	cause := err.Error()
	if i := strings.Index(cause, ":"); i > 0 {
		cause = cause[:i]
	}
	m.causesMu.Lock()
	m.causes[cause]++
	m.causesMu.Unlock()
}

// GetMetrics returns a copy of the counters.
func (m *Manager) GetMetrics() Metrics {
	m.causesMu.Lock()
	causes := make(map[string]uint64, len(m.causes))
	for k, v := range m.causes {
		causes[k] = v
	}
	m.causesMu.Unlock()
	return Metrics{
		ChecksTotal:       m.checks.Load(),
		RejectionsTotal:   m.rejections.Load(),
		BlockEvents:       m.blockEvents.Load(),
		CheckLatencyNanos: m.latencyNs.Load(),
		CheckLatencyCount: m.checks.Load(),
		RejectionsByCause: causes,
	}
}

// ReportText renders a human-readable summary. With no symbols, every known symbol is listed.
func (m *Manager) ReportText(symbols ...string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := m.drawdownInfoLocked()
	if len(symbols) == 0 {
		seen := make(map[string]struct{})
		for s := range m.symbols {
			seen[s] = struct{}{}
		}
		for s := range m.positions {
			seen[s] = struct{}{}
		}
		for s := range seen {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Risk report %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "State=%s AUM=%s Peak=%s Initial=%s Drawdown=%s/%s\n",
		info.State, info.AUM, info.PeakAUM, info.InitialAUM, info.CurrentDrawdown.StringFixed(4), info.MaxDrawdown)
	if info.TradingBlocked {
		fmt.Fprintf(&b, "Blocked: %s\n", info.BlockReason)
	}
	fmt.Fprintf(&b, "Wallet=%s MarginRatio=%s UPnL=%s MaintMargin=%s\n",
		info.WalletBalance, info.MarginRatio, info.UnrealisedPnL, info.MaintenanceMargin)
	if r, ok := ratio(m.varValue, m.varPV); ok {
		fmt.Fprintf(&b, "Global VaR=%s, PV=%s, Ratio=%s\n", m.varValue, m.varPV, r.StringFixed(4))
	}
	fmt.Fprintf(&b, "Daily loss=%s\n", m.dailyLoss[GlobalBucket])
	for _, sym := range symbols {
		fmt.Fprintf(&b, "[%s] qty=%s price=%s open_orders=%d daily_pnl=%s\n",
			sym, m.positionAmount(sym), m.marks[sym], m.openOrderCount(sym), m.dailyLoss[sym])
	}
	return b.String()
}
