// Package refdata turns requested sizes into exchange-legal order quantities.
package refdata

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"execution-core/pkg/common"
	"execution-core/pkg/decimalx"
)

var log = logrus.WithField("component", "reference_data")

// PriceSource resolves mark prices.
type PriceSource interface {
	MarkPrice(symbol string) (decimal.Decimal, bool)
}

// Manager holds reference data per symbol and sizes orders against it.
type Manager struct {
	mu     sync.RWMutex
	data   map[string]ReferenceData
	prices PriceSource
}

// NewManager creates an empty manager reading mark prices from prices.
func NewManager(prices PriceSource) *Manager {
	return &Manager{
		data:   make(map[string]ReferenceData),
		prices: prices,
	}
}

// Init replaces all reference data.
func (m *Manager) Init(data map[string]ReferenceData) {
	next := make(map[string]ReferenceData, len(data))
	for sym, rd := range data {
		if rd.Symbol == "" {
			rd.Symbol = sym
		}
		next[sym] = rd
	}
	m.mu.Lock()
	m.data = next
	m.mu.Unlock()
	log.Infof("loaded reference data for %d symbols", len(next))
}

// Set adds or replaces one symbol.
func (m *Manager) Set(rd ReferenceData) {
	m.mu.Lock()
	m.data[rd.Symbol] = rd
	m.mu.Unlock()
}

// Get returns the reference data of symbol.
func (m *Manager) Get(symbol string) (ReferenceData, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rd, ok := m.data[symbol]
	return rd, ok
}

// Symbols lists every symbol with reference data.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for sym := range m.data {
		out = append(out, sym)
	}
	return out
}

// MinNotional returns the exchange minimum notional of symbol.
func (m *Manager) MinNotional(symbol string) (decimal.Decimal, error) {
	rd, ok := m.Get(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrNoReferenceData)
	}
	return rd.MinNotional, nil
}

func lotRules(orderType common.OrderType, rd ReferenceData) (minLot, step decimal.Decimal) {
	if orderType == common.OrderTypeMarket {
		return rd.MinMarketLotSize, rd.MarketLotStepSize
	}
	return rd.MinLotSize, rd.LotStepSize
}

// MinSizeByNotional is min_notional / mark price rounded up to step.
// A symbol without a min notional needs no mark price and yields zero.
func (m *Manager) MinSizeByNotional(symbol string, step decimal.Decimal) (decimal.Decimal, error) {
	rd, ok := m.Get(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrNoReferenceData)
	}
	if !rd.MinNotional.IsPositive() {
		return decimal.Zero, nil
	}
	price, err := m.markPrice(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return decimalx.RoundUp(rd.MinNotional.Div(price), step), nil
}

// EffectiveMinQuantity is the larger of the lot minimum and the notional minimum.
func (m *Manager) EffectiveMinQuantity(orderType common.OrderType, symbol string) (decimal.Decimal, error) {
	rd, ok := m.Get(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrNoReferenceData)
	}
	minLot, step := lotRules(orderType, rd)
	byNotional, err := m.MinSizeByNotional(symbol, step)
	if err != nil {
		return decimal.Zero, err
	}
	return decimalx.Max(byNotional, minLot), nil
}

// EffectiveQuantity returns requested rounded up to the step and raised to the
// effective minimum. The result is never below the request.
func (m *Manager) EffectiveQuantity(orderType common.OrderType, symbol string, requested decimal.Decimal) (decimal.Decimal, error) {
	if !requested.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s requested %s: %w", symbol, requested, ErrInvalidQuantity)
	}
	rd, ok := m.Get(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrNoReferenceData)
	}
	_, step := lotRules(orderType, rd)
	minQty, err := m.EffectiveMinQuantity(orderType, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return normalize(requested, step, minQty), nil
}

// EffectiveQuantityByNotional converts notional to a quantity at the mark price,
// rounded up to the step, then applies the same minimum as EffectiveQuantity.
func (m *Manager) EffectiveQuantityByNotional(orderType common.OrderType, symbol string, notional decimal.Decimal) (decimal.Decimal, error) {
	if !notional.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s notional %s: %w", symbol, notional, ErrInvalidQuantity)
	}
	rd, ok := m.Get(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrNoReferenceData)
	}
	price, err := m.markPrice(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	_, step := lotRules(orderType, rd)
	qty := decimalx.RoundUp(notional.Div(price), step)
	minQty, err := m.EffectiveMinQuantity(orderType, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return normalize(qty, step, minQty), nil
}

func normalize(qty, step, minQty decimal.Decimal) decimal.Decimal {
	if step.IsPositive() && !decimalx.IsMultipleOf(qty, step, decimalx.DefaultTolerance) {
		qty = decimalx.RoundUp(qty, step)
	}
	return decimalx.Max(minQty, qty)
}

func (m *Manager) markPrice(symbol string) (decimal.Decimal, error) {
	if m.prices == nil {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrNoMarkPrice)
	}
	price, ok := m.prices.MarkPrice(symbol)
	if !ok || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrNoMarkPrice)
	}
	return price, nil
}
