package position

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Fees are the commission rates of one symbol.
type Fees struct {
	Maker decimal.Decimal `json:"maker" yaml:"maker"`
	Taker decimal.Decimal `json:"taker" yaml:"taker"`
}

// Rate picks the taker or maker rate.
func (f Fees) Rate(isTaker bool) decimal.Decimal {
	if isTaker {
		return f.Taker
	}
	return f.Maker
}

// FeeSchedule maps symbols to commission rates with a fallback.
type FeeSchedule struct {
	mu       sync.RWMutex
	bySymbol map[string]Fees
	fallback Fees
}

func NewFeeSchedule(fallback Fees) *FeeSchedule {
	return &FeeSchedule{bySymbol: make(map[string]Fees), fallback: fallback}
}

// Set overrides the rates of symbol.
func (s *FeeSchedule) Set(symbol string, fees Fees) {
	s.mu.Lock()
	s.bySymbol[symbol] = fees
	s.mu.Unlock()
}

// Get returns the rates of symbol, or the fallback.
func (s *FeeSchedule) Get(symbol string) Fees {
	if s == nil {
		return Fees{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.bySymbol[symbol]; ok {
		return f
	}
	return s.fallback
}
