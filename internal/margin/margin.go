// Package margin keeps tiered maintenance-margin schedules per symbol.
package margin

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "margin")

// Bracket is one notional tier of a schedule.
type Bracket struct {
	Bracket          int             `json:"bracket" yaml:"bracket"`
	InitialLeverage  decimal.Decimal `json:"initial_leverage" yaml:"initial_leverage"`
	NotionalCap      decimal.Decimal `json:"notional_cap" yaml:"notional_cap"`
	NotionalFloor    decimal.Decimal `json:"notional_floor" yaml:"notional_floor"`
	MaintMarginRatio decimal.Decimal `json:"maint_margin_ratio" yaml:"maint_margin_ratio"`
	Cum              decimal.Decimal `json:"cum" yaml:"cum"`
}

// Contains reports floor <= notional < cap.
func (b Bracket) Contains(notional decimal.Decimal) bool {
	return b.NotionalFloor.LessThanOrEqual(notional) && notional.LessThan(b.NotionalCap)
}

// Schedule is the ordered bracket list of one symbol.
type Schedule struct {
	Symbol   string
	Brackets []Bracket
}

// NewSchedule copies brackets ordered by floor.
func NewSchedule(symbol string, brackets []Bracket) *Schedule {
	out := append([]Bracket(nil), brackets...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NotionalFloor.LessThan(out[j].NotionalFloor)
	})
	return &Schedule{Symbol: symbol, Brackets: out}
}

// Bracket returns the first tier containing notional.
func (s *Schedule) Bracket(notional decimal.Decimal) (Bracket, bool) {
	for _, b := range s.Brackets {
		if b.Contains(notional) {
			return b, true
		}
	}
	return Bracket{}, false
}

// Response is a schedule update for one symbol as delivered by the account feed.
type Response struct {
	Symbol   string    `json:"symbol" yaml:"symbol"`
	Brackets []Bracket `json:"brackets" yaml:"brackets"`
}

// Manager holds one schedule per symbol.
type Manager struct {
	mu        sync.RWMutex
	schedules map[string]*Schedule
}

func NewManager() *Manager {
	return &Manager{schedules: make(map[string]*Schedule)}
}

// UpdateMargin replaces the whole schedule of resp.Symbol.
// A response without brackets leaves the current schedule untouched.
func (m *Manager) UpdateMargin(resp Response) {
	if len(resp.Brackets) == 0 {
		log.WithField("symbol", resp.Symbol).Warn("margin update without brackets ignored")
		return
	}
	s := NewSchedule(resp.Symbol, resp.Brackets)
	m.mu.Lock()
	m.schedules[resp.Symbol] = s
	m.mu.Unlock()
	log.WithField("symbol", resp.Symbol).Infof("margin schedule updated, %d brackets", len(s.Brackets))
}

// Schedule returns the current schedule of symbol.
func (m *Manager) Schedule(symbol string) (*Schedule, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[symbol]
	return s, ok
}

// BracketByNotional looks up the tier for |notional| on symbol.
// A miss is logged and reported as false; callers must skip margin math.
func (m *Manager) BracketByNotional(symbol string, notional decimal.Decimal) (Bracket, bool) {
	s, ok := m.Schedule(symbol)
	if !ok {
		log.WithField("symbol", symbol).Errorf("no margin schedule, notional=%s", notional)
		return Bracket{}, false
	}
	b, ok := s.Bracket(notional.Abs())
	if !ok {
		log.WithField("symbol", symbol).Errorf("no margin bracket for notional %s", notional)
	}
	return b, ok
}
