package strategy

import (
	"fmt"

	"execution-core/internal/indicators"
	"execution-core/internal/market"
)

// MACross buys when the fast average crosses above the slow one and sells
// on the opposite cross.
type MACross struct {
	id         string
	symbol     string
	fastPeriod int
	slowPeriod int

	fastMA float64
	slowMA float64
	closes []float64
	last   int
}

// NewMACross creates a crossover strategy. fast must be shorter than slow.
func NewMACross(id, symbol string, fastPeriod, slowPeriod int) (*MACross, error) {
	if fastPeriod <= 0 || slowPeriod <= fastPeriod {
		return nil, fmt.Errorf("%w: ma_cross periods fast=%d slow=%d", ErrInvalidParams, fastPeriod, slowPeriod)
	}
	return &MACross{
		id:         id,
		symbol:     symbol,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		closes:     make([]float64, 0, slowPeriod+1),
	}, nil
}

func (s *MACross) ID() string     { return s.id }
func (s *MACross) Symbol() string { return s.symbol }

func (s *MACross) Name() string {
	return fmt.Sprintf("MA_Cross_%d_%d", s.fastPeriod, s.slowPeriod)
}

func (s *MACross) OnCandle(c market.Candle, _ map[string]float64) Decision {
	s.closes = append(s.closes, c.Close.InexactFloat64())
	if len(s.closes) > s.slowPeriod {
		s.closes = s.closes[1:]
	}
	if len(s.closes) < s.slowPeriod {
		return Decision{}
	}

	oldFast, oldSlow := s.fastMA, s.slowMA
	primed := oldSlow != 0
	s.fastMA = indicators.SMA(s.closes, s.fastPeriod)
	s.slowMA = indicators.SMA(s.closes, s.slowPeriod)
	if !primed {
		return Decision{}
	}

	var d Decision
	switch {
	case oldFast <= oldSlow && s.fastMA > s.slowMA:
		d = Decision{Direction: 1, Reason: fmt.Sprintf("golden cross: MA%d(%.2f) > MA%d(%.2f)", s.fastPeriod, s.fastMA, s.slowPeriod, s.slowMA)}
	case oldFast >= oldSlow && s.fastMA < s.slowMA:
		d = Decision{Direction: -1, Reason: fmt.Sprintf("death cross: MA%d(%.2f) < MA%d(%.2f)", s.fastPeriod, s.fastMA, s.slowPeriod, s.slowMA)}
	}
	// one signal per cross
	if d.Direction == 0 || d.Direction == s.last {
		return Decision{}
	}
	s.last = d.Direction
	return d
}
