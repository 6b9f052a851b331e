package strategy

import (
	"fmt"

	"execution-core/internal/indicators"
	"execution-core/internal/market"
)

// RSIReversion buys when RSI falls below oversold and sells above overbought.
// It re-arms once RSI returns inside the band.
type RSIReversion struct {
	id         string
	symbol     string
	period     int
	oversold   float64
	overbought float64

	closes []float64
	armed  bool
}

func NewRSIReversion(id, symbol string, period int, oversold, overbought float64) (*RSIReversion, error) {
	if period <= 0 || oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return nil, fmt.Errorf("%w: rsi period=%d band=%.1f/%.1f", ErrInvalidParams, period, oversold, overbought)
	}
	return &RSIReversion{
		id:         id,
		symbol:     symbol,
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		closes:     make([]float64, 0, period+2),
		armed:      true,
	}, nil
}

func (s *RSIReversion) ID() string     { return s.id }
func (s *RSIReversion) Symbol() string { return s.symbol }

func (s *RSIReversion) Name() string {
	return fmt.Sprintf("RSI_%d_%.0f_%.0f", s.period, s.oversold, s.overbought)
}

func (s *RSIReversion) OnCandle(c market.Candle, _ map[string]float64) Decision {
	s.closes = append(s.closes, c.Close.InexactFloat64())
	if len(s.closes) > s.period+1 {
		s.closes = s.closes[1:]
	}
	if len(s.closes) < s.period+1 {
		return Decision{}
	}

	rsi := indicators.RSI(s.closes, s.period)
	switch {
	case rsi < s.oversold && s.armed:
		s.armed = false
		return Decision{Direction: 1, Reason: fmt.Sprintf("RSI %.2f < %.1f", rsi, s.oversold)}
	case rsi > s.overbought && s.armed:
		s.armed = false
		return Decision{Direction: -1, Reason: fmt.Sprintf("RSI %.2f > %.1f", rsi, s.overbought)}
	case rsi >= s.oversold && rsi <= s.overbought:
		s.armed = true
	}
	return Decision{}
}
