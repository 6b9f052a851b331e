package strategy

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind   = errors.New("unknown strategy kind")
	ErrInvalidParams = errors.New("invalid strategy parameters")
)

const (
	KindMACross = "ma_cross"
	KindRSI     = "rsi"
)

// New builds a strategy by kind. Missing params fall back to the defaults
// of that kind.
func New(kind, id, symbol string, params map[string]float64) (Strategy, error) {
	get := func(key string, def float64) float64 {
		if v, ok := params[key]; ok {
			return v
		}
		return def
	}
	switch kind {
	case KindMACross, "":
		return NewMACross(id, symbol, int(get("fast", 10)), int(get("slow", 30)))
	case KindRSI:
		return NewRSIReversion(id, symbol, int(get("period", 14)), get("oversold", 30), get("overbought", 70))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
