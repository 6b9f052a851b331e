package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"execution-core/internal/margin"
	"execution-core/internal/order"
	"execution-core/internal/position"
	"execution-core/internal/refdata"
	"execution-core/internal/risk"
	"execution-core/internal/strategy"
)

var ErrInvalidEngine = errors.New("invalid engine file")

// Engine is the trading setup read from YAML.
type Engine struct {
	InitialAUM     decimal.Decimal `yaml:"initial_aum"`
	CandleInterval time.Duration   `yaml:"candle_interval"`
	Fees           position.Fees   `yaml:"fees"`
	Risk           risk.Config     `yaml:"risk"`
	Symbols        []SymbolConfig  `yaml:"symbols"`
	Strategies     []Strategy      `yaml:"strategies"`
}

// SymbolConfig is the reference data of one symbol plus its per-symbol overrides.
type SymbolConfig struct {
	refdata.ReferenceData `yaml:",inline"`

	Fees         *position.Fees      `yaml:"fees"`
	MinOrderSize decimal.NullDecimal `yaml:"min_order_size"`
	Brackets     []margin.Bracket    `yaml:"brackets"`
}

// Strategy is a signal source the engine routes orders for.
type Strategy struct {
	ID         string             `yaml:"id"`
	Kind       string             `yaml:"kind"`
	Symbol     string             `yaml:"symbol"`
	Params     map[string]float64 `yaml:"params"`
	ActionMode order.ActionMode   `yaml:"action_mode"`
	Size       order.SizeSpec     `yaml:"size"`
	// StopLossPct places a linked stop this far from the entry price; zero disables it.
	StopLossPct decimal.Decimal `yaml:"stop_loss_pct"`
}

// Binding builds the strategy and attaches its order settings.
func (s Strategy) Binding() (strategy.Binding, error) {
	impl, err := strategy.New(s.Kind, s.ID, s.Symbol, s.Params)
	if err != nil {
		return strategy.Binding{}, err
	}
	return strategy.Binding{
		Strategy:    impl,
		ActionMode:  s.ActionMode,
		Size:        s.Size,
		StopLossPct: s.StopLossPct,
	}, nil
}

// DefaultEngine is used when no engine file exists.
func DefaultEngine() *Engine {
	return &Engine{
		InitialAUM:     decimal.NewFromInt(10000),
		CandleInterval: time.Minute,
		Fees: position.Fees{
			Maker: decimal.RequireFromString("0.0002"),
			Taker: decimal.RequireFromString("0.0004"),
		},
		Risk: risk.DefaultConfig(),
	}
}

// LoadEngine reads path over DefaultEngine. A missing file yields the defaults.
func LoadEngine(path string) (*Engine, error) {
	e := DefaultEngine()
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return e, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read engine file: %w", err)
	}
	if err := yaml.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("parse engine file %s: %w", path, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate normalises symbols and checks cross references.
func (e *Engine) Validate() error {
	if e.CandleInterval <= 0 {
		return fmt.Errorf("%w: candle_interval must be positive", ErrInvalidEngine)
	}
	if e.InitialAUM.IsNegative() {
		return fmt.Errorf("%w: initial_aum is negative", ErrInvalidEngine)
	}
	known := make(map[string]bool, len(e.Symbols))
	for i := range e.Symbols {
		s := &e.Symbols[i]
		s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
		if s.Symbol == "" {
			return fmt.Errorf("%w: symbol #%d has no name", ErrInvalidEngine, i+1)
		}
		if known[s.Symbol] {
			return fmt.Errorf("%w: duplicate symbol %s", ErrInvalidEngine, s.Symbol)
		}
		known[s.Symbol] = true
	}
	ids := make(map[string]bool, len(e.Strategies))
	for i := range e.Strategies {
		st := &e.Strategies[i]
		st.Symbol = strings.ToUpper(strings.TrimSpace(st.Symbol))
		if st.ID == "" {
			return fmt.Errorf("%w: strategy #%d has no id", ErrInvalidEngine, i+1)
		}
		if ids[st.ID] {
			return fmt.Errorf("%w: duplicate strategy %s", ErrInvalidEngine, st.ID)
		}
		ids[st.ID] = true
		if !known[st.Symbol] {
			return fmt.Errorf("%w: strategy %s trades unknown symbol %q", ErrInvalidEngine, st.ID, st.Symbol)
		}
		if st.ActionMode == "" {
			st.ActionMode = order.OpenClosePosition
		}
		if err := st.Size.Validate(); err != nil {
			return fmt.Errorf("%w: strategy %s: %v", ErrInvalidEngine, st.ID, err)
		}
		if st.StopLossPct.IsNegative() || st.StopLossPct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: strategy %s: stop_loss_pct %s outside [0, 1)", ErrInvalidEngine, st.ID, st.StopLossPct)
		}
		if _, err := st.Binding(); err != nil {
			return fmt.Errorf("%w: strategy %s: %v", ErrInvalidEngine, st.ID, err)
		}
	}
	return nil
}

// SymbolNames lists the configured symbols in file order.
func (e *Engine) SymbolNames() []string {
	out := make([]string, 0, len(e.Symbols))
	for _, s := range e.Symbols {
		out = append(out, s.Symbol)
	}
	return out
}
