package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"execution-core/pkg/common"
)

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrBelowMinSize     = errors.New("below minimum order size")
	ErrTradingBlocked   = errors.New("trading blocked")
	ErrDrawdown         = errors.New("max drawdown exceeded")
	ErrSymbolNotAllowed = errors.New("symbol not allowed")
	ErrNoPrice          = errors.New("no price for order")
	ErrOrderValue       = errors.New("order value limit exceeded")
	ErrPositionValue    = errors.New("position value limit exceeded")
	ErrLeverage         = errors.New("leverage limit exceeded")
	ErrOpenOrders       = errors.New("open order limit reached")
	ErrDailyLoss        = errors.New("daily loss limit exceeded")
	ErrVaR              = errors.New("VaR ratio limit exceeded")
	ErrRateLimited      = errors.New("order rate limit exceeded")
)

// GlobalBucket keys the account-wide daily loss.
const GlobalBucket = "__GLOBAL__"

// State is the trading gate.
type State string

const (
	StateActive  State = "ACTIVE"
	StateBlocked State = "BLOCKED"
)

// Config holds risk limits. A zero limit disables its check.
type Config struct {
	// MaxDrawdown is the lifetime peak-to-current AUM ratio that blocks trading.
	MaxDrawdown      decimal.Decimal `yaml:"max_drawdown" json:"max_drawdown"`
	MinOrderSize     decimal.Decimal `yaml:"min_order_size" json:"min_order_size"`
	MaxOrderValue    decimal.Decimal `yaml:"max_order_value" json:"max_order_value"`
	MaxPositionValue decimal.Decimal `yaml:"max_position_value" json:"max_position_value"`
	MaxLeverage      decimal.Decimal `yaml:"max_leverage" json:"max_leverage"`
	MaxOpenOrders    int             `yaml:"max_open_orders" json:"max_open_orders"`
	// MaxLossPerDay is a fraction of AUM.
	MaxLossPerDay decimal.Decimal `yaml:"max_loss_per_day" json:"max_loss_per_day"`
	MaxVaRRatio   decimal.Decimal `yaml:"max_var_ratio" json:"max_var_ratio"`
	// AllowedSymbols enables the whitelist when non-empty.
	AllowedSymbols []string `yaml:"allowed_symbols" json:"allowed_symbols"`
	// OrderRateLimit is orders per second across the process.
	OrderRateLimit float64 `yaml:"order_rate_limit" json:"order_rate_limit"`
	OrderRateBurst int     `yaml:"order_rate_burst" json:"order_rate_burst"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxDrawdown:      decimal.RequireFromString("0.25"),
		MinOrderSize:     decimal.RequireFromString("0.001"),
		MaxOrderValue:    decimal.NewFromInt(5000),
		MaxPositionValue: decimal.NewFromInt(20000),
		MaxLeverage:      decimal.NewFromInt(5),
		MaxOpenOrders:    20,
		MaxLossPerDay:    decimal.RequireFromString("0.15"),
		MaxVaRRatio:      decimal.RequireFromString("0.15"),
	}
}

// Order is the view of an order the risk checks need.
type Order struct {
	Symbol     string
	StrategyID string
	Side       common.Side
	Type       common.OrderType
	// Quantity is the leaves quantity; its sign is ignored.
	Quantity decimal.Decimal
	// Price may be zero, in which case the mark price is used.
	Price decimal.Decimal
}

// SymbolOptions overrides limits for one symbol.
type SymbolOptions struct {
	MinOrderSize decimal.NullDecimal
}

// BlockEvent is published whenever trading is (or remains) blocked.
type BlockEvent struct {
	Reason        string          `json:"reason"`
	DrawdownRatio decimal.Decimal `json:"drawdown_ratio"`
	AUM           decimal.Decimal `json:"aum"`
	PeakAUM       decimal.Decimal `json:"peak_aum"`
	Time          time.Time       `json:"time"`
}

// DrawdownInfo is the operator view of the drawdown breaker.
type DrawdownInfo struct {
	State             State           `json:"state"`
	TradingBlocked    bool            `json:"trading_blocked"`
	BlockReason       string          `json:"block_reason,omitempty"`
	BlockedAt         *time.Time      `json:"blocked_at,omitempty"`
	AUM               decimal.Decimal `json:"aum"`
	PeakAUM           decimal.Decimal `json:"peak_aum"`
	InitialAUM        decimal.Decimal `json:"initial_aum"`
	CurrentDrawdown   decimal.Decimal `json:"current_drawdown_ratio"`
	MaxDrawdown       decimal.Decimal `json:"max_drawdown"`
	LifetimePnLRatio  decimal.Decimal `json:"lifetime_pnl_ratio"`
	WalletBalance     decimal.Decimal `json:"wallet_balance"`
	MarginRatio       decimal.Decimal `json:"margin_ratio"`
	UnrealisedPnL     decimal.Decimal `json:"unrealised_pnl"`
	MaintenanceMargin decimal.Decimal `json:"maintenance_margin"`
}

// Metrics tracks check outcomes.
type Metrics struct {
	ChecksTotal       uint64            `json:"checks_total"`
	RejectionsTotal   uint64            `json:"rejections_total"`
	BlockEvents       uint64            `json:"block_events"`
	CheckLatencyNanos uint64            `json:"check_latency_nanos"`
	CheckLatencyCount uint64            `json:"check_latency_count"`
	RejectionsByCause map[string]uint64 `json:"rejections_by_cause"`
}

func (e BlockEvent) String() string {
	return fmt.Sprintf("trading blocked: %s (drawdown=%s aum=%s peak=%s)",
		e.Reason, e.DrawdownRatio.StringFixed(4), e.AUM, e.PeakAUM)
}

func (d DrawdownInfo) String() string {
	return fmt.Sprintf("state=%s aum=%s peak=%s drawdown=%s/%s",
		d.State, d.AUM, d.PeakAUM, d.CurrentDrawdown.StringFixed(4), d.MaxDrawdown)
}
