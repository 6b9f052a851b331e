package refdata

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNoReferenceData = errors.New("no reference data for symbol")
	ErrNoMarkPrice     = errors.New("no mark price for symbol")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// ReferenceData carries the exchange trading rules of one symbol.
// Resting orders (limit, stop) use the lot fields; market orders the market lot fields.
type ReferenceData struct {
	Symbol            string          `json:"symbol" yaml:"symbol"`
	Status            string          `json:"status" yaml:"status"`
	BaseAsset         string          `json:"base_asset" yaml:"base_asset"`
	QuoteAsset        string          `json:"quote_asset" yaml:"quote_asset"`
	PricePrecision    int32           `json:"price_precision" yaml:"price_precision"`
	QuantityPrecision int32           `json:"quantity_precision" yaml:"quantity_precision"`
	MinPrice          decimal.Decimal `json:"min_price" yaml:"min_price"`
	MaxPrice          decimal.Decimal `json:"max_price" yaml:"max_price"`
	PriceTickSize     decimal.Decimal `json:"price_tick_size" yaml:"price_tick_size"`
	MinLotSize        decimal.Decimal `json:"min_lot_size" yaml:"min_lot_size"`
	MaxLotSize        decimal.Decimal `json:"max_lot_size" yaml:"max_lot_size"`
	LotStepSize       decimal.Decimal `json:"lot_step_size" yaml:"lot_step_size"`
	MinMarketLotSize  decimal.Decimal `json:"min_market_lot_size" yaml:"min_market_lot_size"`
	MaxMarketLotSize  decimal.Decimal `json:"max_market_lot_size" yaml:"max_market_lot_size"`
	MarketLotStepSize decimal.Decimal `json:"market_lot_step_size" yaml:"market_lot_step_size"`
	MinNotional       decimal.Decimal `json:"min_notional" yaml:"min_notional"`
}

// Trading reports whether the symbol accepts orders. An empty status counts as trading.
func (r ReferenceData) Trading() bool {
	return r.Status == "" || r.Status == "TRADING"
}
