// Package common holds the order vocabulary shared by sizing, risk and order handling.
package common

import "github.com/shopspring/decimal"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SideFromSignal maps a signal sign to a side; 0 has no side.
func SideFromSignal(signal int) (Side, bool) {
	switch {
	case signal > 0:
		return SideBuy, true
	case signal < 0:
		return SideSell, true
	}
	return "", false
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Signed returns qty with the sign of the side (+buy, -sell).
func (s Side) Signed(qty decimal.Decimal) decimal.Decimal {
	if s == SideSell {
		return qty.Abs().Neg()
	}
	return qty.Abs()
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType denotes the order types the core sizes and submits.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// OrderStatus is the local order lifecycle state.
type OrderStatus string

const (
	StatusPendingNew      OrderStatus = "PENDING_NEW"
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusFailed          OrderStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// MarkPrice is a reference price update for one symbol.
type MarkPrice struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	EventTime int64           `json:"event_time"`
}
