package model

import "github.com/shopspring/decimal"

// OrderSide is the direction of a limit order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Valid reports whether the side is one of the two known values.
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus is the lifecycle state of an order. Terminal states
// (filled, cancelled, rejected) are immutable.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// Order is a user limit order held by the paper engine. TokenID is
// caller-supplied and globally unique. ReservedAmount is the quote
// amount (buy) or base quantity (sell) locked at placement.
type Order struct {
	TokenID        string           `json:"token_id"`
	Username       string           `json:"username"`
	Symbol         string           `json:"symbol"`
	Side           OrderSide        `json:"side"`
	Price          decimal.Decimal  `json:"price"`
	Quantity       decimal.Decimal  `json:"quantity"`
	Status         OrderStatus      `json:"status"`
	FilledPrice    *decimal.Decimal `json:"filled_price"`
	Reason         string           `json:"reason,omitempty"`
	ReservedAmount decimal.Decimal  `json:"reserved_amount"`
	CreatedAt      float64          `json:"created_at"`
}

// Balance is one user's holding of a single asset.
// Invariant: 0 <= Available <= Total. Reserved = Total - Available.
type Balance struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}

// User is a registered account. TOTPSecret is set once two-factor
// enrollment begins and enforced on login once TOTPEnabled is true.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	TOTPSecret   string `json:"totp_secret,omitempty"`
	TOTPEnabled  bool   `json:"totp_enabled,omitempty"`
}
