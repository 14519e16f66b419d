package models

import (
	"time"
)

// OrderSide identifies the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType identifies how an order is priced.
type OrderType string

const (
	TypeLimit  OrderType = "limit"
	TypeMarket OrderType = "market"
)

// OrderStatus tracks the lifecycle state of an order. The terminal
// statuses (filled, cancelled, rejected) never transition further.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusOpen            OrderStatus = "open"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether the status permits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Order represents a single exchange order tracked by the order store.
type Order struct {
	OrderID      string      `json:"order_id"`
	Instrument   string      `json:"instrument"`
	Side         OrderSide   `json:"side"`
	Type         OrderType   `json:"type"`
	Price        float64     `json:"price"`
	Amount       float64     `json:"amount"`
	FilledAmount float64     `json:"filled_amount"`
	Status       OrderStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// OrderUpdate is the payload carried by a `user.orders` feed notification.
type OrderUpdate struct {
	OrderID      string  `json:"order_id"`
	State        string  `json:"state"`
	FilledAmount float64 `json:"filled_amount"`
	Error        string  `json:"error,omitempty"`
}

// PositionEntry is one element of a position snapshot. The feed always
// delivers the complete position set, never a partial diff.
type PositionEntry struct {
	InstrumentName string  `json:"instrument_name"`
	Size           float64 `json:"size"`
}
