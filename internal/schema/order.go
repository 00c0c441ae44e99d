package schema

import "time"

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
)

// Order is an intent to trade. Token is the client-assigned
// idempotency token; it stays the same across submission retries.
type Order struct {
	FIGI     string
	Side     OrderSide
	Quantity int64
	Type     OrderType
	Price    float64
	Token    string
	Actor    string
}

// OrderStatus is the broker-reported outcome of a submission.
type OrderStatus uint16

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusAccepted
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusRejected
	OrderStatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusAccepted:
		return "accepted"
	case OrderStatusPartiallyFilled:
		return "partially_filled"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusRejected:
		return "rejected"
	case OrderStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further fills can arrive for the order.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// OrderResult carries broker response metadata for a submission.
type OrderResult struct {
	OrderID   string
	Token     string
	FIGI      string
	Side      OrderSide
	Status    OrderStatus
	FilledQty int64
	FillPrice float64
	Message   string
	Time      time.Time
}

// Filled reports whether the full requested quantity executed.
func (r OrderResult) Filled(requested int64) bool {
	return r.FilledQty >= requested && requested > 0
}
