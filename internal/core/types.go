package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or of the strategy itself.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side. The close side of a strategy is always
// the opposite of its entry direction.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus is the exchange-reported lifecycle status of an order.
type OrderStatus string

const (
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
)

// Terminal reports whether the status ends the order's lifecycle.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled
}

// OrderType distinguishes entry orders from close orders in push notifications.
type OrderType string

const (
	OrderTypeOpen  OrderType = "OPEN"
	OrderTypeClose OrderType = "CLOSE"
)

// OrderRecord is one active order as reported by an order snapshot query.
type OrderRecord struct {
	OrderID string
	Side    Side
	Price   decimal.Decimal
	Size    decimal.Decimal
	Status  OrderStatus
}

// OrderResult is the synchronous response to an order placement request.
type OrderResult struct {
	Success      bool
	OrderID      string
	Status       OrderStatus
	Price        decimal.Decimal
	ErrorMessage string
}

// CancelResult is the synchronous response to a cancellation request.
// FilledSize carries the filled remainder on venues that report it in the
// cancel response instead of pushing a cancel notification.
type CancelResult struct {
	Success      bool
	FilledSize   decimal.Decimal
	ErrorMessage string
}

// OrderInfo is the subset of an order status query the coordinator needs.
type OrderInfo struct {
	FilledSize decimal.Decimal
}

// BookTicker is a best-bid/best-ask snapshot.
type BookTicker struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Valid reports whether the snapshot is usable: both sides positive and
// not crossed.
func (b BookTicker) Valid() bool {
	return b.Bid.IsPositive() && b.Ask.IsPositive() && b.Bid.LessThan(b.Ask)
}

// OrderUpdate is a validated push notification from the exchange stream.
type OrderUpdate struct {
	ContractID string
	OrderID    string
	Status     OrderStatus
	Side       Side
	OrderType  OrderType
	Size       decimal.Decimal
	Price      decimal.Decimal
	FilledSize decimal.Decimal
}

// Validate rejects malformed payloads at the ingress boundary so missing
// fields never reach the trading logic.
func (u *OrderUpdate) Validate() error {
	if u.ContractID == "" {
		return fmt.Errorf("order update missing contract id")
	}
	if u.OrderID == "" {
		return fmt.Errorf("order update missing order id")
	}
	switch u.Status {
	case StatusOpen, StatusPartiallyFilled, StatusFilled, StatusCanceled:
	default:
		return fmt.Errorf("order update has unknown status %q", u.Status)
	}
	switch u.OrderType {
	case OrderTypeOpen, OrderTypeClose:
	default:
		return fmt.Errorf("order update has unknown order type %q", u.OrderType)
	}
	if u.FilledSize.IsNegative() {
		return fmt.Errorf("order update has negative filled size %s", u.FilledSize)
	}
	return nil
}

// LedgerEntry is one append-only transaction record.
type LedgerEntry struct {
	Timestamp time.Time
	OrderID   string
	Side      Side
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Status    OrderStatus
}

// AlertLevel grades outbound notifications.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertError    AlertLevel = "ERROR"
	AlertCritical AlertLevel = "CRITICAL"
)
