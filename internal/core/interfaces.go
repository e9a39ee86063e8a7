// Package core defines the shared types and interfaces of the grid trader
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IExchange is the boundary to one exchange integration. Implementations
// must be safe for sequential use from the trading loop; push notifications
// are delivered on the integration's own goroutine via the registered
// handler, which must only enqueue.
type IExchange interface {
	// Identity and capabilities
	GetName() string
	// SupportsCancelPush reports whether the venue delivers a push
	// notification for cancellations. When false the filled remainder is
	// read from the CancelResult (or an order query) instead of awaited.
	SupportsCancelPush() bool

	// Connection lifecycle
	Connect(ctx context.Context) error
	Disconnect() error
	GetContractAttributes(ctx context.Context) (contractID string, tickSize decimal.Decimal, err error)
	RegisterOrderUpdateHandler(handler func(update *OrderUpdate))

	// Order operations
	PlaceOpenOrder(ctx context.Context, contractID string, qty decimal.Decimal, side Side) (*OrderResult, error)
	PlaceCloseOrder(ctx context.Context, contractID string, qty, price decimal.Decimal, side Side) (*OrderResult, error)
	PlaceMarketOrder(ctx context.Context, contractID string, qty decimal.Decimal, side Side) (*OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (*CancelResult, error)
	GetOrderInfo(ctx context.Context, orderID string) (*OrderInfo, error)
	GetActiveOrders(ctx context.Context, contractID string) ([]OrderRecord, error)

	// Account and market data
	GetAccountPosition(ctx context.Context) (decimal.Decimal, error)
	FetchBestBidAsk(ctx context.Context, contractID string) (BookTicker, error)
}

// ILedger is the append-only transaction record for fills and cancellations.
type ILedger interface {
	Append(entry LedgerEntry) error
	Close() error
}

// INotifier sends best-effort outbound alerts. Implementations never block
// the trading path and never surface delivery errors to the caller.
type INotifier interface {
	Alert(ctx context.Context, level AlertLevel, title, message string, fields map[string]string)
}

// ILogger is the logging facade used by every component.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
