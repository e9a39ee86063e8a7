// Package mock provides a scriptable in-memory exchange for tests and dry
// runs.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"grid_trader/internal/core"
)

// Exchange is an in-memory core.IExchange. Behavior is scripted per test:
// orders can fill synchronously, after a delay, or never; cancellations can
// report a filled remainder; any operation can be forced to fail.
type Exchange struct {
	mu sync.Mutex

	name         string
	cancelPush   bool
	contractID   string
	tickSize     decimal.Decimal
	book         core.BookTicker
	position     decimal.Decimal
	activeOrders []core.OrderRecord
	orderInfos   map[string]core.OrderInfo
	handler      func(update *core.OrderUpdate)
	connected    bool

	// Scripted behavior
	FillSync       bool          // report FILLED in the placement response itself
	FillOnPlace    bool          // push a FILLED update after placement
	FillDelay      time.Duration // delay before the async fill push
	CancelFilled   decimal.Decimal
	FailPlace      error
	FailCancel     error
	FailConnect    error
	FailPosition   error
	FailBook       error
	FailActive     error
	FailOrderInfo  error
	FailContract   error
	PlacedOpen     []core.Side
	PlacedClose    []PlacedClose
	PlacedMarket   []PlacedMarket
	CanceledOrders []string
}

// PlacedClose records one close-order placement.
type PlacedClose struct {
	Qty   decimal.Decimal
	Price decimal.Decimal
	Side  core.Side
}

// PlacedMarket records one market-order placement.
type PlacedMarket struct {
	Qty  decimal.Decimal
	Side core.Side
}

// NewExchange creates a mock exchange. cancelPush controls whether the venue
// pushes cancel notifications or reports the filled remainder synchronously.
func NewExchange(cancelPush bool) *Exchange {
	return &Exchange{
		name:       "mock",
		cancelPush: cancelPush,
		contractID: "MOCK-PERP",
		tickSize:   decimal.NewFromFloat(0.01),
		book: core.BookTicker{
			Bid: decimal.NewFromInt(2000),
			Ask: decimal.NewFromFloat(2000.5),
		},
		orderInfos: make(map[string]core.OrderInfo),
	}
}

func (e *Exchange) GetName() string          { return e.name }
func (e *Exchange) SupportsCancelPush() bool { return e.cancelPush }

func (e *Exchange) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailConnect != nil {
		return e.FailConnect
	}
	e.connected = true
	return nil
}

func (e *Exchange) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
	return nil
}

func (e *Exchange) GetContractAttributes(ctx context.Context) (string, decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailContract != nil {
		return "", decimal.Zero, e.FailContract
	}
	return e.contractID, e.tickSize, nil
}

func (e *Exchange) RegisterOrderUpdateHandler(handler func(update *core.OrderUpdate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// SetBook overrides the best bid/ask snapshot.
func (e *Exchange) SetBook(bid, ask decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.book = core.BookTicker{Bid: bid, Ask: ask}
}

// SetPosition overrides the account position.
func (e *Exchange) SetPosition(pos decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = pos
}

// SetActiveOrders overrides the active order snapshot.
func (e *Exchange) SetActiveOrders(orders []core.OrderRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeOrders = orders
}

// SetOrderInfo scripts the response to a status query for one order.
func (e *Exchange) SetOrderInfo(orderID string, info core.OrderInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orderInfos[orderID] = info
}

// Push delivers a scripted order update through the registered handler, the
// way a live stream would.
func (e *Exchange) Push(update *core.OrderUpdate) {
	e.mu.Lock()
	handler := e.handler
	e.mu.Unlock()
	if handler != nil {
		handler(update)
	}
}

// Canceled returns a copy of the canceled order ids, safe to read while
// other goroutines drive the exchange.
func (e *Exchange) Canceled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, len(e.CanceledOrders))
	copy(ids, e.CanceledOrders)
	return ids
}

// OpenPlaced returns a copy of the entry-order sides placed so far.
func (e *Exchange) OpenPlaced() []core.Side {
	e.mu.Lock()
	defer e.mu.Unlock()
	sides := make([]core.Side, len(e.PlacedOpen))
	copy(sides, e.PlacedOpen)
	return sides
}

// ClosePlaced returns a copy of the close orders placed so far.
func (e *Exchange) ClosePlaced() []PlacedClose {
	e.mu.Lock()
	defer e.mu.Unlock()
	orders := make([]PlacedClose, len(e.PlacedClose))
	copy(orders, e.PlacedClose)
	return orders
}

// MarketPlaced returns a copy of the market orders placed so far.
func (e *Exchange) MarketPlaced() []PlacedMarket {
	e.mu.Lock()
	defer e.mu.Unlock()
	orders := make([]PlacedMarket, len(e.PlacedMarket))
	copy(orders, e.PlacedMarket)
	return orders
}

func (e *Exchange) PlaceOpenOrder(ctx context.Context, contractID string, qty decimal.Decimal, side core.Side) (*core.OrderResult, error) {
	e.mu.Lock()
	if e.FailPlace != nil {
		err := e.FailPlace
		e.mu.Unlock()
		return &core.OrderResult{Success: false, ErrorMessage: err.Error()}, nil
	}
	orderID := uuid.NewString()
	e.PlacedOpen = append(e.PlacedOpen, side)
	price := e.book.Bid
	if side == core.SideSell {
		price = e.book.Ask
	}
	syncFill := e.FillSync
	e.mu.Unlock()

	if syncFill {
		return &core.OrderResult{
			Success: true,
			OrderID: orderID,
			Status:  core.StatusFilled,
			Price:   price,
		}, nil
	}

	e.scheduleFill(contractID, orderID, side, qty, price, core.OrderTypeOpen)

	return &core.OrderResult{
		Success: true,
		OrderID: orderID,
		Status:  core.StatusOpen,
		Price:   price,
	}, nil
}

func (e *Exchange) PlaceCloseOrder(ctx context.Context, contractID string, qty, price decimal.Decimal, side core.Side) (*core.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailPlace != nil {
		return &core.OrderResult{Success: false, ErrorMessage: e.FailPlace.Error()}, nil
	}
	orderID := uuid.NewString()
	e.PlacedClose = append(e.PlacedClose, PlacedClose{Qty: qty, Price: price, Side: side})
	e.activeOrders = append(e.activeOrders, core.OrderRecord{
		OrderID: orderID,
		Side:    side,
		Price:   price,
		Size:    qty,
		Status:  core.StatusOpen,
	})
	return &core.OrderResult{
		Success: true,
		OrderID: orderID,
		Status:  core.StatusOpen,
		Price:   price,
	}, nil
}

func (e *Exchange) PlaceMarketOrder(ctx context.Context, contractID string, qty decimal.Decimal, side core.Side) (*core.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailPlace != nil {
		return &core.OrderResult{Success: false, ErrorMessage: e.FailPlace.Error()}, nil
	}
	e.PlacedMarket = append(e.PlacedMarket, PlacedMarket{Qty: qty, Side: side})
	price := e.book.Ask
	if side == core.SideSell {
		price = e.book.Bid
	}
	return &core.OrderResult{
		Success: true,
		OrderID: uuid.NewString(),
		Status:  core.StatusFilled,
		Price:   price,
	}, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, orderID string) (*core.CancelResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailCancel != nil {
		return &core.CancelResult{Success: false, ErrorMessage: e.FailCancel.Error()}, nil
	}
	e.CanceledOrders = append(e.CanceledOrders, orderID)
	return &core.CancelResult{Success: true, FilledSize: e.CancelFilled}, nil
}

func (e *Exchange) GetOrderInfo(ctx context.Context, orderID string) (*core.OrderInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailOrderInfo != nil {
		return nil, e.FailOrderInfo
	}
	info, ok := e.orderInfos[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return &info, nil
}

func (e *Exchange) GetActiveOrders(ctx context.Context, contractID string) ([]core.OrderRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailActive != nil {
		return nil, e.FailActive
	}
	orders := make([]core.OrderRecord, len(e.activeOrders))
	copy(orders, e.activeOrders)
	return orders, nil
}

func (e *Exchange) GetAccountPosition(ctx context.Context) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailPosition != nil {
		return decimal.Zero, e.FailPosition
	}
	return e.position, nil
}

func (e *Exchange) FetchBestBidAsk(ctx context.Context, contractID string) (core.BookTicker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailBook != nil {
		return core.BookTicker{}, e.FailBook
	}
	return e.book, nil
}

func (e *Exchange) scheduleFill(contractID, orderID string, side core.Side, qty, price decimal.Decimal, orderType core.OrderType) {
	if !e.FillOnPlace {
		return
	}
	update := &core.OrderUpdate{
		ContractID: contractID,
		OrderID:    orderID,
		Status:     core.StatusFilled,
		Side:       side,
		OrderType:  orderType,
		Size:       qty,
		Price:      price,
		FilledSize: qty,
	}
	if e.FillDelay <= 0 {
		go e.Push(update)
		return
	}
	time.AfterFunc(e.FillDelay, func() { e.Push(update) })
}
