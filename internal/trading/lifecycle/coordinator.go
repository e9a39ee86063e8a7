// Package lifecycle drives one entry order from placement through fill or
// cancellation to close-order issuance.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
	"grid_trader/internal/infrastructure/metrics"
)

const (
	defaultFillWait   = 10 * time.Second
	defaultCancelWait = 5 * time.Second

	eventQueueSize = 64
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Coordinator owns the entry-order state machine. All methods except
// HandleOrderUpdate must be called from the control loop; HandleOrderUpdate
// runs on the exchange's push goroutine and only enqueues.
type Coordinator struct {
	exchange core.IExchange
	ledger   core.ILedger
	logger   core.ILogger
	cfg      *config.StrategyConfig
	tag      string

	contractID string
	events     chan *core.OrderUpdate
	resolved   map[string]bool

	fillWait   time.Duration
	cancelWait time.Duration
}

// NewCoordinator creates a coordinator. The contract identifier is bound
// later, once the controller has resolved it from the exchange.
func NewCoordinator(exchange core.IExchange, ledger core.ILedger, cfg *config.StrategyConfig, tag string, logger core.ILogger) *Coordinator {
	return &Coordinator{
		exchange:   exchange,
		ledger:     ledger,
		logger:     logger.WithField("component", "lifecycle"),
		cfg:        cfg,
		tag:        tag,
		events:     make(chan *core.OrderUpdate, eventQueueSize),
		resolved:   make(map[string]bool),
		fillWait:   defaultFillWait,
		cancelWait: defaultCancelWait,
	}
}

// SetContractID binds the resolved contract; updates for other contracts
// are ignored at the ingress.
func (c *Coordinator) SetContractID(contractID string) {
	c.contractID = contractID
}

// HandleOrderUpdate is the push-notification ingress. It runs on a foreign
// goroutine and must only enqueue; a full queue drops the update rather
// than blocking the stream.
func (c *Coordinator) HandleOrderUpdate(update *core.OrderUpdate) {
	if c.contractID != "" && update.ContractID != c.contractID {
		return
	}

	select {
	case c.events <- update:
	default:
		c.logger.Warn("Order update queue full, dropping update",
			"order_id", update.OrderID, "status", update.Status)
	}
}

// ProcessPending drains queued updates without blocking. Close-order fills
// arriving between entry cycles land in the ledger here.
func (c *Coordinator) ProcessPending(ctx context.Context) {
	for {
		select {
		case update := <-c.events:
			c.applyUpdate(ctx, update)
		default:
			return
		}
	}
}

// ExecuteEntry places one entry order and resolves it: immediate fill,
// awaited fill, or cancel after the fill wait expires. Any filled quantity,
// full or partial, gets a close order sized to exactly that quantity.
func (c *Coordinator) ExecuteEntry(ctx context.Context) error {
	result, err := c.exchange.PlaceOpenOrder(ctx, c.contractID, c.cfg.Quantity, c.cfg.Direction)
	if err != nil {
		return fmt.Errorf("entry order placement failed: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("entry order rejected: %s", result.ErrorMessage)
	}

	metrics.EntryOrdersPlaced.WithLabelValues(c.tag).Inc()
	c.logger.Info("Entry order placed",
		"order_id", result.OrderID,
		"side", c.cfg.Direction,
		"quantity", c.cfg.Quantity.String(),
		"price", result.Price.String(),
		"status", result.Status)

	filled, fillPrice, err := c.resolveEntry(ctx, result)
	if err != nil {
		return err
	}

	if !filled.IsPositive() {
		return nil
	}
	return c.placeClose(ctx, filled, fillPrice)
}

// resolveEntry waits out the entry order's life and returns the filled
// quantity and the price it filled at.
func (c *Coordinator) resolveEntry(ctx context.Context, result *core.OrderResult) (decimal.Decimal, decimal.Decimal, error) {
	if result.Status == core.StatusFilled {
		// Filled synchronously in the placement response; a later push
		// for the same order is a duplicate.
		c.resolved[result.OrderID] = true
		c.appendLedger(result.OrderID, c.cfg.Direction, c.cfg.Quantity, result.Price, core.StatusFilled)
		metrics.EntryOrdersFilled.WithLabelValues(c.tag).Inc()
		return c.cfg.Quantity, result.Price, nil
	}

	if update, ok := c.awaitTerminal(ctx, result.OrderID, c.fillWait); ok {
		filled := update.FilledSize
		price := update.Price
		if !price.IsPositive() {
			price = result.Price
		}
		if update.Status == core.StatusFilled {
			metrics.EntryOrdersFilled.WithLabelValues(c.tag).Inc()
		}
		return filled, price, nil
	}

	// Fill wait expired: cancel and pick up whatever filled meanwhile.
	filled, err := c.cancelEntry(ctx, result.OrderID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return filled, result.Price, nil
}

func (c *Coordinator) cancelEntry(ctx context.Context, orderID string) (decimal.Decimal, error) {
	c.logger.Info("Fill wait expired, canceling entry order", "order_id", orderID)

	result, err := c.exchange.CancelOrder(ctx, orderID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cancel request failed: %w", err)
	}
	if !result.Success {
		return decimal.Zero, fmt.Errorf("cancel rejected for order %s: %s", orderID, result.ErrorMessage)
	}
	metrics.OrdersCanceled.WithLabelValues(c.tag).Inc()

	if !c.exchange.SupportsCancelPush() {
		// The venue reports the filled remainder in the cancel response.
		c.resolved[orderID] = true
		if result.FilledSize.IsPositive() {
			c.appendLedger(orderID, c.cfg.Direction, result.FilledSize, decimal.Zero, core.StatusCanceled)
		}
		return result.FilledSize, nil
	}

	if update, ok := c.awaitTerminal(ctx, orderID, c.cancelWait); ok {
		return update.FilledSize, nil
	}

	// No confirmation arrived; query the order directly.
	info, err := c.exchange.GetOrderInfo(ctx, orderID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cancel confirmation missing and order query failed: %w", err)
	}
	c.resolved[orderID] = true
	if info.FilledSize.IsPositive() {
		c.appendLedger(orderID, c.cfg.Direction, info.FilledSize, decimal.Zero, core.StatusCanceled)
	}
	return info.FilledSize, nil
}

// awaitTerminal blocks until a terminal update for orderID arrives or the
// timeout expires. Updates for other orders are applied as they come.
func (c *Coordinator) awaitTerminal(ctx context.Context, orderID string, timeout time.Duration) (*core.OrderUpdate, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-timer.C:
			return nil, false
		case update := <-c.events:
			if resolved := c.applyUpdate(ctx, update); resolved != nil && resolved.OrderID == orderID {
				return resolved, true
			}
		}
	}
}

// applyUpdate applies one push notification with at-most-once semantics for
// terminal statuses. It returns the update when it is a fresh terminal
// transition of an entry order, so a waiting entry cycle can consume it.
func (c *Coordinator) applyUpdate(ctx context.Context, update *core.OrderUpdate) *core.OrderUpdate {
	if !update.Status.Terminal() {
		c.logger.Debug("Order update", "order_id", update.OrderID, "status", update.Status)
		return nil
	}

	if c.resolved[update.OrderID] {
		c.logger.Info("Discarding duplicate terminal update",
			"order_id", update.OrderID, "status", update.Status)
		return nil
	}
	c.resolved[update.OrderID] = true

	if update.OrderType == core.OrderTypeClose {
		if update.Status == core.StatusFilled {
			c.logger.Info("Close order filled",
				"order_id", update.OrderID,
				"price", update.Price.String(),
				"filled", update.FilledSize.String())
			c.appendLedger(update.OrderID, update.Side, update.FilledSize, update.Price, core.StatusFilled)
		}
		return nil
	}

	switch update.Status {
	case core.StatusFilled:
		c.appendLedger(update.OrderID, update.Side, update.FilledSize, update.Price, core.StatusFilled)
	case core.StatusCanceled:
		if update.FilledSize.IsPositive() {
			c.appendLedger(update.OrderID, update.Side, update.FilledSize, update.Price, core.StatusCanceled)
		}
	}
	return update
}

// placeClose issues the close order for a confirmed fill: a market order in
// boost mode, otherwise a limit order at the take-profit price. A failure
// here never rolls back the fill; the reconciler picks up the uncovered
// exposure.
func (c *Coordinator) placeClose(ctx context.Context, quantity, fillPrice decimal.Decimal) error {
	side := c.cfg.CloseSide()

	var result *core.OrderResult
	var err error
	if c.cfg.BoostMode {
		result, err = c.exchange.PlaceMarketOrder(ctx, c.contractID, quantity, side)
	} else {
		price := c.closePrice(fillPrice)
		result, err = c.exchange.PlaceCloseOrder(ctx, c.contractID, quantity, price, side)
	}
	if err != nil {
		return fmt.Errorf("close order placement failed: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("close order rejected: %s", result.ErrorMessage)
	}

	metrics.CloseOrdersPlaced.WithLabelValues(c.tag).Inc()
	c.logger.Info("Close order placed",
		"order_id", result.OrderID,
		"side", side,
		"quantity", quantity.String(),
		"price", result.Price.String(),
		"boost", c.cfg.BoostMode)
	return nil
}

// closePrice applies the take-profit percentage on the side the close
// profits from: above the fill for a buy strategy, below it for sell.
func (c *Coordinator) closePrice(fillPrice decimal.Decimal) decimal.Decimal {
	factor := c.cfg.TakeProfit.Div(hundred)
	if c.cfg.Direction == core.SideBuy {
		return fillPrice.Mul(one.Add(factor))
	}
	return fillPrice.Mul(one.Sub(factor))
}

func (c *Coordinator) appendLedger(orderID string, side core.Side, quantity, price decimal.Decimal, status core.OrderStatus) {
	entry := core.LedgerEntry{
		Timestamp: time.Now(),
		OrderID:   orderID,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Status:    status,
	}
	if err := c.ledger.Append(entry); err != nil {
		c.logger.Error("Failed to append ledger entry",
			"order_id", orderID, "status", status, "error", err)
	}
}
