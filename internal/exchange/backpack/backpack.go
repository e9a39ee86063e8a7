// Package backpack provides Backpack exchange connectivity for perpetual
// futures.
package backpack

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
	pkghttp "grid_trader/pkg/http"
	pkgws "grid_trader/pkg/websocket"
)

const (
	defaultBaseURL = "https://api.backpack.exchange"
	defaultWsURL   = "wss://ws.backpack.exchange"

	requestTimeout = 10 * time.Second
)

// Exchange implements core.IExchange for Backpack. The venue does not push
// cancel notifications; the filled remainder comes back in the cancel
// response instead.
type Exchange struct {
	cfg      *config.ExchangeConfig
	strategy *config.StrategyConfig
	rest     *pkghttp.Client
	signer   *Signer
	ws       *pkgws.Client
	limiter  *rate.Limiter
	logger   core.ILogger

	mu         sync.Mutex
	handler    func(update *core.OrderUpdate)
	contractID string
	tickSize   decimal.Decimal
}

// NewExchange creates a Backpack exchange instance.
func NewExchange(cfg *config.ExchangeConfig, strategy *config.StrategyConfig, logger core.ILogger) (*Exchange, error) {
	signer, err := NewSigner(cfg.APIKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create backpack signer: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Exchange{
		cfg:      cfg,
		strategy: strategy,
		rest:     pkghttp.NewClient(baseURL, requestTimeout, signer),
		signer:   signer,
		limiter:  rate.NewLimiter(rate.Limit(8), 16),
		logger:   logger.WithField("component", "backpack"),
	}, nil
}

func (e *Exchange) GetName() string          { return "backpack" }
func (e *Exchange) SupportsCancelPush() bool { return false }

// Connect starts the private order update stream.
func (e *Exchange) Connect(ctx context.Context) error {
	wsURL := e.cfg.WsURL
	if wsURL == "" {
		wsURL = defaultWsURL
	}

	e.ws = pkgws.NewClient(wsURL, e.handleStreamMessage, e.logger)
	e.ws.SetOnConnected(e.subscribeOrderUpdates)
	e.ws.Start()
	return nil
}

// Disconnect stops the order update stream.
func (e *Exchange) Disconnect() error {
	if e.ws != nil {
		e.ws.Stop()
	}
	return nil
}

// RegisterOrderUpdateHandler sets the push notification handler. The handler
// runs on the stream goroutine and must only enqueue.
func (e *Exchange) RegisterOrderUpdateHandler(handler func(update *core.OrderUpdate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// GetContractAttributes resolves the perpetual contract for the configured
// ticker and returns its identifier and price tick size.
func (e *Exchange) GetContractAttributes(ctx context.Context) (string, decimal.Decimal, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", decimal.Zero, err
	}

	body, err := e.rest.Get(ctx, "/api/v1/markets", nil)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("failed to fetch markets: %w", err)
	}

	var markets []struct {
		Symbol     string `json:"symbol"`
		MarketType string `json:"marketType"`
		Filters    struct {
			Price struct {
				TickSize string `json:"tickSize"`
			} `json:"price"`
		} `json:"filters"`
	}
	if err := json.Unmarshal(body, &markets); err != nil {
		return "", decimal.Zero, fmt.Errorf("failed to parse markets: %w", err)
	}

	want := e.strategy.ContractID
	if want == "" {
		want = e.strategy.Ticker + "_USDC_PERP"
	}

	for _, m := range markets {
		if m.Symbol != want {
			continue
		}
		tickSize, err := decimal.NewFromString(m.Filters.Price.TickSize)
		if err != nil {
			return "", decimal.Zero, fmt.Errorf("market %s has invalid tick size %q: %w", m.Symbol, m.Filters.Price.TickSize, err)
		}

		e.mu.Lock()
		e.contractID = m.Symbol
		e.tickSize = tickSize
		e.mu.Unlock()
		return m.Symbol, tickSize, nil
	}

	return "", decimal.Zero, fmt.Errorf("contract %s not found on backpack", want)
}

// PlaceOpenOrder places an entry limit order at the current best price on
// the order's own side.
func (e *Exchange) PlaceOpenOrder(ctx context.Context, contractID string, qty decimal.Decimal, side core.Side) (*core.OrderResult, error) {
	book, err := e.FetchBestBidAsk(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch book for entry order: %w", err)
	}

	price := book.Bid
	if side == core.SideSell {
		price = book.Ask
	}
	price = e.roundToTick(price)

	return e.placeOrder(ctx, map[string]interface{}{
		"symbol":      contractID,
		"side":        sideToAPI(side),
		"orderType":   "Limit",
		"timeInForce": "GTC",
		"quantity":    qty.String(),
		"price":       price.String(),
	})
}

// PlaceCloseOrder places a reduce-only limit order at the given price.
func (e *Exchange) PlaceCloseOrder(ctx context.Context, contractID string, qty, price decimal.Decimal, side core.Side) (*core.OrderResult, error) {
	return e.placeOrder(ctx, map[string]interface{}{
		"symbol":      contractID,
		"side":        sideToAPI(side),
		"orderType":   "Limit",
		"timeInForce": "GTC",
		"quantity":    qty.String(),
		"price":       e.roundToTick(price).String(),
		"reduceOnly":  true,
	})
}

// PlaceMarketOrder places a reduce-only market order, used for position
// corrections and boost-mode closes.
func (e *Exchange) PlaceMarketOrder(ctx context.Context, contractID string, qty decimal.Decimal, side core.Side) (*core.OrderResult, error) {
	return e.placeOrder(ctx, map[string]interface{}{
		"symbol":     contractID,
		"side":       sideToAPI(side),
		"orderType":  "Market",
		"quantity":   qty.String(),
		"reduceOnly": true,
	})
}

func (e *Exchange) placeOrder(ctx context.Context, payload map[string]interface{}) (*core.OrderResult, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := e.rest.Post(ctx, "/api/v1/order", payload)
	if err != nil {
		if apiErr, ok := err.(*pkghttp.APIError); ok {
			return &core.OrderResult{Success: false, ErrorMessage: apiErr.Error()}, nil
		}
		return nil, fmt.Errorf("order request failed: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}

	price, _ := decimal.NewFromString(resp.Price)
	return &core.OrderResult{
		Success: true,
		OrderID: resp.ID,
		Status:  mapStatus(resp.Status),
		Price:   price,
	}, nil
}

// CancelOrder cancels the order and reports the quantity that filled before
// the cancellation took effect.
func (e *Exchange) CancelOrder(ctx context.Context, orderID string) (*core.CancelResult, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	symbol := e.contractID
	e.mu.Unlock()

	body, err := e.rest.Delete(ctx, "/api/v1/order", map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	})
	if err != nil {
		if apiErr, ok := err.(*pkghttp.APIError); ok {
			return &core.CancelResult{Success: false, ErrorMessage: apiErr.Error()}, nil
		}
		return nil, fmt.Errorf("cancel request failed: %w", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse cancel response: %w", err)
	}

	filled, _ := decimal.NewFromString(resp.ExecutedQuantity)
	return &core.CancelResult{Success: true, FilledSize: filled}, nil
}

// GetOrderInfo returns the filled quantity of one order.
func (e *Exchange) GetOrderInfo(ctx context.Context, orderID string) (*core.OrderInfo, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	symbol := e.contractID
	e.mu.Unlock()

	body, err := e.rest.Get(ctx, "/api/v1/order", map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query order %s: %w", orderID, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse order query: %w", err)
	}

	filled, _ := decimal.NewFromString(resp.ExecutedQuantity)
	return &core.OrderInfo{FilledSize: filled}, nil
}

// GetActiveOrders returns all open orders on the contract.
func (e *Exchange) GetActiveOrders(ctx context.Context, contractID string) ([]core.OrderRecord, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := e.rest.Get(ctx, "/api/v1/orders", map[string]string{"symbol": contractID})
	if err != nil {
		return nil, fmt.Errorf("failed to query active orders: %w", err)
	}

	var resp []orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse active orders: %w", err)
	}

	orders := make([]core.OrderRecord, 0, len(resp))
	for _, o := range resp {
		price, _ := decimal.NewFromString(o.Price)
		size, _ := decimal.NewFromString(o.Quantity)
		orders = append(orders, core.OrderRecord{
			OrderID: o.ID,
			Side:    mapSide(o.Side),
			Price:   price,
			Size:    size,
			Status:  mapStatus(o.Status),
		})
	}
	return orders, nil
}

// GetAccountPosition returns the absolute net position on the configured
// contract.
func (e *Exchange) GetAccountPosition(ctx context.Context) (decimal.Decimal, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	body, err := e.rest.Get(ctx, "/api/v1/position", nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query positions: %w", err)
	}

	var positions []struct {
		Symbol      string `json:"symbol"`
		NetQuantity string `json:"netQuantity"`
	}
	if err := json.Unmarshal(body, &positions); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse positions: %w", err)
	}

	e.mu.Lock()
	symbol := e.contractID
	e.mu.Unlock()

	for _, p := range positions {
		if p.Symbol != symbol {
			continue
		}
		net, err := decimal.NewFromString(p.NetQuantity)
		if err != nil {
			return decimal.Zero, fmt.Errorf("position %s has invalid quantity %q: %w", p.Symbol, p.NetQuantity, err)
		}
		return net.Abs(), nil
	}
	return decimal.Zero, nil
}

// FetchBestBidAsk returns the top of book from the depth snapshot.
func (e *Exchange) FetchBestBidAsk(ctx context.Context, contractID string) (core.BookTicker, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return core.BookTicker{}, err
	}

	body, err := e.rest.Get(ctx, "/api/v1/depth", map[string]string{"symbol": contractID})
	if err != nil {
		return core.BookTicker{}, fmt.Errorf("failed to fetch depth: %w", err)
	}

	var depth struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &depth); err != nil {
		return core.BookTicker{}, fmt.Errorf("failed to parse depth: %w", err)
	}

	book := core.BookTicker{
		Bid: bestLevel(depth.Bids, true),
		Ask: bestLevel(depth.Asks, false),
	}
	if !book.Valid() {
		return core.BookTicker{}, fmt.Errorf("depth snapshot for %s is unusable (bid=%s ask=%s)", contractID, book.Bid, book.Ask)
	}
	return book, nil
}

func (e *Exchange) roundToTick(price decimal.Decimal) decimal.Decimal {
	e.mu.Lock()
	tick := e.tickSize
	e.mu.Unlock()
	if tick.IsZero() {
		tick = e.strategy.TickSize
	}
	if tick.IsZero() {
		return price
	}
	return price.Div(tick).Floor().Mul(tick)
}

// bestLevel picks the highest bid or lowest ask without assuming the order
// the venue sorts levels in.
func bestLevel(levels [][]string, highest bool) decimal.Decimal {
	best := decimal.Zero
	for _, level := range levels {
		if len(level) < 1 {
			continue
		}
		price, err := decimal.NewFromString(level[0])
		if err != nil {
			continue
		}
		if best.IsZero() || (highest && price.GreaterThan(best)) || (!highest && price.LessThan(best)) {
			best = price
		}
	}
	return best
}

type orderResponse struct {
	ID               string `json:"id"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	Status           string `json:"status"`
	Price            string `json:"price"`
	Quantity         string `json:"quantity"`
	ExecutedQuantity string `json:"executedQuantity"`
}

func sideToAPI(side core.Side) string {
	if side == core.SideBuy {
		return "Bid"
	}
	return "Ask"
}

func mapSide(raw string) core.Side {
	if raw == "Bid" {
		return core.SideBuy
	}
	return core.SideSell
}

func mapStatus(raw string) core.OrderStatus {
	switch raw {
	case "New", "TriggerPending":
		return core.StatusOpen
	case "PartiallyFilled":
		return core.StatusPartiallyFilled
	case "Filled":
		return core.StatusFilled
	case "Cancelled", "Expired":
		return core.StatusCanceled
	default:
		return core.OrderStatus(raw)
	}
}
