package backpack

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"grid_trader/internal/core"
)

// orderUpdateEvent is the account.orderUpdate stream payload.
type orderUpdateEvent struct {
	EventType        string `json:"e"`
	Symbol           string `json:"s"`
	OrderID          string `json:"i"`
	Side             string `json:"S"`
	Quantity         string `json:"q"`
	Price            string `json:"p"`
	Status           string `json:"X"`
	ExecutedQuantity string `json:"z"`
	ReduceOnly       bool   `json:"R"`
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// subscribeOrderUpdates signs and sends the private stream subscription.
// Runs on every (re)connect.
func (e *Exchange) subscribeOrderUpdates() {
	timestamp := time.Now().UnixMilli()
	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": []string{"account.orderUpdate"},
		"signature": []string{
			e.signer.APIKey(),
			e.signer.Sign("subscribe", timestamp),
			fmt.Sprintf("%d", timestamp),
			fmt.Sprintf("%d", signatureWindowMs),
		},
	}
	if err := e.ws.Send(msg); err != nil {
		e.logger.Error("Failed to subscribe to order updates", "error", err)
	}
}

func (e *Exchange) handleStreamMessage(message []byte) {
	var envelope streamEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		e.logger.Warn("Dropping unparseable stream message", "error", err)
		return
	}
	if envelope.Stream != "account.orderUpdate" {
		return
	}

	var event orderUpdateEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		e.logger.Warn("Dropping unparseable order update", "error", err)
		return
	}

	update, err := mapOrderUpdate(&event)
	if err != nil {
		e.logger.Warn("Dropping invalid order update", "order_id", event.OrderID, "error", err)
		return
	}

	e.mu.Lock()
	handler := e.handler
	e.mu.Unlock()
	if handler != nil {
		handler(update)
	}
}

// mapOrderUpdate converts a stream event into a validated core.OrderUpdate.
// Reduce-only orders are close orders; everything else is an entry.
func mapOrderUpdate(event *orderUpdateEvent) (*core.OrderUpdate, error) {
	size, _ := decimal.NewFromString(event.Quantity)
	price, _ := decimal.NewFromString(event.Price)
	filled, _ := decimal.NewFromString(event.ExecutedQuantity)

	orderType := core.OrderTypeOpen
	if event.ReduceOnly {
		orderType = core.OrderTypeClose
	}

	update := &core.OrderUpdate{
		ContractID: event.Symbol,
		OrderID:    event.OrderID,
		Status:     mapStatus(event.Status),
		Side:       mapSide(event.Side),
		OrderType:  orderType,
		Size:       size,
		Price:      price,
		FilledSize: filled,
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}
	return update, nil
}
