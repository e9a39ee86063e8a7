package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
	"grid_trader/internal/mock"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, f ...interface{})               {}
func (nopLogger) Info(msg string, f ...interface{})                {}
func (nopLogger) Warn(msg string, f ...interface{})                {}
func (nopLogger) Error(msg string, f ...interface{})               {}
func (nopLogger) Fatal(msg string, f ...interface{})               {}
func (nopLogger) WithField(k string, v interface{}) core.ILogger   { return nopLogger{} }
func (nopLogger) WithFields(f map[string]interface{}) core.ILogger { return nopLogger{} }

type memLedger struct {
	mu      sync.Mutex
	entries []core.LedgerEntry
}

func (l *memLedger) Append(entry core.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *memLedger) Close() error { return nil }

func (l *memLedger) rows() []core.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := make([]core.LedgerEntry, len(l.entries))
	copy(res, l.entries)
	return res
}

func sellConfig() *config.StrategyConfig {
	return &config.StrategyConfig{
		Ticker:     "ETH",
		Quantity:   decimal.NewFromInt(1),
		TakeProfit: decimal.NewFromInt(1),
		Direction:  core.SideSell,
		MaxOrders:  10,
		WaitTime:   60,
	}
}

func newCoordinator(t *testing.T, ex *mock.Exchange, cfg *config.StrategyConfig) (*Coordinator, *memLedger) {
	t.Helper()
	ledger := &memLedger{}
	c := NewCoordinator(ex, ledger, cfg, "MOCK_ETH", nopLogger{})
	c.SetContractID("MOCK-PERP")
	c.fillWait = 200 * time.Millisecond
	c.cancelWait = 100 * time.Millisecond
	ex.RegisterOrderUpdateHandler(c.HandleOrderUpdate)
	return c, ledger
}

func TestExecuteEntry_SynchronousFillPlacesClose(t *testing.T) {
	ex := mock.NewExchange(true)
	ex.FillSync = true
	ex.SetBook(decimal.NewFromFloat(99.5), decimal.NewFromInt(100))

	c, ledger := newCoordinator(t, ex, sellConfig())
	require.NoError(t, c.ExecuteEntry(context.Background()))

	// Sell entry at 100, take-profit 1% -> close buy at 99.
	require.Len(t, ex.PlacedClose, 1)
	assert.Equal(t, core.SideBuy, ex.PlacedClose[0].Side)
	assert.True(t, ex.PlacedClose[0].Price.Equal(decimal.NewFromInt(99)), ex.PlacedClose[0].Price.String())
	assert.True(t, ex.PlacedClose[0].Qty.Equal(decimal.NewFromInt(1)))

	rows := ledger.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, core.StatusFilled, rows[0].Status)
	assert.Equal(t, core.SideSell, rows[0].Side)
}

func TestExecuteEntry_AsyncFillWithinWait(t *testing.T) {
	ex := mock.NewExchange(true)
	ex.FillOnPlace = true
	ex.FillDelay = 20 * time.Millisecond
	ex.SetBook(decimal.NewFromFloat(99.5), decimal.NewFromInt(100))

	c, ledger := newCoordinator(t, ex, sellConfig())
	require.NoError(t, c.ExecuteEntry(context.Background()))

	require.Len(t, ex.PlacedClose, 1)
	assert.True(t, ex.PlacedClose[0].Price.Equal(decimal.NewFromInt(99)))
	require.Len(t, ledger.rows(), 1)
	assert.Empty(t, ex.CanceledOrders)
}

func TestExecuteEntry_TimeoutCancelsWithoutFill(t *testing.T) {
	ex := mock.NewExchange(false) // filled remainder comes from the cancel response
	c, ledger := newCoordinator(t, ex, sellConfig())
	c.fillWait = 50 * time.Millisecond

	require.NoError(t, c.ExecuteEntry(context.Background()))

	assert.Len(t, ex.CanceledOrders, 1)
	assert.Empty(t, ex.PlacedClose)
	assert.Empty(t, ledger.rows())
}

func TestExecuteEntry_PartialFillOnCancelGetsClose(t *testing.T) {
	ex := mock.NewExchange(false)
	ex.CancelFilled = decimal.NewFromFloat(0.4)
	ex.SetBook(decimal.NewFromFloat(99.5), decimal.NewFromInt(100))

	c, ledger := newCoordinator(t, ex, sellConfig())
	c.fillWait = 50 * time.Millisecond

	require.NoError(t, c.ExecuteEntry(context.Background()))

	assert.Len(t, ex.CanceledOrders, 1)
	require.Len(t, ex.PlacedClose, 1)
	assert.True(t, ex.PlacedClose[0].Qty.Equal(decimal.NewFromFloat(0.4)))
	// Entry limit rested at the ask (100); the close prices off it.
	assert.True(t, ex.PlacedClose[0].Price.Equal(decimal.NewFromInt(99)))

	rows := ledger.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, core.StatusCanceled, rows[0].Status)
	assert.True(t, rows[0].Quantity.Equal(decimal.NewFromFloat(0.4)))
}

func TestExecuteEntry_CancelPushVenueAwaitsConfirmation(t *testing.T) {
	ex := mock.NewExchange(true)
	c, ledger := newCoordinator(t, ex, sellConfig())
	c.fillWait = 50 * time.Millisecond
	c.cancelWait = 300 * time.Millisecond

	// Deliver the cancel confirmation push shortly after the cancel request.
	done := make(chan struct{})
	go func() {
		defer close(done)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if ids := canceledIDs(ex); len(ids) > 0 {
				ex.Push(&core.OrderUpdate{
					ContractID: "MOCK-PERP",
					OrderID:    ids[0],
					Status:     core.StatusCanceled,
					Side:       core.SideSell,
					OrderType:  core.OrderTypeOpen,
					Size:       decimal.NewFromInt(1),
					FilledSize: decimal.NewFromFloat(0.25),
				})
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	require.NoError(t, c.ExecuteEntry(context.Background()))
	<-done

	require.Len(t, ex.PlacedClose, 1)
	assert.True(t, ex.PlacedClose[0].Qty.Equal(decimal.NewFromFloat(0.25)))

	rows := ledger.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, core.StatusCanceled, rows[0].Status)
}

func TestApplyUpdate_DuplicateTerminalIsDiscarded(t *testing.T) {
	ex := mock.NewExchange(true)
	c, ledger := newCoordinator(t, ex, sellConfig())
	ctx := context.Background()

	update := &core.OrderUpdate{
		ContractID: "MOCK-PERP",
		OrderID:    "entry-1",
		Status:     core.StatusFilled,
		Side:       core.SideSell,
		OrderType:  core.OrderTypeOpen,
		Size:       decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(100),
		FilledSize: decimal.NewFromInt(1),
	}

	c.HandleOrderUpdate(update)
	c.HandleOrderUpdate(update)
	c.ProcessPending(ctx)

	assert.Len(t, ledger.rows(), 1)
}

func TestProcessPending_CloseFillLandsInLedger(t *testing.T) {
	ex := mock.NewExchange(true)
	c, ledger := newCoordinator(t, ex, sellConfig())

	c.HandleOrderUpdate(&core.OrderUpdate{
		ContractID: "MOCK-PERP",
		OrderID:    "close-1",
		Status:     core.StatusFilled,
		Side:       core.SideBuy,
		OrderType:  core.OrderTypeClose,
		Size:       decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(99),
		FilledSize: decimal.NewFromInt(1),
	})
	c.ProcessPending(context.Background())

	rows := ledger.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, core.SideBuy, rows[0].Side)
	assert.True(t, rows[0].Price.Equal(decimal.NewFromInt(99)))
}

func TestHandleOrderUpdate_FiltersOtherContracts(t *testing.T) {
	ex := mock.NewExchange(true)
	c, ledger := newCoordinator(t, ex, sellConfig())

	c.HandleOrderUpdate(&core.OrderUpdate{
		ContractID: "OTHER-PERP",
		OrderID:    "foreign-1",
		Status:     core.StatusFilled,
		Side:       core.SideSell,
		OrderType:  core.OrderTypeOpen,
		FilledSize: decimal.NewFromInt(1),
	})
	c.ProcessPending(context.Background())

	assert.Empty(t, ledger.rows())
}

func TestExecuteEntry_BoostModeClosesAtMarket(t *testing.T) {
	ex := mock.NewExchange(true)
	ex.FillSync = true
	ex.SetBook(decimal.NewFromFloat(99.5), decimal.NewFromInt(100))

	cfg := sellConfig()
	cfg.BoostMode = true
	c, _ := newCoordinator(t, ex, cfg)

	require.NoError(t, c.ExecuteEntry(context.Background()))

	assert.Empty(t, ex.PlacedClose)
	require.Len(t, ex.PlacedMarket, 1)
	assert.Equal(t, core.SideBuy, ex.PlacedMarket[0].Side)
	assert.True(t, ex.PlacedMarket[0].Qty.Equal(decimal.NewFromInt(1)))
}

func canceledIDs(ex *mock.Exchange) []string {
	return ex.Canceled()
}
