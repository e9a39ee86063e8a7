package controller

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
	"grid_trader/pkg/retry"
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

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Alert(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *recordingNotifier) has(title string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.titles {
		if t == title {
			return true
		}
	}
	return false
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Exchange.Name = "mock"
	cfg.Strategy.Ticker = "ETH"
	cfg.Strategy.Direction = core.SideSell
	cfg.Strategy.Quantity = decimal.NewFromInt(1)
	cfg.Strategy.TakeProfit = decimal.NewFromInt(1)
	cfg.Strategy.GridStep = decimal.NewFromInt(2)
	cfg.Strategy.WaitTime = 0
	cfg.Strategy.StopPrice = config.GuardDisabled
	cfg.Strategy.PausePrice = config.GuardDisabled
	return cfg
}

func newController(cfg *config.Config, ex *mock.Exchange) (*Controller, *recordingNotifier, *memLedger) {
	notifier := &recordingNotifier{}
	ledger := &memLedger{}
	c := NewController(cfg, ex, ledger, notifier, nopLogger{})
	c.SetTiming(Timing{
		SettleDelay:    time.Millisecond,
		BackoffSleep:   5 * time.Millisecond,
		PauseSleep:     5 * time.Millisecond,
		StatusInterval: time.Hour,
	})
	c.snapshotPolicy = retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	return c, notifier, ledger
}

func runUntil(t *testing.T, c *Controller, cancel context.CancelFunc, errCh <-chan error, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			cancel()
			<-errCh
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-errCh
	t.Fatal("condition not met before deadline")
}

func start(c *Controller) (context.CancelFunc, chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	return cancel, errCh
}

func TestRun_StopGuardShutsDownGracefully(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.StopPrice = decimal.NewFromInt(100)

	ex := mock.NewExchange(true)
	ex.SetBook(decimal.NewFromInt(99), decimal.NewFromFloat(99.5))

	c, notifier, _ := newController(cfg, ex)

	err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStopped, c.State())
	assert.True(t, notifier.has("Stop price reached"))
	assert.Empty(t, ex.OpenPlaced())
}

func TestRun_PlacesEntryAndClose(t *testing.T) {
	cfg := testConfig()
	ex := mock.NewExchange(true)
	ex.FillSync = true
	ex.SetBook(decimal.NewFromFloat(99.5), decimal.NewFromInt(100))

	c, _, _ := newController(cfg, ex)
	cancel, errCh := start(c)

	runUntil(t, c, cancel, errCh, func() bool {
		return len(ex.Canceled()) == 0 && len(ex.OpenPlaced()) > 0 && len(ex.ClosePlaced()) > 0
	})

	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, core.SideSell, ex.OpenPlaced()[0])
	assert.Equal(t, core.SideBuy, ex.ClosePlaced()[0].Side)
}

func TestRun_PauseSuspendsEntries(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.PausePrice = decimal.NewFromInt(100)

	ex := mock.NewExchange(true)
	ex.SetBook(decimal.NewFromInt(99), decimal.NewFromFloat(99.5))

	c, _, _ := newController(cfg, ex)
	cancel, errCh := start(c)

	runUntil(t, c, cancel, errCh, func() bool { return c.State() == StatePaused })
	assert.Empty(t, ex.OpenPlaced())
}

func TestRun_PauseClearsWhenMarketRecovers(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.PausePrice = decimal.NewFromInt(100)

	ex := mock.NewExchange(true)
	ex.FillSync = true
	ex.SetBook(decimal.NewFromInt(99), decimal.NewFromFloat(99.5))

	c, _, _ := newController(cfg, ex)
	cancel, errCh := start(c)

	waited := func() bool { return c.State() == StatePaused }
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !waited() {
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, waited())

	ex.SetBook(decimal.NewFromInt(150), decimal.NewFromFloat(150.5))
	runUntil(t, c, cancel, errCh, func() bool { return len(ex.OpenPlaced()) > 0 })
}

func TestRun_GridSpacingBlocksClusteredEntries(t *testing.T) {
	cfg := testConfig()
	ex := mock.NewExchange(true)
	// One close order at 99 with the bid at 99: prospective close 98.01,
	// ratio 0.99 < 1.02, entry denied.
	ex.SetActiveOrders([]core.OrderRecord{{
		OrderID: "close-1",
		Side:    core.SideBuy,
		Price:   decimal.NewFromInt(99),
		Size:    decimal.NewFromInt(1),
		Status:  core.StatusOpen,
	}})
	ex.SetPosition(decimal.NewFromInt(1))
	ex.SetBook(decimal.NewFromInt(99), decimal.NewFromFloat(99.5))

	c, _, _ := newController(cfg, ex)
	cancel, errCh := start(c)

	// Let several cycles pass; no entry may appear.
	time.Sleep(150 * time.Millisecond)
	cancel()
	<-errCh
	assert.Empty(t, ex.OpenPlaced())
}

func TestRun_DisconnectsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	ex := mock.NewExchange(true)
	ex.FillSync = true

	c, _, _ := newController(cfg, ex)
	cancel, errCh := start(c)

	time.Sleep(20 * time.Millisecond)
	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateStopped, c.State())
}
