package safety

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, f ...interface{})               {}
func (nopLogger) Info(msg string, f ...interface{})                {}
func (nopLogger) Warn(msg string, f ...interface{})                {}
func (nopLogger) Error(msg string, f ...interface{})               {}
func (nopLogger) Fatal(msg string, f ...interface{})               {}
func (nopLogger) WithField(k string, v interface{}) core.ILogger   { return nopLogger{} }
func (nopLogger) WithFields(f map[string]interface{}) core.ILogger { return nopLogger{} }

func guard(direction core.Side, stop, pause int64) *PriceGuard {
	return NewPriceGuard(&config.StrategyConfig{
		Direction:  direction,
		StopPrice:  decimal.NewFromInt(stop),
		PausePrice: decimal.NewFromInt(pause),
	}, nopLogger{})
}

func book(bid, ask int64) core.BookTicker {
	return core.BookTicker{Bid: decimal.NewFromInt(bid), Ask: decimal.NewFromInt(ask)}
}

func TestPriceGuard_SentinelsDisableEverything(t *testing.T) {
	g := guard(core.SideSell, -1, -1)
	assert.True(t, g.Disabled())

	v := g.Evaluate(book(1, 2))
	assert.False(t, v.Stop)
	assert.False(t, v.Pause)

	v = g.Evaluate(book(1_000_000, 1_000_001))
	assert.False(t, v.Stop)
	assert.False(t, v.Pause)
}

func TestPriceGuard_SellStopTriggersAtOrBelowBid(t *testing.T) {
	g := guard(core.SideSell, 100, -1)

	assert.False(t, g.Evaluate(book(101, 102)).Stop)
	assert.True(t, g.Evaluate(book(100, 101)).Stop)
	assert.True(t, g.Evaluate(book(99, 100)).Stop)
}

func TestPriceGuard_BuyStopTriggersAtOrAboveAsk(t *testing.T) {
	g := guard(core.SideBuy, 200, -1)

	assert.False(t, g.Evaluate(book(198, 199)).Stop)
	assert.True(t, g.Evaluate(book(199, 200)).Stop)
	assert.True(t, g.Evaluate(book(200, 201)).Stop)
}

func TestPriceGuard_PauseIndependentOfStop(t *testing.T) {
	g := guard(core.SideSell, 50, 100)

	v := g.Evaluate(book(90, 91))
	assert.False(t, v.Stop)
	assert.True(t, v.Pause)

	// Pause clears once the bid recovers.
	v = g.Evaluate(book(101, 102))
	assert.False(t, v.Pause)

	// Stop and pause can fire together; stop takes precedence upstream.
	v = g.Evaluate(book(40, 41))
	assert.True(t, v.Stop)
	assert.True(t, v.Pause)
}

func TestPriceGuard_OneSentinelOnlyDisablesThatGuard(t *testing.T) {
	g := guard(core.SideBuy, -1, 150)

	v := g.Evaluate(book(151, 152))
	assert.False(t, v.Stop)
	assert.True(t, v.Pause)
}
