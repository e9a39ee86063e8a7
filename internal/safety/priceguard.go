// Package safety evaluates the stop and pause price guards.
package safety

import (
	"github.com/shopspring/decimal"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
)

// PriceGuard checks the live top of book against the configured stop and
// pause thresholds. The stop guard ends the run; the pause guard only
// suspends new entries and clears itself when the market moves back.
type PriceGuard struct {
	direction  core.Side
	stopPrice  decimal.Decimal
	pausePrice decimal.Decimal
	logger     core.ILogger
}

// Verdict is the outcome of one guard evaluation. Stop takes precedence
// over Pause.
type Verdict struct {
	Stop  bool
	Pause bool
}

// NewPriceGuard creates a guard for the configured strategy.
func NewPriceGuard(cfg *config.StrategyConfig, logger core.ILogger) *PriceGuard {
	return &PriceGuard{
		direction:  cfg.Direction,
		stopPrice:  cfg.StopPrice,
		pausePrice: cfg.PausePrice,
		logger:     logger.WithField("component", "price_guard"),
	}
}

// Disabled reports whether both guards are off.
func (g *PriceGuard) Disabled() bool {
	return g.stopPrice.Equal(config.GuardDisabled) && g.pausePrice.Equal(config.GuardDisabled)
}

// Evaluate checks the guards against the book. For a buy strategy both
// guards trigger when the best ask rises to the threshold; for a sell
// strategy when the best bid falls to it.
func (g *PriceGuard) Evaluate(book core.BookTicker) Verdict {
	if g.Disabled() {
		return Verdict{}
	}

	var v Verdict
	if g.direction == core.SideBuy {
		v.Stop = g.enabled(g.stopPrice) && book.Ask.GreaterThanOrEqual(g.stopPrice)
		v.Pause = g.enabled(g.pausePrice) && book.Ask.GreaterThanOrEqual(g.pausePrice)
	} else {
		v.Stop = g.enabled(g.stopPrice) && book.Bid.LessThanOrEqual(g.stopPrice)
		v.Pause = g.enabled(g.pausePrice) && book.Bid.LessThanOrEqual(g.pausePrice)
	}

	if v.Stop {
		g.logger.Warn("Stop price guard triggered", "direction", g.direction, "stop_price", g.stopPrice.String(), "bid", book.Bid.String(), "ask", book.Ask.String())
	} else if v.Pause {
		g.logger.Info("Pause price guard active", "direction", g.direction, "pause_price", g.pausePrice.String(), "bid", book.Bid.String(), "ask", book.Ask.String())
	}
	return v
}

func (g *PriceGuard) enabled(price decimal.Decimal) bool {
	return !price.Equal(config.GuardDisabled)
}
