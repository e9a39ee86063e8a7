// Package exchange creates the configured exchange integration.
package exchange

import (
	"fmt"
	"strings"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
	"grid_trader/internal/exchange/backpack"
	"grid_trader/internal/mock"
)

// New creates the exchange named in the configuration.
func New(cfg *config.Config, logger core.ILogger) (core.IExchange, error) {
	switch strings.ToLower(cfg.Exchange.Name) {
	case "backpack":
		return backpack.NewExchange(&cfg.Exchange, &cfg.Strategy, logger)
	case "mock":
		return mock.NewExchange(true), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", cfg.Exchange.Name)
	}
}
