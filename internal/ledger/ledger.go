// Package ledger persists the append-only transaction record of fills and
// cancellations.
package ledger

import (
	"fmt"
	"strings"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
)

// New creates the ledger backend selected by the configuration.
func New(cfg config.LedgerConfig, logger core.ILogger) (core.ILedger, error) {
	switch strings.ToLower(cfg.Backend) {
	case "csv":
		return NewCSVLedger(cfg.Path, logger)
	case "sqlite":
		return NewSQLiteLedger(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.Backend)
	}
}
