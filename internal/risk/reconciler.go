// Package risk reconciles reported position against outstanding close
// orders.
package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
	"grid_trader/internal/infrastructure/metrics"
)

// mismatchThreshold is how many consecutive cycles a mismatch must persist
// before a correction fires. Order and position snapshots come from
// separate queries and can disagree transiently.
const mismatchThreshold = 3

// Reconciler detects and corrects divergence between the exchange-reported
// position and the exposure covered by active close orders.
type Reconciler struct {
	exchange  core.IExchange
	notifier  core.INotifier
	logger    core.ILogger
	quantity  decimal.Decimal
	closeSide core.Side
	tag       string

	streak int
}

// NewReconciler creates a reconciler for the configured strategy. The
// tolerance for a mismatch is one order quantity.
func NewReconciler(exchange core.IExchange, notifier core.INotifier, cfg *config.StrategyConfig, tag string, logger core.ILogger) *Reconciler {
	return &Reconciler{
		exchange:  exchange,
		notifier:  notifier,
		logger:    logger.WithField("component", "reconciler"),
		quantity:  cfg.Quantity,
		closeSide: cfg.CloseSide(),
		tag:       tag,
	}
}

// Reconcile compares the position magnitude against the covered amount and
// reports whether it issued a correction this cycle.
//
// Over-covered positions (position > covered) are uncovered risk: after the
// mismatch persists long enough, a market order on the close side sized at
// one base quantity reduces exposure; repeated cycles keep correcting until
// balanced. Under-covered positions (position < covered) cannot be safely
// auto-corrected, because canceling a close order races a real fill, so
// they only alert.
func (r *Reconciler) Reconcile(ctx context.Context, contractID string, position, covered decimal.Decimal) (bool, error) {
	diff := position.Abs().Sub(covered)

	if diff.Abs().LessThanOrEqual(r.quantity) {
		if r.streak > 0 {
			r.logger.Debug("Position back within tolerance", "streak", r.streak)
		}
		r.streak = 0
		return false, nil
	}

	r.streak++
	r.logger.Warn("Position mismatch detected",
		"position", position.String(),
		"covered", covered.String(),
		"difference", diff.String(),
		"streak", r.streak)

	if r.streak < mismatchThreshold {
		return false, nil
	}

	if diff.IsPositive() {
		return r.correct(ctx, contractID, position, covered)
	}

	// Close orders exceed real exposure; no safe automatic action.
	r.logger.Error("Position under-covered, manual intervention required",
		"position", position.String(),
		"covered", covered.String())
	r.notifier.Alert(ctx, core.AlertError, "Position under-covered",
		fmt.Sprintf("reported position %s is below covered amount %s; close orders may be stale", position, covered),
		map[string]string{
			"position": position.String(),
			"covered":  covered.String(),
		})
	return false, nil
}

func (r *Reconciler) correct(ctx context.Context, contractID string, position, covered decimal.Decimal) (bool, error) {
	r.logger.Warn("Issuing corrective market order",
		"side", r.closeSide,
		"quantity", r.quantity.String())

	result, err := r.exchange.PlaceMarketOrder(ctx, contractID, r.quantity, r.closeSide)
	if err != nil {
		return false, fmt.Errorf("corrective market order failed: %w", err)
	}
	if !result.Success {
		return false, fmt.Errorf("corrective market order rejected: %s", result.ErrorMessage)
	}

	metrics.ReconcileCorrections.WithLabelValues(r.tag).Inc()
	r.notifier.Alert(ctx, core.AlertWarning, "Position corrected",
		fmt.Sprintf("market %s for %s issued: position %s exceeded covered amount %s", r.closeSide, r.quantity, position, covered),
		map[string]string{
			"order_id": result.OrderID,
			"position": position.String(),
			"covered":  covered.String(),
		})
	return true, nil
}
