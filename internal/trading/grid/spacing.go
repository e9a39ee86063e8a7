// Package grid decides whether a new entry respects the configured spacing
// between close orders.
package grid

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Decision is the outcome of one spacing evaluation. ExpectedPrice is the
// market price at which spacing would first permit a new entry, rounded to
// two decimals; it is populated only on denial, for diagnostics.
type Decision struct {
	Permitted      bool
	StepCount      int
	ReferencePrice decimal.Decimal
	ExpectedPrice  decimal.Decimal
}

// Evaluator applies the grid-step spacing rule.
type Evaluator struct {
	direction  core.Side
	takeProfit decimal.Decimal // percent
	gridStep   decimal.Decimal // percent
	logger     core.ILogger
}

// NewEvaluator creates a spacing evaluator for the configured strategy.
func NewEvaluator(cfg *config.StrategyConfig, logger core.ILogger) *Evaluator {
	return &Evaluator{
		direction:  cfg.Direction,
		takeProfit: cfg.TakeProfit,
		gridStep:   cfg.GridStep,
		logger:     logger.WithField("component", "grid_spacing"),
	}
}

// Evaluate decides whether a new entry is permitted given the active close
// orders and a fresh top-of-book snapshot. An unusable snapshot denies
// entry with an error rather than a spacing decision.
func (e *Evaluator) Evaluate(closeOrders []core.OrderRecord, book core.BookTicker) (Decision, error) {
	if !book.Valid() {
		return Decision{}, fmt.Errorf("unusable book snapshot (bid=%s ask=%s)", book.Bid, book.Ask)
	}

	if len(closeOrders) == 0 {
		return Decision{Permitted: true}, nil
	}

	reference, stepCount := e.referenceOrder(closeOrders)
	threshold := one.Add(e.gridStep.Div(hundred).Mul(decimal.NewFromInt(int64(stepCount))))
	prospective := e.prospectiveClosePrice(book)

	var ratio decimal.Decimal
	if e.direction == core.SideBuy {
		ratio = reference.Price.Div(prospective)
	} else {
		ratio = prospective.Div(reference.Price)
	}

	if ratio.GreaterThan(threshold) {
		return Decision{
			Permitted:      true,
			StepCount:      stepCount,
			ReferencePrice: reference.Price,
		}, nil
	}

	expected := e.expectedEntryPrice(reference.Price, threshold).Round(2)
	e.logger.Debug("Entry denied by grid spacing",
		"reference_price", reference.Price.String(),
		"prospective_close", prospective.String(),
		"ratio", ratio.StringFixed(6),
		"threshold", threshold.String(),
		"expected_price", expected.String())

	return Decision{
		Permitted:      false,
		StepCount:      stepCount,
		ReferencePrice: reference.Price,
		ExpectedPrice:  expected,
	}, nil
}

// referenceOrder picks the second-nearest close order when two or more
// exist, to keep spacing honest under order clustering; otherwise the
// single existing order.
func (e *Evaluator) referenceOrder(closeOrders []core.OrderRecord) (core.OrderRecord, int) {
	sorted := make([]core.OrderRecord, len(closeOrders))
	copy(sorted, closeOrders)

	// Nearest first: lowest close price for a buy strategy (closes sit
	// above market), highest for sell (closes sit below).
	sort.Slice(sorted, func(i, j int) bool {
		if e.direction == core.SideBuy {
			return sorted[i].Price.LessThan(sorted[j].Price)
		}
		return sorted[i].Price.GreaterThan(sorted[j].Price)
	})

	if len(sorted) >= 2 {
		return sorted[1], 2
	}
	return sorted[0], 1
}

// prospectiveClosePrice is the close price a new entry would get if it
// filled immediately at the market.
func (e *Evaluator) prospectiveClosePrice(book core.BookTicker) decimal.Decimal {
	if e.direction == core.SideBuy {
		return book.Ask.Mul(one.Add(e.takeProfit.Div(hundred)))
	}
	return book.Bid.Mul(one.Sub(e.takeProfit.Div(hundred)))
}

// expectedEntryPrice back-solves the market price at which the spacing rule
// would sit exactly on the threshold boundary.
func (e *Evaluator) expectedEntryPrice(reference, threshold decimal.Decimal) decimal.Decimal {
	if e.direction == core.SideBuy {
		return reference.Div(threshold).Div(one.Add(e.takeProfit.Div(hundred)))
	}
	return reference.Mul(threshold).Div(one.Sub(e.takeProfit.Div(hundred)))
}
