// Package controller runs the top-level strategy loop: poll, reconcile,
// guard, gate, place.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
	"grid_trader/internal/infrastructure/metrics"
	"grid_trader/internal/risk"
	"grid_trader/internal/safety"
	"grid_trader/internal/trading/cooldown"
	"grid_trader/internal/trading/grid"
	"grid_trader/internal/trading/lifecycle"
	"grid_trader/pkg/retry"
)

// State is the controller's lifecycle phase.
type State string

const (
	StateInit       State = "INIT"
	StateConnecting State = "CONNECTING"
	StateRunning    State = "RUNNING"
	StatePaused     State = "PAUSED"
	StateStopping   State = "STOPPING"
	StateStopped    State = "STOPPED"
)

// Timing bundles the loop's sleep intervals so tests can compress them.
type Timing struct {
	SettleDelay    time.Duration // after connect, before the first cycle
	BackoffSleep   time.Duration // between denied or failed cycles
	PauseSleep     time.Duration // while the pause guard holds
	StatusInterval time.Duration // minimum gap between status log lines
}

// DefaultTiming returns the production intervals.
func DefaultTiming() Timing {
	return Timing{
		SettleDelay:    5 * time.Second,
		BackoffSleep:   time.Second,
		PauseSleep:     5 * time.Second,
		StatusInterval: 60 * time.Second,
	}
}

// Controller owns the strategy run from connect to disconnect. All trading
// state is mutated only from Run's goroutine.
type Controller struct {
	cfg      *config.Config
	exchange core.IExchange
	notifier core.INotifier
	logger   core.ILogger
	timing   Timing
	tag      string

	coordinator *lifecycle.Coordinator
	guard       *safety.PriceGuard
	spacing     *grid.Evaluator
	cooldown    *cooldown.Scheduler
	reconciler  *risk.Reconciler

	mu    sync.Mutex
	state State

	snapshotPolicy retry.Policy

	contractID     string
	prevCloseCount int
	lastStatusLog  time.Time
	lastDecision   grid.Decision
}

// NewController wires the strategy components around the given exchange,
// ledger and notifier.
func NewController(cfg *config.Config, exchange core.IExchange, ledger core.ILedger, notifier core.INotifier, logger core.ILogger) *Controller {
	tag := cfg.Strategy.Tag(cfg.Exchange.Name)
	log := logger.WithField("strategy", tag)

	return &Controller{
		cfg:            cfg,
		exchange:       exchange,
		notifier:       notifier,
		logger:         log,
		timing:         DefaultTiming(),
		tag:            tag,
		coordinator:    lifecycle.NewCoordinator(exchange, ledger, &cfg.Strategy, tag, log),
		guard:          safety.NewPriceGuard(&cfg.Strategy, log),
		spacing:        grid.NewEvaluator(&cfg.Strategy, log),
		cooldown:       cooldown.NewScheduler(&cfg.Strategy, log),
		reconciler:     risk.NewReconciler(exchange, notifier, &cfg.Strategy, tag, log),
		state:          StateInit,
		snapshotPolicy: retry.SnapshotPolicy,
	}
}

// SetTiming overrides the loop intervals; intended for tests.
func (c *Controller) SetTiming(t Timing) {
	c.timing = t
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run connects, executes the control loop until the context is canceled or
// the stop guard fires, then disconnects. Disconnect is attempted even when
// the loop exits with an error.
func (c *Controller) Run(ctx context.Context) (err error) {
	c.setState(StateConnecting)

	if connErr := c.exchange.Connect(ctx); connErr != nil {
		c.setState(StateStopped)
		return fmt.Errorf("exchange connect failed: %w", connErr)
	}
	defer func() {
		c.setState(StateStopping)
		if discErr := c.exchange.Disconnect(); discErr != nil {
			c.logger.Error("Exchange disconnect failed", "error", discErr)
			if err == nil {
				err = discErr
			}
		}
		c.setState(StateStopped)
		c.logger.Info("Strategy stopped")
	}()

	c.exchange.RegisterOrderUpdateHandler(c.coordinator.HandleOrderUpdate)

	contractID, tickSize, err := c.exchange.GetContractAttributes(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve contract attributes: %w", err)
	}
	c.contractID = contractID
	c.coordinator.SetContractID(contractID)
	if c.cfg.Strategy.TickSize.IsZero() {
		c.cfg.Strategy.TickSize = tickSize
	}

	c.logBanner(tickSize)

	// Let the push stream settle before trading.
	if !c.sleep(ctx, c.timing.SettleDelay) {
		return ctx.Err()
	}
	c.setState(StateRunning)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		stop, cycleErr := c.runCycle(ctx)
		if stop {
			return nil
		}
		if cycleErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Cycle failed, backing off", "error", cycleErr)
			if !c.sleep(ctx, c.timing.BackoffSleep) {
				return ctx.Err()
			}
		}
	}
}

// runCycle executes one RUNNING iteration. It returns stop=true when the
// stop guard requests a graceful shutdown.
func (c *Controller) runCycle(ctx context.Context) (bool, error) {
	c.coordinator.ProcessPending(ctx)

	closeOrders, position, err := c.pollState(ctx)
	if err != nil {
		return false, err
	}

	covered := decimal.Zero
	for _, o := range closeOrders {
		covered = covered.Add(o.Size)
	}

	closeCount := len(closeOrders)
	prevCount := c.prevCloseCount
	fillDetected := closeCount < prevCount
	c.prevCloseCount = closeCount

	metrics.Position.WithLabelValues(c.tag).Set(position.Abs().InexactFloat64())
	metrics.ActiveCloseOrders.WithLabelValues(c.tag).Set(float64(closeCount))

	corrected, err := c.reconciler.Reconcile(ctx, c.contractID, position, covered)
	if err != nil {
		return false, err
	}
	if corrected {
		return false, nil
	}

	book, err := c.exchange.FetchBestBidAsk(ctx, c.contractID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch book: %w", err)
	}

	verdict := c.guard.Evaluate(book)
	if verdict.Stop {
		c.logger.Warn("Stop price reached, shutting down")
		c.notifier.Alert(ctx, core.AlertCritical, "Stop price reached",
			fmt.Sprintf("bid=%s ask=%s stop=%s: strategy is shutting down", book.Bid, book.Ask, c.cfg.Strategy.StopPrice),
			nil)
		return true, nil
	}
	if verdict.Pause {
		c.setState(StatePaused)
		c.logStatus(position, covered, closeCount)
		c.sleep(ctx, c.timing.PauseSleep)
		return false, nil
	}
	if c.State() == StatePaused {
		c.logger.Info("Pause condition cleared, resuming")
	}
	c.setState(StateRunning)

	// A disappeared close order means a fill: react immediately, skip the
	// spacing and cooldown gates this cycle.
	if !fillDetected {
		decision, evalErr := c.spacing.Evaluate(closeOrders, book)
		if evalErr != nil {
			return false, evalErr
		}
		c.lastDecision = decision
		if !decision.Permitted {
			c.logStatus(position, covered, closeCount)
			c.sleep(ctx, c.timing.BackoffSleep)
			return false, nil
		}

		if wait := c.cooldown.Remaining(closeCount); wait > 0 {
			c.logStatus(position, covered, closeCount)
			c.sleep(ctx, c.timing.BackoffSleep)
			return false, nil
		}
	} else {
		c.logger.Info("Close order filled since last cycle, reacting immediately",
			"previous", prevCount, "current", closeCount)
		c.cooldown.Remaining(closeCount)
	}

	// Entry counters advance regardless of outcome; a failed placement is
	// simply retried next cycle through the same gates.
	c.cooldown.NoteEntryPlaced()
	if err := c.coordinator.ExecuteEntry(ctx); err != nil {
		c.logger.Error("Entry cycle failed", "error", err)
	}

	c.logStatus(position, covered, closeCount)
	return false, nil
}

// errEmptySnapshot marks an empty (possibly stale) active-order snapshot so
// the retry loop re-polls; after the retries it is accepted as truly empty.
var errEmptySnapshot = errors.New("empty order snapshot")

// pollState fetches the active close orders and the current position. An
// empty order snapshot is retried a few times; order and position queries
// can be eventually consistent with each other.
func (c *Controller) pollState(ctx context.Context) ([]core.OrderRecord, decimal.Decimal, error) {
	var active []core.OrderRecord
	err := retry.Do(ctx, c.snapshotPolicy, retry.Always, func() error {
		var fetchErr error
		active, fetchErr = c.exchange.GetActiveOrders(ctx, c.contractID)
		if fetchErr != nil {
			return fetchErr
		}
		if len(active) == 0 {
			return errEmptySnapshot
		}
		return nil
	})
	if err != nil && !errors.Is(err, errEmptySnapshot) {
		return nil, decimal.Zero, fmt.Errorf("failed to fetch active orders: %w", err)
	}

	closeOrders := c.filterCloseOrders(active)

	position, err := c.exchange.GetAccountPosition(ctx)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to fetch position: %w", err)
	}

	return closeOrders, position, nil
}

// filterCloseOrders keeps live orders on the close side, nearest first.
func (c *Controller) filterCloseOrders(active []core.OrderRecord) []core.OrderRecord {
	closeSide := c.cfg.Strategy.CloseSide()

	closeOrders := make([]core.OrderRecord, 0, len(active))
	for _, o := range active {
		if o.Side != closeSide {
			continue
		}
		if o.Status != core.StatusOpen && o.Status != core.StatusPartiallyFilled {
			continue
		}
		closeOrders = append(closeOrders, o)
	}

	sort.Slice(closeOrders, func(i, j int) bool {
		if c.cfg.Strategy.Direction == core.SideBuy {
			return closeOrders[i].Price.LessThan(closeOrders[j].Price)
		}
		return closeOrders[i].Price.GreaterThan(closeOrders[j].Price)
	})
	return closeOrders
}

func (c *Controller) logBanner(tickSize decimal.Decimal) {
	s := &c.cfg.Strategy
	c.logger.Info("Strategy configuration",
		"exchange", c.cfg.Exchange.Name,
		"contract_id", c.contractID,
		"direction", s.Direction,
		"quantity", s.Quantity.String(),
		"take_profit_pct", s.TakeProfit.String(),
		"grid_step_pct", s.GridStep.String(),
		"tick_size", tickSize.String(),
		"max_orders", s.MaxOrders,
		"wait_time_s", s.WaitTime,
		"stop_price", s.StopPrice.String(),
		"pause_price", s.PausePrice.String(),
		"boost_mode", s.BoostMode)
}

// logStatus emits the periodic status line, at most once per interval.
func (c *Controller) logStatus(position, covered decimal.Decimal, closeCount int) {
	if time.Since(c.lastStatusLog) < c.timing.StatusInterval {
		return
	}
	c.lastStatusLog = time.Now()

	fields := []interface{}{
		"state", string(c.State()),
		"position", position.String(),
		"covered", covered.String(),
		"active_close_orders", closeCount,
	}
	if !c.lastDecision.ExpectedPrice.IsZero() {
		fields = append(fields, "grid_expected_price", c.lastDecision.ExpectedPrice.String())
	}
	c.logger.Info("Status", fields...)
}

// sleep waits for d unless the context ends first; reports whether the full
// duration elapsed.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
