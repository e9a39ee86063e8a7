// Package cooldown throttles the delay between successive entry orders.
package cooldown

import (
	"time"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
)

// probeInterval is the minimum re-check interval used instead of the full
// wait when the close-order count sits at the configured maximum.
const probeInterval = time.Second

// Scheduler computes the remaining wait before the next entry order. It is
// not safe for concurrent use; the control loop owns it.
type Scheduler struct {
	waitTime  time.Duration
	maxOrders int
	logger    core.ILogger

	lastEntry      time.Time
	prevCloseCount int
	checked        bool

	now func() time.Time
}

// NewScheduler creates a scheduler from the strategy configuration.
func NewScheduler(cfg *config.StrategyConfig, logger core.ILogger) *Scheduler {
	return &Scheduler{
		waitTime:  time.Duration(cfg.WaitTime) * time.Second,
		maxOrders: cfg.MaxOrders,
		logger:    logger.WithField("component", "cooldown"),
		now:       time.Now,
	}
}

// Remaining returns the wait left before a new entry is allowed.
// Zero means go now: always on the first check, and whenever the active
// close-order count dropped since the previous check (a fill happened).
// At the max close-order count it returns a short probe interval instead
// of the full wait so the loop stays responsive without order storms.
func (s *Scheduler) Remaining(activeCloseCount int) time.Duration {
	defer func() { s.prevCloseCount = activeCloseCount }()

	if !s.checked {
		s.checked = true
		return 0
	}

	if activeCloseCount < s.prevCloseCount {
		s.logger.Debug("Close order count decreased, skipping cooldown",
			"previous", s.prevCloseCount, "current", activeCloseCount)
		return 0
	}

	if s.maxOrders > 0 && activeCloseCount >= s.maxOrders {
		return probeInterval
	}

	if s.lastEntry.IsZero() {
		return 0
	}

	elapsed := s.now().Sub(s.lastEntry)
	if elapsed >= s.waitTime {
		return 0
	}
	return s.waitTime - elapsed
}

// NoteEntryPlaced records that an entry order was just placed; the base
// wait applies from this instant.
func (s *Scheduler) NoteEntryPlaced() {
	s.lastEntry = s.now()
}
