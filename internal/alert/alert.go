// Package alert fans out best-effort notifications to configured channels.
// Delivery failures are logged and swallowed; the trading path never blocks
// on an alert and never sees a delivery error.
package alert

import (
	"context"
	"sync"
	"time"

	"grid_trader/internal/core"
	"grid_trader/pkg/concurrency"
)

// Payload is one outbound notification.
type Payload struct {
	Level     core.AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel delivers a payload to one destination.
type Channel interface {
	Send(ctx context.Context, alert Payload) error
	Name() string
}

// Manager implements core.INotifier by dispatching to every registered
// channel through a shared worker pool.
type Manager struct {
	channels []Channel
	pool     *concurrency.WorkerPool
	tag      string
	logger   core.ILogger
	mu       sync.RWMutex

	sendTimeout time.Duration
}

// NewManager creates an alert manager. The tag (EXCHANGE_TICKER) prefixes
// every title so alerts from parallel runners stay distinguishable.
func NewManager(tag string, logger core.ILogger) *Manager {
	return &Manager{
		channels: make([]Channel, 0),
		tag:      tag,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "alerts",
			MaxWorkers:  2,
			MaxCapacity: 32,
			NonBlocking: true,
		}, logger),
		logger:      logger.WithField("component", "alert_manager"),
		sendTimeout: 10 * time.Second,
	}
}

// AddChannel registers a delivery channel.
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("Added alert channel", "name", ch.Name())
}

// Alert dispatches the notification to every channel and returns
// immediately. A full queue drops the alert rather than stalling trading.
func (m *Manager) Alert(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) {
	payload := Payload{
		Level:     level,
		Title:     "[" + m.tag + "] " + title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	for _, ch := range channels {
		ch := ch
		err := m.pool.Submit(func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
			defer cancel()

			if err := ch.Send(sendCtx, payload); err != nil {
				m.logger.Error("Failed to send alert", "channel", ch.Name(), "title", payload.Title, "error", err)
			}
		})
		if err != nil {
			m.logger.Warn("Alert queue full, dropping alert", "channel", ch.Name(), "title", payload.Title)
		}
	}
}

// Close drains in-flight sends.
func (m *Manager) Close() {
	m.pool.Stop()
}
