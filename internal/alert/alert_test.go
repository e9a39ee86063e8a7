package alert

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"grid_trader/internal/core"
)

type mockChannel struct {
	name     string
	sent     []Payload
	sendFunc func(ctx context.Context, alert Payload) error
	mu       sync.Mutex
}

func (m *mockChannel) Name() string {
	return m.name
}

func (m *mockChannel) Send(ctx context.Context, alert Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alert)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, alert)
	}
	return nil
}

func (m *mockChannel) getSent() []Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Payload, len(m.sent))
	copy(res, m.sent)
	return res
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, f ...interface{})               {}
func (nopLogger) Info(msg string, f ...interface{})                {}
func (nopLogger) Warn(msg string, f ...interface{})                {}
func (nopLogger) Error(msg string, f ...interface{})               {}
func (nopLogger) Fatal(msg string, f ...interface{})               {}
func (nopLogger) WithField(k string, v interface{}) core.ILogger   { return nopLogger{} }
func (nopLogger) WithFields(f map[string]interface{}) core.ILogger { return nopLogger{} }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestManager_AlertFansOut(t *testing.T) {
	m := NewManager("MOCK_ETH", nopLogger{})
	defer m.Close()

	ch1 := &mockChannel{name: "mock1"}
	ch2 := &mockChannel{name: "mock2"}
	m.AddChannel(ch1)
	m.AddChannel(ch2)

	m.Alert(context.Background(), core.AlertWarning, "Position mismatch", "details", map[string]string{"count": "3"})

	waitFor(t, func() bool { return len(ch1.getSent()) == 1 && len(ch2.getSent()) == 1 })

	payload := ch1.getSent()[0]
	assert.Equal(t, core.AlertWarning, payload.Level)
	assert.Equal(t, "[MOCK_ETH] Position mismatch", payload.Title)
	assert.Equal(t, "3", payload.Fields["count"])
}

func TestManager_SendErrorIsSwallowed(t *testing.T) {
	m := NewManager("MOCK_ETH", nopLogger{})
	defer m.Close()

	ch := &mockChannel{
		name: "failing",
		sendFunc: func(ctx context.Context, alert Payload) error {
			return fmt.Errorf("delivery refused")
		},
	}
	m.AddChannel(ch)

	// Must not panic or block even when the channel always fails.
	m.Alert(context.Background(), core.AlertError, "Order failed", "boom", nil)
	waitFor(t, func() bool { return len(ch.getSent()) == 1 })
}

func TestTelegramChannel_SkipsWhenUnconfigured(t *testing.T) {
	ch := NewTelegramChannel("", "")
	err := ch.Send(context.Background(), Payload{Level: core.AlertInfo, Title: "t", Message: "m"})
	assert.NoError(t, err)
}

func TestSlackChannel_SkipsWhenUnconfigured(t *testing.T) {
	ch := NewSlackChannel("")
	err := ch.Send(context.Background(), Payload{Level: core.AlertInfo, Title: "t", Message: "m"})
	assert.NoError(t, err)
}
