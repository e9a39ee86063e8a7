package risk

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid_trader/internal/config"
	"grid_trader/internal/core"
	"grid_trader/internal/mock"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, f ...interface{})               {}
func (nopLogger) Info(msg string, f ...interface{})                {}
func (nopLogger) Warn(msg string, f ...interface{})                {}
func (nopLogger) Error(msg string, f ...interface{})               {}
func (nopLogger) Fatal(msg string, f ...interface{})               {}
func (nopLogger) WithField(k string, v interface{}) core.ILogger   { return nopLogger{} }
func (nopLogger) WithFields(f map[string]interface{}) core.ILogger { return nopLogger{} }

type recordingNotifier struct {
	alerts []string
}

func (n *recordingNotifier) Alert(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) {
	n.alerts = append(n.alerts, title)
}

func newReconciler(t *testing.T) (*Reconciler, *mock.Exchange, *recordingNotifier) {
	t.Helper()
	ex := mock.NewExchange(true)
	notifier := &recordingNotifier{}
	r := NewReconciler(ex, notifier, &config.StrategyConfig{
		Quantity:  decimal.NewFromInt(1),
		Direction: core.SideSell,
	}, "MOCK_ETH", nopLogger{})
	return r, ex, notifier
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestReconcile_WithinToleranceIsNoop(t *testing.T) {
	r, ex, _ := newReconciler(t)

	// |5-4| = 1 is exactly the tolerance of one quantity: no mismatch.
	corrected, err := r.Reconcile(context.Background(), "MOCK-PERP", dec(5), dec(4))
	require.NoError(t, err)
	assert.False(t, corrected)
	assert.Empty(t, ex.PlacedMarket)
}

func TestReconcile_CorrectsAfterThreeConsecutiveMismatches(t *testing.T) {
	r, ex, notifier := newReconciler(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		corrected, err := r.Reconcile(ctx, "MOCK-PERP", dec(5), dec(3))
		require.NoError(t, err)
		assert.False(t, corrected, "cycle %d must not correct yet", i+1)
	}

	corrected, err := r.Reconcile(ctx, "MOCK-PERP", dec(5), dec(3))
	require.NoError(t, err)
	assert.True(t, corrected)

	require.Len(t, ex.PlacedMarket, 1)
	assert.Equal(t, core.SideBuy, ex.PlacedMarket[0].Side)
	assert.True(t, ex.PlacedMarket[0].Qty.Equal(dec(1)))
	assert.Contains(t, notifier.alerts, "Position corrected")
}

func TestReconcile_CleanCycleResetsStreak(t *testing.T) {
	r, ex, _ := newReconciler(t)
	ctx := context.Background()

	r.Reconcile(ctx, "MOCK-PERP", dec(5), dec(3))
	r.Reconcile(ctx, "MOCK-PERP", dec(5), dec(3))

	// One clean cycle resets the counter; the next two mismatches stay
	// below the threshold.
	r.Reconcile(ctx, "MOCK-PERP", dec(5), dec(5))
	r.Reconcile(ctx, "MOCK-PERP", dec(5), dec(3))
	corrected, err := r.Reconcile(ctx, "MOCK-PERP", dec(5), dec(3))
	require.NoError(t, err)
	assert.False(t, corrected)
	assert.Empty(t, ex.PlacedMarket)
}

func TestReconcile_UnderCoveredAlertsWithoutCorrecting(t *testing.T) {
	r, ex, notifier := newReconciler(t)
	ctx := context.Background()

	var corrected bool
	var err error
	for i := 0; i < 3; i++ {
		corrected, err = r.Reconcile(ctx, "MOCK-PERP", dec(1), dec(4))
		require.NoError(t, err)
	}

	assert.False(t, corrected)
	assert.Empty(t, ex.PlacedMarket)
	assert.Contains(t, notifier.alerts, "Position under-covered")
}

func TestReconcile_RepeatedCorrectionUntilBalanced(t *testing.T) {
	r, ex, _ := newReconciler(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r.Reconcile(ctx, "MOCK-PERP", dec(6), dec(3))
	}
	require.Len(t, ex.PlacedMarket, 1)

	// The mismatch persists next cycle: correction fires again.
	corrected, err := r.Reconcile(ctx, "MOCK-PERP", dec(5), dec(3))
	require.NoError(t, err)
	assert.True(t, corrected)
	assert.Len(t, ex.PlacedMarket, 2)
}
