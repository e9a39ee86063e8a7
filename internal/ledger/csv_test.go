package ledger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid_trader/internal/core"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, f ...interface{})               {}
func (nopLogger) Info(msg string, f ...interface{})                {}
func (nopLogger) Warn(msg string, f ...interface{})                {}
func (nopLogger) Error(msg string, f ...interface{})               {}
func (nopLogger) Fatal(msg string, f ...interface{})               {}
func (nopLogger) WithField(k string, v interface{}) core.ILogger   { return nopLogger{} }
func (nopLogger) WithFields(f map[string]interface{}) core.ILogger { return nopLogger{} }

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func sampleEntry(orderID string) core.LedgerEntry {
	return core.LedgerEntry{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		OrderID:   orderID,
		Side:      core.SideBuy,
		Quantity:  decimal.NewFromFloat(0.5),
		Price:     decimal.NewFromFloat(2500.25),
		Status:    core.StatusFilled,
	}
}

func TestCSVLedger_WritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.csv")

	l, err := NewCSVLedger(path, nopLogger{})
	require.NoError(t, err)
	require.NoError(t, l.Append(sampleEntry("order-1")))
	require.NoError(t, l.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Timestamp", "OrderID", "Side", "Quantity", "Price", "Status"}, rows[0])
	assert.Equal(t, "order-1", rows[1][1])
	assert.Equal(t, "buy", rows[1][2])
	assert.Equal(t, "0.5", rows[1][3])
	assert.Equal(t, "2500.25", rows[1][4])
	assert.Equal(t, "FILLED", rows[1][5])
}

func TestCSVLedger_HeaderWrittenOncePerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.csv")

	l, err := NewCSVLedger(path, nopLogger{})
	require.NoError(t, err)
	require.NoError(t, l.Append(sampleEntry("order-1")))
	require.NoError(t, l.Close())

	// Reopen the same destination and append more rows.
	l, err = NewCSVLedger(path, nopLogger{})
	require.NoError(t, err)
	require.NoError(t, l.Append(sampleEntry("order-2")))
	require.NoError(t, l.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, "Timestamp", rows[0][0])
	assert.Equal(t, "order-1", rows[1][1])
	assert.Equal(t, "order-2", rows[2][1])
}

func TestCSVLedger_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs", "tx.csv")

	l, err := NewCSVLedger(path, nopLogger{})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestCSVLedger_AppendAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.csv")

	l, err := NewCSVLedger(path, nopLogger{})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	assert.Error(t, l.Append(sampleEntry("order-1")))
}
