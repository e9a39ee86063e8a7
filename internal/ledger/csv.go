package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"grid_trader/internal/core"
)

var csvHeader = []string{"Timestamp", "OrderID", "Side", "Quantity", "Price", "Status"}

// CSVLedger appends transaction rows to a CSV file. The header row is
// written exactly once per destination file; reopening an existing file
// never repeats it.
type CSVLedger struct {
	path   string
	file   *os.File
	writer *csv.Writer
	logger core.ILogger
	mu     sync.Mutex
}

// NewCSVLedger opens (or creates) the CSV file at path, creating parent
// directories as needed.
func NewCSVLedger(path string, logger core.ILogger) (*CSVLedger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat ledger file: %w", err)
	}

	l := &CSVLedger{
		path:   path,
		file:   file,
		writer: csv.NewWriter(file),
		logger: logger.WithField("component", "csv_ledger"),
	}

	if stat.Size() == 0 {
		if err := l.writer.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write ledger header: %w", err)
		}
		l.writer.Flush()
		if err := l.writer.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to flush ledger header: %w", err)
		}
	}

	return l, nil
}

// Append writes one transaction row and flushes it to disk.
func (l *CSVLedger) Append(entry core.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("ledger is closed")
	}

	row := []string{
		entry.Timestamp.Format(time.RFC3339),
		entry.OrderID,
		string(entry.Side),
		entry.Quantity.String(),
		entry.Price.String(),
		string(entry.Status),
	}
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write ledger row: %w", err)
	}

	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush ledger row: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *CSVLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	l.writer.Flush()
	flushErr := l.writer.Error()
	closeErr := l.file.Close()
	l.file = nil

	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
