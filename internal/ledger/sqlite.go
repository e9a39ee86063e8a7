package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"grid_trader/internal/core"
)

const transactionsSchema = `
CREATE TABLE IF NOT EXISTS transactions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp  DATETIME NOT NULL,
	order_id   TEXT NOT NULL,
	side       TEXT NOT NULL,
	quantity   TEXT NOT NULL,
	price      TEXT NOT NULL,
	status     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_order_id ON transactions(order_id);
`

// SQLiteLedger stores transaction rows in a local SQLite database. It keeps
// the same append-only semantics as the CSV backend but survives log
// rotation and supports ad-hoc queries.
type SQLiteLedger struct {
	db     *sql.DB
	logger core.ILogger
}

// NewSQLiteLedger opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteLedger(path string, logger core.ILogger) (*SQLiteLedger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	if _, err := db.Exec(transactionsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &SQLiteLedger{
		db:     db,
		logger: logger.WithField("component", "sqlite_ledger"),
	}, nil
}

// Append inserts one transaction row.
func (l *SQLiteLedger) Append(entry core.LedgerEntry) error {
	_, err := l.db.Exec(
		`INSERT INTO transactions (timestamp, order_id, side, quantity, price, status) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC(),
		entry.OrderID,
		string(entry.Side),
		entry.Quantity.String(),
		entry.Price.String(),
		string(entry.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger row: %w", err)
	}
	return nil
}

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
