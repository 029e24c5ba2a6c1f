// Package state provides the SQLite audit store for fleet.
// The default database lives at ~/.local/share/fleet/audit.db.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with fleet audit operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultPath returns the path to the default audit database.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "fleet", "audit.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenAndMigrate opens the database and applies pending migrations.
func OpenAndMigrate(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Violations},
		{2, migrationV2Approvals},
		{3, migrationV3Alerts},
		{4, migrationV4TaskOutcomes},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration.
func (db *DB) SchemaVersion() (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

const migrationV1Violations = `
CREATE TABLE IF NOT EXISTS violations (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	command TEXT NOT NULL,
	type TEXT NOT NULL,
	message TEXT NOT NULL,
	occurred_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_violations_agent_id ON violations(agent_id);
`

const migrationV2Approvals = `
CREATE TABLE IF NOT EXISTS approvals (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	approval_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	command TEXT NOT NULL,
	tier INTEGER NOT NULL,
	event TEXT NOT NULL,
	approved_by TEXT,
	reason TEXT,
	requested_at DATETIME NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_approvals_approval_id ON approvals(approval_id);
`

const migrationV3Alerts = `
CREATE TABLE IF NOT EXISTS alerts (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	severity TEXT NOT NULL,
	type TEXT NOT NULL,
	message TEXT NOT NULL,
	agent_id TEXT,
	value REAL NOT NULL DEFAULT 0,
	threshold REAL NOT NULL DEFAULT 0,
	raised_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
`

const migrationV4TaskOutcomes = `
CREATE TABLE IF NOT EXISTS task_outcomes (
	id TEXT PRIMARY KEY,
	main_prompt TEXT NOT NULL,
	status TEXT NOT NULL,
	unit_count INTEGER NOT NULL,
	completed_units INTEGER NOT NULL,
	failed_units INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	completed_at DATETIME,
	record TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_outcomes_status ON task_outcomes(status);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// limitClause turns a non-positive limit into "no limit".
func limitClause(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// Purge deletes audit rows recorded before now minus olderThan.
// Returns the number of rows deleted across all tables.
func (db *DB) Purge(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	stmts := []string{
		`DELETE FROM violations WHERE occurred_at < ?`,
		`DELETE FROM approvals WHERE recorded_at < ?`,
		`DELETE FROM alerts WHERE raised_at < ?`,
		`DELETE FROM task_outcomes WHERE created_at < ?`,
	}

	var total int64
	err := db.Transaction(func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			res, err := tx.Exec(stmt, cutoff)
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("get rows affected: %w", err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
