// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database in WAL mode and creates the schema on first use

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is used for every persisted timestamp. It is fixed width so that
// text comparison in SQL (MAX, <) agrees with chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent webhook deliveries
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			user_id             TEXT PRIMARY KEY,
			current_topic       TEXT,
			variables_json      TEXT NOT NULL DEFAULT '{}',
			last_interaction_at TEXT NOT NULL,
			active_rule_set_id  TEXT,
			session_count       INTEGER NOT NULL DEFAULT 1 CHECK (session_count >= 1),
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL
		);

		-- Last known session counter per user, kept after a session is closed
		CREATE TABLE IF NOT EXISTS session_history (
			user_id            TEXT PRIMARY KEY,
			last_session_count INTEGER NOT NULL,
			closed_at          TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS rule_sets (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL UNIQUE,
			source_text  TEXT NOT NULL,
			is_active    INTEGER NOT NULL DEFAULT 1,
			is_default   INTEGER NOT NULL DEFAULT 0,
			priority     INTEGER NOT NULL DEFAULT 100,
			usage_count  INTEGER NOT NULL DEFAULT 0,
			last_used_at TEXT,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_rule_sets_active_priority
			ON rule_sets(is_active, priority);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_rule_sets_single_default
			ON rule_sets(is_default) WHERE is_default = 1 AND is_active = 1;

		CREATE TABLE IF NOT EXISTS messages (
			provider_message_id TEXT PRIMARY KEY,
			channel_id          TEXT NOT NULL,
			user_id             TEXT NOT NULL,
			direction           TEXT NOT NULL,
			kind                TEXT NOT NULL,
			content             TEXT NOT NULL,
			status              TEXT NOT NULL,
			provider_timestamp  TEXT NOT NULL,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL,

			CHECK (direction IN ('inbound', 'outbound')),
			CHECK (status IN ('received', 'sent', 'delivered', 'read', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

		CREATE TABLE IF NOT EXISTS channels (
			id              TEXT PRIMARY KEY,
			channel_id      TEXT NOT NULL UNIQUE,
			display_number  TEXT NOT NULL DEFAULT '',
			daily_limit     INTEGER NOT NULL,
			rate_per_second INTEGER NOT NULL,
			is_active       INTEGER NOT NULL DEFAULT 1,
			created_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS interactions (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			input_text  TEXT NOT NULL,
			output_text TEXT NOT NULL,
			kind        TEXT NOT NULL,
			latency_ms  INTEGER NOT NULL,
			confidence  REAL NOT NULL,
			rule_set_id TEXT,
			created_at  TEXT NOT NULL,

			CHECK (kind IN (
				'rule-match',
				'fallback-keyword',
				'fallback-generic',
				'session-restart',
				'session-closed',
				'error'
			)),
			CHECK (confidence >= 0.0 AND confidence <= 1.0)
		);

		CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_interactions_kind ON interactions(kind);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
