package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var (
	// ErrOrderNotFound is returned when no order has the given local id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned when a sync state change is not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid sync state transition")
	// ErrInvalidOrder is returned when a new order fails validation.
	ErrInvalidOrder = errors.New("invalid order")
)

// DB is the terminal's local store: orders awaiting sync plus the cached catalog.
type DB struct {
	*sql.DB
	path   string
	logger zerolog.Logger
}

// NewDB opens (and if needed creates) the SQLite database at path.
// ":memory:" is accepted for tests.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "database").Logger()
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", path)
	} else {
		dsn = "file::memory:?_foreign_keys=on"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases alive and serializes SQLite writers.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Info().Str("path", path).Msg("local store initialized")
	return &DB{DB: sqlDB, path: path, logger: log}, nil
}

// Path returns the file the store was opened from.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            local_id TEXT UNIQUE NOT NULL,
            remote_id INTEGER NOT NULL DEFAULT 0,
            guest_id INTEGER NOT NULL,
            table_id INTEGER NOT NULL,
            waiter_id INTEGER NOT NULL,
            order_source TEXT NOT NULL DEFAULT 'pos',
            status TEXT NOT NULL DEFAULT 'pending',
            notes TEXT,
            subtotal REAL NOT NULL DEFAULT 0,
            tax REAL NOT NULL DEFAULT 0,
            service_charge REAL NOT NULL DEFAULT 0,
            total_amount REAL NOT NULL DEFAULT 0,
            sync_state TEXT NOT NULL DEFAULT 'pending'
                CHECK (sync_state IN ('pending', 'synced', 'failed')),
            sync_attempts INTEGER NOT NULL DEFAULT 0,
            last_sync_error TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            synced_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS order_items (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
            menu_item_id INTEGER NOT NULL,
            quantity INTEGER NOT NULL,
            unit_price REAL NOT NULL DEFAULT 0,
            notes TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS dining_tables (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            location TEXT NOT NULL DEFAULT 'indoor',
            capacity INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'available',
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS menu_items (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            description TEXT,
            category TEXT,
            category_id INTEGER,
            price REAL NOT NULL DEFAULT 0,
            prep_area TEXT,
            is_available BOOLEAN NOT NULL DEFAULT 1,
            preparation_time INTEGER NOT NULL DEFAULT 0,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS staff (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            role TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'active',
            updated_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_orders_sync_state ON orders(sync_state)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_table_id ON orders(table_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_synced_at ON orders(synced_at)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", firstLine(query), err)
		}
	}
	return nil
}

func firstLine(query string) string {
	if i := strings.IndexByte(query, '\n'); i >= 0 {
		return query[:i]
	}
	return query
}

func (db *DB) Close() error {
	return db.DB.Close()
}
