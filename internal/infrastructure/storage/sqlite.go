package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Youmanvi/stockledger/internal/infrastructure/config"
)

// Open opens the SQLite database and ensures the schema exists
func Open(cfg *config.StorageConfig) (*sql.DB, error) {
	dir := filepath.Dir(cfg.SQLiteFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.SQLiteFile+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxConnection)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(db); err != nil {
		return nil, err
	}

	return db, nil
}

// initSchema creates the necessary tables and indexes
func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS inventory_items (
		product_id TEXT PRIMARY KEY,
		quantity INTEGER NOT NULL,
		reserved_quantity INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reservations (
		reservation_id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		status TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Confirm/Cancel locate all lines of an order
	CREATE INDEX IF NOT EXISTS idx_reservations_order_id
		ON reservations(order_id);

	-- The expiry sweeper scans PENDING rows past deadline
	CREATE INDEX IF NOT EXISTS idx_reservations_status_expires
		ON reservations(status, expires_at);
	`

	_, err := db.Exec(schema)
	return err
}
