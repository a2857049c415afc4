// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the exchange server.
type Storage struct {
	db     *sql.DB
	dbPath string
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "database.db")

	// Open database
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings. SQLite only supports one writer, so the
	// pool keeps a single connection; a settlement transaction holds it for
	// the whole trade.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Registered accounts. Password is never stored; only the SRP-6a
	-- verifier and the salt used to derive it.
	CREATE TABLE IF NOT EXISTS users (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		login    TEXT NOT NULL UNIQUE,
		salt     TEXT NOT NULL,
		verifier TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- One row per (user, currency) balance. Balance itself is never
	-- stored directly; it is always the signed sum of transactions.
	CREATE TABLE IF NOT EXISTS wallets (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    INTEGER NOT NULL,
		currency   TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id),
		UNIQUE(user_id, currency)
	);

	CREATE INDEX IF NOT EXISTS idx_wallets_user ON wallets(user_id);

	-- Append-only ledger. Rows are never updated or deleted; a wallet's
	-- balance is SUM(amount) filtered by transaction_type.
	CREATE TABLE IF NOT EXISTS transactions (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		wallet_id        INTEGER NOT NULL,
		transaction_type INTEGER NOT NULL,
		amount           TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		created_at       INTEGER NOT NULL,
		FOREIGN KEY (wallet_id) REFERENCES wallets(id)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_wallet ON transactions(wallet_id);

	-- Open Buy/Sell requests in the order book.
	CREATE TABLE IF NOT EXISTS requests (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    INTEGER NOT NULL,
		side       INTEGER NOT NULL,
		currency   TEXT NOT NULL,
		price      TEXT NOT NULL,
		amount     TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_requests_side_price ON requests(side, currency, price);
	CREATE INDEX IF NOT EXISTS idx_requests_user ON requests(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
