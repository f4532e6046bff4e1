// Package state provides SQLite-based persistence for the orchestration
// core. It implements the disk-backed blob store used for context overflow
// and other opaque byte payloads.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no blob exists for the requested key.
var ErrNotFound = errors.New("blob not found")

// ErrCorrupted is returned when a stored blob fails its checksum. Corruption
// is surfaced as a read failure rather than returning garbage bytes.
var ErrCorrupted = errors.New("blob corrupted")

// DB wraps an SQLite database connection with blob store operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the default database location under XDG data home.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "sonata", "sonata.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
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

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
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

// migrate creates the blob table if it does not exist.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			key        TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			crc        INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create blobs table: %w", err)
	}
	return nil
}

// Write stores (or overwrites) the bytes for the given key together with a
// CRC-32 checksum used to detect corruption on read.
func (db *DB) Write(key string, data []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	crc := crc32.ChecksumIEEE(data)
	_, err := db.conn.Exec(`
		INSERT INTO blobs (key, data, crc, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data=excluded.data, crc=excluded.crc, updated_at=excluded.updated_at
	`, key, data, int64(crc), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write blob %s: %w", key, err)
	}
	return nil
}

// Read returns the bytes stored for the key. A checksum mismatch is
// reported as ErrCorrupted; a missing key as ErrNotFound.
func (db *DB) Read(key string) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var data []byte
	var crc int64
	row := db.conn.QueryRow("SELECT data, crc FROM blobs WHERE key = ?", key)
	if err := row.Scan(&data, &crc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}

	if crc32.ChecksumIEEE(data) != uint32(crc) {
		return nil, fmt.Errorf("read blob %s: %w", key, ErrCorrupted)
	}
	return data, nil
}

// Remove deletes the blob for the key. Removing a missing key is not an error.
func (db *DB) Remove(key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec("DELETE FROM blobs WHERE key = ?", key); err != nil {
		return fmt.Errorf("remove blob %s: %w", key, err)
	}
	return nil
}

// Keys returns all stored blob keys. Used by status reporting.
func (db *DB) Keys() ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query("SELECT key FROM blobs ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan blob key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
