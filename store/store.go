// Package store provides a content-addressed, SQLite-backed archive store
// for compiled programs. Programs are keyed by the SHA-256 of their
// canonical archive bytes, so the same program always stores under the
// same key regardless of who compiled it.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chazu/marionette/vm"
	"github.com/chazu/marionette/vm/wire"
)

// Entry describes one stored program.
type Entry struct {
	Hash      string
	Name      string
	Size      int
	CreatedAt time.Time
}

// Store is a SQLite-backed program archive store.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if necessary) a store at the given path. Use
// ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: connect to database: %w", err)
	}
	s := &Store{conn: conn}
	if err := s.createTables(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS programs (
			hash TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			archive BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_programs_name ON programs(name)`,
	}
	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return fmt.Errorf("store: create tables: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Put archives a program under a human-readable name and returns its
// content hash. Storing the same program twice is a no-op returning the
// same hash; the name of the existing row is updated.
func (s *Store) Put(name string, p *vm.Program) (string, error) {
	data, err := wire.Encode(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	_, err = s.conn.Exec(`
		INSERT INTO programs (hash, name, archive, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET name = excluded.name
	`, hash, name, data, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("store: put %q: %w", name, err)
	}
	return hash, nil
}

// Get loads the program with the given content hash.
func (s *Store) Get(hash string) (*vm.Program, error) {
	var data []byte
	err := s.conn.QueryRow(`SELECT archive FROM programs WHERE hash = ?`, hash).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: no program with hash %s", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", hash, err)
	}
	return s.decodeVerified(hash, data)
}

// GetByName loads the most recently stored program with the given name.
func (s *Store) GetByName(name string) (*vm.Program, error) {
	var hash string
	var data []byte
	err := s.conn.QueryRow(`
		SELECT hash, archive FROM programs WHERE name = ?
		ORDER BY created_at DESC LIMIT 1
	`, name).Scan(&hash, &data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: no program named %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", name, err)
	}
	return s.decodeVerified(hash, data)
}

// decodeVerified re-hashes the archive bytes before decoding. A mismatch
// means the row was corrupted or tampered with.
func (s *Store) decodeVerified(hash string, data []byte) (*vm.Program, error) {
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hash {
		return nil, fmt.Errorf("store: archive %s failed content verification", hash)
	}
	return wire.Decode(data)
}

// Has reports whether a program with the given hash exists.
func (s *Store) Has(hash string) (bool, error) {
	var count int
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM programs WHERE hash = ?`, hash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: has %s: %w", hash, err)
	}
	return count > 0, nil
}

// List returns all stored entries, newest first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.conn.Query(`
		SELECT hash, name, LENGTH(archive), created_at FROM programs
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.Hash, &e.Name, &e.Size, &created); err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes the program with the given hash. Deleting a missing hash
// is an error.
func (s *Store) Delete(hash string) error {
	res, err := s.conn.Exec(`DELETE FROM programs WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", hash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", hash, err)
	}
	if n == 0 {
		return fmt.Errorf("store: no program with hash %s", hash)
	}
	return nil
}
