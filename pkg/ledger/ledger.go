// Package ledger keeps a SQLite snapshot of an external system of record:
// one content hash per document id, fed to reconcile.Diff.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openclaw/interchange/pkg/reconcile"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	id           TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL DEFAULT '',
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DB wraps a sql.DB with ledger operations.
type DB struct {
	conn *sql.DB
}

// Entry is one ledger row.
type Entry struct {
	ID          string
	ContentHash string
	UpdatedAt   time.Time
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Put inserts or replaces the entry for e.ID.
func (db *DB) Put(e Entry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	_, err := db.conn.Exec(`
		INSERT INTO records (id, content_hash, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content_hash = excluded.content_hash,
			updated_at   = excluded.updated_at
	`, e.ID, e.ContentHash, e.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("ledger: put %s: %w", e.ID, err)
	}
	return nil
}

// PutAll upserts entries within a single transaction.
func (db *DB) PutAll(entries []Entry) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO records (id, content_hash, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content_hash = excluded.content_hash,
			updated_at   = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("ledger: prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entries {
		at := now
		if !e.UpdatedAt.IsZero() {
			at = e.UpdatedAt.UTC()
		}
		if _, err := stmt.Exec(e.ID, e.ContentHash, at); err != nil {
			return fmt.Errorf("ledger: put %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Delete removes the entry for id. Deleting an unknown id is not an error.
func (db *DB) Delete(id string) error {
	if _, err := db.conn.Exec(`DELETE FROM records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("ledger: delete %s: %w", id, err)
	}
	return nil
}

// Get returns the entry for id and whether it exists.
func (db *DB) Get(id string) (Entry, bool, error) {
	e := Entry{ID: id}
	err := db.conn.QueryRow(`SELECT content_hash, updated_at FROM records WHERE id = ?`, id).Scan(&e.ContentHash, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("ledger: get %s: %w", id, err)
	}
	return e, true, nil
}

// Snapshot returns every entry keyed by id, in the shape reconcile.Diff takes.
func (db *DB) Snapshot() (map[string]reconcile.Record, error) {
	rows, err := db.conn.Query(`SELECT id, content_hash FROM records`)
	if err != nil {
		return nil, fmt.Errorf("ledger: snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[string]reconcile.Record)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("ledger: snapshot scan: %w", err)
		}
		out[id] = reconcile.Record{ContentHash: hash}
	}
	return out, rows.Err()
}
