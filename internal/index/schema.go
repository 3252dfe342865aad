// Package index provides the SQLite persistence for blocks and their
// vector records, with optional FTS5 keyword lookup.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS blocks (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	type        TEXT NOT NULL,
	content     TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	category    TEXT NOT NULL DEFAULT 'general',
	parent_id   TEXT NOT NULL DEFAULT '',
	template_id TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	checksum    TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blocks_user ON blocks(user_id, type, category);
CREATE INDEX IF NOT EXISTS idx_blocks_parent ON blocks(parent_id);

CREATE TABLE IF NOT EXISTS vectors (
	block_id          TEXT PRIMARY KEY REFERENCES blocks(id) ON DELETE CASCADE,
	user_id           TEXT NOT NULL,
	type              TEXT NOT NULL,
	category          TEXT NOT NULL,
	dimension         INTEGER NOT NULL,
	embedding         BLOB NOT NULL,
	text_snapshot     TEXT NOT NULL DEFAULT '',
	metadata_snapshot TEXT NOT NULL DEFAULT '{}',
	checksum          TEXT NOT NULL DEFAULT '',
	degraded          INTEGER NOT NULL DEFAULT 0,
	updated_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vectors_user ON vectors(user_id, type, category);
`

// DB wraps a sql.DB with block and vector operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
