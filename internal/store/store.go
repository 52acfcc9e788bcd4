// Package store persists conversations, messages, and deferred requests
// in a single SQLite file.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/modelgate/internal/logging"
)

// Store wraps the SQLite handle. Safe for concurrent use within one
// process; SQLite serializes writers, readers go through WAL snapshots.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL DEFAULT '',
	metadata_json TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id),
	role TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant', 'tool')),
	content TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	request_id TEXT,
	UNIQUE (conversation_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq ON messages(conversation_id, seq);

CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id),
	message_id TEXT NOT NULL REFERENCES messages(id),
	model TEXT NOT NULL,
	params_json TEXT,
	input_hash TEXT NOT NULL,
	provider_response_id TEXT,
	status TEXT NOT NULL CHECK (status IN ('queued', 'in_progress', 'completed', 'failed', 'cancelled', 'expired')),
	error_json TEXT,
	tries INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER,
	completed_at INTEGER,
	output_text TEXT,
	raw_json TEXT,
	usage_json TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (conversation_id, input_hash)
);
CREATE INDEX IF NOT EXISTS idx_requests_conversation_status ON requests(conversation_id, status);
CREATE INDEX IF NOT EXISTS idx_requests_provider_response ON requests(provider_response_id);
`

// Open creates or opens the store at path, applying the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// _txlock=immediate takes the write lock at BEGIN so concurrent
	// read-then-write transactions queue on busy_timeout instead of
	// failing mid-transaction. _foreign_keys applies to every pooled
	// connection, unlike a one-off PRAGMA.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	L_info("sqlite: store opened", "path", path)
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullString converts an optional string for scanning/binding.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
