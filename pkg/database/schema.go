package database

import (
	"database/sql"
	"fmt"
)

// Schema for the two durable concerns: the append-only transcript and the
// latest document state per session. Applied idempotently at open.
const schema = `
CREATE TABLE IF NOT EXISTS transcript (
	session_id TEXT NOT NULL,
	sequence   INTEGER NOT NULL,
	sender     TEXT NOT NULL CHECK (sender IN ('candidate', 'ai')),
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, sequence)
);

CREATE TABLE IF NOT EXISTS documents (
	session_id   TEXT PRIMARY KEY,
	content      TEXT NOT NULL,
	language_tag TEXT NOT NULL,
	revision     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript(session_id, sequence);
`

// EnsureSchema creates tables and indexes if they do not exist.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
