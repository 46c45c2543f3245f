package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "codepair/pkg/database"
	"codepair/pkg/interfaces"
	"codepair/pkg/types"
)

// Manager implements the TranscriptStore interface on SQLite. All writes
// funnel through a single goroutine; SQLite tolerates concurrent reads under
// WAL but serialized writes avoid lock contention entirely.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation represents a queued database write
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies the schema, and starts the write
// loop.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLitePragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}

	if err := dbconfig.EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine. A failed
// write is retried exactly once after a short delay.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// AppendTranscriptEntry persists a sequenced transcript entry. Sequence
// numbers are assigned by the router before this call; the primary key
// rejects any accidental reuse.
func (m *Manager) AppendTranscriptEntry(ctx context.Context, sessionID string, entry *types.TranscriptEntry) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO transcript (session_id, sequence, sender, content, created_at)
			VALUES (?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			sessionID,
			entry.Sequence,
			entry.Sender,
			entry.Content,
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert transcript entry: %w", err)
		}
		return nil
	})
}

// GetTranscript retrieves all transcript entries for a session ordered by
// sequence, the authoritative order for replay.
func (m *Manager) GetTranscript(ctx context.Context, sessionID string) ([]types.TranscriptEntry, error) {
	query := `
		SELECT sequence, sender, content, created_at
		FROM transcript
		WHERE session_id = ?
		ORDER BY sequence ASC
	`

	rows, err := m.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []types.TranscriptEntry

	for rows.Next() {
		var entry types.TranscriptEntry
		if err := rows.Scan(&entry.Sequence, &entry.Sender, &entry.Content, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcript rows: %w", err)
	}

	return entries, nil
}

// SaveDocument upserts the latest document state for a session. The
// document is a single value, so last write wins by design.
func (m *Manager) SaveDocument(ctx context.Context, sessionID string, document *types.DocumentState) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO documents (session_id, content, language_tag, revision)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				content = excluded.content,
				language_tag = excluded.language_tag,
				revision = excluded.revision
		`
		_, err := db.ExecContext(ctx, query,
			sessionID,
			document.Content,
			document.LanguageTag,
			document.Revision,
		)
		if err != nil {
			return fmt.Errorf("failed to save document: %w", err)
		}
		return nil
	})
}

// GetDocument retrieves the stored document state for a session.
func (m *Manager) GetDocument(ctx context.Context, sessionID string) (*types.DocumentState, error) {
	query := `
		SELECT content, language_tag, revision
		FROM documents
		WHERE session_id = ?
	`

	row := m.db.QueryRowContext(ctx, query, sessionID)

	var document types.DocumentState
	err := row.Scan(&document.Content, &document.LanguageTag, &document.Revision)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to query document: %w", err)
	}

	return &document, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, "SELECT COUNT(*) FROM transcript LIMIT 1")
	if err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	_ = rows.Close()

	return nil
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// applySQLitePragmas applies performance settings to the connection pool.
func applySQLitePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}
