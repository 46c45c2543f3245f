package interfaces

import (
	"context"

	"codepair/pkg/types"
)

// TranscriptStore is the durable record store behind live session state.
// Counters stay authoritative in memory; the store makes transcript and
// document survive a full server restart.
type TranscriptStore interface {
	// AppendTranscriptEntry persists a sequenced transcript entry.
	AppendTranscriptEntry(ctx context.Context, sessionID string, entry *types.TranscriptEntry) error

	// GetTranscript returns all entries for a session ordered by sequence.
	GetTranscript(ctx context.Context, sessionID string) ([]types.TranscriptEntry, error)

	// SaveDocument persists the latest document state for a session.
	SaveDocument(ctx context.Context, sessionID string, document *types.DocumentState) error

	// GetDocument returns the stored document state, or ErrDocumentNotFound
	// when the session has never had an accepted code update.
	GetDocument(ctx context.Context, sessionID string) (*types.DocumentState, error)

	// HealthCheck verifies store connectivity.
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and closes the store.
	Close() error
}
