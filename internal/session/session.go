package session

import (
	"sync"
	"time"

	"codepair/pkg/types"
)

// Session is the live synchronization scope for one interview. It owns the
// document state, the transcript, and both counters behind a single mutex:
// the per-session mutation point that makes revision and sequence assignment
// race-free while independent sessions proceed in parallel.
type Session struct {
	id string

	mu         sync.Mutex
	document   types.DocumentState
	transcript []types.TranscriptEntry
}

// newSession builds a session from hydrated state. Sequence assignment
// continues from the last stored entry so restarts never reuse a number.
func newSession(id string, document types.DocumentState, transcript []types.TranscriptEntry) *Session {
	return &Session{
		id:         id,
		document:   document,
		transcript: transcript,
	}
}

// ID returns the interview id this session is scoped to.
func (s *Session) ID() string {
	return s.id
}

// ApplyCodeUpdate replaces the document and assigns the next revision.
// Callers enforce the candidate-only write policy before calling.
func (s *Session) ApplyCodeUpdate(content, languageTag string) types.DocumentState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.document = types.DocumentState{
		Content:     content,
		LanguageTag: languageTag,
		Revision:    s.document.Revision + 1,
	}
	return s.document
}

// AppendChat appends a transcript entry with the next sequence number.
// Sequence numbers are assigned exactly once and never reused.
func (s *Session) AppendChat(sender, content string) types.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := types.TranscriptEntry{
		Sequence:  s.nextSequenceLocked(),
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.transcript = append(s.transcript, entry)
	return entry
}

// Snapshot returns a consistent copy of the complete session state: the
// current document plus the full ordered transcript. Sent to every
// connection at attach time so clients never reason about partial history.
func (s *Session) Snapshot() (types.DocumentState, []types.TranscriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transcript := make([]types.TranscriptEntry, len(s.transcript))
	copy(transcript, s.transcript)
	return s.document, transcript
}

// Document returns the current document state.
func (s *Session) Document() types.DocumentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document
}

// TranscriptLength returns the number of sequenced entries.
func (s *Session) TranscriptLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcript)
}

func (s *Session) nextSequenceLocked() int64 {
	if len(s.transcript) == 0 {
		return 1
	}
	return s.transcript[len(s.transcript)-1].Sequence + 1
}
