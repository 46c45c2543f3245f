package types

import (
	"time"
)

// Connection roles. A connection's role is fixed for its lifetime; changing
// role requires a reconnect.
const (
	RoleCandidate   = "candidate"
	RoleInterviewer = "interviewer"
)

// Transcript senders. Interviewer-side notes stay client-local and never
// enter the transcript.
const (
	SenderCandidate = "candidate"
	SenderAI        = "ai"
)

// Client-to-server message kinds.
const (
	KindCodeUpdate  = "codeUpdate"
	KindChatMessage = "chatMessage"
)

// Server-to-client event kinds.
const (
	KindSnapshot        = "snapshot"
	KindDocumentChanged = "documentChanged"
	KindChatAppended    = "chatAppended"
)

// DocumentState is the current code document of a session: a single value,
// not a log. Revision is assigned by the router on each accepted update and
// is strictly increasing within a session.
type DocumentState struct {
	Content     string `json:"content"`
	LanguageTag string `json:"languageTag"`
	Revision    int64  `json:"revision"`
}

// TranscriptEntry is one chat message. Entries are immutable once a sequence
// number is assigned; sorting by Sequence reconstructs the authoritative
// order regardless of delivery order.
type TranscriptEntry struct {
	Sequence  int64     `json:"sequence"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ClientMessage is an inbound frame from a connected client. LanguageTag is
// only meaningful for codeUpdate frames.
type ClientMessage struct {
	Kind        string `json:"kind"`
	Content     string `json:"content"`
	LanguageTag string `json:"languageTag,omitempty"`
}

// Event is an outbound frame to a connected client. Exactly one kind is set
// per frame; unused fields are omitted from the wire encoding.
type Event struct {
	Kind        string            `json:"kind"`
	Document    *DocumentState    `json:"document,omitempty"`
	Transcript  []TranscriptEntry `json:"transcript,omitempty"`
	Content     string            `json:"content,omitempty"`
	LanguageTag string            `json:"languageTag,omitempty"`
	Revision    int64             `json:"revision,omitempty"`
	Sequence    int64             `json:"sequence,omitempty"`
	Sender      string            `json:"sender,omitempty"`
	CreatedAt   time.Time         `json:"createdAt,omitzero"`
}

// NewSnapshotEvent builds the attach-time frame carrying the complete
// current state of a session.
func NewSnapshotEvent(document DocumentState, transcript []TranscriptEntry) *Event {
	return &Event{
		Kind:       KindSnapshot,
		Document:   &document,
		Transcript: transcript,
	}
}

// NewDocumentChangedEvent builds the fan-out frame for an accepted code
// update.
func NewDocumentChangedEvent(document DocumentState) *Event {
	return &Event{
		Kind:        KindDocumentChanged,
		Content:     document.Content,
		LanguageTag: document.LanguageTag,
		Revision:    document.Revision,
	}
}

// NewChatAppendedEvent builds the fan-out frame for a sequenced transcript
// entry.
func NewChatAppendedEvent(entry TranscriptEntry) *Event {
	return &Event{
		Kind:      KindChatAppended,
		Sequence:  entry.Sequence,
		Sender:    entry.Sender,
		Content:   entry.Content,
		CreatedAt: entry.CreatedAt,
	}
}
