package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"codepair/pkg/interfaces"
	"codepair/pkg/types"
)

// DefaultLanguageTag is the document language before the candidate picks
// one.
const DefaultLanguageTag = "plaintext"

// Registry maps interview ids to live session state. Sessions are created
// lazily on first connection and evicted only after the last connection
// releases and a grace window passes, so a brief network blip never
// discards document or transcript state.
type Registry struct {
	store interfaces.TranscriptStore
	grace time.Duration

	mu       sync.Mutex
	sessions map[string]*liveSession
}

// liveSession pairs session state with the connection ids currently holding
// it. generation invalidates eviction timers scheduled before a reconnect.
type liveSession struct {
	session    *Session
	refs       map[string]struct{}
	generation uint64
}

// NewRegistry creates a session registry backed by the given store.
func NewRegistry(store interfaces.TranscriptStore, grace time.Duration) *Registry {
	return &Registry{
		store:    store,
		grace:    grace,
		sessions: make(map[string]*liveSession),
	}
}

// GetOrCreate resolves the live session for an interview id, hydrating it
// from the store on first use. Creation is idempotent: concurrent first
// connections for the same id converge on a single session state. It fails
// only on a malformed session id or a store error.
func (r *Registry) GetOrCreate(ctx context.Context, sessionID string) (*Session, error) {
	if !types.IsValidSessionID(sessionID) {
		return nil, types.ErrInvalidSessionID
	}

	r.mu.Lock()
	if ls, exists := r.sessions[sessionID]; exists {
		r.mu.Unlock()
		return ls.session, nil
	}
	r.mu.Unlock()

	// Hydrate outside the lock so a slow store read on one session never
	// stalls attaches to other sessions.
	sess, err := r.hydrate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another connection may have created the session while we were
	// hydrating; the first insert wins and both readers see the same data.
	if ls, exists := r.sessions[sessionID]; exists {
		return ls.session, nil
	}

	r.sessions[sessionID] = &liveSession{
		session: sess,
		refs:    make(map[string]struct{}),
	}
	log.Printf("Session created: session=%s transcript=%d revision=%d",
		sessionID, sess.TranscriptLength(), sess.Document().Revision)
	return sess, nil
}

// Get returns the live session for an id if one exists.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ls, exists := r.sessions[sessionID]
	if !exists {
		return nil, false
	}
	return ls.session, true
}

// Acquire records a connection as holding the session, cancelling any
// pending eviction.
func (r *Registry) Acquire(sessionID, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ls, exists := r.sessions[sessionID]
	if !exists {
		return ErrSessionNotLive
	}
	ls.refs[connectionID] = struct{}{}
	ls.generation++
	return nil
}

// Release drops a connection's hold on the session. Idempotent and safe to
// call from both error handlers and explicit close paths. When the last
// connection releases, eviction is scheduled after the grace window.
func (r *Registry) Release(sessionID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ls, exists := r.sessions[sessionID]
	if !exists {
		return
	}
	delete(ls.refs, connectionID)

	if len(ls.refs) == 0 {
		generation := ls.generation
		time.AfterFunc(r.grace, func() {
			r.evict(sessionID, generation)
		})
	}
}

// evict frees session state if no connection re-acquired it since the
// eviction was scheduled.
func (r *Registry) evict(sessionID string, generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ls, exists := r.sessions[sessionID]
	if !exists {
		return
	}
	if ls.generation != generation || len(ls.refs) > 0 {
		return
	}

	delete(r.sessions, sessionID)
	log.Printf("Session evicted after idle grace period: session=%s", sessionID)
}

// Stats returns registry statistics for the inspection API.
func (r *Registry) Stats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	attached := 0
	for _, ls := range r.sessions {
		attached += len(ls.refs)
	}
	return map[string]int{
		"live_sessions":        len(r.sessions),
		"attached_connections": attached,
	}
}

// hydrate loads durable state for a session from the store. A session with
// no stored document starts from an empty plaintext document at revision 0.
func (r *Registry) hydrate(ctx context.Context, sessionID string) (*Session, error) {
	document, err := r.store.GetDocument(ctx, sessionID)
	if err != nil {
		if err != interfaces.ErrDocumentNotFound {
			return nil, fmt.Errorf("failed to hydrate document: %w", err)
		}
		document = &types.DocumentState{LanguageTag: DefaultLanguageTag}
	}

	transcript, err := r.store.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate transcript: %w", err)
	}

	return newSession(sessionID, *document, transcript), nil
}
