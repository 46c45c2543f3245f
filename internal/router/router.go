package router

import (
	"context"
	"log"

	"codepair/internal/session"
	"codepair/pkg/interfaces"
	"codepair/pkg/types"
)

// ChatResponder is notified after each candidate chat message so the AI
// participant can produce a reply off the routing hot path.
type ChatResponder interface {
	OnCandidateMessage(sessionID string)
}

// Router validates and applies inbound client messages against session
// state, then relays them. It is the single point where revisions and
// sequences are assigned: both counters advance inside the session's
// mutation point, so no two concurrent submissions can share a number.
type Router struct {
	sessions    *session.Registry
	connections interfaces.ConnectionRegistry
	store       interfaces.TranscriptStore
	rateLimiter *RateLimiter
	responder   ChatResponder
}

// NewRouter creates a new broadcast router
func NewRouter(sessions *session.Registry, connections interfaces.ConnectionRegistry, store interfaces.TranscriptStore) *Router {
	return &Router{
		sessions:    sessions,
		connections: connections,
		store:       store,
		rateLimiter: NewRateLimiter(),
	}
}

// SetResponder attaches the AI participant. Must be called before serving;
// a nil responder simply disables AI replies.
func (r *Router) SetResponder(responder ChatResponder) {
	r.responder = responder
}

// RouteMessage applies one inbound frame from an attached connection.
func (r *Router) RouteMessage(ctx context.Context, sender interfaces.Connection, msg *types.ClientMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if !r.rateLimiter.Allow(sender.ID()) {
		return ErrRateLimitExceeded
	}

	switch msg.Kind {
	case types.KindCodeUpdate:
		return r.routeCodeUpdate(ctx, sender, msg)
	case types.KindChatMessage:
		return r.routeChatMessage(ctx, sender, msg)
	default:
		return types.ErrInvalidMessageKind
	}
}

// routeCodeUpdate replaces the document and fans the new state out to every
// other connection in the session. Only the candidate writes the document:
// an update from any other role is dropped silently rather than answered
// with a wire error, since an observer UI should never offer edit controls.
func (r *Router) routeCodeUpdate(ctx context.Context, sender interfaces.Connection, msg *types.ClientMessage) error {
	if sender.Role() != types.RoleCandidate {
		log.Printf("Dropping code update from non-candidate: session=%s role=%s", sender.SessionID(), sender.Role())
		return nil
	}

	sess, exists := r.sessions.Get(sender.SessionID())
	if !exists {
		return ErrSessionNotFound
	}

	document := sess.ApplyCodeUpdate(msg.Content, msg.LanguageTag)

	// Durability is best effort here; the store retries internally and a
	// failed write must not hold back propagation to live observers.
	if err := r.store.SaveDocument(ctx, sender.SessionID(), &document); err != nil {
		log.Printf("Failed to persist document: session=%s revision=%d err=%v", sender.SessionID(), document.Revision, err)
	}

	r.connections.Broadcast(sender.SessionID(), types.NewDocumentChangedEvent(document), sender.ID())
	return nil
}

// routeChatMessage appends a candidate transcript entry and fans it out to
// every connection including the sender: the echo carries the authoritative
// sequence number the sender's optimistic copy reconciles against.
func (r *Router) routeChatMessage(ctx context.Context, sender interfaces.Connection, msg *types.ClientMessage) error {
	sess, exists := r.sessions.Get(sender.SessionID())
	if !exists {
		return ErrSessionNotFound
	}

	entry := sess.AppendChat(types.SenderCandidate, msg.Content)

	if err := r.store.AppendTranscriptEntry(ctx, sender.SessionID(), &entry); err != nil {
		log.Printf("Failed to persist transcript entry: session=%s sequence=%d err=%v", sender.SessionID(), entry.Sequence, err)
	}

	r.connections.Broadcast(sender.SessionID(), types.NewChatAppendedEvent(entry), "")

	if r.responder != nil {
		r.responder.OnCandidateMessage(sender.SessionID())
	}
	return nil
}

// AppendAI appends an AI participant message through the same sequence
// assignment and fan-out path as candidate chat. The session may have been
// evicted while the provider was thinking; the reply is dropped in that
// case since nobody is attached to read it.
func (r *Router) AppendAI(ctx context.Context, sessionID, content string) error {
	if content == "" {
		return types.ErrEmptyContent
	}
	if len(content) > types.MaxChatContentBytes {
		return types.ErrContentTooLarge
	}

	sess, exists := r.sessions.Get(sessionID)
	if !exists {
		return ErrSessionNotFound
	}

	entry := sess.AppendChat(types.SenderAI, content)

	if err := r.store.AppendTranscriptEntry(ctx, sessionID, &entry); err != nil {
		log.Printf("Failed to persist transcript entry: session=%s sequence=%d err=%v", sessionID, entry.Sequence, err)
	}

	r.connections.Broadcast(sessionID, types.NewChatAppendedEvent(entry), "")
	return nil
}
