package websocket

import (
	"log"
	"sync"

	"codepair/pkg/interfaces"
	"codepair/pkg/types"
)

// Registry is the connection manager: it owns the set of live connections
// per session and fans out broadcasts. Pure connection tracking, no routing
// decisions.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]map[string]interfaces.Connection // sessionID -> connectionID -> conn
	candidates map[string]string                           // sessionID -> connectionID holding the candidate slot
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[string]map[string]interfaces.Connection),
		candidates: make(map[string]string),
	}
}

// Register adds a connection to its session's fan-out set. Exactly one live
// candidate connection is allowed per session; a second candidate attach is
// rejected so duplicate tabs cannot fight over the document.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	sessionID := conn.SessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.Role() == types.RoleCandidate {
		if _, taken := r.candidates[sessionID]; taken {
			return ErrCandidateAttached
		}
		r.candidates[sessionID] = conn.ID()
	}

	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]interfaces.Connection)
	}
	r.sessions[sessionID][conn.ID()] = conn

	return nil
}

// Unregister removes a connection from its session's fan-out set. Idempotent
// and never panics, so it is safe to call from both the error path and the
// explicit close path.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	sessionID := conn.SessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, exists := r.sessions[sessionID]
	if !exists {
		return
	}
	if registered, ok := conns[conn.ID()]; !ok || registered != conn {
		return
	}

	delete(conns, conn.ID())
	if len(conns) == 0 {
		delete(r.sessions, sessionID)
	}

	if r.candidates[sessionID] == conn.ID() {
		delete(r.candidates, sessionID)
	}
}

// Broadcast delivers an event to every connection in a session except
// excludeConnectionID. Delivery failures to one connection never block the
// others; a failed peer is cleaned up by its own read pump.
func (r *Registry) Broadcast(sessionID string, event *types.Event, excludeConnectionID string) {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.sessions[sessionID]))
	for id, conn := range r.sessions[sessionID] {
		if id == excludeConnectionID {
			continue
		}
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteEvent(event); err != nil {
			log.Printf("Failed to deliver event to connection %s: %v", conn.ID(), err)
		}
	}
}

// CandidateAttached reports whether a live candidate connection holds the
// session's writer slot.
func (r *Registry) CandidateAttached(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, taken := r.candidates[sessionID]
	return taken
}

// ConnectionCount returns the number of live connections in a session.
func (r *Registry) ConnectionCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions[sessionID])
}

// Stats returns registry statistics for the inspection API.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.sessions {
		total += len(conns)
	}

	return map[string]int{
		"total_connections": total,
		"active_sessions":   len(r.sessions),
	}
}
