package interfaces

import "codepair/pkg/types"

// Connection represents one attached client. Identity (connection id, role,
// session id) is fixed at attach time and never renegotiated.
type Connection interface {
	// WriteEvent sends an event frame to the client (thread-safe).
	WriteEvent(event *types.Event) error

	// Close closes the connection and releases its resources. Idempotent.
	Close() error

	// ID returns the locally generated connection instance id.
	ID() string

	// Role returns "candidate" or "interviewer".
	Role() string

	// SessionID returns the interview session this connection is scoped to.
	SessionID() string
}

// ConnectionRegistry is the fan-out surface the router needs from the
// connection manager.
type ConnectionRegistry interface {
	// Broadcast delivers an event to every connection in a session except
	// excludeConnectionID. An empty exclude id delivers to all connections.
	Broadcast(sessionID string, event *types.Event, excludeConnectionID string)
}
