package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codepair/internal/config"
	"codepair/internal/session"
	"codepair/pkg/interfaces"
	"codepair/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is left to the deployment's reverse proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// MessageRouter routes validated inbound frames. Declared here so the
// handler can be tested without the concrete router.
type MessageRouter interface {
	RouteMessage(ctx context.Context, sender interfaces.Connection, msg *types.ClientMessage) error
}

// Handler accepts WebSocket attach requests: it validates the session id and
// role, resolves the session, sends the snapshot, and runs the read pump.
type Handler struct {
	connections *Registry
	sessions    *session.Registry
	router      MessageRouter

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	bufferSize   int
}

// NewHandler creates a WebSocket handler. A nil cfg takes the defaults.
func NewHandler(connections *Registry, sessions *session.Registry, router MessageRouter, cfg *config.WebSocketConfig) *Handler {
	if cfg == nil {
		cfg = config.DefaultConfig().WebSocket
	}
	return &Handler{
		connections:  connections,
		sessions:     sessions,
		router:       router,
		pingInterval: cfg.PingInterval,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		bufferSize:   cfg.BufferSize,
	}
}

// HandleWebSocket handles a connection attempt. Validation happens before
// the upgrade so rejected attaches get proper HTTP status codes: 400 for a
// malformed session id or role, 409 for a duplicate candidate.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	role := r.URL.Query().Get("role")

	if !types.IsValidSessionID(sessionID) {
		http.Error(w, "Invalid session_id", http.StatusBadRequest)
		return
	}

	if !types.IsValidRole(role) {
		http.Error(w, "Invalid role: must be 'candidate' or 'interviewer'", http.StatusBadRequest)
		return
	}

	// Pre-upgrade duplicate-candidate check for a clean 409; Register
	// below closes the race with a concurrent candidate attach.
	if role == types.RoleCandidate && h.connections.CandidateAttached(sessionID) {
		http.Error(w, "A candidate is already connected to this session", http.StatusConflict)
		return
	}

	sess, err := h.sessions.GetOrCreate(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "Session unavailable", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	connectionID := uuid.New().String()
	wsConn := NewConnection(conn, connectionID, role, sessionID, h.writeTimeout, h.bufferSize)

	if err := h.sessions.Acquire(sessionID, connectionID); err != nil {
		log.Printf("Failed to acquire session: session=%s err=%v", sessionID, err)
		_ = wsConn.Close()
		return
	}

	if err := h.connections.Register(wsConn); err != nil {
		log.Printf("Failed to register connection: session=%s role=%s err=%v", sessionID, role, err)
		h.sessions.Release(sessionID, connectionID)
		_ = wsConn.Close()
		return
	}

	// The snapshot goes out before the read pump starts: every connection,
	// fresh or reconnecting, begins from a complete consistent point and
	// only needs to apply subsequent broadcasts.
	document, transcript := sess.Snapshot()
	if err := wsConn.WriteEvent(types.NewSnapshotEvent(document, transcript)); err != nil {
		log.Printf("Failed to send snapshot: session=%s conn=%s err=%v", sessionID, connectionID, err)
		h.connections.Unregister(wsConn)
		h.sessions.Release(sessionID, connectionID)
		_ = wsConn.Close()
		return
	}

	log.Printf("Connection attached: session=%s role=%s conn=%s", sessionID, role, connectionID)

	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump and heartbeat until the client goes
// away, then detaches. Detach is idempotent end to end: Unregister and
// Release tolerate repeated calls.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.connections.Unregister(conn)
		h.sessions.Release(conn.SessionID(), conn.ID())
		_ = conn.Close()
		log.Printf("Connection detached: session=%s conn=%s", conn.SessionID(), conn.ID())
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.writeTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: conn=%s err=%v", conn.ID(), err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var msg types.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Discarding malformed frame: conn=%s err=%v", conn.ID(), err)
			continue
		}

		if err := h.router.RouteMessage(conn.ctx, conn, &msg); err != nil {
			log.Printf("Message routing failed: conn=%s kind=%s err=%v", conn.ID(), msg.Kind, err)
		}
	}
}
