package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"codepair/internal/config"
	"codepair/internal/session"
	"codepair/pkg/interfaces"
	"codepair/pkg/types"
)

// memoryStore is an in-memory TranscriptStore for handler tests.
type memoryStore struct {
	mu          sync.Mutex
	transcripts map[string][]types.TranscriptEntry
	documents   map[string]*types.DocumentState
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		transcripts: make(map[string][]types.TranscriptEntry),
		documents:   make(map[string]*types.DocumentState),
	}
}

func (s *memoryStore) AppendTranscriptEntry(ctx context.Context, sessionID string, entry *types.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[sessionID] = append(s.transcripts[sessionID], *entry)
	return nil
}

func (s *memoryStore) GetTranscript(ctx context.Context, sessionID string) ([]types.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]types.TranscriptEntry, len(s.transcripts[sessionID]))
	copy(entries, s.transcripts[sessionID])
	return entries, nil
}

func (s *memoryStore) SaveDocument(ctx context.Context, sessionID string, document *types.DocumentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := *document
	s.documents[sessionID] = &saved
	return nil
}

func (s *memoryStore) GetDocument(ctx context.Context, sessionID string) (*types.DocumentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	document, exists := s.documents[sessionID]
	if !exists {
		return nil, interfaces.ErrDocumentNotFound
	}
	copied := *document
	return &copied, nil
}

func (s *memoryStore) HealthCheck(ctx context.Context) error { return nil }
func (s *memoryStore) Close() error                          { return nil }

// captureRouter records routed messages for assertions.
type captureRouter struct {
	mu       sync.Mutex
	messages []types.ClientMessage
	routed   chan struct{}
}

func newCaptureRouter() *captureRouter {
	return &captureRouter{routed: make(chan struct{}, 16)}
}

func (r *captureRouter) RouteMessage(ctx context.Context, sender interfaces.Connection, msg *types.ClientMessage) error {
	r.mu.Lock()
	r.messages = append(r.messages, *msg)
	r.mu.Unlock()
	r.routed <- struct{}{}
	return nil
}

func (r *captureRouter) captured() []types.ClientMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	messages := make([]types.ClientMessage, len(r.messages))
	copy(messages, r.messages)
	return messages
}

type handlerFixture struct {
	server   *httptest.Server
	sessions *session.Registry
	registry *Registry
	router   *captureRouter
	store    *memoryStore
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	store := newMemoryStore()
	sessions := session.NewRegistry(store, time.Minute)
	registry := NewRegistry()
	router := newCaptureRouter()
	handler := NewHandler(registry, sessions, router, nil)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	return &handlerFixture{
		server:   server,
		sessions: sessions,
		registry: registry,
		router:   router,
		store:    store,
	}
}

func (f *handlerFixture) wsURL(sessionID, role string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "?session_id=" + sessionID + "&role=" + role
}

func (f *handlerFixture) dial(t *testing.T, sessionID, role string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(sessionID, role), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *types.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var ev types.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return &ev
}

func TestHandleWebSocket_RejectsInvalidSessionID(t *testing.T) {
	f := newHandlerFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("bad%20id", types.RoleCandidate), nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %+v", resp)
	}
}

func TestHandleWebSocket_RejectsInvalidRole(t *testing.T) {
	f := newHandlerFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("interview-1", "observer"), nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %+v", resp)
	}
}

func TestHandleWebSocket_RejectsDuplicateCandidate(t *testing.T) {
	f := newHandlerFixture(t)

	first := f.dial(t, "interview-1", types.RoleCandidate)
	readEvent(t, first) // consume snapshot

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("interview-1", types.RoleCandidate), nil)
	if err == nil {
		t.Fatal("expected handshake rejection for second candidate")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %+v", resp)
	}

	// A second interviewer is always welcome
	second := f.dial(t, "interview-1", types.RoleInterviewer)
	readEvent(t, second)
}

func TestHandleWebSocket_SnapshotFirstFrame(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	// Seed durable state the attach must surface
	f.store.SaveDocument(ctx, "interview-1", &types.DocumentState{
		Content:     "x = 1",
		LanguageTag: "python",
		Revision:    4,
	})
	f.store.AppendTranscriptEntry(ctx, "interview-1", &types.TranscriptEntry{
		Sequence: 1, Sender: types.SenderCandidate, Content: "hello", CreatedAt: time.Now().UTC(),
	})

	conn := f.dial(t, "interview-1", types.RoleInterviewer)
	ev := readEvent(t, conn)

	if ev.Kind != types.KindSnapshot {
		t.Fatalf("expected snapshot as the first frame, got %q", ev.Kind)
	}
	if ev.Document == nil || ev.Document.Revision != 4 || ev.Document.LanguageTag != "python" {
		t.Errorf("snapshot document mismatch: %+v", ev.Document)
	}
	if len(ev.Transcript) != 1 || ev.Transcript[0].Sequence != 1 {
		t.Errorf("snapshot transcript mismatch: %+v", ev.Transcript)
	}
}

func TestHandleWebSocket_RoutesInboundFrames(t *testing.T) {
	f := newHandlerFixture(t)

	conn := f.dial(t, "interview-1", types.RoleCandidate)
	readEvent(t, conn)

	payload, _ := json.Marshal(&types.ClientMessage{Kind: types.KindChatMessage, Content: "hello"})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case <-f.router.routed:
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the router")
	}

	messages := f.router.captured()
	if len(messages) != 1 || messages[0].Kind != types.KindChatMessage || messages[0].Content != "hello" {
		t.Errorf("routed message mismatch: %+v", messages)
	}
}

func TestHandleWebSocket_MalformedFrameSkipped(t *testing.T) {
	f := newHandlerFixture(t)

	conn := f.dial(t, "interview-1", types.RoleCandidate)
	readEvent(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	payload, _ := json.Marshal(&types.ClientMessage{Kind: types.KindChatMessage, Content: "after garbage"})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case <-f.router.routed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not survive the malformed frame")
	}

	messages := f.router.captured()
	if len(messages) != 1 || messages[0].Content != "after garbage" {
		t.Errorf("expected only the valid frame routed: %+v", messages)
	}
}

func TestHandleWebSocket_ConfiguredHeartbeat(t *testing.T) {
	store := newMemoryStore()
	sessions := session.NewRegistry(store, time.Minute)
	registry := NewRegistry()
	router := newCaptureRouter()

	cfg := config.DefaultConfig().WebSocket
	cfg.PingInterval = 50 * time.Millisecond
	handler := NewHandler(registry, sessions, router, cfg)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?session_id=interview-1&role=interviewer"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	pings := make(chan struct{}, 16)
	conn.SetPingHandler(func(string) error {
		pings <- struct{}{}
		return nil
	})

	// Control frames are only processed while a read is in flight
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for received := 0; received < 2; {
		select {
		case <-pings:
			received++
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 2 heartbeats at the configured interval, got %d", received)
		}
	}
}

func TestHandleWebSocket_DetachFreesSlotAndSession(t *testing.T) {
	f := newHandlerFixture(t)

	conn := f.dial(t, "interview-1", types.RoleCandidate)
	readEvent(t, conn)

	if !f.registry.CandidateAttached("interview-1") {
		t.Fatal("expected candidate slot taken")
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.registry.CandidateAttached("interview-1") {
		if time.Now().After(deadline) {
			t.Fatal("candidate slot not freed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Session state survives the detach inside the grace window
	if _, exists := f.sessions.Get("interview-1"); !exists {
		t.Error("session evicted immediately on detach")
	}
}
