package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"codepair/pkg/types"
)

// newLoopbackConnection wraps a real dialed socket so writer behavior is
// exercised end to end. Returns the wrapper and the server side of the pipe.
func newLoopbackConnection(t *testing.T) (*Connection, *websocket.Conn) {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	clientConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	var serverSide *websocket.Conn
	select {
	case serverSide = <-serverConns:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
	}
	t.Cleanup(func() { _ = serverSide.Close() })

	c := NewConnection(clientConn, "conn-1", types.RoleCandidate, "interview-1", 0, 0)
	t.Cleanup(func() { _ = c.Close() })
	return c, serverSide
}

func TestWriteEvent_Delivers(t *testing.T) {
	c, serverSide := newLoopbackConnection(t)

	event := types.NewDocumentChangedEvent(types.DocumentState{Content: "x", LanguageTag: "go", Revision: 1})
	if err := c.WriteEvent(event); err != nil {
		t.Fatalf("WriteEvent failed: %v", err)
	}

	serverSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := serverSide.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var decoded types.Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Kind != types.KindDocumentChanged || decoded.Revision != 1 {
		t.Errorf("delivered frame mismatch: %+v", decoded)
	}
}

func TestWriteEvent_AfterClose(t *testing.T) {
	c, _ := newLoopbackConnection(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	event := types.NewDocumentChangedEvent(types.DocumentState{Revision: 1, LanguageTag: "go"})
	if err := c.WriteEvent(event); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_ConcurrentWritesAndClose(t *testing.T) {
	c, serverSide := newLoopbackConnection(t)

	// Keep the server side drained so writes do not back up
	go func() {
		for {
			if _, _, err := serverSide.ReadMessage(); err != nil {
				return
			}
		}
	}()

	event := types.NewChatAppendedEvent(types.TranscriptEntry{
		Sequence: 1, Sender: types.SenderCandidate, Content: "hello", CreatedAt: time.Now().UTC(),
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				// Errors are expected once Close lands; a panic is not
				_ = c.WriteEvent(event)
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	_ = c.Close()
	wg.Wait()
}

func TestClose_Idempotent(t *testing.T) {
	c, _ := newLoopbackConnection(t)

	if err := c.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestNewConnection_BufferSize(t *testing.T) {
	c, _ := newLoopbackConnection(t)
	if cap(c.writeCh) != defaultBufferSize {
		t.Errorf("expected default buffer size %d, got %d", defaultBufferSize, cap(c.writeCh))
	}
	if c.writeTimeout != defaultWriteTimeout {
		t.Errorf("expected default write timeout %v, got %v", defaultWriteTimeout, c.writeTimeout)
	}

	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)
	clientConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	sized := NewConnection(clientConn, "conn-2", types.RoleInterviewer, "interview-1", 3*time.Second, 7)
	t.Cleanup(func() { _ = sized.Close() })
	if cap(sized.writeCh) != 7 {
		t.Errorf("expected buffer size 7, got %d", cap(sized.writeCh))
	}
	if sized.writeTimeout != 3*time.Second {
		t.Errorf("expected 3s write timeout, got %v", sized.writeTimeout)
	}
}
