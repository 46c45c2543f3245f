package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codepair/internal/session"
	"codepair/pkg/types"
)

// Config holds reconciler settings. ServerURL is the http(s) base URL of
// the sync engine; zero durations take the defaults below.
type Config struct {
	ServerURL string
	SessionID string
	Role      string

	DebounceWindow  time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	SnapshotTimeout time.Duration

	// OnStateChange, when set, observes every lifecycle transition. Called
	// without internal locks held; implementations may call back into the
	// reconciler.
	OnStateChange func(State)
}

const (
	defaultDebounceWindow  = 250 * time.Millisecond
	defaultBackoffBase     = 250 * time.Millisecond
	defaultBackoffMax      = 10 * time.Second
	defaultSnapshotTimeout = 10 * time.Second
)

func (c *Config) applyDefaults() {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = defaultDebounceWindow
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = defaultBackoffMax
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = defaultSnapshotTimeout
	}
}

func (c *Config) validate() error {
	if _, err := url.Parse(c.ServerURL); err != nil || c.ServerURL == "" {
		return ErrInvalidServerURL
	}
	if !types.IsValidSessionID(c.SessionID) {
		return types.ErrInvalidSessionID
	}
	if !types.IsValidRole(c.Role) {
		return types.ErrInvalidRole
	}
	return nil
}

// Reconciler maintains a client's local view of a session: it replays the
// server snapshot on every (re)connect, applies subsequent broadcasts,
// coalesces rapid local edits behind a debounce window, and reconnects with
// jittered exponential backoff until closed. The local copy is provisional:
// revisions and sequences only ever come from server frames.
type Reconciler struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	started      bool
	state        State
	err          error
	document     types.DocumentState
	transcript   []types.TranscriptEntry
	pendingChats []string
	pendingCode  *types.ClientMessage
	debounce     *time.Timer
	conn         *websocket.Conn

	// writeMu serializes frames to the current socket; gorilla connections
	// support one concurrent writer.
	writeMu sync.Mutex
}

// New creates a reconciler. It does not connect; call Connect.
func New(cfg Config) (*Reconciler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateDisconnected,
		document: types.DocumentState{LanguageTag: session.DefaultLanguageTag},
	}, nil
}

// Connect starts the connection loop. It returns immediately; observe
// progress via OnStateChange or State.
func (r *Reconciler) Connect() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run()
	return nil
}

// Close detaches: it cancels the debounce and backoff timers, closes the
// transport, and waits for the loop to exit. In-flight submissions are
// at-most-once; the document is last-write-wins, so nothing needs flushing.
func (r *Reconciler) Close() error {
	r.cancel()

	r.mu.Lock()
	if r.debounce != nil {
		r.debounce.Stop()
	}
	conn := r.conn
	r.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	r.wg.Wait()
	r.setState(StateDisconnected)
	return nil
}

// SetCode records a local edit. The local document mutates immediately so
// typing stays responsive; submission waits for a quiescence window since
// the last edit, and only the latest pending content is ever sent.
func (r *Reconciler) SetCode(content, languageTag string) {
	r.mu.Lock()
	if languageTag == "" {
		languageTag = r.document.LanguageTag
	}
	r.document.Content = content
	r.document.LanguageTag = languageTag
	r.pendingCode = &types.ClientMessage{
		Kind:        types.KindCodeUpdate,
		Content:     content,
		LanguageTag: languageTag,
	}
	if r.debounce != nil {
		r.debounce.Stop()
	}
	r.debounce = time.AfterFunc(r.cfg.DebounceWindow, r.submitPendingCode)
	r.mu.Unlock()
}

// SendChat submits a chat message. While degraded or connecting the message
// queues in order and flushes after the next snapshot.
func (r *Reconciler) SendChat(content string) error {
	if content == "" {
		return types.ErrEmptyContent
	}

	r.mu.Lock()
	conn := r.conn
	synced := r.state == StateSynced
	if !synced || conn == nil {
		r.pendingChats = append(r.pendingChats, content)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	msg := &types.ClientMessage{Kind: types.KindChatMessage, Content: content}
	if err := r.send(conn, msg); err != nil {
		// Transport is going down; the reconnect loop will notice. Queue
		// for the post-snapshot flush instead of failing the caller.
		r.mu.Lock()
		r.pendingChats = append(r.pendingChats, content)
		r.mu.Unlock()
	}
	return nil
}

// Document returns the local document view, including unconfirmed edits.
func (r *Reconciler) Document() types.DocumentState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.document
}

// Transcript returns the confirmed transcript in sequence order.
func (r *Reconciler) Transcript() []types.TranscriptEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.TranscriptEntry, len(r.transcript))
	copy(out, r.transcript)
	return out
}

// State returns the current lifecycle state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Connected reports whether the client is synced with the server.
func (r *Reconciler) Connected() bool {
	return r.State() == StateSynced
}

// Err returns the terminal error after the loop gives up (attach rejected),
// or nil.
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// run is the connection loop: dial, sync, stream, degrade, back off, retry
// indefinitely until Close or a terminal rejection.
func (r *Reconciler) run() {
	defer r.wg.Done()

	attempt := 0
	for {
		if r.ctx.Err() != nil {
			return
		}
		r.setState(StateConnecting)

		conn, resp, err := r.dial()
		if err != nil {
			// A definitive HTTP rejection (malformed id or role) will not
			// heal by retrying; surface it and stop. A candidate-slot
			// conflict is transient: the server frees the slot once it
			// notices the previous connection is gone, so 409 keeps the
			// normal backoff loop running.
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 &&
				resp.StatusCode != http.StatusConflict {
				r.setTerminal(fmt.Errorf("%w: %s", ErrAttachRejected, resp.Status))
				return
			}
		} else if r.sync(conn) {
			attempt = 0
		}

		if r.ctx.Err() != nil {
			return
		}
		r.setState(StateDegraded)
		if !r.sleep(nextBackoff(attempt, r.cfg.BackoffBase, r.cfg.BackoffMax)) {
			return
		}
		attempt++
	}
}

func (r *Reconciler) dial() (*websocket.Conn, *http.Response, error) {
	u, err := url.Parse(r.cfg.ServerURL)
	if err != nil {
		return nil, nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	query := u.Query()
	query.Set("session_id", r.cfg.SessionID)
	query.Set("role", r.cfg.Role)
	u.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	return dialer.DialContext(r.ctx, u.String(), nil)
}

// sync waits for the snapshot, installs the connection, flushes queued
// submissions, and streams broadcasts until the transport fails. Returns
// true once a snapshot was applied.
func (r *Reconciler) sync(conn *websocket.Conn) bool {
	defer func() { _ = conn.Close() }()

	// The snapshot must be the first frame; anything else means the
	// connection is unusable and gets retried as a fresh join.
	_ = conn.SetReadDeadline(time.Now().Add(r.cfg.SnapshotTimeout))
	var ev types.Event
	if err := conn.ReadJSON(&ev); err != nil {
		return false
	}
	if ev.Kind != types.KindSnapshot || ev.Document == nil {
		return false
	}

	// Server pings arrive every 30 seconds; a quiet socket past the
	// deadline means the connection is dead.
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	r.applySnapshot(&ev, conn)
	r.flushPending(conn)
	r.readLoop(conn)

	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	return true
}

// applySnapshot replaces the local caches wholesale with the server's
// state. Unconfirmed local edits survive as the pending code update: they
// stay visible and are resubmitted exactly once as a single new revision.
func (r *Reconciler) applySnapshot(ev *types.Event, conn *websocket.Conn) {
	r.mu.Lock()
	r.conn = conn
	r.document = *ev.Document
	r.transcript = append([]types.TranscriptEntry(nil), ev.Transcript...)
	if r.pendingCode != nil {
		r.document.Content = r.pendingCode.Content
		r.document.LanguageTag = r.pendingCode.LanguageTag
	}
	r.mu.Unlock()

	r.setState(StateSynced)
}

// flushPending submits everything queued while disconnected: chats in
// order, then the latest pending code update (older queued edits were
// superseded at queue time).
func (r *Reconciler) flushPending(conn *websocket.Conn) {
	r.mu.Lock()
	chats := r.pendingChats
	r.pendingChats = nil
	code := r.pendingCode
	r.pendingCode = nil
	r.mu.Unlock()

	for i, content := range chats {
		msg := &types.ClientMessage{Kind: types.KindChatMessage, Content: content}
		if err := r.send(conn, msg); err != nil {
			r.mu.Lock()
			r.pendingChats = append(chats[i:], r.pendingChats...)
			if code != nil && r.pendingCode == nil {
				r.pendingCode = code
			}
			r.mu.Unlock()
			return
		}
	}

	if code != nil {
		if err := r.send(conn, code); err != nil {
			r.mu.Lock()
			if r.pendingCode == nil {
				r.pendingCode = code
			}
			r.mu.Unlock()
		}
	}
}

// submitPendingCode fires when the debounce window closes. If the client is
// not synced the update stays pending and rides the next snapshot flush.
func (r *Reconciler) submitPendingCode() {
	r.mu.Lock()
	code := r.pendingCode
	conn := r.conn
	if code == nil || r.state != StateSynced || conn == nil {
		r.mu.Unlock()
		return
	}
	r.pendingCode = nil
	r.mu.Unlock()

	if err := r.send(conn, code); err != nil {
		r.mu.Lock()
		if r.pendingCode == nil {
			r.pendingCode = code
		}
		r.mu.Unlock()
	}
}

// readLoop applies server broadcasts until the transport fails.
func (r *Reconciler) readLoop(conn *websocket.Conn) {
	for {
		var ev types.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}

		switch ev.Kind {
		case types.KindDocumentChanged:
			r.applyDocumentChanged(&ev)
		case types.KindChatAppended:
			r.applyChatAppended(&ev)
		case types.KindSnapshot:
			if ev.Document != nil {
				r.applySnapshot(&ev, conn)
			}
		}
	}
}

// applyDocumentChanged adopts a newer document revision. Older or duplicate
// revisions are ignored; last-write-wins is decided by revision order, not
// arrival order.
func (r *Reconciler) applyDocumentChanged(ev *types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Revision <= r.document.Revision {
		return
	}
	r.document = types.DocumentState{
		Content:     ev.Content,
		LanguageTag: ev.LanguageTag,
		Revision:    ev.Revision,
	}
}

// applyChatAppended inserts an entry at its sequence position, ignoring
// duplicates. Sorting by sequence makes delivery order irrelevant.
func (r *Reconciler) applyChatAppended(ev *types.Event) {
	entry := types.TranscriptEntry{
		Sequence:  ev.Sequence,
		Sender:    ev.Sender,
		Content:   ev.Content,
		CreatedAt: ev.CreatedAt,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.transcript)
	if n == 0 || entry.Sequence > r.transcript[n-1].Sequence {
		r.transcript = append(r.transcript, entry)
		return
	}

	i := sort.Search(n, func(i int) bool {
		return r.transcript[i].Sequence >= entry.Sequence
	})
	if i < n && r.transcript[i].Sequence == entry.Sequence {
		return
	}
	r.transcript = append(r.transcript, types.TranscriptEntry{})
	copy(r.transcript[i+1:], r.transcript[i:])
	r.transcript[i] = entry
}

func (r *Reconciler) send(conn *websocket.Conn, msg *types.ClientMessage) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (r *Reconciler) setState(state State) {
	r.mu.Lock()
	if r.state == state {
		r.mu.Unlock()
		return
	}
	r.state = state
	cb := r.cfg.OnStateChange
	r.mu.Unlock()

	if cb != nil {
		cb(state)
	}
}

func (r *Reconciler) setTerminal(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.setState(StateDisconnected)
}

// sleep waits for the backoff delay, returning false if closed meanwhile.
func (r *Reconciler) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-r.ctx.Done():
		return false
	}
}
