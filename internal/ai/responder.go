package ai

import (
	"context"
	"log"
	"sync"
	"time"

	"codepair/internal/session"
	"codepair/pkg/interfaces"
)

// TranscriptAppender is the slice of the router the responder needs: the
// append/persist/broadcast path for "ai"-attributed entries.
type TranscriptAppender interface {
	AppendAI(ctx context.Context, sessionID, content string) error
}

// Responder is the AI interview participant. It reacts to candidate chat by
// asking the response provider for a reply and appending it through the
// router. At most one provider call is in flight per session; candidate
// messages arriving mid-call are answered by one follow-up call over the
// then-current transcript.
type Responder struct {
	provider interfaces.ResponseProvider
	sessions *session.Registry
	appender TranscriptAppender
	timeout  time.Duration

	mu       sync.Mutex
	inFlight map[string]bool
	pending  map[string]bool
}

// NewResponder creates the AI participant.
func NewResponder(provider interfaces.ResponseProvider, sessions *session.Registry, appender TranscriptAppender, timeout time.Duration) *Responder {
	return &Responder{
		provider: provider,
		sessions: sessions,
		appender: appender,
		timeout:  timeout,
		inFlight: make(map[string]bool),
		pending:  make(map[string]bool),
	}
}

// OnCandidateMessage schedules a reply for the session. Never blocks the
// routing path.
func (r *Responder) OnCandidateMessage(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight[sessionID] {
		r.pending[sessionID] = true
		return
	}
	r.inFlight[sessionID] = true

	go r.respond(sessionID)
}

// respond runs provider calls for a session until no further candidate
// message is pending. Provider failures are logged and swallowed: the AI
// going quiet is never surfaced to clients as an error.
func (r *Responder) respond(sessionID string) {
	for {
		r.replyOnce(sessionID)

		r.mu.Lock()
		if r.pending[sessionID] {
			delete(r.pending, sessionID)
			r.mu.Unlock()
			continue
		}
		delete(r.inFlight, sessionID)
		r.mu.Unlock()
		return
	}
}

func (r *Responder) replyOnce(sessionID string) {
	sess, exists := r.sessions.Get(sessionID)
	if !exists {
		return
	}
	_, transcript := sess.Snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	reply, err := r.provider.Reply(ctx, transcript)
	if err != nil {
		log.Printf("AI provider failed: session=%s err=%v", sessionID, err)
		return
	}
	if reply == "" {
		return
	}

	if err := r.appender.AppendAI(ctx, sessionID, reply); err != nil {
		log.Printf("Failed to append AI reply: session=%s err=%v", sessionID, err)
	}
}
