package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"codepair/internal/session"
	"codepair/pkg/interfaces"
	"codepair/pkg/types"
)

// ConnectionRegistry is the slice of the connection manager the API reads.
type ConnectionRegistry interface {
	ConnectionCount(sessionID string) int
	CandidateAttached(sessionID string) bool
	Stats() map[string]int
}

// Server is the read-only HTTP surface: health for operators, session
// inspection for the interviewer dashboard, transcript replay for export
// tooling. All mutation happens over the WebSocket protocol.
type Server struct {
	sessions    *session.Registry
	connections ConnectionRegistry
	store       interfaces.TranscriptStore
	router      *http.ServeMux
}

// NewServer creates the API server and sets up its routes.
func NewServer(sessions *session.Registry, connections ConnectionRegistry, store interfaces.TranscriptStore) *Server {
	s := &Server{
		sessions:    sessions,
		connections: connections,
		store:       store,
		router:      http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessionByID))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleSessionByID dispatches GET /api/sessions/{id} and
// GET /api/sessions/{id}/transcript.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(path, "/")
	sessionID := parts[0]

	if !types.IsValidSessionID(sessionID) {
		s.sendError(w, "Invalid session id", http.StatusBadRequest)
		return
	}

	switch {
	case len(parts) == 1:
		s.getSession(w, sessionID)
	case len(parts) == 2 && parts[1] == "transcript":
		s.getTranscript(w, r, sessionID)
	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

// SessionResponse describes the live state of one session.
type SessionResponse struct {
	SessionID         string `json:"session_id"`
	ConnectionCount   int    `json:"connection_count"`
	CandidateAttached bool   `json:"candidate_attached"`
	Revision          int64  `json:"revision"`
	LanguageTag       string `json:"language_tag"`
	TranscriptLength  int    `json:"transcript_length"`
}

func (s *Server) getSession(w http.ResponseWriter, sessionID string) {
	sess, exists := s.sessions.Get(sessionID)
	if !exists {
		s.sendError(w, "Session not live", http.StatusNotFound)
		return
	}

	document := sess.Document()
	s.sendJSON(w, &SessionResponse{
		SessionID:         sessionID,
		ConnectionCount:   s.connections.ConnectionCount(sessionID),
		CandidateAttached: s.connections.CandidateAttached(sessionID),
		Revision:          document.Revision,
		LanguageTag:       document.LanguageTag,
		TranscriptLength:  sess.TranscriptLength(),
	}, http.StatusOK)
}

// TranscriptResponse carries the durable transcript for a session.
type TranscriptResponse struct {
	SessionID  string                  `json:"session_id"`
	Transcript []types.TranscriptEntry `json:"transcript"`
}

// getTranscript reads from the store rather than live state, so transcripts
// of evicted sessions stay available to export tooling.
func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request, sessionID string) {
	transcript, err := s.store.GetTranscript(r.Context(), sessionID)
	if err != nil {
		log.Printf("Failed to read transcript: session=%s err=%v", sessionID, err)
		s.sendError(w, "Failed to read transcript", http.StatusInternalServerError)
		return
	}
	if transcript == nil {
		transcript = []types.TranscriptEntry{}
	}

	s.sendJSON(w, &TranscriptResponse{
		SessionID:  sessionID,
		Transcript: transcript,
	}, http.StatusOK)
}

// HealthResponse reports engine and store health.
type HealthResponse struct {
	Status      string         `json:"status"`
	Database    string         `json:"database"`
	Sessions    map[string]int `json:"sessions"`
	Connections map[string]int `json:"connections"`
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:      "ok",
		Database:    "ok",
		Sessions:    s.sessions.Stats(),
		Connections: s.connections.Stats(),
	}
	status := http.StatusOK

	if err := s.store.HealthCheck(ctx); err != nil {
		log.Printf("Health check failed: %v", err)
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}

	s.sendJSON(w, resp, status)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}, status int) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, &errorResponse{Error: message}, status)
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}
