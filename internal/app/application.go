package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"codepair/internal/ai"
	"codepair/internal/api"
	"codepair/internal/config"
	"codepair/internal/database"
	"codepair/internal/router"
	"codepair/internal/session"
	"codepair/internal/websocket"
	dbconfig "codepair/pkg/database"
	"codepair/pkg/interfaces"
)

// Application coordinates all engine components. Construction follows
// dependency order: Store → Session Registry → Connection Registry →
// Router → AI → API → HTTP; shutdown runs in reverse.
type Application struct {
	config      *config.Config
	store       *database.Manager
	sessions    *session.Registry
	connections *websocket.Registry
	router      *router.Router
	responder   *ai.Responder
	apiServer   *api.Server
	httpServer  *http.Server
}

// NewApplication creates an application with all components wired. A nil
// provider falls back to the scripted AI participant.
func NewApplication(cfg *config.Config, provider interfaces.ResponseProvider) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := database.NewManager(&dbconfig.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	sessions := session.NewRegistry(store, cfg.Session.EvictionGrace)
	connections := websocket.NewRegistry()
	messageRouter := router.NewRouter(sessions, connections, store)

	if provider == nil {
		provider = ai.NewScriptedProvider()
	}
	responder := ai.NewResponder(provider, sessions, messageRouter, cfg.AI.ReplyTimeout)
	messageRouter.SetResponder(responder)

	apiServer := api.NewServer(sessions, connections, store)
	wsHandler := websocket.NewHandler(connections, sessions, messageRouter, cfg.WebSocket)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		store:       store,
		sessions:    sessions,
		connections: connections,
		router:      messageRouter,
		responder:   responder,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Start begins serving. It returns once the HTTP server is accepting
// connections or startup has failed.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting codepair engine on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("codepair engine started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts the application down: HTTP first so no new
// connections arrive, then the store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down codepair engine")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.store.Close(); err != nil {
		log.Printf("Store shutdown error: %v", err)
	}

	log.Printf("codepair engine shutdown complete")
	return nil
}

// GetAddr returns the configured listen address.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
