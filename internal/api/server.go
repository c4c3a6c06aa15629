// Package api provides HTTP handlers and the API server for tripmatch.
//
// It exposes RESTful endpoints for starting trip-planning conversations,
// sending user turns, running ad hoc match queries, and reading conversation
// history. The API integrates with the session, match, and store modules.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/swellmates/tripmatch/internal/models"
	"github.com/swellmates/tripmatch/internal/session"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// DefaultShutdownTimeout bounds graceful shutdown on context cancellation.
const DefaultShutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a functional option for API server configuration.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// chatSession pairs a conversation state with its turn lock. Turns on one
// chat are serialized; turns on different chats run concurrently.
type chatSession struct {
	mu    sync.Mutex
	state *models.ConversationState
}

// Server hosts the tripmatch HTTP API.
type Server struct {
	engine *session.Engine
	addr   string

	mu       sync.RWMutex
	sessions map[string]*chatSession
}

// NewServer creates an API server around a session engine.
func NewServer(engine *session.Engine, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	slog.Debug("api.NewServer: creating server", "addr", cfg.Addr)
	return &Server{
		engine:   engine,
		addr:     cfg.Addr,
		sessions: make(map[string]*chatSession),
	}
}

// Handler returns the server's HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations", s.conversationsHandler)
	mux.HandleFunc("/conversations/", s.conversationRouter)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: tripmatch API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// getSession returns the live session for a chat id, rebuilding it from the
// history store if the server restarted since the conversation began. The
// second return is false only when the store confirms the chat has no
// messages; an unreachable store keeps the chat going on a fresh session.
func (s *Server) getSession(ctx context.Context, chatID string) (*chatSession, bool) {
	s.mu.RLock()
	cs, ok := s.sessions[chatID]
	s.mu.RUnlock()
	if ok {
		return cs, true
	}

	state, err := s.engine.Restore(ctx, chatID)
	if err != nil {
		if state == nil {
			return nil, false
		}
		// History store unreachable. Continue on the fresh state rather
		// than reporting the chat unknown; persistence stays best-effort.
		slog.Warn("Server.getSession: history unavailable, continuing with fresh session", "chatID", chatID, "error", err)
	} else if len(state.Messages) == 0 {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check: another request may have restored it concurrently.
	if existing, ok := s.sessions[chatID]; ok {
		return existing, true
	}
	cs = &chatSession{state: state}
	s.sessions[chatID] = cs
	slog.Debug("Server.getSession: session restored from history", "chatID", chatID, "messages", len(state.Messages))
	return cs, true
}

// addSession registers a freshly created session.
func (s *Server) addSession(state *models.ConversationState) *chatSession {
	cs := &chatSession{state: state}
	s.mu.Lock()
	s.sessions[state.ChatID] = cs
	s.mu.Unlock()
	return cs
}
