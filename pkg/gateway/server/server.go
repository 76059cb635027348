// Package server assembles the gateway: routes, middleware chain, and
// the shared state handlers need (lifecycle flag, session tracker,
// prompt store, model opener).
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sonicgate/sonicgate/pkg/gateway/config"
	"github.com/sonicgate/sonicgate/pkg/gateway/handlers"
	"github.com/sonicgate/sonicgate/pkg/gateway/lifecycle"
	"github.com/sonicgate/sonicgate/pkg/gateway/live/protocol"
	"github.com/sonicgate/sonicgate/pkg/gateway/live/sessions"
	"github.com/sonicgate/sonicgate/pkg/gateway/mw"
	"github.com/sonicgate/sonicgate/pkg/nova"
	"github.com/sonicgate/sonicgate/pkg/promptstore"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	opener       nova.Opener
	prompts      promptstore.Store
	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker
}

func New(cfg config.Config, logger *slog.Logger, opener nova.Opener, prompts promptstore.Store) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if prompts == nil {
		prompts = promptstore.NewMemory(cfg.SystemPrompt)
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		opener:       opener,
		prompts:      prompts,
		lifecycle:    &lifecycle.Lifecycle{},
		liveSessions: sessions.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	s.mux.Handle("/", handlers.IndexHandler{Path: s.cfg.IndexPath})
	s.mux.Handle("/prompt", handlers.PromptHandler{
		Store:     s.prompts,
		Logger:    s.logger,
		Broadcast: s.liveSessions.Broadcast,
	})
	s.mux.Handle("/ws", handlers.LiveHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Opener:       s.opener,
		Prompts:      s.prompts,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg.CORSAllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness and makes /ws refuse new connections.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnLiveSessionsDraining tells every connected client the gateway is
// about to go away.
func (s *Server) WarnLiveSessionsDraining() {
	n := s.liveSessions.Broadcast(protocol.NewNotice("draining", "server is restarting, please reconnect shortly"))
	s.logger.Info("warned live sessions about drain", "sessions", n)
}

// WaitLiveSessions blocks until every live session has ended or ctx
// expires; it reports whether the sessions drained in time.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

// CancelLiveSessions force-closes whatever is still connected.
func (s *Server) CancelLiveSessions() {
	n := s.liveSessions.CancelAll()
	s.logger.Info("canceled live sessions", "sessions", n)
}

func (s *Server) LiveSessionCount() int {
	return s.liveSessions.Count()
}
