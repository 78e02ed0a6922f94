// Package server assembles the gateway: configuration, upstream
// adapters, the capability registry, the macro engine and the HTTP
// surface, wired behind one middleware chain.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/voxdeck-ai/voxdeck/pkg/core/adapter"
	"github.com/voxdeck-ai/voxdeck/pkg/core/capability"
	"github.com/voxdeck-ai/voxdeck/pkg/core/chat"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/config"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/handlers"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/macro"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/metrics"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/mw"
	"github.com/voxdeck-ai/voxdeck/pkg/gateway/session"
	"github.com/voxdeck-ai/voxdeck/pkg/workspace"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	metrics  *metrics.Metrics
	sessions *session.Registry
	caps     *capability.Registry
	aware    *workspace.Awareness
	engine   *macro.Engine

	native      adapter.Adapter
	chatFactory *chat.Factory
}

// New builds a fully wired server. The macro store is owned by the
// server and closed on Close.
func New(cfg config.Config, store *macro.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	m := metrics.New(cfg.MetricsNamespace)
	aware := workspace.NewAwareness()
	caps := workspace.Capabilities(aware, workspace.LocalDevice{})

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		metrics:  m,
		sessions: session.NewRegistry(),
		caps:     caps,
		aware:    aware,
		engine:   macro.NewEngine(store, m, logger),
	}

	if cfg.GeminiAPIKey != "" {
		s.native = adapter.NewNative(cfg.GeminiAPIKey, logger)
	}
	if cfg.ChatAPIKey != "" {
		var opts []chat.Option
		if cfg.ChatBaseURL != "" {
			opts = append(opts, chat.WithBaseURL(cfg.ChatBaseURL))
		}
		s.chatFactory = chat.NewFactory(cfg.ChatAPIKey, opts...)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/health", handlers.HealthHandler{})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Sessions: s.sessions})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/v1/session", handlers.SessionHandler{
		Config:       s.cfg,
		Native:       s.native,
		ChatFactory:  s.chatFactory,
		Capabilities: s.caps,
		Awareness:    s.aware,
		Sessions:     s.sessions,
		Metrics:      s.metrics,
		Logger:       s.logger,
	})

	macros := handlers.MacrosHandler{
		Engine:       s.engine,
		Capabilities: s.caps,
		Logger:       s.logger,
	}
	s.mux.Handle("/v1/macros", macros)
	s.mux.Handle("/v1/macros/", macros)

	s.mux.Handle("/v1/invoke", handlers.InvokeHandler{
		Capabilities: s.caps,
		Logger:       s.logger,
	})
}

// Handler returns the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Sessions exposes the live session registry for shutdown coordination.
func (s *Server) Sessions() *session.Registry { return s.sessions }

// DrainSessions tells every live session the server is going away,
// handing out resumption tokens where available.
func (s *Server) DrainSessions(message string) int {
	return s.sessions.DrainAll(message)
}

// WaitSessions blocks until all sessions end or ctx expires.
func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

// CloseSessions force-closes whatever is still connected.
func (s *Server) CloseSessions() int {
	return s.sessions.CloseAll()
}
