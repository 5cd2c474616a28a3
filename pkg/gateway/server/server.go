package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-catalog/pkg/gateway/config"
	"github.com/vango-go/vai-catalog/pkg/gateway/handlers"
	"github.com/vango-go/vai-catalog/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-catalog/pkg/gateway/mw"
)

const eventsPath = "/v1/events"

// Deps are the application pieces the control server exposes.
type Deps struct {
	App    handlers.Controller
	Tokens handlers.TokenIssuer
	Events handlers.EventStreamer
}

type Server struct {
	cfg       config.Config
	deps      Deps
	logger    *slog.Logger
	mux       *http.ServeMux
	lifecycle *lifecycle.Lifecycle
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		mux:       http.NewServeMux(),
		lifecycle: &lifecycle.Lifecycle{},
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	s.mux.Handle("/api/session", handlers.TokenHandler{
		Issuer:  s.deps.Tokens,
		Timeout: s.cfg.UpstreamTimeout,
		Logger:  s.logger,
	})

	if s.deps.App != nil {
		actions := map[string]handlers.Action{
			"/v1/session/connect":    handlers.ActionConnect,
			"/v1/session/disconnect": handlers.ActionDisconnect,
			"/v1/session/reset":      handlers.ActionReset,
			"/v1/mic/start":          handlers.ActionMicStart,
			"/v1/mic/stop":           handlers.ActionMicStop,
		}
		for path, action := range actions {
			s.mux.Handle(path, handlers.ActionHandler{App: s.deps.App, Action: action, Logger: s.logger})
		}
		s.mux.Handle("/v1/session", handlers.SnapshotHandler{App: s.deps.App})
		s.mux.Handle("/v1/history", handlers.HistoryHandler{App: s.deps.App})
		s.mux.Handle("/v1/products", handlers.ProductsHandler{App: s.deps.App})
		if s.deps.Events != nil {
			s.mux.Handle(eventsPath, handlers.EventsHandler{
				Config:    s.cfg,
				App:       s.deps.App,
				Hub:       s.deps.Events,
				Lifecycle: s.lifecycle,
				Logger:    s.logger,
			})
		}
	}

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Timeout(s.cfg.HandlerTimeout, []string{eventsPath}, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

func (s *Server) EventStreams() int {
	return s.lifecycle.Streams()
}

// WaitEventStreams blocks until every open event stream has ended or ctx is
// done.
func (s *Server) WaitEventStreams(ctx context.Context) bool {
	return s.lifecycle.WaitStreams(ctx)
}

func (s *Server) CancelEventStreams() int {
	n := s.lifecycle.CancelStreams()
	if n > 0 {
		s.logger.Info("canceled event streams", "count", n)
	}
	return n
}
