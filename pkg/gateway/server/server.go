package server

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-switchboard/pkg/agents"
	"github.com/vango-go/vai-switchboard/pkg/gateway/config"
	"github.com/vango-go/vai-switchboard/pkg/gateway/handlers"
	"github.com/vango-go/vai-switchboard/pkg/gateway/live/orchestrator"
	"github.com/vango-go/vai-switchboard/pkg/gateway/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	roster *agents.Roster
	orch   *orchestrator.Orchestrator
}

func New(cfg config.Config, roster *agents.Roster, orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		roster: roster,
		orch:   orch,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Roster: s.roster})

	s.mux.Handle("POST /v1/sessions", handlers.StartSessionHandler{
		Orchestrator: s.orch,
		Logger:       s.logger,
	})
	stop := handlers.StopSessionHandler{
		Orchestrator: s.orch,
		Logger:       s.logger,
	}
	s.mux.Handle("DELETE /v1/sessions/{id}", stop)
	s.mux.Handle("POST /v1/sessions/{id}/stop", stop)

	s.mux.Handle("GET /v1/live/{session_id}", handlers.LiveHandler{
		Config:       s.cfg,
		Orchestrator: s.orch,
		Logger:       s.logger,
	})

	if s.cfg.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	} else {
		s.mux.Handle("/", handlers.NotFoundHandler{})
	}
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
