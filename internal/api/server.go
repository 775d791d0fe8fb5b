// Package api serves the admin HTTP surface: task listing, manual
// runs, health, metrics and profiling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"freshen/internal/engine"
	"freshen/internal/storage"
	"freshen/internal/telemetry"
	"freshen/pkg/logx"
)

// Engine is the surface the API needs from the task engine.
type Engine interface {
	Report(ctx context.Context) ([]storage.Record, error)
	Task(ctx context.Context, id string) (storage.Record, error)
	Run(ctx context.Context, id string) error
}

type Config struct {
	Addr string // default: "127.0.0.1:8080"

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	cfg Config
	eng Engine
	log logx.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, eng Engine, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, eng: eng, log: log}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Mount("/metrics", telemetry.Handler())
	r.Mount("/debug", middleware.Profiler())

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}/run", s.handleRun)
	})
	return r
}

// Start binds the listener and serves in the background. The server
// carries no authentication, so a non-loopback bind is logged loudly.
func (s *Server) Start(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	if !isLoopbackAddr(addr) {
		s.log.Warn("admin api bound to a non-loopback address without auth", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.srv = srv
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("admin api serve failed", logx.Err(err))
		}
	}()
	s.log.Info("admin api started", logx.String("addr", ln.Addr().String()))
	return nil
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleList(w http.ResponseWriter, req *http.Request) {
	recs, err := s.eng.Report(req.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewsOf(recs, time.Now()))
}

func (s *Server) handleGet(w http.ResponseWriter, req *http.Request) {
	rec, err := s.eng.Task(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec, time.Now()))
}

// handleRun triggers one manual run. The guard checks happen inline so
// the response can say 404/409/503; the run itself is detached, like a
// poll-loop dispatch.
func (s *Server) handleRun(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	rec, err := s.eng.Task(req.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if rec.Status == storage.StatusRunning {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "task already running",
			"task":  viewOf(rec, time.Now()),
		})
		return
	}

	go func() {
		if err := s.eng.Run(context.Background(), id); err != nil && !errors.Is(err, engine.ErrAlreadyRunning) {
			s.log.Warn("manual task run failed", logx.String("task", id), logx.Err(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"task":   viewOf(rec, time.Now()),
	})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrStartupFailed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	default:
		s.log.Warn("admin api request failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(h), "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
