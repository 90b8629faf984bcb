// Package httpapi is the boundary layer: it authenticates requests, maps
// them onto the task service, resolves user references for the wire, and
// exposes the push channel, health and metrics endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mirkobrombin/go-tasklock/v1/auth"
	"github.com/mirkobrombin/go-tasklock/v1/directory"
	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
	"github.com/mirkobrombin/go-tasklock/v1/notify"
	"github.com/mirkobrombin/go-tasklock/v1/service"
	"github.com/mirkobrombin/go-tasklock/v1/task"
)

const maxBodyBytes = 64 << 10

// Server routes HTTP requests.
type Server struct {
	svc      *service.Service
	verifier auth.Verifier
	registry *notify.Registry
	ws       http.Handler
	dir      *directory.Directory
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithDirectory remembers the display name of every authenticated user.
func WithDirectory(d *directory.Directory) Option {
	return func(s *Server) {
		s.dir = d
	}
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New returns a Server. ws serves the push channel and reg is reported
// by /health.
func New(svc *service.Service, v auth.Verifier, reg *notify.Registry, ws http.Handler, opts ...Option) *Server {
	s := &Server{svc: svc, verifier: v, registry: reg, ws: ws, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /api/tasks", s.authed(s.listTasks))
	mux.Handle("POST /api/tasks", s.authed(s.createTask))
	mux.Handle("GET /api/tasks/{id}", s.authed(s.getTask))
	mux.Handle("PUT /api/tasks/{id}", s.authed(s.updateTask))
	mux.Handle("PATCH /api/tasks/{id}", s.authed(s.updateTask))
	mux.Handle("DELETE /api/tasks/{id}", s.authed(s.deleteTask))
	mux.Handle("POST /api/tasks/{id}/lock", s.authed(s.lockTask))
	mux.Handle("DELETE /api/tasks/{id}/lock", s.authed(s.unlockTask))
	if s.ws != nil {
		mux.Handle("GET /ws", s.ws)
	}
	mux.HandleFunc("GET /health", s.health)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, actor auth.Identity)

func (s *Server) authed(h handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := auth.Authenticate(r.Context(), s.verifier, r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if s.dir != nil {
			s.dir.Remember(id)
		}
		h(w, r.WithContext(auth.WithIdentity(r.Context(), id)), id)
	})
}

type message struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type taskMessage struct {
	Message string    `json:"message"`
	Task    task.View `json:"task"`
}

type health struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
	ts, err := s.svc.List(r.Context(), actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]task.View, len(ts))
	for i, t := range ts {
		out[i] = s.svc.View(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
	t, err := s.svc.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.View(t))
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
	var in task.Input
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	t, err := s.svc.Create(r.Context(), actor, in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.svc.View(t))
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
	var p task.Patch
	if err := decode(w, r, &p); err != nil {
		s.writeError(w, err)
		return
	}
	t, err := s.svc.Update(r.Context(), actor, r.PathValue("id"), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.View(t))
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
	removed, err := s.svc.Delete(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !removed {
		s.writeError(w, tlerrors.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, message{Message: "Task deleted successfully"})
}

func (s *Server) lockTask(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
	t, err := s.svc.Lock(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskMessage{Message: "Task locked successfully", Task: s.svc.View(t)})
}

func (s *Server) unlockTask(w http.ResponseWriter, r *http.Request, actor auth.Identity) {
	t, err := s.svc.Unlock(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskMessage{Message: "Task unlocked successfully", Task: s.svc.View(t)})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	n := 0
	if s.registry != nil {
		n = s.registry.Len()
	}
	writeJSON(w, http.StatusOK, health{Status: "ok", Connections: n})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", tlerrors.ErrInvalidInput, err)
	}
	return nil
}

// writeError maps err onto a status code. Only errors from the taxonomy
// reach the client verbatim.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ae *auth.Error
	switch {
	case errors.As(err, &ae):
		writeJSON(w, http.StatusUnauthorized, message{Message: ae.Error(), Code: ae.Code})
	case errors.Is(err, tlerrors.ErrNotFound):
		writeJSON(w, http.StatusNotFound, message{Message: "Task not found"})
	case errors.Is(err, tlerrors.ErrLocked):
		writeJSON(w, http.StatusConflict, message{Message: tlerrors.ErrLocked.Error()})
	case errors.Is(err, tlerrors.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, message{Message: err.Error()})
	case errors.Is(err, tlerrors.ErrTimeout):
		writeJSON(w, http.StatusGatewayTimeout, message{Message: "request timed out"})
	default:
		s.logger.Error("httpapi: request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, message{Message: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
