// Package server exposes latest-games feeds over HTTP. Each session stands
// for one activation of the latest-games screen and owns one accumulator.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/latest-games/pkg/feed"
	"github.com/Sternrassler/latest-games/pkg/logging"
	"github.com/Sternrassler/latest-games/pkg/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Config holds server configuration.
type Config struct {
	Addr string

	// Feed is applied to every session's accumulator.
	Feed feed.Config

	// SessionTTL is the idle time after which a session is closed.
	SessionTTL time.Duration

	// EvictInterval is how often idle sessions are swept. Defaults to a
	// quarter of SessionTTL, at least one second.
	EvictInterval time.Duration

	// Redis is pinged by /ready when set.
	Redis *redis.Client
}

// Server serves the session API.
type Server struct {
	config   Config
	sessions *Registry
	router   *mux.Router
	logger   zerolog.Logger
}

// New creates a server whose sessions fetch from fetcher.
func New(fetcher feed.Fetcher, cfg Config) *Server {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = cfg.SessionTTL / 4
		if cfg.EvictInterval < time.Second {
			cfg.EvictInterval = time.Second
		}
	}

	s := &Server{
		config:   cfg,
		sessions: NewRegistry(fetcher, cfg.Feed, cfg.SessionTTL),
		logger:   logging.NewLogger("server"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/sessions", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/more", s.handleMore).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/retry", s.handleRetry).Methods(http.MethodPost)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the session registry.
func (s *Server) Sessions() *Registry {
	return s.sessions
}

// Run serves until ctx is cancelled, then shuts down and closes all sessions.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.evictLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.config.Addr).Msg("Starting latest-games server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.sessions.CloseAll()
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.sessions.CloseAll()
	return err
}

func (s *Server) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Evict(); n > 0 {
				s.logger.Info().Int("evicted", n).Int("active", s.sessions.Len()).Msg("Evicted idle sessions")
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.config.Redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.config.Redis.Ping(ctx).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// handleCreate activates a screen and loads the first page. A failed first
// page still creates the session; the error is part of the view.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id, acc := s.sessions.Create()
	log := s.logger.With().Str("session", id.String()).Logger()
	log.Info().Msg("Session created")

	if _, err := acc.Initialize(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Initial page failed")
	}

	w.Header().Set("Location", "/sessions/"+id.String())
	writeJSON(w, http.StatusCreated, sessionResponse{ID: id.String(), View: acc.Snapshot()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, acc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id.String(), View: acc.Snapshot()})
}

// handleMore is the load-more trigger. Requests that arrive while a page is
// loading or after exhaustion are answered with 202 and the unchanged view.
func (s *Server) handleMore(w http.ResponseWriter, r *http.Request) {
	s.advance(w, r, (*feed.Accumulator).RequestNextPage)
}

// handleRetry re-requests the page that failed last.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.advance(w, r, (*feed.Accumulator).Retry)
}

func (s *Server) advance(w http.ResponseWriter, r *http.Request, step func(*feed.Accumulator, context.Context) (bool, error)) {
	id, acc, ok := s.lookup(w, r)
	if !ok {
		return
	}

	started, err := step(acc, r.Context())
	if errors.Is(err, feed.ErrClosed) {
		writeError(w, http.StatusGone, "session closed")
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("session", id.String()).Msg("Page request failed")
	}

	status := http.StatusOK
	if !started {
		status = http.StatusAccepted
	}
	writeJSON(w, status, sessionResponse{ID: id.String(), View: acc.Snapshot()})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if err := s.sessions.Delete(id); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info().Str("session", id.String()).Msg("Session closed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (uuid.UUID, *feed.Accumulator, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, nil, false
	}
	acc, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return uuid.Nil, nil, false
	}
	return id, acc, true
}

type sessionResponse struct {
	ID string `json:"id"`
	feed.View
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
