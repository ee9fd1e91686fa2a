// Package server exposes memory retrieval and the memory write path over a
// small JSON HTTP API.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/memctx/memctx/internal/engine"
	"github.com/memctx/memctx/internal/store"
)

// Server is the memctx HTTP API server.
type Server struct {
	db       *store.DB
	engine   *engine.Engine
	embedder engine.Embedder // nil when no provider is configured
	logger   *zap.Logger
	router   chi.Router
	version  string
	started  time.Time
}

// New creates a Server. embedder is used to vectorize records on write;
// retrieval goes through eng.
func New(db *store.DB, eng *engine.Engine, embedder engine.Embedder, logger *zap.Logger, version string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		db:       db,
		engine:   eng,
		embedder: embedder,
		logger:   logger,
		version:  version,
		started:  time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Post("/retrieve", s.handleRetrieve)

			r.Route("/memories", func(r chi.Router) {
				r.Get("/", s.handleListMemories)
				r.Put("/{key}", s.handleUpsertMemory)
				r.Get("/{key}", s.handleGetMemory)
				r.Delete("/{key}", s.handleDeleteMemory)
			})
		})
	})

	s.router = r
}

// requestLogger logs each request with its chi request id.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	embedderModel := ""
	if s.embedder != nil {
		embedderModel = s.embedder.Model()
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"uptime":   time.Since(s.started).Seconds(),
		"db":       dbOK,
		"db_path":  s.db.Path,
		"embedder": embedderModel,
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
