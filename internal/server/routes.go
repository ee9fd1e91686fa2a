package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/memctx/memctx/internal/engine"
	"github.com/memctx/memctx/internal/memory"
)

const retrieveTimeout = 30 * time.Second

// memoryJSON is the wire shape of one stored record. Embeddings are not
// exposed; has_embedding signals whether one is stored.
type memoryJSON struct {
	Key          string     `json:"key"`
	Value        string     `json:"value"`
	Category     string     `json:"category"`
	HasEmbedding bool       `json:"has_embedding"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func toMemoryJSON(rec *memory.Record) memoryJSON {
	return memoryJSON{
		Key:          rec.Key,
		Value:        rec.Value,
		Category:     string(rec.Category),
		HasEmbedding: rec.HasEmbedding(),
		UpdatedAt:    rec.UpdatedAt,
		ExpiresAt:    rec.ExpiresAt,
	}
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), retrieveTimeout)
	defer cancel()

	results, err := s.engine.Retrieve(ctx, agentID, req.Message)
	if err != nil {
		s.writeRetrieveError(w, r, agentID, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"agent_id": agentID,
		"count":    len(results),
		"memories": results,
	})
}

// writeRetrieveError maps the engine's error taxonomy to HTTP statuses:
// validation failures are the caller's fault, dependency failures are
// upstream outages.
func (s *Server) writeRetrieveError(w http.ResponseWriter, r *http.Request, agentID string, err error) {
	if errors.Is(err, engine.ErrInvalidAgentID) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var depErr *engine.DependencyError
	if errors.As(err, &depErr) {
		s.logger.Error("retrieval dependency failure",
			zap.String("agent_id", agentID),
			zap.String("dependency", depErr.Dependency),
			zap.Error(err))
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.logger.Error("retrieval failed", zap.String("agent_id", agentID), zap.Error(err))
	respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	group, err := memory.ParseGroup(r.URL.Query().Get("group"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.db.ListActive(r.Context(), agentID, group)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]memoryJSON, 0, len(records))
	for i := range records {
		out = append(out, toMemoryJSON(&records[i]))
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"agent_id": agentID,
		"group":    group.String(),
		"count":    len(out),
		"memories": out,
	})
}

func (s *Server) handleUpsertMemory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	key := chi.URLParam(r, "key")

	var req struct {
		Value      string `json:"value"`
		Category   string `json:"category"`
		TTLSeconds int64  `json:"ttl_seconds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	existing, err := s.db.Get(r.Context(), agentID, key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rec := &memory.Record{
		AgentID:  agentID,
		Key:      key,
		Value:    req.Value,
		Category: memory.Category(req.Category),
	}
	if req.TTLSeconds > 0 {
		t := time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)
		rec.ExpiresAt = &t
	}

	// Best-effort embedding on the write path. A provider outage leaves the
	// record vector-less; the scorer's default handles that, and the backfill
	// pass fills it in later.
	if s.embedder != nil {
		if vec, embErr := s.embedder.Embed(r.Context(), rec.Value); embErr != nil {
			s.logger.Warn("embed on write failed",
				zap.String("agent_id", agentID),
				zap.String("key", key),
				zap.Error(embErr))
		} else {
			rec.Embedding = vec
			rec.EmbeddingModel = s.embedder.Model()
		}
	}

	if err := s.db.Upsert(r.Context(), rec); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusCreated
	if existing != nil {
		status = http.StatusOK
	}
	respondJSON(w, status, toMemoryJSON(rec))
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	key := chi.URLParam(r, "key")

	rec, err := s.db.Get(r.Context(), agentID, key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "memory not found")
		return
	}

	respondJSON(w, http.StatusOK, toMemoryJSON(rec))
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	key := chi.URLParam(r, "key")

	deleted, err := s.db.Delete(r.Context(), agentID, key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "memory not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
