// Package engine implements hybrid memory retrieval: a cheap bulk path for
// small memory sets and a scored path that partitions records into core and
// contextual tiers, ranks the contextual tier by a weighted composite of
// semantic similarity, recency, and importance, and merges the result.
package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memctx/memctx/internal/memory"
)

// Store is the engine's view of the memory store. Implementations must
// exclude expired records from both queries and return records in a stable
// order that holds for the duration of one call.
type Store interface {
	CountActive(ctx context.Context, agentID string) (int, error)
	ListActive(ctx context.Context, agentID string, group memory.Group) ([]memory.Record, error)
}

// Engine retrieves the memories to inject into a bounded prompt context.
// It is stateless and read-only: safe for concurrent calls, including
// concurrent calls for the same agent.
type Engine struct {
	store    Store
	embedder Embedder
	params   Params
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source. Used by tests to pin recency scores.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine. embedder may be nil, in which case the hybrid path
// reports ErrNoEmbedder through the configured degradation policy while the
// bulk path keeps working.
func New(store Store, embedder Embedder, params Params, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		embedder: embedder,
		params:   params,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns the ordered, duplicate-free list of memories for one
// conversational turn. userMessage is used only as the semantic query; it may
// be empty, in which case the embedding provider's own contract applies.
//
// At or below Params.BulkThreshold active records the store's active set is
// returned verbatim with no embedding call. Above it, core records are always
// included and contextual records are scored against a single query
// embedding, filtered at Params.MinScore, ranked, and truncated to
// Params.MaxContextualResults.
func (e *Engine) Retrieve(ctx context.Context, agentID, userMessage string) ([]memory.Entry, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, ErrInvalidAgentID
	}

	count, err := e.store.CountActive(ctx, agentID)
	if err != nil {
		return nil, storeErr("count", err)
	}

	if count <= e.params.BulkThreshold {
		records, err := e.store.ListActive(ctx, agentID, memory.GroupAll)
		if err != nil {
			return nil, storeErr("list", err)
		}
		e.logger.Debug("bulk retrieval",
			zap.String("agent_id", agentID),
			zap.Int("count", len(records)))
		return entries(records), nil
	}

	return e.retrieveHybrid(ctx, agentID, userMessage)
}

func (e *Engine) retrieveHybrid(ctx context.Context, agentID, userMessage string) ([]memory.Entry, error) {
	core, err := e.store.ListActive(ctx, agentID, memory.GroupCore)
	if err != nil {
		return nil, storeErr("list core", err)
	}
	contextual, err := e.store.ListActive(ctx, agentID, memory.GroupContextual)
	if err != nil {
		return nil, storeErr("list contextual", err)
	}

	// Nothing to score — skip the embedding call entirely.
	if len(contextual) == 0 {
		return entries(core), nil
	}

	queryVec, err := e.queryEmbedding(ctx, userMessage)
	if err != nil {
		if e.params.CoreOnlyOnEmbedderError {
			e.logger.Warn("query embedding failed, degrading to core tier",
				zap.String("agent_id", agentID),
				zap.Error(err))
			return entries(core), nil
		}
		return nil, err
	}

	now := e.now()
	scored := make([]ScoredMemory, 0, len(contextual))
	for i := range contextual {
		score := e.compositeScore(queryVec, &contextual[i], now)
		if score >= e.params.MinScore {
			scored = append(scored, ScoredMemory{Record: contextual[i], Score: score})
		}
	}

	// Stable sort: equal scores keep the store-provided order, so retrieval
	// stays deterministic for a fixed snapshot.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > e.params.MaxContextualResults {
		scored = scored[:e.params.MaxContextualResults]
	}

	e.logger.Debug("hybrid retrieval",
		zap.String("agent_id", agentID),
		zap.Int("core", len(core)),
		zap.Int("contextual_in", len(contextual)),
		zap.Int("contextual_out", len(scored)))

	return merge(core, scored), nil
}

// queryEmbedding produces the single query vector used for every contextual
// record in this call.
func (e *Engine) queryEmbedding(ctx context.Context, userMessage string) ([]float64, error) {
	if e.embedder == nil {
		return nil, embedderErr("embed query", ErrNoEmbedder)
	}
	vec, err := e.embedder.Embed(ctx, userMessage)
	if err != nil {
		return nil, embedderErr("embed query", err)
	}
	return vec, nil
}

// merge places core records first (original order), then the ranked
// contextual records, dropping any contextual key already present in core.
// Disjoint categories make cross-tier duplicates impossible in a well-formed
// store; a duplicate is still dropped silently rather than surfaced.
func merge(core []memory.Record, contextual []ScoredMemory) []memory.Entry {
	out := make([]memory.Entry, 0, len(core)+len(contextual))
	seen := make(map[string]struct{}, len(core))

	for i := range core {
		if _, dup := seen[core[i].Key]; dup {
			continue
		}
		seen[core[i].Key] = struct{}{}
		out = append(out, core[i].Entry())
	}
	for i := range contextual {
		if _, dup := seen[contextual[i].Record.Key]; dup {
			continue
		}
		seen[contextual[i].Record.Key] = struct{}{}
		out = append(out, contextual[i].Record.Entry())
	}
	return out
}

func entries(records []memory.Record) []memory.Entry {
	out := make([]memory.Entry, 0, len(records))
	for i := range records {
		out = append(out, records[i].Entry())
	}
	return out
}
