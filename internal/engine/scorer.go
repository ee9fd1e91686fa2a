package engine

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/memctx/memctx/internal/memory"
)

// ScoredMemory is a contextual record with its composite score, produced only
// on the hybrid path. Transient — never persisted.
type ScoredMemory struct {
	Record memory.Record
	Score  float64
}

// compositeScore blends the three sub-scores for one contextual record.
// Records with no stored embedding, and records whose vector length disagrees
// with the query vector, get the default semantic score instead of failing
// the retrieval.
func (e *Engine) compositeScore(queryVec []float64, rec *memory.Record, now time.Time) float64 {
	semantic := e.params.DefaultSemanticScore
	if rec.HasEmbedding() {
		if len(rec.Embedding) == len(queryVec) && len(queryVec) > 0 {
			semantic = clamp01(CosineSimilarity(queryVec, rec.Embedding))
		} else {
			e.logger.Warn("embedding dimension mismatch, scoring with default",
				zap.String("agent_id", rec.AgentID),
				zap.String("key", rec.Key),
				zap.Int("record_dims", len(rec.Embedding)),
				zap.Int("query_dims", len(queryVec)))
		}
	}

	recency := RecencyScore(now.Sub(rec.UpdatedAt), e.params.HalfLifeDays)
	importance := e.params.DefaultImportance

	return e.params.SemanticWeight*semantic +
		e.params.RecencyWeight*recency +
		e.params.ImportanceWeight*importance
}

// RecencyScore computes exponential decay 0.5^(ageDays/halfLifeDays):
// 1.0 at age zero, 0.5 at exactly one half-life, approaching zero after.
func RecencyScore(age time.Duration, halfLifeDays float64) float64 {
	if age <= 0 || halfLifeDays <= 0 {
		return 1.0
	}
	ageDays := age.Hours() / 24
	return math.Pow(0.5, ageDays/halfLifeDays)
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or empty vectors score zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// clamp01 maps raw cosine output [-1,1] onto the sub-score range [0,1].
// Anti-correlated vectors are simply "not relevant".
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
