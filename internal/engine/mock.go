package engine

import (
	"context"
	"hash/fnv"
	"math"
)

// MockEmbedder generates deterministic unit vectors from a text hash. It
// stands in for a real provider in tests and offline runs: identical text
// always maps to the identical vector, so retrieval stays reproducible.
type MockEmbedder struct {
	dims int
}

// NewMockEmbedder creates a mock embedder with the given dimensionality.
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &MockEmbedder{dims: dims}
}

func (m *MockEmbedder) Model() string   { return "mock" }
func (m *MockEmbedder) Dimensions() int { return m.dims }

// Embed derives a pseudo-random unit vector from the FNV hash of the text.
func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float64, m.dims)
	for i := range vec {
		// LCG over the hash seed keeps generation dependency-free.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float64(int64(seed)) / float64(math.MaxInt64)
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}
