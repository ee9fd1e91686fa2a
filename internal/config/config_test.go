package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:37780", cfg.ListenAddr())
	assert.Equal(t, "auto", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.OpenAIModel)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.OllamaModel)
	assert.Equal(t, int64(1024), cfg.Embedding.CacheSize)
	assert.Equal(t, 30, cfg.Retrieval.BulkThreshold)
	assert.Equal(t, 10, cfg.Retrieval.MaxContextualResults)
	assert.Equal(t, 0.3, cfg.Retrieval.MinScore)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MEMCTX_SERVER_PORT", "9999")
	t.Setenv("MEMCTX_EMBEDDING_PROVIDER", "mock")
	t.Setenv("MEMCTX_RETRIEVAL_BULK_THRESHOLD", "50")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "mock", cfg.Embedding.Provider)
	assert.Equal(t, 50, cfg.Retrieval.BulkThreshold)
	assert.Equal(t, "127.0.0.1", cfg.Server.Bind, "untouched keys keep defaults")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memctx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8088
retrieval:
  min_score: 0.5
  half_life_days: 7
log:
  level: debug
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 0.5, cfg.Retrieval.MinScore)
	assert.Equal(t, 7.0, cfg.Retrieval.HalfLifeDays)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 30, cfg.Retrieval.BulkThreshold, "unset keys keep defaults")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRetrievalParams(t *testing.T) {
	rc := RetrievalConfig{
		BulkThreshold:           40,
		MaxContextualResults:    5,
		MinScore:                0.4,
		HalfLifeDays:            14,
		SemanticWeight:          0.7,
		RecencyWeight:           0.2,
		ImportanceWeight:        0.1,
		CoreOnlyOnEmbedderError: true,
	}

	p := rc.Params()
	assert.Equal(t, 40, p.BulkThreshold)
	assert.Equal(t, 5, p.MaxContextualResults)
	assert.Equal(t, 0.4, p.MinScore)
	assert.Equal(t, 14.0, p.HalfLifeDays)
	assert.Equal(t, 0.7, p.SemanticWeight)
	assert.True(t, p.CoreOnlyOnEmbedderError)

	// Score defaults are not exposed for tuning and keep reference values.
	assert.Equal(t, 0.5, p.DefaultSemanticScore)
	assert.Equal(t, 0.5, p.DefaultImportance)
}
