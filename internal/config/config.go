// Package config holds memctx configuration: defaults in code, optionally
// overridden by a YAML file and MEMCTX_* environment variables via viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/memctx/memctx/internal/engine"
)

// Config holds all memctx configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type EmbeddingConfig struct {
	// Provider: "auto" (openai if a key is set, else ollama if reachable,
	// else none), "openai", "ollama", "mock", or "none".
	Provider string `mapstructure:"provider"`

	OpenAIKey     string `mapstructure:"openai_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	OpenAIModel   string `mapstructure:"openai_model"`

	OllamaURL   string `mapstructure:"ollama_url"`
	OllamaModel string `mapstructure:"ollama_model"`

	Dimensions int `mapstructure:"dimensions"`

	// CacheSize bounds the query-embedding cache; zero disables it.
	CacheSize int64 `mapstructure:"cache_size"`
}

// RetrievalConfig mirrors engine.Params for per-deployment tuning.
type RetrievalConfig struct {
	BulkThreshold           int     `mapstructure:"bulk_threshold"`
	MaxContextualResults    int     `mapstructure:"max_contextual_results"`
	MinScore                float64 `mapstructure:"min_score"`
	HalfLifeDays            float64 `mapstructure:"half_life_days"`
	SemanticWeight          float64 `mapstructure:"semantic_weight"`
	RecencyWeight           float64 `mapstructure:"recency_weight"`
	ImportanceWeight        float64 `mapstructure:"importance_weight"`
	CoreOnlyOnEmbedderError bool    `mapstructure:"core_only_on_embedder_error"`
}

type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// Default returns a Config with the reference tuning and local-only server
// defaults.
func Default() Config {
	p := engine.DefaultParams()
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Embedding: EmbeddingConfig{
			Provider:    "auto",
			OpenAIModel: "text-embedding-3-small",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "nomic-embed-text",
			Dimensions:  768,
			CacheSize:   1024,
		},
		Retrieval: RetrievalConfig{
			BulkThreshold:        p.BulkThreshold,
			MaxContextualResults: p.MaxContextualResults,
			MinScore:             p.MinScore,
			HalfLifeDays:         p.HalfLifeDays,
			SemanticWeight:       p.SemanticWeight,
			RecencyWeight:        p.RecencyWeight,
			ImportanceWeight:     p.ImportanceWeight,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from the optional file at path (empty means no
// file), layered over Default() and under MEMCTX_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("MEMCTX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.openai_key", d.Embedding.OpenAIKey)
	v.SetDefault("embedding.openai_base_url", d.Embedding.OpenAIBaseURL)
	v.SetDefault("embedding.openai_model", d.Embedding.OpenAIModel)
	v.SetDefault("embedding.ollama_url", d.Embedding.OllamaURL)
	v.SetDefault("embedding.ollama_model", d.Embedding.OllamaModel)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.cache_size", d.Embedding.CacheSize)
	v.SetDefault("retrieval.bulk_threshold", d.Retrieval.BulkThreshold)
	v.SetDefault("retrieval.max_contextual_results", d.Retrieval.MaxContextualResults)
	v.SetDefault("retrieval.min_score", d.Retrieval.MinScore)
	v.SetDefault("retrieval.half_life_days", d.Retrieval.HalfLifeDays)
	v.SetDefault("retrieval.semantic_weight", d.Retrieval.SemanticWeight)
	v.SetDefault("retrieval.recency_weight", d.Retrieval.RecencyWeight)
	v.SetDefault("retrieval.importance_weight", d.Retrieval.ImportanceWeight)
	v.SetDefault("retrieval.core_only_on_embedder_error", d.Retrieval.CoreOnlyOnEmbedderError)
	v.SetDefault("log.level", d.Log.Level)
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Params maps the retrieval section onto the engine's tuning. The score
// defaults (0.5 semantic for missing embeddings, 0.5 importance) stay at the
// reference values.
func (c *RetrievalConfig) Params() engine.Params {
	p := engine.DefaultParams()
	p.BulkThreshold = c.BulkThreshold
	p.MaxContextualResults = c.MaxContextualResults
	p.MinScore = c.MinScore
	p.HalfLifeDays = c.HalfLifeDays
	p.SemanticWeight = c.SemanticWeight
	p.RecencyWeight = c.RecencyWeight
	p.ImportanceWeight = c.ImportanceWeight
	p.CoreOnlyOnEmbedderError = c.CoreOnlyOnEmbedderError
	return p
}
