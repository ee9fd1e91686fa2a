package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/memctx/memctx/internal/config"
	"github.com/memctx/memctx/internal/engine"
	"github.com/memctx/memctx/internal/server"
	"github.com/memctx/memctx/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	embedder := buildEmbedder(cfg.Embedding, logger)
	if embedder != nil && cfg.Embedding.CacheSize > 0 {
		cached, cacheErr := engine.NewCachingEmbedder(embedder, cfg.Embedding.CacheSize)
		if cacheErr != nil {
			logger.Warn("embedding cache disabled", zap.Error(cacheErr))
		} else {
			defer cached.Close()
			embedder = cached
		}
	}

	eng := engine.New(db, embedder, cfg.Retrieval.Params(), engine.WithLogger(logger))

	stopJanitor := startJanitor(db, logger)
	defer stopJanitor()

	if embedder != nil {
		go backfillEmbeddings(db, embedder, logger)
	}

	srv := server.New(db, eng, embedder, logger, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("memctx serving", zap.String("addr", addr), zap.String("db", db.Path))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}

func openDB(cfg config.Config) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	return store.Open(dbPath)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// buildEmbedder selects the embedding provider per config. Returns nil when
// none is available; the bulk path keeps working and the hybrid path reports
// the missing dependency through the engine's error taxonomy.
func buildEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) engine.Embedder {
	provider := cfg.Provider
	if provider == "auto" {
		switch {
		case cfg.OpenAIKey != "":
			provider = "openai"
		case engine.ProbeOllama(cfg.OllamaURL, cfg.OllamaModel):
			provider = "ollama"
		default:
			provider = "none"
		}
	}

	switch provider {
	case "openai":
		logger.Info("embedder configured", zap.String("provider", "openai"), zap.String("model", cfg.OpenAIModel))
		return engine.NewOpenAIEmbedder(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.Dimensions)
	case "ollama":
		logger.Info("embedder configured", zap.String("provider", "ollama"), zap.String("model", cfg.OllamaModel))
		return engine.NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaModel, cfg.Dimensions)
	case "mock":
		logger.Info("embedder configured", zap.String("provider", "mock"))
		return engine.NewMockEmbedder(cfg.Dimensions)
	default:
		logger.Warn("no embedding provider available, hybrid retrieval disabled")
		return nil
	}
}

// startJanitor purges expired records at startup and then daily. Retrieval
// filters expiry on every query; the janitor only reclaims storage.
func startJanitor(db *store.DB, logger *zap.Logger) (stop func()) {
	purge := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := db.PurgeExpired(ctx); err != nil {
			logger.Warn("purge expired failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("purged expired memories", zap.Int("count", n))
		}
	}
	purge()

	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				purge()
			case <-stopCh:
				return
			}
		}
	}()

	return func() { close(stopCh) }
}

// backfillEmbeddings vectorizes active records that have none, e.g. records
// written while the provider was down.
func backfillEmbeddings(db *store.DB, embedder engine.Embedder, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	missing, err := db.ListMissingEmbeddings(ctx, 500)
	if err != nil {
		logger.Warn("list missing embeddings failed", zap.Error(err))
		return
	}

	embedded := 0
	for i := range missing {
		rec := &missing[i]
		vec, err := embedder.Embed(ctx, rec.Value)
		if err != nil {
			logger.Warn("backfill embed failed",
				zap.String("agent_id", rec.AgentID),
				zap.String("key", rec.Key),
				zap.Error(err))
			continue
		}
		if err := db.SaveEmbedding(ctx, rec.AgentID, rec.Key, vec, embedder.Model()); err != nil {
			logger.Warn("backfill save failed",
				zap.String("agent_id", rec.AgentID),
				zap.String("key", rec.Key),
				zap.Error(err))
			continue
		}
		embedded++
	}

	if embedded > 0 {
		logger.Info("backfilled embeddings", zap.Int("count", embedded))
	}
}
