package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/memctx/memctx/internal/config"
	"github.com/memctx/memctx/internal/engine"
	"github.com/memctx/memctx/internal/memory"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <agent-id> [message]",
	Short: "Retrieve memories for an agent",
	Long: "Run one retrieval against the local database and print the selected\n" +
		"memories in output order. The message is the semantic query; omit it to\n" +
		"rely on recency alone.",
	Args: cobra.MinimumNArgs(1),
	RunE: runRetrieve,
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	agentID := args[0]
	message := ""
	if len(args) > 1 {
		message = args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	embedder := buildEmbedder(cfg.Embedding, logger)
	eng := engine.New(db, embedder, cfg.Retrieval.Params())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := eng.Retrieve(ctx, agentID, message)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No memories found.")
		return nil
	}

	for i, entry := range results {
		tier := "contextual"
		if g, ok := entry.Category.Group(); ok && g == memory.GroupCore {
			tier = "core"
		}
		fmt.Printf("%d. [%s/%s] %s\n   %s\n", i+1, tier, entry.Category, entry.Key, entry.Value)
	}

	return nil
}
