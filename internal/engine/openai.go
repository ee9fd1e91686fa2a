package engine

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dims       int
	maxRetries int
}

// NewOpenAIEmbedder creates an embedder for the given API key and model.
// baseURL may be empty for api.openai.com, or point at any compatible server.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dims int) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dims:       dims,
		maxRetries: 3,
	}
}

func (e *OpenAIEmbedder) Model() string   { return "openai:" + e.model }
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// Embed requests one embedding, retrying transient failures with linear
// backoff. Context cancellation aborts between attempts.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Data) == 0 {
			lastErr = fmt.Errorf("empty embedding response")
			continue
		}

		raw := resp.Data[0].Embedding
		vec := make([]float64, len(raw))
		for i, v := range raw {
			vec[i] = float64(v)
		}
		e.dims = len(vec)
		return vec, nil
	}
	return nil, fmt.Errorf("openai embed after %d attempts: %w", e.maxRetries, lastErr)
}
