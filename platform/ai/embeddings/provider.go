package embeddings

import (
	"context"

	"estate_portal_backend/platform/config"
)

// NewFromConfig picks the embedding provider. Gemini wins when its key is set,
// then the generic HTTP endpoint. It returns nil when neither is configured.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	if cfg.GetGeminiAPIKey() != "" {
		embedder, err := NewGeminiEmbedder(ctx, cfg.GetGeminiAPIKey(), cfg.GetGeminiEmbeddingModel())
		if err != nil {
			return nil, err
		}
		return embedder, nil
	}
	if cfg.GetEmbeddingAPIURL() != "" {
		return NewClient(Config{BaseURL: cfg.GetEmbeddingAPIURL(), APIKey: cfg.GetEmbeddingAPIKey()}), nil
	}
	return nil, nil
}
