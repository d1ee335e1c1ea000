package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"companychat/pkg/ai"
	"companychat/pkg/domain"
	"companychat/pkg/store"
)

// Config wires retriever dependencies.
type Config struct {
	Store    store.Store
	Embedder ai.Embedder
	TopK     int
	MinScore float64
}

// Retriever runs similarity search over the chunk index, restricted to
// active, completed data sources.
type Retriever struct {
	store    store.Store
	embedder ai.Embedder
	topK     int
	minScore float64
}

// New validates cfg and builds a Retriever.
func New(cfg Config) (*Retriever, error) {
	if cfg.Store == nil {
		return nil, errors.New("retrieval: store is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("retrieval: embedder is required")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	minScore := cfg.MinScore
	if minScore < 0 {
		minScore = 0
	}
	return &Retriever{
		store:    cfg.Store,
		embedder: cfg.Embedder,
		topK:     topK,
		minScore: minScore,
	}, nil
}

// Retrieve returns the best matching chunks for query, highest score first.
// An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	vec, err := r.embedder.EmbedText(ctx, query, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	chunks, err := r.store.SearchChunks(vec, store.SearchOptions{
		ActiveOnly: true,
		TopK:       r.topK,
		MinScore:   r.minScore,
	})
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	return chunks, nil
}
