// Package search turns a free-text query into a ranked set of notes
// via vector similarity.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/neron/internal/logging"
	"github.com/fyrsmithlabs/neron/internal/notes"
)

// ErrInvalidQuery indicates an empty query or non-positive top_k.
var ErrInvalidQuery = errors.New("invalid search query")

// DefaultTopK is used when the caller does not request a result count.
const DefaultTopK = 5

// Embedder turns query text into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher runs nearest-neighbor queries against stored notes.
type VectorSearcher interface {
	SearchByVector(ctx context.Context, vector []float32, limit int) ([]notes.SearchResult, error)
}

// Ranker embeds a query and ranks notes by distance.
type Ranker struct {
	embedder Embedder
	searcher VectorSearcher
	logger   *logging.Logger
}

// NewRanker wires the embedder to the vector store.
func NewRanker(embedder Embedder, searcher VectorSearcher, logger *logging.Logger) (*Ranker, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ranker{
		embedder: embedder,
		searcher: searcher,
		logger:   logger.Named("search"),
	}, nil
}

// Rank returns up to topK notes ordered by increasing distance.
// The store breaks distance ties by more recent timestamp first, so
// output is deterministic for a fixed corpus.
func (r *Ranker) Rank(ctx context.Context, text string, topK int) ([]notes.SearchResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text must not be empty", ErrInvalidQuery)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidQuery, topK)
	}

	vector, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := r.searcher.SearchByVector(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	r.logger.Debug(ctx, "query ranked",
		zap.Int("top_k", topK),
		zap.Int("results", len(results)),
	)
	return results, nil
}
