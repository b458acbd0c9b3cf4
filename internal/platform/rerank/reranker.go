package rerank

import (
	"context"
	"fmt"
)

// Item points back at one candidate by its original position in the slice
// handed to Rerank, so callers can re-attach full chunk data afterwards.
type Item struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type Result struct {
	Items    []Item         `json:"items"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Reranker reorders candidates by estimated relevance to the query.
// Implementations return at most topK items, sorted by non-increasing
// relevance score; ties keep provider order.
type Reranker interface {
	Identifier() string
	Rerank(ctx context.Context, query string, candidates []string, topK int) (Result, error)
}

// SimilarityOrder keeps the candidates in the order they were given, which
// for search output means similarity order. It is the degraded-mode and
// no-reranker-configured provider.
type SimilarityOrder struct{}

func (SimilarityOrder) Identifier() string { return "similarity_order" }

func (SimilarityOrder) Rerank(_ context.Context, _ string, candidates []string, topK int) (Result, error) {
	if topK <= 0 {
		return Result{}, fmt.Errorf("rerank: topK must be positive, got %d", topK)
	}
	n := len(candidates)
	if n > topK {
		n = topK
	}
	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, Item{
			Index:          i,
			RelevanceScore: 1.0 / float64(1+i),
		})
	}
	return Result{
		Items:    items,
		Metadata: map[string]any{"identifier": "similarity_order"},
	}, nil
}
