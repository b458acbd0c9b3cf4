package openai

import (
	"context"
	"fmt"
)

// QueryEmbedder adapts the batch embedding endpoint to the single-query
// embedder port used by retrieval.
type QueryEmbedder struct {
	client     Client
	identifier string
}

func NewQueryEmbedder(client Client, identifier string) *QueryEmbedder {
	if identifier == "" {
		identifier = "openai"
	}
	return &QueryEmbedder{client: client, identifier: identifier}
}

func (e *QueryEmbedder) Identifier() string {
	return e.identifier
}

func (e *QueryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.client.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("openai embed: expected 1 vector, got %d", len(vectors))
	}
	return vectors[0], nil
}
