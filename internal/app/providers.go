package app

import (
	"fmt"

	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/platform/openai"
	"github.com/mingainspire/prplx/internal/platform/rerank"
	"github.com/mingainspire/prplx/internal/retrieval"
)

// resolveProviders builds the static capability table: every embedder,
// reranker, and graph backend this deployment can use, resolved once at
// startup. Engine configurations refer to these by identifier.
func resolveProviders(log *logger.Logger, cfg Config, clients Clients) (retrieval.Providers, error) {
	embedder := openai.NewQueryEmbedder(clients.OpenAI, "openai")

	rerankers := map[string]rerank.Reranker{
		"similarity_order": rerank.SimilarityOrder{},
	}
	defaultReranker := "similarity_order"
	if cfg.RerankBaseURL != "" {
		httpReranker, err := rerank.NewHTTPReranker(log, rerank.Config{
			Identifier: cfg.RerankID,
			BaseURL:    cfg.RerankBaseURL,
			APIKey:     cfg.RerankAPIKey,
			Model:      cfg.RerankModel,
		})
		if err != nil {
			return retrieval.Providers{}, fmt.Errorf("init reranker: %w", err)
		}
		rerankers[httpReranker.Identifier()] = httpReranker
		defaultReranker = httpReranker.Identifier()
	}

	var graph retrieval.GraphSearcher
	switch {
	case clients.GraphAPI != nil:
		graph = clients.GraphAPI
	case clients.Neo4j != nil:
		graph = clients.Neo4j
	}

	providers := retrieval.Providers{
		DefaultEmbedder: embedder.Identifier(),
		Embedders: map[string]retrieval.Embedder{
			embedder.Identifier(): embedder,
		},
		DefaultReranker: defaultReranker,
		Rerankers:       rerankers,
		Graph:           graph,
	}
	if err := providers.Validate(); err != nil {
		return retrieval.Providers{}, err
	}
	return providers, nil
}
