package retrieval

import (
	"fmt"

	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/platform/rerank"
)

// Providers is the capability table resolved once at startup: every embedder,
// reranker, and graph searcher the deployment can use, keyed by identifier.
// There is no runtime registration; unknown embedder identifiers fail hard,
// unknown reranker identifiers fall back to the default so a stale engine
// configuration cannot take retrieval down.
type Providers struct {
	DefaultEmbedder string
	Embedders       map[string]Embedder

	DefaultReranker string
	Rerankers       map[string]rerank.Reranker

	// Graph is nil when no knowledge-graph backend is configured; the
	// KG_RETRIEVING stage is skipped in that case regardless of options.
	Graph GraphSearcher
}

func (p Providers) Validate() error {
	if len(p.Embedders) == 0 {
		return fmt.Errorf("providers: at least one embedder required")
	}
	if _, ok := p.Embedders[p.DefaultEmbedder]; !ok {
		return fmt.Errorf("providers: default embedder %q not registered", p.DefaultEmbedder)
	}
	if len(p.Rerankers) == 0 {
		return fmt.Errorf("providers: at least one reranker required")
	}
	if _, ok := p.Rerankers[p.DefaultReranker]; !ok {
		return fmt.Errorf("providers: default reranker %q not registered", p.DefaultReranker)
	}
	return nil
}

func (p Providers) Embedder(identifier string) (Embedder, error) {
	if identifier == "" {
		identifier = p.DefaultEmbedder
	}
	e, ok := p.Embedders[identifier]
	if !ok {
		return nil, fmt.Errorf("providers: unknown embedder %q", identifier)
	}
	return e, nil
}

// Reranker resolves identifier, falling back to the default with a warning
// when the identifier is unknown.
func (p Providers) Reranker(identifier string, log *logger.Logger) rerank.Reranker {
	if identifier == "" {
		return p.Rerankers[p.DefaultReranker]
	}
	r, ok := p.Rerankers[identifier]
	if !ok {
		if log != nil {
			log.Warn("unknown reranker identifier, using default", "reranker", identifier, "default", p.DefaultReranker)
		}
		return p.Rerankers[p.DefaultReranker]
	}
	return r
}
