package retrieval

import "context"

// Embedder turns question text into a query vector.
type Embedder interface {
	Identifier() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EvidenceStore is the narrow client over vector similarity search.
// Implementations return chunks sorted by descending similarity, at most
// topK of them, and an empty slice (not an error) when nothing matches.
type EvidenceStore interface {
	Search(ctx context.Context, index string, embedding []float32, topK int, namespaces []string) ([]EvidenceChunk, error)
}

type GraphEntity struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Meta        map[string]any `json:"meta,omitempty"`
	EntityType  string         `json:"entity_type,omitempty"`
}

type GraphRelationship struct {
	ID             int64          `json:"id"`
	SourceEntityID int64          `json:"source_entity_id"`
	TargetEntityID int64          `json:"target_entity_id"`
	Description    string         `json:"description"`
	Meta           map[string]any `json:"meta,omitempty"`
}

type GraphResult struct {
	Entities      []GraphEntity       `json:"entities"`
	Relationships []GraphRelationship `json:"relationships"`
	Chunks        []EvidenceChunk     `json:"chunks"`
}

type GraphSearchOptions struct {
	IncludeMeta bool
	Depth       int
	WithDegree  bool
}

// GraphSearcher is the knowledge-graph augmented retrieval port.
type GraphSearcher interface {
	GraphSearch(ctx context.Context, query string, embedding []float32, opts GraphSearchOptions) (GraphResult, error)
}

// GenerationStream produces answer text deltas for a question given its
// evidence. Returns the full generated text.
type GenerationStream interface {
	StreamText(ctx context.Context, system string, user string, onDelta func(delta string)) (string, error)
}
