package retrieval

import "github.com/google/uuid"

const (
	SourceVector = "vector"
	SourceGraph  = "graph"
)

// EvidenceChunk is one unit of indexed document text as returned by the
// evidence store (or the knowledge graph). Read-only downstream; identity is
// ChunkID, unique within an index.
type EvidenceChunk struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id,omitempty"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	URI        string         `json:"uri,omitempty"`
	Title      string         `json:"title,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Source     string         `json:"source"`
}

// RankedChunk is an EvidenceChunk after reranking. Rank is 1-based, injective
// over the result set, and matches non-increasing RelevanceScore order.
type RankedChunk struct {
	EvidenceChunk
	RelevanceScore float64 `json:"relevance_score"`
	Rank           int     `json:"rank"`
}

// Request is one retrieval invocation.
type Request struct {
	Text       string   `json:"text"`
	TopK       int      `json:"top_k"`
	SearchTopK int      `json:"search_top_k,omitempty"`
	Namespaces []string `json:"namespaces,omitempty"`
	Reranker   string   `json:"reranker,omitempty"`
	IndexName  string   `json:"index,omitempty"`
}

type Response struct {
	QueryID        uuid.UUID     `json:"query_id"`
	RelevantChunks []RankedChunk `json:"relevant_chunks"`
}

// Options come from the session's frozen engine configuration.
type Options struct {
	GraphEnabled     bool `json:"graph_enabled"`
	GraphDepth       int  `json:"graph_depth,omitempty"`
	GraphWithDegree  bool `json:"graph_with_degree,omitempty"`
	GraphIncludeMeta bool `json:"graph_include_meta,omitempty"`
}

// Stage names the pipeline step about to start; the orchestrator reports each
// stage exactly once, before running it, and never goes backward.
type Stage string

const (
	StageGraphRetrieval Stage = "kg_retrieving"
	StageSearch         Stage = "searching"
	StageRerank         Stage = "reranking"
)

// ProgressFunc receives stage notifications. May be nil.
type ProgressFunc func(stage Stage)
