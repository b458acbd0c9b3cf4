package retrieval

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/repos"
	"github.com/mingainspire/prplx/internal/types"
)

const tracerName = "prplx/retrieval"

// Orchestrator sequences embed, search, optional graph retrieval, rerank, and
// audit persistence for one question. One call owns one RetrievalQuery row;
// nothing is shared between concurrent calls.
type Orchestrator struct {
	log       *logger.Logger
	queries   repos.RetrievalQueryRepo
	store     EvidenceStore
	providers Providers
}

func NewOrchestrator(log *logger.Logger, queries repos.RetrievalQueryRepo, store EvidenceStore, providers Providers) (*Orchestrator, error) {
	if err := providers.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		log:       log.With("service", "RetrievalOrchestrator"),
		queries:   queries,
		store:     store,
		providers: providers,
	}, nil
}

// Retrieve runs the full pipeline. Each stage is reported through progress
// before it starts; the orchestrator never reports a stage out of order.
// A reranker failure degrades to similarity order; every other failure
// aborts with a typed pipeline error.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request, opts Options, progress ProgressFunc) (Response, error) {
	if req.TopK <= 0 {
		return Response{}, NewError(KindInternal, "top_k must be positive", nil)
	}
	searchTopK := req.SearchTopK
	if searchTopK <= 0 {
		// Over-fetch recall; reranking narrows back down to TopK.
		searchTopK = req.TopK * 10
	}
	indexName := req.IndexName
	if indexName == "" {
		indexName = "default"
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "retrieval.retrieve", trace.WithAttributes(
		attribute.String("retrieval.index", indexName),
		attribute.Int("retrieval.top_k", req.TopK),
		attribute.Int("retrieval.search_top_k", searchTopK),
	))
	defer span.End()

	query := &types.RetrievalQuery{
		ID:        uuid.New(),
		IndexName: indexName,
		Text:      req.Text,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := o.queries.Create(ctx, nil, query); err != nil {
		return Response{}, NewError(KindInternal, "create retrieval audit row", err)
	}

	embedding, err := o.embed(ctx, tracer, req.Text)
	if err != nil {
		return Response{}, err
	}

	var candidates []EvidenceChunk
	var graphChunks []EvidenceChunk
	if opts.GraphEnabled && o.providers.Graph != nil {
		notify(progress, StageGraphRetrieval)
		graphChunks, err = o.graphRetrieve(ctx, tracer, req.Text, embedding, opts)
		if err != nil {
			return Response{}, err
		}
	}

	notify(progress, StageSearch)
	candidates, err = o.search(ctx, tracer, indexName, embedding, searchTopK, req.Namespaces)
	if err != nil {
		return Response{}, err
	}
	candidates = mergeCandidates(candidates, graphChunks)

	searchDone := time.Now().UTC()
	if err := o.queries.MarkSearchFinished(ctx, nil, query.ID, searchDone, encodeEmbedding(embedding)); err != nil {
		return Response{}, NewError(KindInternal, "mark search finished", err)
	}

	notify(progress, StageRerank)
	ranked, rerankerID, metadata := o.rerank(ctx, tracer, req, candidates)

	rerankDone := time.Now().UTC()
	rows := make([]*types.RetrievalResult, 0, len(ranked))
	for _, rc := range ranked {
		rows = append(rows, &types.RetrievalResult{
			ID:             uuid.New(),
			QueryID:        query.ID,
			ChunkID:        rc.ChunkID,
			DocumentID:     rc.DocumentID,
			Score:          rc.Score,
			RelevanceScore: rc.RelevanceScore,
			Rank:           rc.Rank,
		})
	}
	if err := o.queries.MarkRerankFinished(ctx, nil, query.ID, rerankDone, rerankerID, encodeMetadata(metadata), rows); err != nil {
		return Response{}, NewError(KindInternal, "mark rerank finished", err)
	}

	span.SetAttributes(attribute.Int("retrieval.result_count", len(ranked)))
	return Response{QueryID: query.ID, RelevantChunks: ranked}, nil
}

func (o *Orchestrator) embed(ctx context.Context, tracer trace.Tracer, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "retrieval.embed")
	defer span.End()

	embedder, err := o.providers.Embedder("")
	if err != nil {
		return nil, NewError(KindEmbeddingFailed, "resolve embedder", err)
	}
	embedding, err := embedder.Embed(ctx, text)
	if err != nil {
		return nil, NewError(KindEmbeddingFailed, "embed question", err)
	}
	if len(embedding) == 0 {
		return nil, NewError(KindEmbeddingFailed, "embedder returned empty vector", nil)
	}
	return embedding, nil
}

func (o *Orchestrator) graphRetrieve(ctx context.Context, tracer trace.Tracer, text string, embedding []float32, opts Options) ([]EvidenceChunk, error) {
	ctx, span := tracer.Start(ctx, "retrieval.graph_search")
	defer span.End()

	result, err := o.providers.Graph.GraphSearch(ctx, text, embedding, GraphSearchOptions{
		IncludeMeta: opts.GraphIncludeMeta,
		Depth:       opts.GraphDepth,
		WithDegree:  opts.GraphWithDegree,
	})
	if err != nil {
		return nil, NewError(KindEvidenceStoreUnavailable, "knowledge graph search", err)
	}
	chunks := make([]EvidenceChunk, 0, len(result.Chunks))
	for _, c := range result.Chunks {
		c.Source = SourceGraph
		chunks = append(chunks, c)
	}
	span.SetAttributes(
		attribute.Int("graph.entities", len(result.Entities)),
		attribute.Int("graph.relationships", len(result.Relationships)),
		attribute.Int("graph.chunks", len(chunks)),
	)
	return chunks, nil
}

func (o *Orchestrator) search(ctx context.Context, tracer trace.Tracer, index string, embedding []float32, topK int, namespaces []string) ([]EvidenceChunk, error) {
	ctx, span := tracer.Start(ctx, "retrieval.search")
	defer span.End()

	chunks, err := o.store.Search(ctx, index, embedding, topK, namespaces)
	if err != nil {
		return nil, NewError(KindEvidenceStoreUnavailable, "vector search", err)
	}
	for i := range chunks {
		if chunks[i].Source == "" {
			chunks[i].Source = SourceVector
		}
	}
	span.SetAttributes(attribute.Int("search.hits", len(chunks)))
	return chunks, nil
}

// rerank never fails the pipeline: when the reranker errors, the original
// similarity ordering truncated to TopK is returned instead.
func (o *Orchestrator) rerank(ctx context.Context, tracer trace.Tracer, req Request, candidates []EvidenceChunk) ([]RankedChunk, string, map[string]any) {
	ctx, span := tracer.Start(ctx, "retrieval.rerank")
	defer span.End()

	reranker := o.providers.Reranker(req.Reranker, o.log)
	texts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		texts = append(texts, c.Text)
	}

	result, err := reranker.Rerank(ctx, req.Text, texts, req.TopK)
	if err != nil {
		o.log.Warn("reranker failed, falling back to similarity order",
			"reranker", reranker.Identifier(), "error", err)
		span.SetAttributes(attribute.Bool("rerank.fallback", true))
		return similarityFallback(candidates, req.TopK), "similarity_fallback", map[string]any{
			"identifier": "similarity_fallback",
			"fallback":   true,
			"error":      err.Error(),
		}
	}

	ranked := make([]RankedChunk, 0, len(result.Items))
	for _, item := range result.Items {
		if item.Index < 0 || item.Index >= len(candidates) {
			continue
		}
		ranked = append(ranked, RankedChunk{
			EvidenceChunk:  candidates[item.Index],
			RelevanceScore: item.RelevanceScore,
		})
	}
	// Providers already return sorted output; keep it stable and assign ranks.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RelevanceScore > ranked[j].RelevanceScore
	})
	if len(ranked) > req.TopK {
		ranked = ranked[:req.TopK]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked, reranker.Identifier(), result.Metadata
}

func similarityFallback(candidates []EvidenceChunk, topK int) []RankedChunk {
	n := len(candidates)
	if n > topK {
		n = topK
	}
	ranked := make([]RankedChunk, 0, n)
	for i := 0; i < n; i++ {
		ranked = append(ranked, RankedChunk{
			EvidenceChunk:  candidates[i],
			RelevanceScore: candidates[i].Score,
			Rank:           i + 1,
		})
	}
	return ranked
}

// mergeCandidates keeps vector hits first in similarity order and appends
// graph-only chunks, deduplicating by chunk id with the vector hit winning.
func mergeCandidates(vector []EvidenceChunk, graph []EvidenceChunk) []EvidenceChunk {
	if len(graph) == 0 {
		return vector
	}
	seen := make(map[string]struct{}, len(vector))
	for _, c := range vector {
		seen[c.ChunkID] = struct{}{}
	}
	out := vector
	for _, c := range graph {
		if c.ChunkID != "" {
			if _, dup := seen[c.ChunkID]; dup {
				continue
			}
			seen[c.ChunkID] = struct{}{}
		}
		out = append(out, c)
	}
	return out
}

func notify(progress ProgressFunc, stage Stage) {
	if progress != nil {
		progress(stage)
	}
}

func encodeEmbedding(embedding []float32) datatypes.JSON {
	raw, err := json.Marshal(embedding)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func encodeMetadata(metadata map[string]any) datatypes.JSON {
	if len(metadata) == 0 {
		return nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
