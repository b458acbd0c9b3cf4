package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/platform/rerank"
	"github.com/mingainspire/prplx/internal/types"
)

type fakeQueryRepo struct {
	queries map[uuid.UUID]*types.RetrievalQuery
	results map[uuid.UUID][]*types.RetrievalResult
}

func newFakeQueryRepo() *fakeQueryRepo {
	return &fakeQueryRepo{
		queries: map[uuid.UUID]*types.RetrievalQuery{},
		results: map[uuid.UUID][]*types.RetrievalResult{},
	}
}

func (f *fakeQueryRepo) Create(_ context.Context, _ *gorm.DB, query *types.RetrievalQuery) (*types.RetrievalQuery, error) {
	f.queries[query.ID] = query
	return query, nil
}

func (f *fakeQueryRepo) MarkSearchFinished(_ context.Context, _ *gorm.DB, id uuid.UUID, at time.Time, embedding datatypes.JSON) error {
	q, ok := f.queries[id]
	if !ok {
		return fmt.Errorf("query %s not found", id)
	}
	q.SearchFinishedAt = &at
	q.Embedding = embedding
	return nil
}

func (f *fakeQueryRepo) MarkRerankFinished(_ context.Context, _ *gorm.DB, id uuid.UUID, at time.Time, reranker string, metadata datatypes.JSON, results []*types.RetrievalResult) error {
	q, ok := f.queries[id]
	if !ok {
		return fmt.Errorf("query %s not found", id)
	}
	q.RerankFinishedAt = &at
	q.Reranker = reranker
	q.RerankMetadata = metadata
	f.results[id] = results
	return nil
}

func (f *fakeQueryRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.RetrievalQuery, error) {
	q, ok := f.queries[id]
	if !ok {
		return nil, fmt.Errorf("query %s not found", id)
	}
	return q, nil
}

func (f *fakeQueryRepo) GetResults(_ context.Context, _ *gorm.DB, queryID uuid.UUID) ([]*types.RetrievalResult, error) {
	return f.results[queryID], nil
}

type fakeEmbedder struct {
	err error
}

func (fakeEmbedder) Identifier() string { return "fake" }

func (f fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeStore struct {
	chunks  []EvidenceChunk
	err     error
	gotTopK int
}

func (f *fakeStore) Search(_ context.Context, _ string, _ []float32, topK int, _ []string) ([]EvidenceChunk, error) {
	f.gotTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

type scriptedReranker struct {
	id    string
	items []rerank.Item
	err   error
}

func (r scriptedReranker) Identifier() string { return r.id }

func (r scriptedReranker) Rerank(_ context.Context, _ string, _ []string, _ int) (rerank.Result, error) {
	if r.err != nil {
		return rerank.Result{}, r.err
	}
	return rerank.Result{Items: r.items, Metadata: map[string]any{"identifier": r.id}}, nil
}

func makeCandidates(n int) []EvidenceChunk {
	out := make([]EvidenceChunk, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, EvidenceChunk{
			ChunkID:    fmt.Sprintf("chunk-%02d", i),
			DocumentID: fmt.Sprintf("doc-%02d", i/3),
			Text:       fmt.Sprintf("candidate %d", i),
			Score:      1.0 - float64(i)*0.01,
		})
	}
	return out
}

func newTestOrchestrator(t *testing.T, repo *fakeQueryRepo, store *fakeStore, reranker rerank.Reranker) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(logger.NewNop(), repo, store, Providers{
		DefaultEmbedder: "fake",
		Embedders:       map[string]Embedder{"fake": fakeEmbedder{}},
		DefaultReranker: reranker.Identifier(),
		Rerankers:       map[string]rerank.Reranker{reranker.Identifier(): reranker},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return o
}

func TestRetrieveEndToEnd(t *testing.T) {
	repo := newFakeQueryRepo()
	store := &fakeStore{chunks: makeCandidates(30)}
	reranker := scriptedReranker{
		id: "scripted",
		items: []rerank.Item{
			{Index: 4, RelevanceScore: 0.9},
			{Index: 0, RelevanceScore: 0.7},
			{Index: 17, RelevanceScore: 0.5},
		},
	}
	o := newTestOrchestrator(t, repo, store, reranker)

	var stages []Stage
	resp, err := o.Retrieve(context.Background(), Request{Text: "Hello", TopK: 3}, Options{}, func(stage Stage) {
		stages = append(stages, stage)
	})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	if len(resp.RelevantChunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(resp.RelevantChunks))
	}
	wantScores := []float64{0.9, 0.7, 0.5}
	for i, rc := range resp.RelevantChunks {
		if rc.Rank != i+1 {
			t.Fatalf("chunk %d rank = %d, want %d", i, rc.Rank, i+1)
		}
		if rc.RelevanceScore != wantScores[i] {
			t.Fatalf("chunk %d score = %v, want %v", i, rc.RelevanceScore, wantScores[i])
		}
	}
	if resp.RelevantChunks[0].ChunkID != "chunk-04" {
		t.Fatalf("top chunk = %s, want chunk-04", resp.RelevantChunks[0].ChunkID)
	}

	// Over-fetch: search sees 10x top_k.
	if store.gotTopK != 30 {
		t.Fatalf("search top_k = %d, want 30", store.gotTopK)
	}

	// Stages reported in order, graph skipped.
	if len(stages) != 2 || stages[0] != StageSearch || stages[1] != StageRerank {
		t.Fatalf("stages = %v", stages)
	}

	// Audit row: insert then two updates, in timestamp order.
	query, err := repo.GetByID(context.Background(), nil, resp.QueryID)
	if err != nil {
		t.Fatalf("audit row missing: %v", err)
	}
	if query.SearchFinishedAt == nil || query.RerankFinishedAt == nil {
		t.Fatal("audit timestamps not set")
	}
	if query.SearchFinishedAt.After(*query.RerankFinishedAt) {
		t.Fatal("search_finished_at > rerank_finished_at")
	}
	if len(query.Embedding) == 0 {
		t.Fatal("embedding not persisted with search update")
	}
	if query.Reranker != "scripted" {
		t.Fatalf("persisted reranker = %q", query.Reranker)
	}
	rows := repo.results[resp.QueryID]
	if len(rows) != 3 {
		t.Fatalf("got %d result rows, want 3", len(rows))
	}
	for i, row := range rows {
		if row.Rank != i+1 {
			t.Fatalf("row %d rank = %d", i, row.Rank)
		}
	}
}

func TestRetrieveRerankerFailureFallsBack(t *testing.T) {
	repo := newFakeQueryRepo()
	store := &fakeStore{chunks: makeCandidates(30)}
	o := newTestOrchestrator(t, repo, store, scriptedReranker{id: "broken", err: errors.New("reranker down")})

	resp, err := o.Retrieve(context.Background(), Request{Text: "Hello", TopK: 3}, Options{}, nil)
	if err != nil {
		t.Fatalf("Retrieve must absorb reranker failure, got %v", err)
	}
	if len(resp.RelevantChunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(resp.RelevantChunks))
	}
	for i, rc := range resp.RelevantChunks {
		if rc.ChunkID != fmt.Sprintf("chunk-%02d", i) {
			t.Fatalf("fallback must keep similarity order, chunk %d = %s", i, rc.ChunkID)
		}
		if rc.Rank != i+1 {
			t.Fatalf("chunk %d rank = %d", i, rc.Rank)
		}
	}
	query, _ := repo.GetByID(context.Background(), nil, resp.QueryID)
	if query.Reranker != "similarity_fallback" {
		t.Fatalf("persisted reranker = %q, want similarity_fallback", query.Reranker)
	}
}

func TestRetrieveEmbeddingFailureAborts(t *testing.T) {
	repo := newFakeQueryRepo()
	o, err := NewOrchestrator(logger.NewNop(), repo, &fakeStore{}, Providers{
		DefaultEmbedder: "fake",
		Embedders:       map[string]Embedder{"fake": fakeEmbedder{err: errors.New("model down")}},
		DefaultReranker: "similarity_order",
		Rerankers:       map[string]rerank.Reranker{"similarity_order": rerank.SimilarityOrder{}},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	_, err = o.Retrieve(context.Background(), Request{Text: "Hello", TopK: 3}, Options{}, nil)
	if KindOf(err) != KindEmbeddingFailed {
		t.Fatalf("kind = %s, want embedding_failed", KindOf(err))
	}
}

func TestRetrieveStoreFailureAborts(t *testing.T) {
	repo := newFakeQueryRepo()
	o := newTestOrchestrator(t, repo, &fakeStore{err: errors.New("connection refused")}, scriptedReranker{id: "scripted"})
	_, err := o.Retrieve(context.Background(), Request{Text: "Hello", TopK: 3}, Options{}, nil)
	if KindOf(err) != KindEvidenceStoreUnavailable {
		t.Fatalf("kind = %s, want evidence_store_unavailable", KindOf(err))
	}
}

func TestRetrieveRejectsNonPositiveTopK(t *testing.T) {
	o := newTestOrchestrator(t, newFakeQueryRepo(), &fakeStore{}, scriptedReranker{id: "scripted"})
	if _, err := o.Retrieve(context.Background(), Request{Text: "Hello"}, Options{}, nil); err == nil {
		t.Fatal("expected error for top_k=0")
	}
}

type fakeGraph struct {
	chunks []EvidenceChunk
}

func (f fakeGraph) GraphSearch(_ context.Context, _ string, _ []float32, _ GraphSearchOptions) (GraphResult, error) {
	return GraphResult{Chunks: f.chunks}, nil
}

func TestRetrieveMergesGraphChunks(t *testing.T) {
	repo := newFakeQueryRepo()
	store := &fakeStore{chunks: makeCandidates(3)}
	reranker := scriptedReranker{id: "scripted", items: []rerank.Item{
		{Index: 3, RelevanceScore: 0.8},
		{Index: 0, RelevanceScore: 0.6},
	}}
	o, err := NewOrchestrator(logger.NewNop(), repo, store, Providers{
		DefaultEmbedder: "fake",
		Embedders:       map[string]Embedder{"fake": fakeEmbedder{}},
		DefaultReranker: "scripted",
		Rerankers:       map[string]rerank.Reranker{"scripted": reranker},
		Graph: fakeGraph{chunks: []EvidenceChunk{
			{ChunkID: "chunk-00", Text: "duplicate of vector hit"},
			{ChunkID: "graph-01", Text: "graph only"},
		}},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}

	var stages []Stage
	resp, err := o.Retrieve(context.Background(), Request{Text: "Hello", TopK: 2}, Options{GraphEnabled: true}, func(s Stage) {
		stages = append(stages, s)
	})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(stages) != 3 || stages[0] != StageGraphRetrieval {
		t.Fatalf("stages = %v, want graph first", stages)
	}
	// Candidate list is vector hits then graph-only chunks: index 3 is the
	// graph-only chunk, the duplicate was dropped.
	if resp.RelevantChunks[0].ChunkID != "graph-01" {
		t.Fatalf("top chunk = %s, want graph-01", resp.RelevantChunks[0].ChunkID)
	}
	if resp.RelevantChunks[0].Source != SourceGraph {
		t.Fatalf("graph chunk source = %q", resp.RelevantChunks[0].Source)
	}
}
