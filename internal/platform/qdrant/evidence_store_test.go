package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mingainspire/prplx/internal/platform/logger"
)

func newTestServer(t *testing.T, search func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/readyz":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/collections/evidence":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "ok",
				"result": map[string]any{
					"config": map[string]any{
						"params": map[string]any{
							"vectors": map[string]any{"size": 3, "distance": "Cosine"},
						},
					},
				},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/collections/evidence/points/search":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode search body: %v", err)
			}
			search(w, body)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
}

func testConfig(url string) Config {
	return Config{URL: url, Collection: "evidence", VectorDim: 3}
}

func TestSearchDecodesAndSorts(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, body map[string]any) {
		if _, hasFilter := body["filter"]; hasFilter {
			t.Fatal("no namespaces given, filter must be absent")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"result": []map[string]any{
				{
					"id":    "p1",
					"score": 0.5,
					"payload": map[string]any{
						"chunk_id": "c-low", "document_id": "d1", "text": "low",
						"uri": "https://example.com/low", "lang": "en",
					},
				},
				{
					"id":    "p2",
					"score": 0.9,
					"payload": map[string]any{
						"chunk_id": "c-high", "document_id": "d2", "text": "high",
						"title": "High",
					},
				},
				{
					"id":      "p3",
					"score":   0.8,
					"payload": map[string]any{"text": "no chunk id, keyed by point"},
				},
			},
		})
	})
	defer srv.Close()

	store, err := NewEvidenceStore(logger.NewNop(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewEvidenceStore failed: %v", err)
	}

	chunks, err := store.Search(context.Background(), "default", []float32{1, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[0].ChunkID != "c-high" || chunks[0].Score != 0.9 {
		t.Fatalf("top chunk = %+v, want c-high at 0.9", chunks[0])
	}
	if chunks[1].ChunkID != "p3" {
		t.Fatalf("chunk without chunk_id payload should fall back to point id, got %q", chunks[1].ChunkID)
	}
	if chunks[2].Metadata["lang"] != "en" {
		t.Fatalf("leftover payload should land in metadata, got %+v", chunks[2].Metadata)
	}
	if chunks[2].Title != "" || chunks[0].Title != "High" {
		t.Fatal("title payload mapped incorrectly")
	}
	for _, c := range chunks {
		if c.Source != "vector" {
			t.Fatalf("chunk %s source = %q, want vector", c.ChunkID, c.Source)
		}
	}
}

func TestSearchNamespaceFilter(t *testing.T) {
	var captured map[string]any
	srv := newTestServer(t, func(w http.ResponseWriter, body map[string]any) {
		captured = body
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "result": []any{}})
	})
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.NamespacePrefix = "px"
	store, err := NewEvidenceStore(logger.NewNop(), cfg)
	if err != nil {
		t.Fatalf("NewEvidenceStore failed: %v", err)
	}

	if _, err := store.Search(context.Background(), "", []float32{0, 1, 0}, 5, []string{"docs", " ", "kb"}); err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	filter, ok := captured["filter"].(map[string]any)
	if !ok {
		t.Fatalf("filter missing from request: %+v", captured)
	}
	should, ok := filter["should"].([]any)
	if !ok || len(should) != 2 {
		t.Fatalf("should clause = %+v, want 2 conditions", filter["should"])
	}
	first := should[0].(map[string]any)
	match := first["match"].(map[string]any)
	if match["value"] != "px:docs" {
		t.Fatalf("namespace not prefix-qualified: %+v", match)
	}
}

func TestSearchRejectsDimensionMismatch(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ map[string]any) {
		t.Fatal("search must not reach the server on validation failure")
	})
	defer srv.Close()

	store, err := NewEvidenceStore(logger.NewNop(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewEvidenceStore failed: %v", err)
	}
	_, err = store.Search(context.Background(), "", []float32{1, 2}, 5, nil)
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
	var opError *OperationError
	if !errors.As(err, &opError) || opError.Code != OperationErrorValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSearchSurfacesEnvelopeError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, _ map[string]any) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": map[string]any{"error": "collection not found"},
		})
	})
	defer srv.Close()

	store, err := NewEvidenceStore(logger.NewNop(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewEvidenceStore failed: %v", err)
	}
	if _, err := store.Search(context.Background(), "", []float32{1, 0, 0}, 5, nil); err == nil {
		t.Fatal("expected envelope error")
	}
}

func TestBootstrapRejectsVectorSizeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"result": map[string]any{
				"config": map[string]any{
					"params": map[string]any{
						"vectors": map[string]any{"size": 1536, "distance": "Cosine"},
					},
				},
			},
		})
	}))
	defer srv.Close()

	if _, err := NewEvidenceStore(logger.NewNop(), testConfig(srv.URL)); err == nil {
		t.Fatal("expected vector size mismatch error")
	}
}
