package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mingainspire/prplx/internal/platform/logger"
)

func TestStreamSSEJoinsAndSkips(t *testing.T) {
	input := strings.Join([]string{
		": keep-alive comment",
		"event: message",
		"data: first line",
		"data: second line",
		"",
		"data: solo",
		"",
		"data: no trailing blank line",
	}, "\n") + "\n"

	type event struct {
		name string
		data string
	}
	var events []event
	err := streamSSE(strings.NewReader(input), func(name, data string) error {
		events = append(events, event{name, data})
		return nil
	})
	if err != nil {
		t.Fatalf("streamSSE failed: %v", err)
	}
	want := []event{
		{"message", "first line\nsecond line"},
		{"", "solo"},
		{"", "no trailing blank line"},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestStreamSSEStopsOnCallbackError(t *testing.T) {
	input := "data: one\n\ndata: two\n\n"
	calls := 0
	err := streamSSE(strings.NewReader(input), func(_, _ string) error {
		calls++
		return errors.New("stop")
	})
	if err == nil {
		t.Fatal("expected callback error to propagate")
	}
	if calls != 1 {
		t.Fatalf("callback called %d times, want 1", calls)
	}
}

func newStreamServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("auth header = %q", got)
		}
		var req chatStreamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Fatal("stream flag not set")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamTextConcatenatesDeltas(t *testing.T) {
	srv := newStreamServer(t, []string{"Hello", ", ", "world"})
	c, err := NewClient(logger.NewNop(), Config{BaseURL: srv.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	var deltas []string
	full, err := c.StreamText(context.Background(), "system prompt", "user prompt", func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("StreamText failed: %v", err)
	}
	if full != "Hello, world" {
		t.Fatalf("full text = %q", full)
	}
	if len(deltas) != 3 || deltas[0] != "Hello" {
		t.Fatalf("deltas = %v", deltas)
	}
}

func TestStreamTextSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(logger.NewNop(), Config{BaseURL: srv.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := c.StreamText(context.Background(), "", "q", nil); err == nil {
		t.Fatal("expected error for http 429")
	}
}

func TestEmbedMapsInputsToVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "text-embedding-3-small" || len(req.Input) != 2 {
			t.Fatalf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{1, 2}},
				{"embedding": []float32{3, 4}},
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient(logger.NewNop(), Config{BaseURL: srv.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	vectors, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vectors) != 2 || vectors[1][0] != 3 {
		t.Fatalf("vectors = %v", vectors)
	}
}

func TestEmbedRejectsCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1}}},
		})
	}))
	defer srv.Close()

	c, err := NewClient(logger.NewNop(), Config{BaseURL: srv.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := c.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for embedding count mismatch")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(logger.NewNop(), Config{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
