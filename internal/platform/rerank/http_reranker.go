package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mingainspire/prplx/internal/platform/ctxutil"
	"github.com/mingainspire/prplx/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

type Config struct {
	Identifier string
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
}

// httpReranker talks to a cohere/jina style rerank endpoint:
// POST {base}/v1/rerank {model, query, documents, top_n}.
type httpReranker struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

func NewHTTPReranker(log *logger.Logger, cfg Config) (Reranker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rerank: base url required")
	}
	if strings.TrimSpace(cfg.Identifier) == "" {
		cfg.Identifier = "rerank_api"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &httpReranker{
		log:  log.With("service", "HTTPReranker", "reranker", cfg.Identifier),
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}, nil
}

func (r *httpReranker) Identifier() string { return r.cfg.Identifier }

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	Meta map[string]any `json:"meta,omitempty"`
}

func (r *httpReranker) Rerank(ctx context.Context, query string, candidates []string, topK int) (Result, error) {
	if topK <= 0 {
		return Result{}, fmt.Errorf("rerank: topK must be positive, got %d", topK)
	}
	if len(candidates) == 0 {
		return Result{Items: []Item{}}, nil
	}

	reqBody := rerankRequest{
		Model:     r.cfg.Model,
		Query:     query,
		Documents: candidates,
		TopN:      topK,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return Result{}, fmt.Errorf("rerank: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, r.cfg.BaseURL+"/v1/rerank", &buf)
	if err != nil {
		return Result{}, fmt.Errorf("rerank: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return Result{}, classifyCallError(err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		return Result{}, fmt.Errorf("rerank: read response: %w", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("rerank: http status=%d body=%q", resp.StatusCode, truncateBody(raw))
	}

	var parsed rerankResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("rerank: decode response: %w", err)
	}

	items := make([]Item, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return Result{}, fmt.Errorf("rerank: provider returned out-of-range index %d for %d candidates", res.Index, len(candidates))
		}
		items = append(items, Item{Index: res.Index, RelevanceScore: res.RelevanceScore})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].RelevanceScore > items[j].RelevanceScore
	})
	if len(items) > topK {
		items = items[:topK]
	}

	metadata := map[string]any{"identifier": r.cfg.Identifier}
	if r.cfg.Model != "" {
		metadata["model"] = r.cfg.Model
	}
	for k, v := range parsed.Meta {
		metadata[k] = v
	}
	return Result{Items: items, Metadata: metadata}, nil
}

func classifyCallError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("rerank: request timed out: %w", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("rerank: request timed out: %w", err)
	}
	return fmt.Errorf("rerank: request failed: %w", err)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
