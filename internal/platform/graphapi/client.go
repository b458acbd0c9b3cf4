package graphapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mingainspire/prplx/internal/platform/ctxutil"
	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/retrieval"
)

const maxErrorBodyBytes = 1024

// Entity and Relationship mirror the knowledge-graph service's wire format.
// Entity/relationship ids are numeric and assigned by the graph service.
type Entity struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Meta        map[string]any `json:"meta,omitempty"`
	EntityType  string         `json:"entity_type,omitempty"`
}

type Relationship struct {
	ID             int64          `json:"id"`
	SourceEntityID int64          `json:"source_entity_id"`
	TargetEntityID int64          `json:"target_entity_id"`
	Description    string         `json:"description"`
	Meta           map[string]any `json:"meta,omitempty"`
}

type DocumentChunk struct {
	Link string `json:"link"`
	Text string `json:"text"`
}

type SearchResult struct {
	Entities      []Entity        `json:"entities"`
	Relationships []Relationship  `json:"relationships"`
	Chunks        []DocumentChunk `json:"chunks"`
}

type SearchOptions struct {
	Query       string    `json:"query"`
	Embedding   []float32 `json:"embedding,omitempty"`
	IncludeMeta bool      `json:"include_meta,omitempty"`
	Depth       int       `json:"depth,omitempty"`
	WithDegree  bool      `json:"with_degree,omitempty"`
}

type DocumentInfo struct {
	URI  string `json:"uri"`
	Text string `json:"text"`
}

type BuildResult struct {
	Status string `json:"status"`
}

type FeedbackOptions struct {
	FeedbackType  string  `json:"feedback_type"`
	Query         string  `json:"query"`
	TraceLink     string  `json:"trace_link,omitempty"`
	Relationships []int64 `json:"relationships"`
}

type Subgraph struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the knowledge-graph service over HTTP.
type Client struct {
	log     *logger.Logger
	baseURL string
	http    *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("graphapi: base url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		log:     log.With("service", "GraphAPIClient"),
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Search(ctx context.Context, opts SearchOptions) (SearchResult, error) {
	var result SearchResult
	if err := c.doJSON(ctx, "search", http.MethodPost, "/api/search", opts, &result); err != nil {
		return SearchResult{}, err
	}
	return result, nil
}

// GraphSearch adapts Search to the retrieval port, mapping wire chunks into
// evidence chunks tagged with the graph source.
func (c *Client) GraphSearch(ctx context.Context, query string, embedding []float32, opts retrieval.GraphSearchOptions) (retrieval.GraphResult, error) {
	result, err := c.Search(ctx, SearchOptions{
		Query:       query,
		Embedding:   embedding,
		IncludeMeta: opts.IncludeMeta,
		Depth:       opts.Depth,
		WithDegree:  opts.WithDegree,
	})
	if err != nil {
		return retrieval.GraphResult{}, err
	}

	out := retrieval.GraphResult{
		Entities:      make([]retrieval.GraphEntity, 0, len(result.Entities)),
		Relationships: make([]retrieval.GraphRelationship, 0, len(result.Relationships)),
		Chunks:        make([]retrieval.EvidenceChunk, 0, len(result.Chunks)),
	}
	for _, e := range result.Entities {
		out.Entities = append(out.Entities, retrieval.GraphEntity{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			Meta:        e.Meta,
			EntityType:  e.EntityType,
		})
	}
	for _, r := range result.Relationships {
		out.Relationships = append(out.Relationships, retrieval.GraphRelationship{
			ID:             r.ID,
			SourceEntityID: r.SourceEntityID,
			TargetEntityID: r.TargetEntityID,
			Description:    r.Description,
			Meta:           r.Meta,
		})
	}
	for _, chunk := range result.Chunks {
		out.Chunks = append(out.Chunks, retrieval.EvidenceChunk{
			ChunkID: chunk.Link,
			Text:    chunk.Text,
			URI:     chunk.Link,
			Source:  retrieval.SourceGraph,
		})
	}
	return out, nil
}

func (c *Client) BuildIndex(ctx context.Context, doc DocumentInfo) (BuildResult, error) {
	start := time.Now()
	var result BuildResult
	if err := c.doJSON(ctx, "build", http.MethodPost, "/api/build", doc, &result); err != nil {
		c.log.Error("knowledge graph build failed", "uri", doc.URI, "error", err)
		return BuildResult{}, err
	}
	if result.Status == "done" {
		c.log.Info("knowledge graph build finished", "uri", doc.URI, "seconds", time.Since(start).Seconds())
	} else {
		c.log.Info("knowledge graph build pending", "uri", doc.URI, "status", result.Status)
	}
	return result, nil
}

func (c *Client) Feedback(ctx context.Context, opts FeedbackOptions) error {
	return c.doJSON(ctx, "feedback", http.MethodPost, "/api/graph/feedback", opts, nil)
}

func (c *Client) GetEntity(ctx context.Context, id int64) (Entity, error) {
	var entity Entity
	err := c.doJSON(ctx, "get_entity", http.MethodGet, "/api/graph/entities/"+strconv.FormatInt(id, 10), nil, &entity)
	return entity, err
}

func (c *Client) UpdateEntity(ctx context.Context, id int64, data map[string]any) (Entity, error) {
	var entity Entity
	err := c.doJSON(ctx, "update_entity", http.MethodPut, "/api/graph/entities/"+strconv.FormatInt(id, 10), data, &entity)
	return entity, err
}

func (c *Client) GetRelationship(ctx context.Context, id int64) (Relationship, error) {
	var relationship Relationship
	err := c.doJSON(ctx, "get_relationship", http.MethodGet, "/api/graph/relationships/"+strconv.FormatInt(id, 10), nil, &relationship)
	return relationship, err
}

func (c *Client) UpdateRelationship(ctx context.Context, id int64, data map[string]any) (Relationship, error) {
	var relationship Relationship
	err := c.doJSON(ctx, "update_relationship", http.MethodPut, "/api/graph/relationships/"+strconv.FormatInt(id, 10), data, &relationship)
	return relationship, err
}

func (c *Client) GetEntitySubgraph(ctx context.Context, id int64) (Subgraph, error) {
	var subgraph Subgraph
	err := c.doJSON(ctx, "entity_subgraph", http.MethodGet, "/api/graph/entities/"+strconv.FormatInt(id, 10)+"/subgraph", nil, &subgraph)
	return subgraph, err
}

func (c *Client) GetChunkSubgraph(ctx context.Context, uri string) (Subgraph, error) {
	var subgraph Subgraph
	err := c.doJSON(ctx, "chunk_subgraph", http.MethodGet, "/api/graph/chunks/"+url.PathEscape(uri)+"/subgraph", nil, &subgraph)
	return subgraph, err
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("graphapi %s: encode request: %w", op, err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("graphapi %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyCallError(op, err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if readErr != nil {
		return fmt.Errorf("graphapi %s: read response: %w", op, readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("graphapi %s: http status=%d body=%q", op, resp.StatusCode, truncateBody(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("graphapi %s: decode response: %w", op, err)
	}
	return nil
}

func classifyCallError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("graphapi %s: request timed out: %w", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("graphapi %s: request timed out: %w", op, err)
	}
	return fmt.Errorf("graphapi %s: request failed: %w", op, err)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
