package neo4jgraph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/mingainspire/prplx/internal/retrieval"
)

const (
	defaultSeedEntities = 20
	maxTraversalDepth   = 3
)

// GraphSearch seeds entities from the fulltext index, expands relationships
// to the requested depth, and collects the chunks those entities are
// mentioned in. Satisfies retrieval.GraphSearcher.
func (c *Client) GraphSearch(ctx context.Context, query string, _ []float32, opts retrieval.GraphSearchOptions) (retrieval.GraphResult, error) {
	if c == nil || c.Driver == nil {
		return retrieval.GraphResult{}, fmt.Errorf("neo4jgraph: client not initialized")
	}
	depth := opts.Depth
	if depth <= 0 {
		depth = 1
	}
	if depth > maxTraversalDepth {
		depth = maxTraversalDepth
	}

	// Variable-length patterns cannot take a parameter, so depth is baked
	// into the query text after clamping above.
	cypher := fmt.Sprintf(`
CALL db.index.fulltext.queryNodes('entity_text', $query) YIELD node, score
WITH node, score ORDER BY score DESC LIMIT $seed_limit
OPTIONAL MATCH (node)-[:RELATES_TO*1..%d]-(neighbor:Entity)
WITH collect(DISTINCT node) + collect(DISTINCT neighbor) AS entities
UNWIND entities AS entity
WITH DISTINCT entity WHERE entity IS NOT NULL
OPTIONAL MATCH (entity)-[rel:RELATES_TO]-(:Entity)
OPTIONAL MATCH (entity)-[:MENTIONED_IN]->(chunk:Chunk)
RETURN
  collect(DISTINCT {
    id: id(entity),
    name: entity.name,
    description: entity.description,
    entity_type: entity.entity_type
  }) AS entities,
  collect(DISTINCT {
    id: id(rel),
    source: id(startNode(rel)),
    target: id(endNode(rel)),
    description: rel.description
  }) AS relationships,
  collect(DISTINCT {
    chunk_id: chunk.chunk_id,
    document_id: chunk.document_id,
    text: chunk.text,
    uri: chunk.uri,
    title: chunk.title
  }) AS chunks
`, depth)

	result, err := neo4j.ExecuteQuery(ctx, c.Driver, cypher,
		map[string]any{
			"query":      query,
			"seed_limit": defaultSeedEntities,
		},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.Database),
		neo4j.ExecuteQueryWithReadersRouting(),
	)
	if err != nil {
		return retrieval.GraphResult{}, fmt.Errorf("neo4jgraph: search: %w", err)
	}
	if len(result.Records) == 0 {
		return retrieval.GraphResult{}, nil
	}

	record := result.Records[0]
	out := retrieval.GraphResult{}

	if raw, ok := record.Get("entities"); ok {
		for _, item := range asMapSlice(raw) {
			entity := retrieval.GraphEntity{
				ID:          asInt64(item["id"]),
				Name:        asString(item["name"]),
				Description: asString(item["description"]),
				EntityType:  asString(item["entity_type"]),
			}
			if opts.IncludeMeta {
				entity.Meta = item
			}
			if entity.Name != "" {
				out.Entities = append(out.Entities, entity)
			}
		}
	}
	if raw, ok := record.Get("relationships"); ok {
		for _, item := range asMapSlice(raw) {
			rel := retrieval.GraphRelationship{
				ID:             asInt64(item["id"]),
				SourceEntityID: asInt64(item["source"]),
				TargetEntityID: asInt64(item["target"]),
				Description:    asString(item["description"]),
			}
			if rel.ID != 0 || rel.Description != "" {
				out.Relationships = append(out.Relationships, rel)
			}
		}
	}
	if raw, ok := record.Get("chunks"); ok {
		for _, item := range asMapSlice(raw) {
			chunk := retrieval.EvidenceChunk{
				ChunkID:    asString(item["chunk_id"]),
				DocumentID: asString(item["document_id"]),
				Text:       asString(item["text"]),
				URI:        asString(item["uri"]),
				Title:      asString(item["title"]),
				Source:     retrieval.SourceGraph,
			}
			if chunk.ChunkID != "" && chunk.Text != "" {
				out.Chunks = append(out.Chunks, chunk)
			}
		}
	}
	return out, nil
}

func asMapSlice(raw any) []map[string]any {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
