package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mingainspire/prplx/internal/platform/graphapi"
	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/platform/neo4jgraph"
	"github.com/mingainspire/prplx/internal/platform/openai"
	"github.com/mingainspire/prplx/internal/platform/qdrant"
	"github.com/mingainspire/prplx/internal/retrieval"
)

// Overridable in tests.
var (
	newOpenAIClient  = openai.NewClient
	newEvidenceStore = qdrant.NewEvidenceStore
	newGraphClient   = graphapi.NewClient
	newNeo4jClient   = neo4jgraph.NewClient
)

type Clients struct {
	OpenAI        openai.Client
	EvidenceStore retrieval.EvidenceStore
	GraphAPI      *graphapi.Client
	Neo4j         *neo4jgraph.Client
	Redis         *redis.Client
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("wiring clients")

	openaiClient, err := newOpenAIClient(log, openai.Config{
		BaseURL:    cfg.OpenAIBaseURL,
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.OpenAIModel,
		EmbedModel: cfg.OpenAIEmbedModel,
	})
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	store, err := newEvidenceStore(log, qdrant.Config{
		URL:             cfg.QdrantURL,
		Collection:      cfg.QdrantCollection,
		NamespacePrefix: cfg.QdrantNSPrefix,
		VectorDim:       cfg.QdrantVectorDim,
	})
	if err != nil {
		return Clients{}, fmt.Errorf("init evidence store: %w", err)
	}

	clients := Clients{OpenAI: openaiClient, EvidenceStore: store}

	if cfg.GraphAPIURL != "" {
		graph, err := newGraphClient(log, graphapi.Config{
			BaseURL: cfg.GraphAPIURL,
			Timeout: cfg.GraphAPITimeout,
		})
		if err != nil {
			return Clients{}, fmt.Errorf("init graph client: %w", err)
		}
		clients.GraphAPI = graph
	} else if cfg.Neo4jURI != "" {
		neo, err := newNeo4jClient(log, neo4jgraph.Config{
			URI:      cfg.Neo4jURI,
			User:     cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			return Clients{}, fmt.Errorf("init neo4j client: %w", err)
		}
		clients.Neo4j = neo
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis unreachable, engine options cache runs in-process only", "error", err)
			_ = rdb.Close()
		} else {
			clients.Redis = rdb
		}
	}

	return clients, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Neo4j != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Neo4j.Close(ctx)
	}
}
