package app

import (
	"strings"
	"time"

	"github.com/mingainspire/prplx/internal/platform/envutil"
	"github.com/mingainspire/prplx/internal/platform/logger"
)

type Config struct {
	Mode           string
	HTTPAddr       string
	AllowedOrigins []string

	ChatTimeout      time.Duration
	EngineTopK       int
	EngineSearchTopK int
	EngineIndex      string
	EngineNamespaces []string
	SystemPrompt     string
	GraphEnabled     bool
	GraphDepth       int

	QdrantURL        string
	QdrantCollection string
	QdrantNSPrefix   string
	QdrantVectorDim  int

	GraphAPIURL     string
	GraphAPITimeout time.Duration

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	OpenAIBaseURL    string
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIEmbedModel string

	RerankBaseURL string
	RerankAPIKey  string
	RerankModel   string
	RerankID      string

	RedisAddr     string
	RedisPassword string
	OptionsTTL    time.Duration

	IndexConcurrency int
	DocumentDir      string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Mode:           envutil.GetEnv("APP_MODE", "development", log),
		HTTPAddr:       envutil.GetEnv("HTTP_ADDR", ":8080", log),
		AllowedOrigins: splitCSV(envutil.GetEnv("CORS_ORIGINS", "", log)),

		ChatTimeout:      envutil.GetEnvAsDuration("CHAT_TIMEOUT", 5*time.Minute, log),
		EngineTopK:       envutil.GetEnvAsInt("ENGINE_TOP_K", 5, log),
		EngineSearchTopK: envutil.GetEnvAsInt("ENGINE_SEARCH_TOP_K", 0, log),
		EngineIndex:      envutil.GetEnv("ENGINE_INDEX", "default", log),
		EngineNamespaces: splitCSV(envutil.GetEnv("ENGINE_NAMESPACES", "", log)),
		SystemPrompt:     envutil.GetEnv("ENGINE_SYSTEM_PROMPT", "", log),
		GraphEnabled:     envutil.GetEnvAsBool("ENGINE_GRAPH_ENABLED", false, log),
		GraphDepth:       envutil.GetEnvAsInt("ENGINE_GRAPH_DEPTH", 2, log),

		QdrantURL:        envutil.GetEnv("QDRANT_URL", "", log),
		QdrantCollection: envutil.GetEnv("QDRANT_COLLECTION", "prplx_chunks", log),
		QdrantNSPrefix:   envutil.GetEnv("QDRANT_NAMESPACE_PREFIX", "", log),
		QdrantVectorDim:  envutil.GetEnvAsInt("QDRANT_VECTOR_DIM", 1536, log),

		GraphAPIURL:     envutil.GetEnv("GRAPH_API_URL", "", log),
		GraphAPITimeout: envutil.GetEnvAsDuration("GRAPH_API_TIMEOUT", 30*time.Second, log),

		Neo4jURI:      envutil.GetEnv("NEO4J_URI", "", log),
		Neo4jUser:     envutil.GetEnv("NEO4J_USER", "neo4j", log),
		Neo4jPassword: envutil.GetEnv("NEO4J_PASSWORD", "", log),
		Neo4jDatabase: envutil.GetEnv("NEO4J_DATABASE", "", log),

		OpenAIBaseURL:    envutil.GetEnv("OPENAI_BASE_URL", "", log),
		OpenAIAPIKey:     envutil.GetEnv("OPENAI_API_KEY", "", log),
		OpenAIModel:      envutil.GetEnv("OPENAI_MODEL", "gpt-4o-mini", log),
		OpenAIEmbedModel: envutil.GetEnv("OPENAI_EMBED_MODEL", "text-embedding-3-small", log),

		RerankBaseURL: envutil.GetEnv("RERANK_BASE_URL", "", log),
		RerankAPIKey:  envutil.GetEnv("RERANK_API_KEY", "", log),
		RerankModel:   envutil.GetEnv("RERANK_MODEL", "", log),
		RerankID:      envutil.GetEnv("RERANK_IDENTIFIER", "http", log),

		RedisAddr:     envutil.GetEnv("REDIS_ADDR", "", log),
		RedisPassword: envutil.GetEnv("REDIS_PASSWORD", "", log),
		OptionsTTL:    envutil.GetEnvAsDuration("ENGINE_OPTIONS_TTL", 5*time.Minute, log),

		IndexConcurrency: envutil.GetEnvAsInt("INDEX_CONCURRENCY", 4, log),
		DocumentDir:      envutil.GetEnv("DOCUMENT_DIR", "", log),
	}
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
