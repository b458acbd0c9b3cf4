package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/mingainspire/prplx/internal/http/handlers"
	httpMW "github.com/mingainspire/prplx/internal/http/middleware"
	"github.com/mingainspire/prplx/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Mode           string
	ServiceName    string
	AllowedOrigins []string

	ChatHandler      *httpH.ChatHandler
	RetrievalHandler *httpH.RetrievalHandler
	GraphHandler     *httpH.GraphHandler
	IndexHandler     *httpH.IndexHandler
	HealthHandler    *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "prplx"
	}
	r.Use(otelgin.Middleware(serviceName))

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Health)
	}

	api := r.Group("/api")
	{
		if cfg.ChatHandler != nil {
			api.POST("/chat", cfg.ChatHandler.Chat)
			api.GET("/chat/sessions/:key", cfg.ChatHandler.GetSession)
			api.GET("/chat/sessions/:key/messages", cfg.ChatHandler.ListMessages)
		}

		if cfg.RetrievalHandler != nil {
			api.POST("/retrieval/search", cfg.RetrievalHandler.Search)
		}

		if cfg.GraphHandler != nil {
			api.POST("/graph/search", cfg.GraphHandler.Search)
			api.POST("/graph/feedback", cfg.GraphHandler.Feedback)
			api.GET("/graph/entities/:id", cfg.GraphHandler.GetEntity)
			api.PUT("/graph/entities/:id", cfg.GraphHandler.UpdateEntity)
			api.GET("/graph/entities/:id/subgraph", cfg.GraphHandler.GetEntitySubgraph)
			api.GET("/graph/relationships/:id", cfg.GraphHandler.GetRelationship)
			api.PUT("/graph/relationships/:id", cfg.GraphHandler.UpdateRelationship)
		}

		if cfg.IndexHandler != nil {
			api.POST("/index/tasks", cfg.IndexHandler.CreateTasks)
			api.POST("/index/tasks/run", cfg.IndexHandler.RunTasks)
		}
	}

	return r
}
