package app

import (
	"gorm.io/gorm"

	httpH "github.com/mingainspire/prplx/internal/http/handlers"
	"github.com/mingainspire/prplx/internal/platform/logger"
)

type Handlers struct {
	Chat      *httpH.ChatHandler
	Retrieval *httpH.RetrievalHandler
	Graph     *httpH.GraphHandler
	Index     *httpH.IndexHandler
	Health    *httpH.HealthHandler
}

func wireHandlers(db *gorm.DB, log *logger.Logger, clients Clients, svc Services) Handlers {
	handlers := Handlers{
		Chat:      httpH.NewChatHandler(log, svc.Chat, svc.Stream),
		Retrieval: httpH.NewRetrievalHandler(log, svc.Orchestrator),
		Health:    httpH.NewHealthHandler(db),
	}
	if clients.GraphAPI != nil {
		handlers.Graph = httpH.NewGraphHandler(log, clients.GraphAPI)
	}
	if svc.Scheduler != nil {
		handlers.Index = httpH.NewIndexHandler(log, svc.Scheduler)
	}
	return handlers
}
