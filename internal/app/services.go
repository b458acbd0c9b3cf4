package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/mingainspire/prplx/internal/indexing"
	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/retrieval"
	"github.com/mingainspire/prplx/internal/services"
)

type Services struct {
	Options      *services.EngineOptionsCache
	Chat         services.ChatService
	Stream       services.StreamService
	Orchestrator *retrieval.Orchestrator
	Scheduler    *indexing.Scheduler
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, clients Clients, providers retrieval.Providers) (Services, error) {
	log.Info("wiring services")

	orchestrator, err := retrieval.NewOrchestrator(log, reposet.Queries, clients.EvidenceStore, providers)
	if err != nil {
		return Services{}, fmt.Errorf("init orchestrator: %w", err)
	}

	optionsCache, err := services.NewEngineOptionsCache(log, clients.Redis, engineOptionsLoader(cfg, providers), cfg.OptionsTTL)
	if err != nil {
		return Services{}, fmt.Errorf("init engine options cache: %w", err)
	}

	chat := services.NewChatService(db, log, reposet.Sessions, reposet.Messages, optionsCache)

	stream, err := services.NewStreamService(log, chat, orchestrator, clients.OpenAI, cfg.ChatTimeout)
	if err != nil {
		return Services{}, fmt.Errorf("init stream service: %w", err)
	}

	svc := Services{
		Options:      optionsCache,
		Chat:         chat,
		Stream:       stream,
		Orchestrator: orchestrator,
	}

	if clients.GraphAPI != nil {
		runner, err := indexing.NewGraphBuildRunner(log, clients.GraphAPI, documentDirLoader(cfg.DocumentDir))
		if err != nil {
			return Services{}, fmt.Errorf("init graph build runner: %w", err)
		}
		scheduler, err := indexing.NewScheduler(log, reposet.Tasks, runner, cfg.IndexConcurrency)
		if err != nil {
			return Services{}, fmt.Errorf("init index scheduler: %w", err)
		}
		svc.Scheduler = scheduler
	}

	return svc, nil
}

// engineOptionsLoader serves engine configuration from the environment. Every
// engine id resolves to the deployment's configured defaults; the snapshot a
// session freezes is what insulates it from later changes.
func engineOptionsLoader(cfg Config, providers retrieval.Providers) services.EngineOptionsLoader {
	return func(_ context.Context, engine string) (services.EngineOptions, error) {
		return services.EngineOptions{
			SystemPrompt: cfg.SystemPrompt,
			TopK:         cfg.EngineTopK,
			SearchTopK:   cfg.EngineSearchTopK,
			IndexName:    cfg.EngineIndex,
			Namespaces:   cfg.EngineNamespaces,
			Reranker:     providers.DefaultReranker,
			Graph: retrieval.Options{
				GraphEnabled: cfg.GraphEnabled && providers.Graph != nil,
				GraphDepth:   cfg.GraphDepth,
			},
		}, nil
	}
}

// documentDirLoader reads indexable documents from a local directory, one
// file per document id.
func documentDirLoader(dir string) indexing.DocumentLoader {
	return func(_ context.Context, documentID string) (string, string, error) {
		if dir == "" {
			return "", "", fmt.Errorf("DOCUMENT_DIR not configured")
		}
		path := filepath.Join(dir, filepath.Clean("/"+documentID))
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", "", err
		}
		return path, string(raw), nil
	}
}
