package indexing

import (
	"context"
	"fmt"

	"github.com/mingainspire/prplx/internal/platform/graphapi"
	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/types"
)

// DocumentLoader fetches the indexable text of one document.
type DocumentLoader func(ctx context.Context, documentID string) (uri string, text string, err error)

// GraphBuildRunner submits documents to the knowledge-graph service's build
// endpoint. The graph service owns the heavy lifting; a "pending" status
// means the build was accepted and will finish asynchronously.
type GraphBuildRunner struct {
	log    *logger.Logger
	client *graphapi.Client
	load   DocumentLoader
}

func NewGraphBuildRunner(baseLog *logger.Logger, client *graphapi.Client, load DocumentLoader) (*GraphBuildRunner, error) {
	if client == nil || load == nil {
		return nil, fmt.Errorf("indexing: graph client and document loader required")
	}
	return &GraphBuildRunner{
		log:    baseLog.With("service", "GraphBuildRunner"),
		client: client,
		load:   load,
	}, nil
}

func (r *GraphBuildRunner) RunTask(ctx context.Context, task *types.IndexTask) error {
	uri, text, err := r.load(ctx, task.DocumentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", task.DocumentID, err)
	}
	if text == "" {
		return fmt.Errorf("document %s has no indexable text", task.DocumentID)
	}
	if _, err := r.client.BuildIndex(ctx, graphapi.DocumentInfo{URI: uri, Text: text}); err != nil {
		return err
	}
	return nil
}
