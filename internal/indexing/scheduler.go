package indexing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mingainspire/prplx/internal/platform/logger"
	"github.com/mingainspire/prplx/internal/repos"
	"github.com/mingainspire/prplx/internal/types"
)

// TaskRunner performs the actual index maintenance for one document, e.g.
// rebuilding its knowledge-graph entries. It must be safe for concurrent
// calls on distinct tasks.
type TaskRunner interface {
	RunTask(ctx context.Context, task *types.IndexTask) error
}

// Report lists which claimed tasks succeeded and which failed in one
// scheduler invocation.
type Report struct {
	Succeed []uuid.UUID `json:"succeed"`
	Failed  []uuid.UUID `json:"failed"`
}

// Scheduler drains pending index tasks in bounded batches with bounded
// concurrency. It shares nothing with the retrieval path beyond the index
// the tasks maintain, so the two never block each other.
type Scheduler struct {
	log         *logger.Logger
	tasks       repos.IndexTaskRepo
	runner      TaskRunner
	concurrency int
}

func NewScheduler(baseLog *logger.Logger, taskRepo repos.IndexTaskRepo, runner TaskRunner, concurrency int) (*Scheduler, error) {
	if taskRepo == nil || runner == nil {
		return nil, fmt.Errorf("indexing: task repo and runner required")
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scheduler{
		log:         baseLog.With("service", "IndexScheduler"),
		tasks:       taskRepo,
		runner:      runner,
		concurrency: concurrency,
	}, nil
}

// CreateTasks enqueues one pending task per document for the given index and
// returns the new task ids.
func (s *Scheduler) CreateTasks(ctx context.Context, documentIDs []string, indexID string) ([]uuid.UUID, error) {
	if indexID == "" {
		indexID = "default"
	}
	tasks := make([]*types.IndexTask, 0, len(documentIDs))
	for _, docID := range documentIDs {
		if docID == "" {
			continue
		}
		tasks = append(tasks, &types.IndexTask{
			ID:         uuid.New(),
			DocumentID: docID,
			IndexID:    indexID,
			Status:     types.IndexTaskStatusPending,
		})
	}
	created, err := s.tasks.CreateBatch(ctx, nil, tasks)
	if err != nil {
		return nil, fmt.Errorf("indexing: create tasks: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(created))
	for _, t := range created {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// RunTasks claims at most maxCount pending tasks and runs them. A task
// failure marks that task failed and never aborts its siblings. Invocable
// repeatedly within a caller-imposed time budget.
func (s *Scheduler) RunTasks(ctx context.Context, maxCount int) (Report, error) {
	claimed, err := s.tasks.ClaimPending(ctx, nil, maxCount)
	if err != nil {
		return Report{}, fmt.Errorf("indexing: claim pending tasks: %w", err)
	}
	if len(claimed) == 0 {
		return Report{Succeed: []uuid.UUID{}, Failed: []uuid.UUID{}}, nil
	}

	var mu sync.Mutex
	report := Report{Succeed: []uuid.UUID{}, Failed: []uuid.UUID{}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, task := range claimed {
		g.Go(func() error {
			runErr := s.runner.RunTask(gctx, task)
			if err := s.tasks.MarkFinished(gctx, nil, task.ID, runErr); err != nil {
				s.log.Error("mark index task finished failed", "task_id", task.ID, "error", err)
			}
			mu.Lock()
			if runErr != nil {
				s.log.Warn("index task failed", "task_id", task.ID, "document_id", task.DocumentID, "error", runErr)
				report.Failed = append(report.Failed, task.ID)
			} else {
				report.Succeed = append(report.Succeed, task.ID)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	s.log.Info("index task batch finished",
		"claimed", len(claimed), "succeeded", len(report.Succeed), "failed", len(report.Failed))
	return report, nil
}
