package repos

import (
  "context"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/mingainspire/prplx/internal/platform/logger"
  "github.com/mingainspire/prplx/internal/types"
)

type IndexTaskRepo interface {
  CreateBatch(ctx context.Context, tx *gorm.DB, tasks []*types.IndexTask) ([]*types.IndexTask, error)
  // ClaimPending flips at most max pending tasks to running and returns them.
  ClaimPending(ctx context.Context, tx *gorm.DB, max int) ([]*types.IndexTask, error)
  MarkFinished(ctx context.Context, tx *gorm.DB, id uuid.UUID, taskErr error) error
}

type indexTaskRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewIndexTaskRepo(db *gorm.DB, baseLog *logger.Logger) IndexTaskRepo {
  return &indexTaskRepo{db: db, log: baseLog.With("repo", "IndexTaskRepo")}
}

func (r *indexTaskRepo) CreateBatch(ctx context.Context, tx *gorm.DB, tasks []*types.IndexTask) ([]*types.IndexTask, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if len(tasks) == 0 {
    return []*types.IndexTask{}, nil
  }
  const batchSize = 100
  if err := transaction.WithContext(ctx).CreateInBatches(tasks, batchSize).Error; err != nil {
    return nil, err
  }
  return tasks, nil
}

func (r *indexTaskRepo) ClaimPending(ctx context.Context, tx *gorm.DB, max int) ([]*types.IndexTask, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if max <= 0 {
    return []*types.IndexTask{}, nil
  }
  var claimed []*types.IndexTask
  err := transaction.WithContext(ctx).Transaction(func(innerTx *gorm.DB) error {
    var pending []*types.IndexTask
    if err := innerTx.
      Where("status = ?", types.IndexTaskStatusPending).
      Order("created_at ASC").
      Limit(max).
      Find(&pending).Error; err != nil {
      return err
    }
    if len(pending) == 0 {
      return nil
    }
    ids := make([]uuid.UUID, 0, len(pending))
    for _, t := range pending {
      ids = append(ids, t.ID)
    }
    now := time.Now().UTC()
    if err := innerTx.Model(&types.IndexTask{}).
      Where("id IN ? AND status = ?", ids, types.IndexTaskStatusPending).
      Updates(map[string]any{
        "status":     types.IndexTaskStatusRunning,
        "claimed_at": now,
      }).Error; err != nil {
      return err
    }
    for _, t := range pending {
      t.Status = types.IndexTaskStatusRunning
      t.ClaimedAt = &now
    }
    claimed = pending
    return nil
  })
  if err != nil {
    return nil, err
  }
  return claimed, nil
}

func (r *indexTaskRepo) MarkFinished(ctx context.Context, tx *gorm.DB, id uuid.UUID, taskErr error) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  now := time.Now().UTC()
  updates := map[string]any{
    "status":      types.IndexTaskStatusSucceeded,
    "finished_at": now,
    "error":       "",
  }
  if taskErr != nil {
    updates["status"] = types.IndexTaskStatusFailed
    updates["error"] = taskErr.Error()
  }
  return transaction.WithContext(ctx).
    Model(&types.IndexTask{}).
    Where("id = ?", id).
    Updates(updates).Error
}
