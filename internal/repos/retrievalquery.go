package repos

import (
  "context"
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"

  "github.com/mingainspire/prplx/internal/platform/logger"
  "github.com/mingainspire/prplx/internal/types"
)

// RetrievalQueryRepo owns the retrieval audit trail. Each retrieval attempt
// writes its own query row (insert then two updates), so concurrent requests
// never contend on the same row.
type RetrievalQueryRepo interface {
  Create(ctx context.Context, tx *gorm.DB, query *types.RetrievalQuery) (*types.RetrievalQuery, error)
  // MarkSearchFinished records the search timestamp together with the query
  // embedding produced just before the search ran.
  MarkSearchFinished(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time, embedding datatypes.JSON) error
  // MarkRerankFinished sets the rerank timestamp and metadata and inserts the
  // reranked result rows in one transaction.
  MarkRerankFinished(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time, reranker string, metadata datatypes.JSON, results []*types.RetrievalResult) error
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RetrievalQuery, error)
  GetResults(ctx context.Context, tx *gorm.DB, queryID uuid.UUID) ([]*types.RetrievalResult, error)
}

type retrievalQueryRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewRetrievalQueryRepo(db *gorm.DB, baseLog *logger.Logger) RetrievalQueryRepo {
  return &retrievalQueryRepo{db: db, log: baseLog.With("repo", "RetrievalQueryRepo")}
}

func (r *retrievalQueryRepo) Create(ctx context.Context, tx *gorm.DB, query *types.RetrievalQuery) (*types.RetrievalQuery, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if err := transaction.WithContext(ctx).Create(query).Error; err != nil {
    return nil, err
  }
  return query, nil
}

func (r *retrievalQueryRepo) MarkSearchFinished(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time, embedding datatypes.JSON) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  updates := map[string]any{"search_finished_at": at}
  if len(embedding) > 0 {
    updates["embedding"] = embedding
  }
  return transaction.WithContext(ctx).
    Model(&types.RetrievalQuery{}).
    Where("id = ?", id).
    Updates(updates).Error
}

func (r *retrievalQueryRepo) MarkRerankFinished(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time, reranker string, metadata datatypes.JSON, results []*types.RetrievalResult) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  return transaction.WithContext(ctx).Transaction(func(innerTx *gorm.DB) error {
    if err := innerTx.Model(&types.RetrievalQuery{}).
      Where("id = ?", id).
      Updates(map[string]any{
        "rerank_finished_at": at,
        "reranker":           reranker,
        "rerank_metadata":    metadata,
      }).Error; err != nil {
      return err
    }
    if len(results) == 0 {
      return nil
    }
    return innerTx.Create(results).Error
  })
}

func (r *retrievalQueryRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.RetrievalQuery, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var query types.RetrievalQuery
  if err := transaction.WithContext(ctx).
    Where("id = ?", id).
    First(&query).Error; err != nil {
    return nil, err
  }
  return &query, nil
}

func (r *retrievalQueryRepo) GetResults(ctx context.Context, tx *gorm.DB, queryID uuid.UUID) ([]*types.RetrievalResult, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var results []*types.RetrievalResult
  if err := transaction.WithContext(ctx).
    Where("query_id = ?", queryID).
    Order("rank ASC").
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}
