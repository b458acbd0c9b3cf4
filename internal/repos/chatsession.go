package repos

import (
  "context"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/mingainspire/prplx/internal/platform/logger"
  "github.com/mingainspire/prplx/internal/types"
)

type ChatSessionRepo interface {
  Create(ctx context.Context, tx *gorm.DB, session *types.ChatSession) (*types.ChatSession, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChatSession, error)
  GetByURLKey(ctx context.Context, tx *gorm.DB, urlKey string) (*types.ChatSession, error)
  List(ctx context.Context, tx *gorm.DB, createdBy string, limit int) ([]*types.ChatSession, error)
}

type chatSessionRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewChatSessionRepo(db *gorm.DB, baseLog *logger.Logger) ChatSessionRepo {
  return &chatSessionRepo{db: db, log: baseLog.With("repo", "ChatSessionRepo")}
}

func (r *chatSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.ChatSession) (*types.ChatSession, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if err := transaction.WithContext(ctx).Create(session).Error; err != nil {
    return nil, err
  }
  return session, nil
}

func (r *chatSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChatSession, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var session types.ChatSession
  if err := transaction.WithContext(ctx).
    Where("id = ?", id).
    First(&session).Error; err != nil {
    return nil, err
  }
  return &session, nil
}

func (r *chatSessionRepo) GetByURLKey(ctx context.Context, tx *gorm.DB, urlKey string) (*types.ChatSession, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var session types.ChatSession
  if err := transaction.WithContext(ctx).
    Where("url_key = ?", urlKey).
    First(&session).Error; err != nil {
    return nil, err
  }
  return &session, nil
}

func (r *chatSessionRepo) List(ctx context.Context, tx *gorm.DB, createdBy string, limit int) ([]*types.ChatSession, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if limit <= 0 {
    limit = 50
  }
  q := transaction.WithContext(ctx).Order("created_at DESC").Limit(limit)
  if createdBy != "" {
    q = q.Where("created_by = ?", createdBy)
  }
  var sessions []*types.ChatSession
  if err := q.Find(&sessions).Error; err != nil {
    return nil, err
  }
  return sessions, nil
}
