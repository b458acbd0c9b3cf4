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

type MessageFinal struct {
  Content        string
  Status         string
  ErrorMessage   string
  TraceReference string
  Annotations    datatypes.JSON
}

type ChatMessageRepo interface {
  Create(ctx context.Context, tx *gorm.DB, msg *types.ChatMessage) (*types.ChatMessage, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChatMessage, error)
  ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ChatMessage, error)
  // Finalize writes the terminal form of a pending assistant message. It is
  // idempotent: a row that already has finalized_at set is left untouched and
  // applied=false is returned.
  Finalize(ctx context.Context, tx *gorm.DB, id uuid.UUID, final MessageFinal) (applied bool, err error)
}

type chatMessageRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewChatMessageRepo(db *gorm.DB, baseLog *logger.Logger) ChatMessageRepo {
  return &chatMessageRepo{db: db, log: baseLog.With("repo", "ChatMessageRepo")}
}

func (r *chatMessageRepo) Create(ctx context.Context, tx *gorm.DB, msg *types.ChatMessage) (*types.ChatMessage, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if err := transaction.WithContext(ctx).Create(msg).Error; err != nil {
    return nil, err
  }
  return msg, nil
}

func (r *chatMessageRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ChatMessage, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  var msg types.ChatMessage
  if err := transaction.WithContext(ctx).
    Where("id = ?", id).
    First(&msg).Error; err != nil {
    return nil, err
  }
  return &msg, nil
}

func (r *chatMessageRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if limit <= 0 {
    limit = 50
  }
  var msgs []*types.ChatMessage
  if err := transaction.WithContext(ctx).
    Where("session_id = ?", sessionID).
    Order("created_at ASC").
    Limit(limit).
    Find(&msgs).Error; err != nil {
    return nil, err
  }
  return msgs, nil
}

func (r *chatMessageRepo) Finalize(ctx context.Context, tx *gorm.DB, id uuid.UUID, final MessageFinal) (bool, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  now := time.Now().UTC()
  res := transaction.WithContext(ctx).
    Model(&types.ChatMessage{}).
    Where("id = ? AND finalized_at IS NULL", id).
    Updates(map[string]any{
      "content":         final.Content,
      "status":          final.Status,
      "error_message":   final.ErrorMessage,
      "trace_reference": final.TraceReference,
      "annotations":     final.Annotations,
      "finalized_at":    now,
    })
  if res.Error != nil {
    return false, res.Error
  }
  if res.RowsAffected == 0 {
    r.log.Debug("finalize skipped; message already finalized", "message_id", id)
    return false, nil
  }
  return true, nil
}
