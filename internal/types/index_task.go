package types

import (
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"
)

const (
  IndexTaskStatusPending   = "pending"
  IndexTaskStatusRunning   = "running"
  IndexTaskStatusSucceeded = "succeeded"
  IndexTaskStatusFailed    = "failed"
)

// IndexTask is one pending unit of background index maintenance. The
// scheduler claims tasks in bounded batches; the retrieval path never reads
// or writes these rows.
type IndexTask struct {
  gorm.Model
  ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  DocumentID string     `gorm:"not null;index;column:document_id" json:"document_id"`
  IndexID    string     `gorm:"not null;index;column:index_id" json:"index_id"`
  Status     string     `gorm:"not null;default:pending;index;column:status" json:"status"`
  Error      string     `gorm:"column:error" json:"error,omitempty"`
  ClaimedAt  *time.Time `gorm:"column:claimed_at" json:"claimed_at,omitempty"`
  FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
  CreatedAt  time.Time  `gorm:"not null;default:now()" json:"created_at"`
  UpdatedAt  time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (IndexTask) TableName() string {
  return "index_task"
}
