package types

import (
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"
)

const (
  RoleUser      = "user"
  RoleAssistant = "assistant"
)

const (
  MessageStatusPending  = "pending"
  MessageStatusFinished = "finished"
  MessageStatusError    = "error"
)

// ChatMessage is one turn in a session. Assistant rows start pending and are
// filled by the stream; FinalizedAt guards finalize against double writes.
type ChatMessage struct {
  gorm.Model
  ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  SessionID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
  Session        *ChatSession   `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"session,omitempty"`
  Role           string         `gorm:"not null;column:role" json:"role"`
  Content        string         `gorm:"column:content;type:text" json:"content"`
  Status         string         `gorm:"not null;default:pending;column:status" json:"status"`
  ErrorMessage   string         `gorm:"column:error_message" json:"error_message,omitempty"`
  TraceReference string         `gorm:"column:trace_reference" json:"trace_reference,omitempty"`
  Annotations    datatypes.JSON `gorm:"type:jsonb;column:annotations" json:"annotations"`
  FinalizedAt    *time.Time     `gorm:"column:finalized_at" json:"finalized_at,omitempty"`
  CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
  UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (ChatMessage) TableName() string {
  return "chat_message"
}
