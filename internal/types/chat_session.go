package types

import (
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"
)

// ChatSession is one conversation. EngineOptions is a value-frozen copy of
// the chat engine configuration taken at creation time; later engine edits
// must never change the behavior of in-flight or historical sessions.
type ChatSession struct {
  gorm.Model
  ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  URLKey        string         `gorm:"uniqueIndex;not null;column:url_key" json:"url_key"`
  Title         string         `gorm:"column:title" json:"title"`
  Engine        string         `gorm:"not null;column:engine" json:"engine"`
  EngineOptions datatypes.JSON `gorm:"type:jsonb;column:engine_options" json:"engine_options"`
  CreatedBy     string         `gorm:"column:created_by" json:"created_by"`
  CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
  UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (ChatSession) TableName() string {
  return "chat_session"
}
