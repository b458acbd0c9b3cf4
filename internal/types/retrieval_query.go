package types

import (
  "time"

  "github.com/google/uuid"
  "gorm.io/datatypes"
  "gorm.io/gorm"
)

// RetrievalQuery is the audit row for one retrieval attempt. It is inserted
// when the attempt starts and updated exactly twice: once when vector search
// finishes and once when reranking finishes. Immutable after both are set.
type RetrievalQuery struct {
  gorm.Model
  ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  IndexName        string         `gorm:"not null;index;column:index_name" json:"index_name"`
  Text             string         `gorm:"column:text;type:text;not null" json:"text"`
  Embedding        datatypes.JSON `gorm:"type:jsonb;column:embedding" json:"embedding"`
  Reranker         string         `gorm:"column:reranker" json:"reranker"`
  RerankMetadata   datatypes.JSON `gorm:"type:jsonb;column:rerank_metadata" json:"rerank_metadata"`
  CreatedAt        time.Time      `gorm:"not null;default:now()" json:"created_at"`
  SearchFinishedAt *time.Time     `gorm:"column:search_finished_at" json:"search_finished_at,omitempty"`
  RerankFinishedAt *time.Time     `gorm:"column:rerank_finished_at" json:"rerank_finished_at,omitempty"`
}

func (RetrievalQuery) TableName() string {
  return "retrieval_query"
}

// RetrievalResult is one reranked chunk joined to its audit query.
type RetrievalResult struct {
  gorm.Model
  ID             uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
  QueryID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"query_id"`
  Query          *RetrievalQuery `gorm:"constraint:OnDelete:CASCADE;foreignKey:QueryID;references:ID" json:"query,omitempty"`
  ChunkID        string          `gorm:"not null;column:chunk_id" json:"chunk_id"`
  DocumentID     string          `gorm:"column:document_id" json:"document_id"`
  Score          float64         `gorm:"column:score" json:"score"`
  RelevanceScore float64         `gorm:"column:relevance_score" json:"relevance_score"`
  Rank           int             `gorm:"column:rank;not null" json:"rank"`
}

func (RetrievalResult) TableName() string {
  return "retrieval_result"
}
