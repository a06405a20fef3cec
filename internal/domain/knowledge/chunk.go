package knowledge

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Chunk is written once per document by the parse stage and receives its
// embedding from the index stage. (document_id, order_index) is the natural
// key every re-run upserts on.
type Chunk struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_chunk_doc_order,priority:1" json:"document_id"`
	OrderIndex int            `gorm:"column:order_index;not null;uniqueIndex:idx_chunk_doc_order,priority:2" json:"order_index"`
	Text       string         `gorm:"column:text;type:text;not null" json:"text"`
	Location   string         `gorm:"column:location;type:text;not null" json:"location"`
	Page       *int           `gorm:"column:page" json:"page,omitempty"`
	Embedding  datatypes.JSON `gorm:"column:embedding;type:jsonb" json:"-"`
	VectorID   string         `gorm:"column:vector_id;type:text" json:"vector_id,omitempty"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
}

func (Chunk) TableName() string { return "chunk" }
