package knowledge

import (
	"time"

	"github.com/google/uuid"
)

type DocumentStatus string

const (
	DocumentUploaded  DocumentStatus = "uploaded"
	DocumentParsing   DocumentStatus = "parsing"
	DocumentParsed    DocumentStatus = "parsed"
	DocumentAnalyzing DocumentStatus = "analyzing"
	DocumentAnalyzed  DocumentStatus = "analyzed"
	DocumentFailed    DocumentStatus = "failed"
)

// Document is created by the upload collaborator and mutated only by the
// orchestrator. StorageRef is opaque to this module.
type Document struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	DealID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"deal_id"`
	StorageRef  string         `gorm:"column:storage_ref;type:text;not null" json:"storage_ref"`
	ContentType string         `gorm:"column:content_type;type:text" json:"content_type,omitempty"`
	SourceType  string         `gorm:"column:source_type;type:text;index" json:"source_type,omitempty"`
	Status      DocumentStatus `gorm:"column:status;type:text;not null;index" json:"status"`
	Version     int            `gorm:"column:version;not null;default:1" json:"version"`
	CanceledAt  *time.Time     `gorm:"column:canceled_at" json:"canceled_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (Document) TableName() string { return "document" }
