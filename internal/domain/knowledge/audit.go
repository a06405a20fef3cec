package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// Correction is append-only; one row per change of Finding.Text.
type Correction struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FindingID    uuid.UUID `gorm:"type:uuid;not null;index" json:"finding_id"`
	OriginalText string    `gorm:"column:original_text;type:text;not null" json:"original_text"`
	NewText      string    `gorm:"column:new_text;type:text;not null" json:"new_text"`
	Actor        string    `gorm:"column:actor;type:text;not null" json:"actor"`
	Reason       string    `gorm:"column:reason;type:text" json:"reason,omitempty"`
	CreatedAt    time.Time `gorm:"not null;index" json:"created_at"`
}

func (Correction) TableName() string { return "correction" }

type ValidationAction string

const (
	ActionValidate ValidationAction = "validate"
	ActionReject   ValidationAction = "reject"
)

func (a ValidationAction) Valid() bool { return a == ActionValidate || a == ActionReject }

// ValidationEvent is append-only. DocumentID and ExtractionPattern are copied
// from the finding so reliability windows need no join.
type ValidationEvent struct {
	ID                uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	FindingID         uuid.UUID        `gorm:"type:uuid;not null;index" json:"finding_id"`
	DocumentID        uuid.UUID        `gorm:"type:uuid;not null;index:idx_validation_source,priority:1" json:"document_id"`
	ExtractionPattern string           `gorm:"column:extraction_pattern;type:text;index:idx_validation_source,priority:2" json:"extraction_pattern"`
	Action            ValidationAction `gorm:"column:action;type:text;not null" json:"action"`
	Actor             string           `gorm:"column:actor;type:text;not null" json:"actor"`
	CreatedAt         time.Time        `gorm:"not null;index" json:"created_at"`
}

func (ValidationEvent) TableName() string { return "validation_event" }

type ActorKind string

const (
	ActorResolver ActorKind = "resolver"
	ActorFeedback ActorKind = "feedback"
)

// FindingStateEvent is the append-only log behind Finding.Status and
// Finding.Confidence; the finding row is its materialized view.
type FindingStateEvent struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	FindingID      uuid.UUID     `gorm:"type:uuid;not null;index" json:"finding_id"`
	Version        int           `gorm:"column:version;not null" json:"version"`
	ActorKind      ActorKind     `gorm:"column:actor_kind;type:text;not null" json:"actor_kind"`
	Actor          string        `gorm:"column:actor;type:text" json:"actor,omitempty"`
	FromStatus     FindingStatus `gorm:"column:from_status;type:text" json:"from_status,omitempty"`
	ToStatus       FindingStatus `gorm:"column:to_status;type:text;not null" json:"to_status"`
	FromConfidence float64       `gorm:"column:from_confidence" json:"from_confidence"`
	ToConfidence   float64       `gorm:"column:to_confidence;not null" json:"to_confidence"`
	Reason         string        `gorm:"column:reason;type:text" json:"reason,omitempty"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
}

func (FindingStateEvent) TableName() string { return "finding_state_event" }
