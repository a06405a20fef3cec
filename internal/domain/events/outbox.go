package events

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	FindingCreated        = "finding.created"
	FindingSuperseded     = "finding.superseded"
	FindingCorrected      = "finding.corrected"
	FindingValidated      = "finding.validated"
	FindingRejected       = "finding.rejected"
	ContradictionDetected = "contradiction.detected"
	NeedsReview           = "needs_review"
	SourceFlagged         = "source.flagged"
	DocumentFailed        = "document.failed"
	DocumentAnalyzed      = "document.analyzed"
	DocumentStageDone     = "document.stage_completed"
	DocumentCanceled      = "document.canceled"
)

// OutboxEvent is written in the same transaction as the state change it
// describes and delivered at least once by the dispatcher.
type OutboxEvent struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EventType   string         `gorm:"column:event_type;type:text;not null;index" json:"event_type"`
	AggregateID uuid.UUID      `gorm:"type:uuid;not null;index" json:"aggregate_id"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	DeliveredAt *time.Time     `gorm:"column:delivered_at;index" json:"delivered_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
}

func (OutboxEvent) TableName() string { return "event_outbox" }

type FindingPayload struct {
	FindingID  uuid.UUID `json:"finding_id"`
	DealID     uuid.UUID `json:"deal_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Status     string    `json:"status"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason,omitempty"`
}

type RelationshipPayload struct {
	DealID   uuid.UUID `json:"deal_id"`
	From     uuid.UUID `json:"from_finding_id"`
	To       uuid.UUID `json:"to_finding_id"`
	Type     string    `json:"type"`
	Strength float64   `json:"strength"`
}

type ReviewPayload struct {
	OriginFindingID uuid.UUID `json:"origin_finding_id"`
	MarkerID        uuid.UUID `json:"marker_id"`
	TargetKind      string    `json:"target_kind"`
	TargetID        string    `json:"target_id"`
	DependentKind   string    `json:"dependent_kind,omitempty"`
	Cause           string    `json:"cause"`
}

type SourceFlagPayload struct {
	DocumentID        uuid.UUID `json:"document_id"`
	ExtractionPattern string    `json:"extraction_pattern"`
	RejectionRate     float64   `json:"rejection_rate"`
	SampleSize        int       `json:"sample_size"`
}

type DocumentPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
	DealID     uuid.UUID `json:"deal_id"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
}
