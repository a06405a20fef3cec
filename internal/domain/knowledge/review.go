package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// FindingDependency is registered by downstream consumers (report sections,
// slides, answers) that rely on a finding.
type FindingDependency struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FindingID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_dependency,priority:1" json:"finding_id"`
	DependentKind string    `gorm:"column:dependent_kind;type:text;not null;uniqueIndex:idx_dependency,priority:2" json:"dependent_kind"`
	DependentID   string    `gorm:"column:dependent_id;type:text;not null;uniqueIndex:idx_dependency,priority:3" json:"dependent_id"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

func (FindingDependency) TableName() string { return "finding_dependency" }

type ReviewCause string

const (
	CauseCorrected  ReviewCause = "corrected"
	CauseSuperseded ReviewCause = "superseded"
)

const (
	TargetFinding   = "finding"
	TargetDependent = "dependent"
)

// ReviewMarker tells a human or a downstream module that something derived
// from a changed finding should be looked at again.
type ReviewMarker struct {
	ID            uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	FindingID     uuid.UUID   `gorm:"type:uuid;not null;index" json:"finding_id"`
	TargetKind    string      `gorm:"column:target_kind;type:text;not null" json:"target_kind"`
	TargetID      string      `gorm:"column:target_id;type:text;not null;index" json:"target_id"`
	DependentKind string      `gorm:"column:dependent_kind;type:text" json:"dependent_kind,omitempty"`
	Cause         ReviewCause `gorm:"column:cause;type:text;not null" json:"cause"`
	CreatedAt     time.Time   `gorm:"not null" json:"created_at"`
	ResolvedAt    *time.Time  `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
}

func (ReviewMarker) TableName() string { return "review_marker" }

// SourceFlag is the aggregate reliability signal for one (document, pattern).
type SourceFlag struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_source_flag,priority:1" json:"document_id"`
	ExtractionPattern string    `gorm:"column:extraction_pattern;type:text;not null;uniqueIndex:idx_source_flag,priority:2" json:"extraction_pattern"`
	SampleSize        int       `gorm:"column:sample_size;not null" json:"sample_size"`
	RejectionRate     float64   `gorm:"column:rejection_rate;not null" json:"rejection_rate"`
	Flagged           bool      `gorm:"column:flagged;not null;index" json:"flagged"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null" json:"updated_at"`
}

func (SourceFlag) TableName() string { return "source_flag" }
