package knowledge

import (
	"time"

	"github.com/google/uuid"
)

type FindingStatus string

const (
	FindingCandidateStatus FindingStatus = "candidate"
	FindingValidated       FindingStatus = "validated"
	FindingRejected        FindingStatus = "rejected"
	FindingContested       FindingStatus = "contested"
	FindingSuperseded      FindingStatus = "superseded"
	FindingNeedsReview     FindingStatus = "needs_review"
)

func (s FindingStatus) Valid() bool {
	switch s {
	case FindingCandidateStatus, FindingValidated, FindingRejected, FindingContested, FindingSuperseded, FindingNeedsReview:
		return true
	}
	return false
}

// Active findings take part in consistency resolution.
func (s FindingStatus) Active() bool {
	return s != FindingRejected && s != FindingSuperseded
}

type PeriodKind string

const (
	PeriodRange   PeriodKind = "range"
	PeriodInstant PeriodKind = "instant"
)

// Finding is one extracted factual claim. Text, Confidence and Status are
// only changed through FindingRepo.Transition / ApplyCorrection so every change
// is mirrored in the state event log; DateExtracted never changes.
type Finding struct {
	ID                uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	DealID            uuid.UUID     `gorm:"type:uuid;not null;index" json:"deal_id"`
	DocumentID        uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_finding_doc_key,priority:1" json:"document_id"`
	CandidateKey      string        `gorm:"column:candidate_key;type:text;not null;uniqueIndex:idx_finding_doc_key,priority:2" json:"-"`
	ChunkID           uuid.UUID     `gorm:"type:uuid;not null;index" json:"chunk_id"`
	SourceLocation    string        `gorm:"column:source_location;type:text;not null" json:"source_location"`
	Text              string        `gorm:"column:text;type:text;not null" json:"text"`
	Domain            string        `gorm:"column:domain;type:text;not null;index" json:"domain"`
	FactKey           string        `gorm:"column:fact_key;type:text;index" json:"fact_key"`
	TopicKey          string        `gorm:"column:topic_key;type:text;not null;index" json:"topic_key"`
	ValueText         string        `gorm:"column:value_text;type:text" json:"value_text,omitempty"`
	NumericValue      *float64      `gorm:"column:numeric_value" json:"numeric_value,omitempty"`
	Unit              string        `gorm:"column:unit;type:text" json:"unit,omitempty"`
	Confidence        float64       `gorm:"column:confidence;not null" json:"confidence"`
	DateReferenced    string        `gorm:"column:date_referenced;type:text" json:"date_referenced,omitempty"`
	PeriodStart       *time.Time    `gorm:"column:period_start" json:"period_start,omitempty"`
	PeriodEnd         *time.Time    `gorm:"column:period_end" json:"period_end,omitempty"`
	PeriodKind        PeriodKind    `gorm:"column:period_kind;type:text" json:"period_kind,omitempty"`
	DateExtracted     time.Time     `gorm:"column:date_extracted;not null;index;<-:create" json:"date_extracted"`
	SourceType        string        `gorm:"column:source_type;type:text" json:"source_type,omitempty"`
	ExtractionPattern string        `gorm:"column:extraction_pattern;type:text;index" json:"extraction_pattern,omitempty"`
	Status            FindingStatus `gorm:"column:status;type:text;not null;index" json:"status"`
	StateVersion      int           `gorm:"column:state_version;not null;default:0" json:"state_version"`
	IndexedAt         *time.Time    `gorm:"column:indexed_at" json:"indexed_at,omitempty"`
	CreatedAt         time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"not null" json:"updated_at"`
}

func (Finding) TableName() string { return "finding" }

// HasPeriod reports whether date_referenced resolved to a concrete period.
func (f *Finding) HasPeriod() bool {
	return f != nil && f.PeriodStart != nil && f.PeriodEnd != nil
}

// ClampConfidence keeps v inside [0,1].
func ClampConfidence(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
