package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// FindingCandidate is validated extraction output staged between the extract
// and resolve stages. FindingID is set once the resolver has committed it.
type FindingCandidate struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_candidate_doc_key,priority:1" json:"document_id"`
	CandidateKey      string     `gorm:"column:candidate_key;type:text;not null;uniqueIndex:idx_candidate_doc_key,priority:2" json:"candidate_key"`
	ChunkID           uuid.UUID  `gorm:"type:uuid;not null;index" json:"chunk_id"`
	Location          string     `gorm:"column:location;type:text;not null" json:"location"`
	Text              string     `gorm:"column:text;type:text;not null" json:"text"`
	Domain            string     `gorm:"column:domain;type:text;not null" json:"domain"`
	FactKey           string     `gorm:"column:fact_key;type:text" json:"fact_key,omitempty"`
	Value             string     `gorm:"column:value;type:text" json:"value,omitempty"`
	Confidence        float64    `gorm:"column:confidence;not null" json:"confidence"`
	DateReferenced    string     `gorm:"column:date_referenced;type:text" json:"date_referenced,omitempty"`
	ExtractionPattern string     `gorm:"column:extraction_pattern;type:text" json:"extraction_pattern,omitempty"`
	FindingID         *uuid.UUID `gorm:"type:uuid;index" json:"finding_id,omitempty"`
	CreatedAt         time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null" json:"updated_at"`
}

func (FindingCandidate) TableName() string { return "finding_candidate" }
