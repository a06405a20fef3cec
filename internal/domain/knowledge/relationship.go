package knowledge

import (
	"time"

	"github.com/google/uuid"
)

type RelationshipType string

const (
	RelContradicts RelationshipType = "CONTRADICTS"
	RelSupersedes  RelationshipType = "SUPERSEDES"
	RelSupports    RelationshipType = "SUPPORTS"
	RelPattern     RelationshipType = "PATTERN"
)

func (t RelationshipType) Valid() bool {
	switch t {
	case RelContradicts, RelSupersedes, RelSupports, RelPattern:
		return true
	}
	return false
}

// Relationship is a directed typed edge written only by the resolver.
type Relationship struct {
	ID            uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	FromFindingID uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_rel_edge,priority:1;index" json:"from_finding_id"`
	ToFindingID   uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_rel_edge,priority:2;index" json:"to_finding_id"`
	Type          RelationshipType `gorm:"column:type;type:text;not null;uniqueIndex:idx_rel_edge,priority:3" json:"type"`
	DetectedAt    time.Time        `gorm:"column:detected_at;not null" json:"detected_at"`
	Strength      float64          `gorm:"column:strength;not null" json:"strength"`
}

func (Relationship) TableName() string { return "finding_relationship" }
