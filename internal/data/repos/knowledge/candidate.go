package knowledge

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type CandidateRepo interface {
	Upsert(dbc dbctx.Context, candidates []*knowledge.FindingCandidate) error
	ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*knowledge.FindingCandidate, error)
	ListUnresolved(dbc dbctx.Context, documentID uuid.UUID) ([]*knowledge.FindingCandidate, error)
	SetFinding(dbc dbctx.Context, candidateID, findingID uuid.UUID) error
}

type candidateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCandidateRepo(db *gorm.DB, baseLog *logger.Logger) CandidateRepo {
	return &candidateRepo{db: db, log: baseLog.With("repo", "CandidateRepo")}
}

// Upsert stores candidates keyed by (document, candidate_key). A replayed
// extraction refreshes the candidate fields but keeps any finding link.
func (r *candidateRepo) Upsert(dbc dbctx.Context, candidates []*knowledge.FindingCandidate) error {
	if len(candidates) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, c := range candidates {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.CreatedAt = now
		c.UpdatedAt = now
	}
	return dbc.Conn(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "document_id"}, {Name: "candidate_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"chunk_id", "location", "text", "domain", "fact_key", "value",
			"confidence", "date_referenced", "extraction_pattern", "updated_at",
		}),
	}).CreateInBatches(candidates, 100).Error
}

func (r *candidateRepo) ListByDocument(dbc dbctx.Context, documentID uuid.UUID) ([]*knowledge.FindingCandidate, error) {
	var out []*knowledge.FindingCandidate
	if err := dbc.Conn(r.db).
		Where("document_id = ?", documentID).
		Order("created_at ASC, candidate_key ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *candidateRepo) ListUnresolved(dbc dbctx.Context, documentID uuid.UUID) ([]*knowledge.FindingCandidate, error) {
	var out []*knowledge.FindingCandidate
	if err := dbc.Conn(r.db).
		Where("document_id = ? AND finding_id IS NULL", documentID).
		Order("created_at ASC, candidate_key ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *candidateRepo) SetFinding(dbc dbctx.Context, candidateID, findingID uuid.UUID) error {
	return dbc.Conn(r.db).
		Model(&knowledge.FindingCandidate{}).
		Where("id = ?", candidateID).
		Updates(map[string]interface{}{"finding_id": findingID, "updated_at": time.Now().UTC()}).Error
}
