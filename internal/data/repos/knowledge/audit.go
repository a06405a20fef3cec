package knowledge

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// CorrectionRepo is append-only.
type CorrectionRepo interface {
	Create(dbc dbctx.Context, c *knowledge.Correction) (*knowledge.Correction, error)
	ListByFinding(dbc dbctx.Context, findingID uuid.UUID) ([]*knowledge.Correction, error)
}

type correctionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCorrectionRepo(db *gorm.DB, baseLog *logger.Logger) CorrectionRepo {
	return &correctionRepo{db: db, log: baseLog.With("repo", "CorrectionRepo")}
}

func (r *correctionRepo) Create(dbc dbctx.Context, c *knowledge.Correction) (*knowledge.Correction, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if err := dbc.Conn(r.db).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (r *correctionRepo) ListByFinding(dbc dbctx.Context, findingID uuid.UUID) ([]*knowledge.Correction, error) {
	var out []*knowledge.Correction
	if err := dbc.Conn(r.db).
		Where("finding_id = ?", findingID).
		Order("created_at ASC").Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ValidationEventRepo is append-only.
type ValidationEventRepo interface {
	Create(dbc dbctx.Context, ev *knowledge.ValidationEvent) (*knowledge.ValidationEvent, error)
	ListByFinding(dbc dbctx.Context, findingID uuid.UUID) ([]*knowledge.ValidationEvent, error)
	RecentForSource(dbc dbctx.Context, documentID uuid.UUID, pattern string, window int) ([]*knowledge.ValidationEvent, error)
	Sources(dbc dbctx.Context) ([]SourceKey, error)
}

// SourceKey is one (document, extraction pattern) reliability bucket.
type SourceKey struct {
	DocumentID        uuid.UUID
	ExtractionPattern string
}

type validationEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewValidationEventRepo(db *gorm.DB, baseLog *logger.Logger) ValidationEventRepo {
	return &validationEventRepo{db: db, log: baseLog.With("repo", "ValidationEventRepo")}
}

func (r *validationEventRepo) Create(dbc dbctx.Context, ev *knowledge.ValidationEvent) (*knowledge.ValidationEvent, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if err := dbc.Conn(r.db).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

func (r *validationEventRepo) ListByFinding(dbc dbctx.Context, findingID uuid.UUID) ([]*knowledge.ValidationEvent, error) {
	var out []*knowledge.ValidationEvent
	if err := dbc.Conn(r.db).
		Where("finding_id = ?", findingID).
		Order("created_at ASC").Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// RecentForSource returns the newest window events recorded against one
// (document, extraction pattern) source, newest first.
func (r *validationEventRepo) RecentForSource(dbc dbctx.Context, documentID uuid.UUID, pattern string, window int) ([]*knowledge.ValidationEvent, error) {
	var out []*knowledge.ValidationEvent
	q := dbc.Conn(r.db).
		Where("document_id = ? AND extraction_pattern = ?", documentID, pattern).
		Order("created_at DESC").Order("id DESC")
	if window > 0 {
		q = q.Limit(window)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Sources lists every (document, pattern) pair that has validation events.
func (r *validationEventRepo) Sources(dbc dbctx.Context) ([]SourceKey, error) {
	var out []SourceKey
	if err := dbc.Conn(r.db).
		Model(&knowledge.ValidationEvent{}).
		Distinct("document_id", "extraction_pattern").
		Order("document_id ASC").Order("extraction_pattern ASC").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
