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

type DependencyRepo interface {
	Register(dbc dbctx.Context, findingID uuid.UUID, kind, dependentID string) (*knowledge.FindingDependency, error)
	ListByFinding(dbc dbctx.Context, findingID uuid.UUID) ([]*knowledge.FindingDependency, error)
}

type dependencyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDependencyRepo(db *gorm.DB, baseLog *logger.Logger) DependencyRepo {
	return &dependencyRepo{db: db, log: baseLog.With("repo", "DependencyRepo")}
}

// Register is idempotent on (finding, kind, dependent id).
func (r *dependencyRepo) Register(dbc dbctx.Context, findingID uuid.UUID, kind, dependentID string) (*knowledge.FindingDependency, error) {
	t := dbc.Conn(r.db)
	dep := &knowledge.FindingDependency{
		ID:            uuid.New(),
		FindingID:     findingID,
		DependentKind: kind,
		DependentID:   dependentID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := t.Clauses(clause.OnConflict{DoNothing: true}).Create(dep).Error; err != nil {
		return nil, err
	}
	var stored knowledge.FindingDependency
	if err := t.Where("finding_id = ? AND dependent_kind = ? AND dependent_id = ?", findingID, kind, dependentID).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *dependencyRepo) ListByFinding(dbc dbctx.Context, findingID uuid.UUID) ([]*knowledge.FindingDependency, error) {
	var out []*knowledge.FindingDependency
	if err := dbc.Conn(r.db).
		Where("finding_id = ?", findingID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type ReviewMarkerFilter struct {
	FindingID  uuid.UUID
	TargetKind string
	TargetID   string
	OnlyOpen   bool
	Limit      int
}

type ReviewMarkerRepo interface {
	Create(dbc dbctx.Context, m *knowledge.ReviewMarker) (*knowledge.ReviewMarker, bool, error)
	List(dbc dbctx.Context, filter ReviewMarkerFilter) ([]*knowledge.ReviewMarker, error)
	Resolve(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error)
}

type reviewMarkerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReviewMarkerRepo(db *gorm.DB, baseLog *logger.Logger) ReviewMarkerRepo {
	return &reviewMarkerRepo{db: db, log: baseLog.With("repo", "ReviewMarkerRepo")}
}

// Create skips the insert when an open marker already exists for the same
// target, origin finding and cause.
func (r *reviewMarkerRepo) Create(dbc dbctx.Context, m *knowledge.ReviewMarker) (*knowledge.ReviewMarker, bool, error) {
	t := dbc.Conn(r.db)
	var existing knowledge.ReviewMarker
	if err := t.Where("finding_id = ? AND target_kind = ? AND target_id = ? AND cause = ? AND resolved_at IS NULL",
		m.FindingID, m.TargetKind, m.TargetID, m.Cause).
		Limit(1).Find(&existing).Error; err != nil {
		return nil, false, err
	}
	if existing.ID != uuid.Nil {
		return &existing, false, nil
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := t.Create(m).Error; err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (r *reviewMarkerRepo) List(dbc dbctx.Context, filter ReviewMarkerFilter) ([]*knowledge.ReviewMarker, error) {
	q := dbc.Conn(r.db).Model(&knowledge.ReviewMarker{})
	if filter.FindingID != uuid.Nil {
		q = q.Where("finding_id = ?", filter.FindingID)
	}
	if filter.TargetKind != "" {
		q = q.Where("target_kind = ?", filter.TargetKind)
	}
	if filter.TargetID != "" {
		q = q.Where("target_id = ?", filter.TargetID)
	}
	if filter.OnlyOpen {
		q = q.Where("resolved_at IS NULL")
	}
	q = q.Order("created_at ASC").Order("id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var out []*knowledge.ReviewMarker
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *reviewMarkerRepo) Resolve(dbc dbctx.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := dbc.Conn(r.db).
		Model(&knowledge.ReviewMarker{}).
		Where("id = ? AND resolved_at IS NULL", id).
		UpdateColumn("resolved_at", at.UTC())
	return res.RowsAffected > 0, res.Error
}

type SourceFlagRepo interface {
	Upsert(dbc dbctx.Context, flag *knowledge.SourceFlag) (*knowledge.SourceFlag, error)
	Get(dbc dbctx.Context, documentID uuid.UUID, pattern string) (*knowledge.SourceFlag, error)
	ListFlagged(dbc dbctx.Context) ([]*knowledge.SourceFlag, error)
}

type sourceFlagRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSourceFlagRepo(db *gorm.DB, baseLog *logger.Logger) SourceFlagRepo {
	return &sourceFlagRepo{db: db, log: baseLog.With("repo", "SourceFlagRepo")}
}

func (r *sourceFlagRepo) Upsert(dbc dbctx.Context, flag *knowledge.SourceFlag) (*knowledge.SourceFlag, error) {
	t := dbc.Conn(r.db)
	now := time.Now().UTC()
	if flag.ID == uuid.Nil {
		flag.ID = uuid.New()
	}
	flag.CreatedAt = now
	flag.UpdatedAt = now
	if err := t.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "extraction_pattern"}},
		DoUpdates: clause.AssignmentColumns([]string{"sample_size", "rejection_rate", "flagged", "updated_at"}),
	}).Create(flag).Error; err != nil {
		return nil, err
	}
	return r.Get(dbc, flag.DocumentID, flag.ExtractionPattern)
}

func (r *sourceFlagRepo) Get(dbc dbctx.Context, documentID uuid.UUID, pattern string) (*knowledge.SourceFlag, error) {
	var f knowledge.SourceFlag
	if err := dbc.Conn(r.db).
		Where("document_id = ? AND extraction_pattern = ?", documentID, pattern).
		Limit(1).Find(&f).Error; err != nil {
		return nil, err
	}
	if f.ID == uuid.Nil {
		return nil, nil
	}
	return &f, nil
}

func (r *sourceFlagRepo) ListFlagged(dbc dbctx.Context) ([]*knowledge.SourceFlag, error) {
	var out []*knowledge.SourceFlag
	if err := dbc.Conn(r.db).
		Where("flagged = ?", true).
		Order("rejection_rate DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
