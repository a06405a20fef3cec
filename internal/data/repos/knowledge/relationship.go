package knowledge

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type RelationshipRepo interface {
	Create(dbc dbctx.Context, rel *knowledge.Relationship) (*knowledge.Relationship, bool, error)
	ListForFinding(dbc dbctx.Context, findingID uuid.UUID, types ...knowledge.RelationshipType) ([]*knowledge.Relationship, error)
	ListForFindings(dbc dbctx.Context, ids []uuid.UUID) ([]*knowledge.Relationship, error)
	SupersedesReachable(dbc dbctx.Context, from, to uuid.UUID) (bool, error)
}

type relationshipRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRelationshipRepo(db *gorm.DB, baseLog *logger.Logger) RelationshipRepo {
	return &relationshipRepo{db: db, log: baseLog.With("repo", "RelationshipRepo")}
}

// Create writes one directed edge. Self-loops are refused, as is any
// SUPERSEDES edge that would close a cycle. Re-creating an existing
// (from, to, type) edge is a no-op that returns the stored edge.
func (r *relationshipRepo) Create(dbc dbctx.Context, rel *knowledge.Relationship) (*knowledge.Relationship, bool, error) {
	if rel == nil || !rel.Type.Valid() {
		return nil, false, fmt.Errorf("create relationship: invalid type: %w", apperr.ErrInvalidArgument)
	}
	if rel.FromFindingID == uuid.Nil || rel.ToFindingID == uuid.Nil {
		return nil, false, fmt.Errorf("create relationship: endpoints required: %w", apperr.ErrInvalidArgument)
	}
	if rel.FromFindingID == rel.ToFindingID {
		return nil, false, fmt.Errorf("create relationship: self-loop on %s: %w", rel.FromFindingID, apperr.ErrInvalidArgument)
	}
	t := dbc.Conn(r.db)
	if rel.Type == knowledge.RelSupersedes {
		cyclic, err := r.reachable(t, rel.ToFindingID, rel.FromFindingID)
		if err != nil {
			return nil, false, err
		}
		if cyclic {
			return nil, false, fmt.Errorf("create relationship: %s SUPERSEDES %s would form a cycle: %w",
				rel.FromFindingID, rel.ToFindingID, apperr.ErrConflict)
		}
	}
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	if rel.DetectedAt.IsZero() {
		rel.DetectedAt = time.Now().UTC()
	}
	rel.Strength = knowledge.ClampConfidence(rel.Strength)
	res := t.Clauses(clause.OnConflict{DoNothing: true}).Create(rel)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		var existing knowledge.Relationship
		if err := t.Where("from_finding_id = ? AND to_finding_id = ? AND type = ?",
			rel.FromFindingID, rel.ToFindingID, rel.Type).First(&existing).Error; err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}
	return rel, true, nil
}

func (r *relationshipRepo) ListForFinding(dbc dbctx.Context, findingID uuid.UUID, types ...knowledge.RelationshipType) ([]*knowledge.Relationship, error) {
	q := dbc.Conn(r.db).Where("from_finding_id = ? OR to_finding_id = ?", findingID, findingID)
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	var out []*knowledge.Relationship
	if err := q.Order("detected_at ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *relationshipRepo) ListForFindings(dbc dbctx.Context, ids []uuid.UUID) ([]*knowledge.Relationship, error) {
	var out []*knowledge.Relationship
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("from_finding_id IN ? OR to_finding_id IN ?", ids, ids).
		Order("detected_at ASC").Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// SupersedesReachable reports whether to can be reached from "from" by
// following SUPERSEDES edges.
func (r *relationshipRepo) SupersedesReachable(dbc dbctx.Context, from, to uuid.UUID) (bool, error) {
	return r.reachable(dbc.Conn(r.db), from, to)
}

// reachable walks SUPERSEDES edges breadth-first one frontier at a time.
func (r *relationshipRepo) reachable(t *gorm.DB, from, to uuid.UUID) (bool, error) {
	if from == to {
		return true, nil
	}
	seen := map[uuid.UUID]struct{}{from: {}}
	frontier := []uuid.UUID{from}
	for len(frontier) > 0 {
		var next []uuid.UUID
		if err := t.Model(&knowledge.Relationship{}).
			Where("type = ? AND from_finding_id IN ?", knowledge.RelSupersedes, frontier).
			Pluck("to_finding_id", &next).Error; err != nil {
			return false, err
		}
		frontier = frontier[:0]
		for _, id := range next {
			if id == to {
				return true, nil
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			frontier = append(frontier, id)
		}
	}
	return false, nil
}
