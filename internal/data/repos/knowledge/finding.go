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

// FindingFilter narrows Query. Zero values mean "no constraint"; superseded
// findings are left out unless IncludeSuperseded is set or they are asked
// for explicitly through Statuses.
type FindingFilter struct {
	DealID            uuid.UUID
	DocumentID        uuid.UUID
	Domain            string
	TopicKey          string
	Statuses          []knowledge.FindingStatus
	ConfidenceMin     float64
	IncludeSuperseded bool
	IDs               []uuid.UUID
	Limit             int
	Offset            int
}

// Actor identifies who drives a finding transition.
type Actor struct {
	Kind knowledge.ActorKind
	ID   string
}

// Mutation edits a copy of the current finding. Only Status, Confidence and
// Text are persisted; returning an error aborts the transition.
type Mutation func(f *knowledge.Finding) error

type FindingRepo interface {
	Create(dbc dbctx.Context, f *knowledge.Finding, actor Actor, reason string) (*knowledge.Finding, bool, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*knowledge.Finding, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*knowledge.Finding, error)
	GetByCandidateKey(dbc dbctx.Context, documentID uuid.UUID, key string) (*knowledge.Finding, error)
	Query(dbc dbctx.Context, filter FindingFilter) ([]*knowledge.Finding, error)
	Transition(dbc dbctx.Context, id uuid.UUID, actor Actor, reason string, mutate Mutation) (*knowledge.Finding, bool, error)
	History(dbc dbctx.Context, id uuid.UUID) ([]*knowledge.FindingStateEvent, error)
	MarkIndexed(dbc dbctx.Context, ids []uuid.UUID, at time.Time) error
	ListUnindexed(dbc dbctx.Context, documentID uuid.UUID) ([]*knowledge.Finding, error)
}

type findingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFindingRepo(db *gorm.DB, baseLog *logger.Logger) FindingRepo {
	return &findingRepo{db: db, log: baseLog.With("repo", "FindingRepo")}
}

const transitionAttempts = 3

// Create inserts f with its first state event. When a finding already exists
// for (document, candidate_key) the stored row is returned with created=false
// and nothing is written.
func (r *findingRepo) Create(dbc dbctx.Context, f *knowledge.Finding, actor Actor, reason string) (*knowledge.Finding, bool, error) {
	if f == nil || f.DocumentID == uuid.Nil || f.CandidateKey == "" {
		return nil, false, fmt.Errorf("create finding: document and candidate key required: %w", apperr.ErrInvalidArgument)
	}
	if !f.Status.Valid() {
		return nil, false, fmt.Errorf("create finding: status %q: %w", f.Status, apperr.ErrInvalidArgument)
	}
	var created bool
	err := dbc.Conn(r.db).Transaction(func(txx *gorm.DB) error {
		now := time.Now().UTC()
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		if f.DateExtracted.IsZero() {
			f.DateExtracted = now
		}
		f.Confidence = knowledge.ClampConfidence(f.Confidence)
		f.StateVersion = 1
		f.CreatedAt = now
		f.UpdatedAt = now

		res := txx.Clauses(clause.OnConflict{DoNothing: true}).Create(f)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var existing knowledge.Finding
			if err := txx.Where("document_id = ? AND candidate_key = ?", f.DocumentID, f.CandidateKey).
				First(&existing).Error; err != nil {
				return err
			}
			*f = existing
			return nil
		}
		created = true
		return txx.Create(&knowledge.FindingStateEvent{
			ID:           uuid.New(),
			FindingID:    f.ID,
			Version:      1,
			ActorKind:    actor.Kind,
			Actor:        actor.ID,
			ToStatus:     f.Status,
			ToConfidence: f.Confidence,
			Reason:       reason,
			CreatedAt:    now,
		}).Error
	})
	if err != nil {
		return nil, false, err
	}
	return f, created, nil
}

func (r *findingRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*knowledge.Finding, error) {
	var f knowledge.Finding
	if err := dbc.Conn(r.db).Where("id = ?", id).Limit(1).Find(&f).Error; err != nil {
		return nil, err
	}
	if f.ID == uuid.Nil {
		return nil, nil
	}
	return &f, nil
}

func (r *findingRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*knowledge.Finding, error) {
	var out []*knowledge.Finding
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.Conn(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *findingRepo) GetByCandidateKey(dbc dbctx.Context, documentID uuid.UUID, key string) (*knowledge.Finding, error) {
	var f knowledge.Finding
	if err := dbc.Conn(r.db).
		Where("document_id = ? AND candidate_key = ?", documentID, key).
		Limit(1).Find(&f).Error; err != nil {
		return nil, err
	}
	if f.ID == uuid.Nil {
		return nil, nil
	}
	return &f, nil
}

func (r *findingRepo) Query(dbc dbctx.Context, filter FindingFilter) ([]*knowledge.Finding, error) {
	q := dbc.Conn(r.db).Model(&knowledge.Finding{})
	if filter.DealID != uuid.Nil {
		q = q.Where("deal_id = ?", filter.DealID)
	}
	if filter.DocumentID != uuid.Nil {
		q = q.Where("document_id = ?", filter.DocumentID)
	}
	if filter.Domain != "" {
		q = q.Where("domain = ?", filter.Domain)
	}
	if filter.TopicKey != "" {
		q = q.Where("topic_key = ?", filter.TopicKey)
	}
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}
	if filter.ConfidenceMin > 0 {
		q = q.Where("confidence >= ?", filter.ConfidenceMin)
	}
	switch {
	case len(filter.Statuses) > 0:
		q = q.Where("status IN ?", filter.Statuses)
	case !filter.IncludeSuperseded:
		q = q.Where("status <> ?", knowledge.FindingSuperseded)
	}
	q = q.Order("confidence DESC").Order("date_extracted DESC").Order("id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var out []*knowledge.Finding
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Transition applies mutate to the current row and persists the result with an
// optimistic state_version check, appending one finding_state_event. A lost
// race re-reads and re-applies mutate a bounded number of times before
// returning ErrConflict. changed is false when mutate left the row as it was.
func (r *findingRepo) Transition(dbc dbctx.Context, id uuid.UUID, actor Actor, reason string, mutate Mutation) (*knowledge.Finding, bool, error) {
	for attempt := 0; attempt < transitionAttempts; attempt++ {
		var (
			out     *knowledge.Finding
			changed bool
			lost    bool
		)
		err := dbc.Conn(r.db).Transaction(func(txx *gorm.DB) error {
			var cur knowledge.Finding
			if err := txx.Where("id = ?", id).Limit(1).Find(&cur).Error; err != nil {
				return err
			}
			if cur.ID == uuid.Nil {
				return fmt.Errorf("finding %s: %w", id, apperr.ErrNotFound)
			}
			next := cur
			if err := mutate(&next); err != nil {
				return err
			}
			next.Confidence = knowledge.ClampConfidence(next.Confidence)
			if !next.Status.Valid() {
				return fmt.Errorf("finding %s: status %q: %w", id, next.Status, apperr.ErrInvalidArgument)
			}
			if next.Status == cur.Status && next.Confidence == cur.Confidence && next.Text == cur.Text {
				out = &cur
				return nil
			}
			now := time.Now().UTC()
			res := txx.Model(&knowledge.Finding{}).
				Where("id = ? AND state_version = ?", id, cur.StateVersion).
				Updates(map[string]interface{}{
					"status":        next.Status,
					"confidence":    next.Confidence,
					"text":          next.Text,
					"state_version": cur.StateVersion + 1,
					"updated_at":    now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				lost = true
				return nil
			}
			if err := txx.Create(&knowledge.FindingStateEvent{
				ID:             uuid.New(),
				FindingID:      id,
				Version:        cur.StateVersion + 1,
				ActorKind:      actor.Kind,
				Actor:          actor.ID,
				FromStatus:     cur.Status,
				ToStatus:       next.Status,
				FromConfidence: cur.Confidence,
				ToConfidence:   next.Confidence,
				Reason:         reason,
				CreatedAt:      now,
			}).Error; err != nil {
				return err
			}
			next.StateVersion = cur.StateVersion + 1
			next.UpdatedAt = now
			out = &next
			changed = true
			return nil
		})
		if err != nil {
			return nil, false, err
		}
		if !lost {
			return out, changed, nil
		}
		r.log.Debug("finding transition lost version race", "finding_id", id, "attempt", attempt+1)
	}
	return nil, false, fmt.Errorf("finding %s: %w", id, apperr.ErrConflict)
}

func (r *findingRepo) History(dbc dbctx.Context, id uuid.UUID) ([]*knowledge.FindingStateEvent, error) {
	var out []*knowledge.FindingStateEvent
	if err := dbc.Conn(r.db).
		Where("finding_id = ?", id).
		Order("version ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *findingRepo) MarkIndexed(dbc dbctx.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return dbc.Conn(r.db).
		Model(&knowledge.Finding{}).
		Where("id IN ?", ids).
		UpdateColumn("indexed_at", at.UTC()).Error
}

func (r *findingRepo) ListUnindexed(dbc dbctx.Context, documentID uuid.UUID) ([]*knowledge.Finding, error) {
	var out []*knowledge.Finding
	if err := dbc.Conn(r.db).
		Where("document_id = ? AND indexed_at IS NULL", documentID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
