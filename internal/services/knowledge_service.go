package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hoferino/manda-platform-sub003/internal/data/graph"
	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/feedback"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/index"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
	"github.com/hoferino/manda-platform-sub003/internal/platform/vectorstore"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 500
)

// FindingQuery selects findings of one deal. Superseded findings are left
// out unless IncludeSuperseded is set or Statuses names them.
type FindingQuery struct {
	DealID            uuid.UUID
	DocumentID        uuid.UUID
	Domain            string
	ConfidenceMin     float64
	Statuses          []knowledge.FindingStatus
	IncludeSuperseded bool
	// Query switches to semantic ranking by similarity to this text.
	Query  string
	Limit  int
	Offset int
}

type FindingHit struct {
	Finding *knowledge.Finding `json:"finding"`
	Score   float64            `json:"score,omitempty"`
}

type FindingDetail struct {
	Finding     *knowledge.Finding             `json:"finding"`
	History     []*knowledge.FindingStateEvent `json:"history"`
	Corrections []*knowledge.Correction        `json:"corrections"`
	Validations []*knowledge.ValidationEvent   `json:"validations"`
}

type KnowledgeService interface {
	QueryFindings(ctx context.Context, q FindingQuery) ([]*FindingHit, error)
	GetFinding(ctx context.Context, id uuid.UUID) (*FindingDetail, error)
	GetRelationships(ctx context.Context, id uuid.UUID, types ...knowledge.RelationshipType) ([]*knowledge.Relationship, error)
	ListCorrections(ctx context.Context, id uuid.UUID) ([]*knowledge.Correction, error)
	SubmitValidation(ctx context.Context, id uuid.UUID, action knowledge.ValidationAction, actor string) (*feedback.ValidationResult, error)
	SubmitCorrection(ctx context.Context, id uuid.UUID, text, actor, reason string) (*feedback.CorrectionResult, error)
	RegisterDependency(ctx context.Context, id uuid.UUID, kind, dependentID string) (*knowledge.FindingDependency, error)
	ListReviewMarkers(ctx context.Context, filter knowledgerepo.ReviewMarkerFilter) ([]*knowledge.ReviewMarker, error)
	ResolveReviewMarker(ctx context.Context, id uuid.UUID) error
	ListSourceFlags(ctx context.Context) ([]*knowledge.SourceFlag, error)
}

type knowledgeService struct {
	log         *logger.Logger
	index       *index.Indexer
	feedback    *feedback.Engine
	graph       *graph.FindingGraph
	findings    knowledgerepo.FindingRepo
	rels        knowledgerepo.RelationshipRepo
	corrections knowledgerepo.CorrectionRepo
	validations knowledgerepo.ValidationEventRepo
	flags       knowledgerepo.SourceFlagRepo
}

func NewKnowledgeService(
	baseLog *logger.Logger,
	ix *index.Indexer,
	fb *feedback.Engine,
	g *graph.FindingGraph,
	findings knowledgerepo.FindingRepo,
	rels knowledgerepo.RelationshipRepo,
	corrections knowledgerepo.CorrectionRepo,
	validations knowledgerepo.ValidationEventRepo,
	flags knowledgerepo.SourceFlagRepo,
) KnowledgeService {
	return &knowledgeService{
		log:         baseLog.With("service", "KnowledgeService"),
		index:       ix,
		feedback:    fb,
		graph:       g,
		findings:    findings,
		rels:        rels,
		corrections: corrections,
		validations: validations,
		flags:       flags,
	}
}

func (s *knowledgeService) QueryFindings(ctx context.Context, q FindingQuery) ([]*FindingHit, error) {
	if q.DealID == uuid.Nil {
		return nil, fmt.Errorf("deal_id required: %w", apperr.ErrInvalidArgument)
	}
	if q.ConfidenceMin < 0 || q.ConfidenceMin > 1 {
		return nil, fmt.Errorf("confidence_min must be in [0,1]: %w", apperr.ErrInvalidArgument)
	}
	for _, st := range q.Statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("unknown status %q: %w", st, apperr.ErrInvalidArgument)
		}
	}
	if q.Limit <= 0 {
		q.Limit = defaultQueryLimit
	}
	if q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	if strings.TrimSpace(q.Query) != "" {
		return s.semantic(ctx, q)
	}
	rows, err := s.findings.Query(dbctx.New(ctx), s.filter(q))
	if err != nil {
		return nil, err
	}
	out := make([]*FindingHit, len(rows))
	for i, f := range rows {
		out[i] = &FindingHit{Finding: f}
	}
	return out, nil
}

func (s *knowledgeService) filter(q FindingQuery) knowledgerepo.FindingFilter {
	return knowledgerepo.FindingFilter{
		DealID:            q.DealID,
		DocumentID:        q.DocumentID,
		Domain:            strings.ToLower(strings.TrimSpace(q.Domain)),
		Statuses:          q.Statuses,
		ConfidenceMin:     q.ConfidenceMin,
		IncludeSuperseded: q.IncludeSuperseded,
		Limit:             q.Limit,
		Offset:            q.Offset,
	}
}

// semantic over-fetches from the vector index and then applies the
// relational filters, keeping the similarity order.
func (s *knowledgeService) semantic(ctx context.Context, q FindingQuery) ([]*FindingHit, error) {
	vecs, err := s.index.Embed(ctx, []string{q.Query})
	if err != nil {
		return nil, err
	}
	topK := (q.Offset + q.Limit) * 4
	matches, err := s.index.Similar(ctx, vecs[0], index.Filter{
		DealID: q.DealID.String(),
		Domain: strings.ToLower(strings.TrimSpace(q.Domain)),
		Kind:   vectorstore.KindFinding,
	}, topK)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []*FindingHit{}, nil
	}
	scores := make(map[uuid.UUID]float64, len(matches))
	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		kind, id, ok := index.ParseVectorID(m.ID)
		if !ok || kind != vectorstore.KindFinding {
			continue
		}
		scores[id] = m.Score
		ids = append(ids, id)
	}
	f := s.filter(q)
	f.IDs = ids
	f.Limit, f.Offset = 0, 0
	rows, err := s.findings.Query(dbctx.New(ctx), f)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*knowledge.Finding, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]*FindingHit, 0, q.Limit)
	skipped := 0
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, &FindingHit{Finding: row, Score: scores[id]})
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *knowledgeService) GetFinding(ctx context.Context, id uuid.UUID) (*FindingDetail, error) {
	dbc := dbctx.New(ctx)
	f, err := s.findings.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("finding %s: %w", id, apperr.ErrNotFound)
	}
	history, err := s.findings.History(dbc, id)
	if err != nil {
		return nil, err
	}
	corrections, err := s.corrections.ListByFinding(dbc, id)
	if err != nil {
		return nil, err
	}
	validations, err := s.validations.ListByFinding(dbc, id)
	if err != nil {
		return nil, err
	}
	return &FindingDetail{Finding: f, History: history, Corrections: corrections, Validations: validations}, nil
}

func (s *knowledgeService) GetRelationships(ctx context.Context, id uuid.UUID, types ...knowledge.RelationshipType) ([]*knowledge.Relationship, error) {
	for _, t := range types {
		if !t.Valid() {
			return nil, fmt.Errorf("unknown relationship type %q: %w", t, apperr.ErrInvalidArgument)
		}
	}
	if err := s.mustExist(ctx, id); err != nil {
		return nil, err
	}
	return s.rels.ListForFinding(dbctx.New(ctx), id, types...)
}

func (s *knowledgeService) ListCorrections(ctx context.Context, id uuid.UUID) ([]*knowledge.Correction, error) {
	if err := s.mustExist(ctx, id); err != nil {
		return nil, err
	}
	return s.corrections.ListByFinding(dbctx.New(ctx), id)
}

func (s *knowledgeService) mustExist(ctx context.Context, id uuid.UUID) error {
	f, err := s.findings.GetByID(dbctx.New(ctx), id)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("finding %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (s *knowledgeService) SubmitValidation(ctx context.Context, id uuid.UUID, action knowledge.ValidationAction, actor string) (*feedback.ValidationResult, error) {
	res, err := s.feedback.SubmitValidation(ctx, id, action, actor)
	if err != nil {
		return nil, err
	}
	s.syncGraph(ctx, []uuid.UUID{res.Finding.ID})
	return res, nil
}

func (s *knowledgeService) SubmitCorrection(ctx context.Context, id uuid.UUID, text, actor, reason string) (*feedback.CorrectionResult, error) {
	res, err := s.feedback.SubmitCorrection(ctx, id, text, actor, reason)
	if err != nil {
		return nil, err
	}
	ids := []uuid.UUID{res.Finding.ID}
	if res.Propagation != nil {
		ids = append(ids, res.Propagation.Findings...)
	}
	s.syncGraph(ctx, ids)
	return res, nil
}

// syncGraph mirrors feedback into the graph projection. Failures are logged;
// the next commit of the deal re-projects the rows.
func (s *knowledgeService) syncGraph(ctx context.Context, ids []uuid.UUID) {
	if !s.graph.Enabled() {
		return
	}
	rows, err := s.findings.GetByIDs(dbctx.New(ctx), ids)
	if err != nil {
		s.log.Warn("load findings for graph sync", "error", err)
		return
	}
	if err := s.graph.SyncState(ctx, rows...); err != nil {
		s.log.Warn("graph state sync failed", "findings", len(rows), "error", err)
	}
}

func (s *knowledgeService) RegisterDependency(ctx context.Context, id uuid.UUID, kind, dependentID string) (*knowledge.FindingDependency, error) {
	return s.feedback.RegisterDependency(ctx, id, kind, dependentID)
}

func (s *knowledgeService) ListReviewMarkers(ctx context.Context, filter knowledgerepo.ReviewMarkerFilter) ([]*knowledge.ReviewMarker, error) {
	return s.feedback.ListReviewMarkers(ctx, filter)
}

func (s *knowledgeService) ResolveReviewMarker(ctx context.Context, id uuid.UUID) error {
	return s.feedback.ResolveReviewMarker(ctx, id)
}

func (s *knowledgeService) ListSourceFlags(ctx context.Context) ([]*knowledge.SourceFlag, error) {
	return s.flags.ListFlagged(dbctx.New(ctx))
}
