package feedback

import (
	"fmt"

	"github.com/google/uuid"

	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/data/repos/outbox"
	"github.com/hoferino/manda-platform-sub003/internal/domain/events"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// Propagator flags everything derived from a changed finding for review. It
// never regenerates or deletes anything.
type Propagator struct {
	log      *logger.Logger
	findings knowledgerepo.FindingRepo
	rels     knowledgerepo.RelationshipRepo
	deps     knowledgerepo.DependencyRepo
	markers  knowledgerepo.ReviewMarkerRepo
	outbox   outbox.OutboxRepo
}

func NewPropagator(
	baseLog *logger.Logger,
	findings knowledgerepo.FindingRepo,
	rels knowledgerepo.RelationshipRepo,
	deps knowledgerepo.DependencyRepo,
	markers knowledgerepo.ReviewMarkerRepo,
	ob outbox.OutboxRepo,
) *Propagator {
	return &Propagator{
		log:      baseLog.With("service", "Propagator"),
		findings: findings,
		rels:     rels,
		deps:     deps,
		markers:  markers,
		outbox:   ob,
	}
}

// PropagationResult lists what was flagged.
type PropagationResult struct {
	Findings   []uuid.UUID
	Dependents []*knowledge.FindingDependency
	Markers    int
}

// Propagate walks every edge of findingID and every registered dependent.
// Active neighbor findings move to needs_review unless they already carry a
// stronger status (contested); each target gets an open review marker. IDs in
// exclude are skipped, which lets the resolver leave the finding that caused
// a supersession alone. dbc is expected to carry the caller's transaction.
func (p *Propagator) Propagate(dbc dbctx.Context, findingID uuid.UUID, cause knowledge.ReviewCause, actor knowledgerepo.Actor, exclude ...uuid.UUID) (*PropagationResult, error) {
	skip := map[uuid.UUID]struct{}{findingID: {}}
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	res := &PropagationResult{}

	edges, err := p.rels.ListForFinding(dbc, findingID)
	if err != nil {
		return nil, fmt.Errorf("list edges of %s: %w", findingID, err)
	}
	var neighborIDs []uuid.UUID
	for _, e := range edges {
		other := e.ToFindingID
		if other == findingID {
			other = e.FromFindingID
		}
		if _, ok := skip[other]; ok {
			continue
		}
		skip[other] = struct{}{}
		neighborIDs = append(neighborIDs, other)
	}
	neighbors, err := p.findings.GetByIDs(dbc, neighborIDs)
	if err != nil {
		return nil, err
	}
	reason := fmt.Sprintf("%s: %s", cause, findingID)
	for _, n := range neighbors {
		if !n.Status.Active() {
			continue
		}
		updated, changed, err := p.findings.Transition(dbc, n.ID, actor, reason, func(f *knowledge.Finding) error {
			if f.Status.Active() && f.Status != knowledge.FindingContested {
				f.Status = knowledge.FindingNeedsReview
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("flag neighbor %s: %w", n.ID, err)
		}
		marker, created, err := p.markers.Create(dbc, &knowledge.ReviewMarker{
			FindingID:  findingID,
			TargetKind: knowledge.TargetFinding,
			TargetID:   n.ID.String(),
			Cause:      cause,
		})
		if err != nil {
			return nil, err
		}
		res.Findings = append(res.Findings, n.ID)
		if created {
			res.Markers++
			observability.Current().IncReviewMarker(string(cause), knowledge.TargetFinding)
		}
		if changed || created {
			if _, err := p.outbox.Append(dbc, events.NeedsReview, n.ID, events.ReviewPayload{
				OriginFindingID: findingID,
				MarkerID:        marker.ID,
				TargetKind:      knowledge.TargetFinding,
				TargetID:        updated.ID.String(),
				Cause:           string(cause),
			}); err != nil {
				return nil, err
			}
		}
	}

	deps, err := p.deps.ListByFinding(dbc, findingID)
	if err != nil {
		return nil, fmt.Errorf("list dependents of %s: %w", findingID, err)
	}
	for _, d := range deps {
		marker, created, err := p.markers.Create(dbc, &knowledge.ReviewMarker{
			FindingID:     findingID,
			TargetKind:    knowledge.TargetDependent,
			TargetID:      d.DependentID,
			DependentKind: d.DependentKind,
			Cause:         cause,
		})
		if err != nil {
			return nil, err
		}
		res.Dependents = append(res.Dependents, d)
		if !created {
			continue
		}
		res.Markers++
		observability.Current().IncReviewMarker(string(cause), knowledge.TargetDependent)
		if _, err := p.outbox.Append(dbc, events.NeedsReview, findingID, events.ReviewPayload{
			OriginFindingID: findingID,
			MarkerID:        marker.ID,
			TargetKind:      knowledge.TargetDependent,
			TargetID:        d.DependentID,
			DependentKind:   d.DependentKind,
			Cause:           string(cause),
		}); err != nil {
			return nil, err
		}
	}
	if len(res.Findings) > 0 || len(res.Dependents) > 0 {
		p.log.Debug("review propagated",
			"finding_id", findingID,
			"cause", cause,
			"findings", len(res.Findings),
			"dependents", len(res.Dependents),
		)
	}
	return res, nil
}
