// Package resolver decides how each newly extracted finding relates to what
// is already known about a deal and commits the finding together with its
// relationships and status changes in one transaction.
package resolver

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/data/repos/outbox"
	"github.com/hoferino/manda-platform-sub003/internal/domain/events"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/extraction"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/feedback"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/index"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/period"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/keylock"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
	"github.com/hoferino/manda-platform-sub003/internal/platform/vectorstore"
)

var resolverActor = knowledgerepo.Actor{Kind: knowledge.ActorResolver, ID: "resolver"}

// Committer runs fn in one database transaction. Job handlers pass their
// lease-fenced runtime context; everything else can use DBCommitter.
type Committer interface {
	Commit(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type DBCommitter struct{ DB *gorm.DB }

func (c DBCommitter) Commit(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.DB.WithContext(ctx).Transaction(fn)
}

type Options struct {
	LockTimeout time.Duration
	// LockAttempts bounds how many times the topic lock is tried before a
	// ConflictingWriteError is returned.
	LockAttempts int
}

type Resolver struct {
	log        *logger.Logger
	rules      Rules
	opts       Options
	index      *index.Indexer
	locks      *keylock.Locker
	topics     knowledgerepo.TopicLockRepo
	findings   knowledgerepo.FindingRepo
	rels       knowledgerepo.RelationshipRepo
	candidates knowledgerepo.CandidateRepo
	outbox     outbox.OutboxRepo
	propagator *feedback.Propagator
}

func New(
	baseLog *logger.Logger,
	rules Rules,
	opts Options,
	ix *index.Indexer,
	locks *keylock.Locker,
	topics knowledgerepo.TopicLockRepo,
	findings knowledgerepo.FindingRepo,
	rels knowledgerepo.RelationshipRepo,
	candidates knowledgerepo.CandidateRepo,
	ob outbox.OutboxRepo,
	propagator *feedback.Propagator,
) *Resolver {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	if opts.LockAttempts <= 0 {
		opts.LockAttempts = 3
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &Resolver{
		log:        baseLog.With("service", "Resolver"),
		rules:      rules,
		opts:       opts,
		index:      ix,
		locks:      locks,
		topics:     topics,
		findings:   findings,
		rels:       rels,
		candidates: candidates,
		outbox:     ob,
		propagator: propagator,
	}
}

func (r *Resolver) Rules() Rules { return r.rules }

// Request is one staged candidate and the document it came from.
type Request struct {
	Candidate *knowledge.FindingCandidate
	Document  *knowledge.Document
}

// Pair records how the new finding relates to one neighbor.
type Pair struct {
	Neighbor   *knowledge.Finding
	Similarity float64
	Verdict    Verdict
}

type Result struct {
	Finding       *knowledge.Finding
	Created       bool
	Pairs         []Pair
	Relationships []*knowledge.Relationship
	Ambiguities   []*apperr.AmbiguousTemporalError
	Superseded    []uuid.UUID
}

// TopicKey identifies the set of findings whose commits are serialized:
// in-process by the key locker, across processes by the topic lock taken
// inside the commit transaction.
func TopicKey(dealID uuid.UUID, domain, factKey string) string {
	return dealID.String() + ":" + domain + ":" + factKey
}

// BuildFinding turns a candidate into an uncommitted finding. The period
// comes from date_referenced, or from the statement itself when the
// extractor gave none; an unrecognized phrase leaves the period undefined.
func (r *Resolver) BuildFinding(c *knowledge.FindingCandidate, doc *knowledge.Document) *knowledge.Finding {
	opts := period.Options{FiscalYearStartMonth: r.rules.FiscalStart()}
	domain := extraction.NormalizeDomain(c.Domain)
	factKey := extraction.NormalizeFactKey(c.FactKey)
	if factKey == "" {
		factKey = extraction.DeriveFactKey(c.Text, opts)
	}
	f := &knowledge.Finding{
		ID:                uuid.New(),
		DealID:            doc.DealID,
		DocumentID:        doc.ID,
		CandidateKey:      c.CandidateKey,
		ChunkID:           c.ChunkID,
		SourceLocation:    c.Location,
		Text:              strings.TrimSpace(c.Text),
		Domain:            domain,
		FactKey:           factKey,
		TopicKey:          TopicKey(doc.DealID, domain, factKey),
		Confidence:        knowledge.ClampConfidence(c.Confidence),
		DateReferenced:    strings.TrimSpace(c.DateReferenced),
		SourceType:        doc.SourceType,
		ExtractionPattern: c.ExtractionPattern,
		Status:            knowledge.FindingCandidateStatus,
	}

	var (
		p  period.Period
		ok bool
	)
	if f.DateReferenced != "" {
		p, ok = period.ParseWith(f.DateReferenced, opts)
	} else {
		p, ok = period.Find(f.Text, opts)
		if ok {
			f.DateReferenced = p.Label
		}
	}
	if ok {
		start, end := p.Start, p.End
		f.PeriodStart, f.PeriodEnd = &start, &end
		f.PeriodKind = knowledge.PeriodRange
		if p.Kind == period.Instant {
			f.PeriodKind = knowledge.PeriodInstant
		}
	}

	if raw := strings.TrimSpace(c.Value); raw != "" {
		if v, ok := period.ParseValue(raw); ok {
			setNumber(f, v)
		} else {
			f.ValueText = raw
		}
	} else if v, ok := period.FindValue(f.Text, opts); ok {
		setNumber(f, v)
	}
	return f
}

func setNumber(f *knowledge.Finding, v period.Value) {
	n := v.Number
	f.NumericValue = &n
	f.Unit = v.Unit
	f.ValueText = v.Text
}

// Resolve commits one candidate. Re-running it for a candidate that already
// has a finding only repairs the candidate link and the index entry.
func (r *Resolver) Resolve(ctx context.Context, tx Committer, req Request) (*Result, error) {
	if req.Candidate == nil || req.Document == nil {
		return nil, fmt.Errorf("resolve: candidate and document required: %w", apperr.ErrInvalidArgument)
	}
	existing, err := r.findings.GetByCandidateKey(dbctx.New(ctx), req.Document.ID, req.Candidate.CandidateKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := r.link(ctx, tx, req.Candidate, existing.ID); err != nil {
			return nil, err
		}
		return &Result{Finding: existing}, nil
	}

	f := r.BuildFinding(req.Candidate, req.Document)
	vecs, err := r.index.Embed(ctx, []string{f.Text})
	if err != nil {
		return nil, err
	}
	vec := vecs[0]

	ctx, span := observability.StartSpan(ctx, "resolver.commit",
		attribute.String("topic_key", f.TopicKey),
		attribute.String("document_id", f.DocumentID.String()),
	)
	res, err := r.commitLocked(ctx, tx, req.Candidate, f, vec)
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	if res.Created {
		r.indexFinding(ctx, res.Finding, vec)
	}
	return res, nil
}

func (r *Resolver) link(ctx context.Context, tx Committer, c *knowledge.FindingCandidate, findingID uuid.UUID) error {
	if c.ID == uuid.Nil || c.FindingID != nil && *c.FindingID == findingID {
		return nil
	}
	return tx.Commit(ctx, func(t *gorm.DB) error {
		return r.candidates.SetFinding(dbctx.Context{Ctx: ctx, Tx: t}, c.ID, findingID)
	})
}

func (r *Resolver) commitLocked(ctx context.Context, tx Committer, c *knowledge.FindingCandidate, f *knowledge.Finding, vec []float32) (*Result, error) {
	unlock, err := r.lockTopic(ctx, f.TopicKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	scores, err := r.similar(ctx, f, vec)
	if err != nil {
		return nil, err
	}
	fact := r.rules.FactOf(f)
	res := &Result{Finding: f}

	// Neighbors are read after the topic lock so a same-topic finding
	// committed by another process is always seen.
	err = tx.Commit(ctx, func(t *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: t}
		if r.topics != nil {
			if err := r.topics.Acquire(dbc, f.TopicKey); err != nil {
				return err
			}
		}
		neighbors, err := r.neighbors(dbc, f, vec, scores)
		if err != nil {
			return err
		}
		*res = Result{Finding: f}
		outcomes := make([]Outcome, 0, len(neighbors))
		for _, n := range neighbors {
			v := r.rules.Classify(fact, r.rules.FactOf(n.finding), n.similarity)
			if v.Outcome == Unrelated {
				continue
			}
			res.Pairs = append(res.Pairs, Pair{Neighbor: n.finding, Similarity: n.similarity, Verdict: v})
			outcomes = append(outcomes, v.Outcome)
		}
		return r.apply(dbc, c, res, outcomes)
	})
	if err != nil {
		return nil, err
	}
	if res.Created {
		observability.Current().IncResolution(string(res.Finding.Status))
		for _, rel := range res.Relationships {
			observability.Current().IncRelationship(string(rel.Type))
		}
		r.log.Debug("finding resolved",
			"finding_id", res.Finding.ID,
			"topic_key", res.Finding.TopicKey,
			"status", res.Finding.Status,
			"relationships", len(res.Relationships),
		)
	}
	return res, nil
}

func (r *Resolver) lockTopic(ctx context.Context, key string) (func(), error) {
	for attempt := 1; ; attempt++ {
		lctx, cancel := context.WithTimeout(ctx, r.opts.LockTimeout)
		unlock, err := r.locks.Lock(lctx, key)
		cancel()
		if err == nil {
			return unlock, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		observability.Current().IncLockConflict()
		if attempt >= r.opts.LockAttempts {
			return nil, &apperr.ConflictingWriteError{TopicKey: key, Attempts: attempt}
		}
		r.log.Warn("topic lock busy, retrying", "topic_key", key, "attempt", attempt)
	}
}

// apply writes the finding and every effect of its pairs. It runs inside the
// caller's transaction.
func (r *Resolver) apply(dbc dbctx.Context, c *knowledge.FindingCandidate, res *Result, outcomes []Outcome) error {
	f := res.Finding
	f.Status = StatusFor(outcomes)
	for _, o := range outcomes {
		if o == Supports {
			f.Confidence += r.rules.CorroborationBonus
		}
	}
	f.Confidence = knowledge.ClampConfidence(f.Confidence)

	stored, created, err := r.findings.Create(dbc, f, resolverActor, "extracted")
	if err != nil {
		return fmt.Errorf("create finding: %w", err)
	}
	res.Finding = stored
	if !created {
		// Another commit got there first; nothing else to write.
		res.Pairs = nil
		return r.setCandidate(dbc, c, stored.ID)
	}
	res.Created = true
	f = stored

	var (
		supersededSelf bool
		supersededBy   uuid.UUID
		downgraded     bool
	)
	for i := range res.Pairs {
		p := &res.Pairs[i]
		e := p.Neighbor
		switch p.Verdict.Outcome {
		case Contradicts:
			strength := math.Min(f.Confidence, e.Confidence) * p.Similarity
			if err := r.edge(dbc, res, f.ID, e.ID, knowledge.RelContradicts, strength); err != nil {
				return err
			}
			if err := r.edge(dbc, res, e.ID, f.ID, knowledge.RelContradicts, strength); err != nil {
				return err
			}
			if err := r.transition(dbc, e.ID, "contradicted by "+f.ID.String(), func(x *knowledge.Finding) {
				x.Status = knowledge.FindingContested
			}); err != nil {
				return err
			}
			if _, err := r.outbox.Append(dbc, events.ContradictionDetected, f.ID, events.RelationshipPayload{
				DealID: f.DealID, From: f.ID, To: e.ID, Type: string(knowledge.RelContradicts), Strength: strength,
			}); err != nil {
				return err
			}

		case Supersedes:
			ok, err := r.supersedes(dbc, res, f.ID, e.ID, p.Similarity)
			if err != nil {
				return err
			}
			if !ok {
				p.Verdict = Verdict{Ambiguous, "supersession would form a cycle"}
				downgraded = true
				continue
			}
			if err := r.transition(dbc, e.ID, "superseded by "+f.ID.String(), func(x *knowledge.Finding) {
				x.Status = knowledge.FindingSuperseded
			}); err != nil {
				return err
			}
			if err := r.emitSuperseded(dbc, e, f.ID); err != nil {
				return err
			}
			res.Superseded = append(res.Superseded, e.ID)

		case SupersededBy:
			ok, err := r.supersedes(dbc, res, e.ID, f.ID, p.Similarity)
			if err != nil {
				return err
			}
			if !ok {
				p.Verdict = Verdict{Ambiguous, "supersession would form a cycle"}
				downgraded = true
				continue
			}
			if !supersededSelf {
				supersededSelf = true
				supersededBy = e.ID
			}

		case Supports:
			if err := r.edge(dbc, res, f.ID, e.ID, knowledge.RelSupports, p.Similarity); err != nil {
				return err
			}
			if err := r.transition(dbc, e.ID, "corroborated by "+f.ID.String(), func(x *knowledge.Finding) {
				x.Confidence += r.rules.CorroborationBonus
			}); err != nil {
				return err
			}

		case Ambiguous:
		}
	}

	if downgraded {
		final := make([]Outcome, 0, len(res.Pairs))
		for _, p := range res.Pairs {
			final = append(final, p.Verdict.Outcome)
		}
		if want := StatusFor(final); want != f.Status {
			updated, _, err := r.findings.Transition(dbc, f.ID, resolverActor, "supersession cycle refused", func(x *knowledge.Finding) error {
				x.Status = want
				return nil
			})
			if err != nil {
				return err
			}
			f = updated
			res.Finding = updated
		}
	}

	for _, p := range res.Pairs {
		if p.Verdict.Outcome == Ambiguous {
			res.Ambiguities = append(res.Ambiguities, &apperr.AmbiguousTemporalError{
				FindingID: f.ID.String(),
				OtherID:   p.Neighbor.ID.String(),
				Reason:    p.Verdict.Reason,
			})
		}
	}

	if _, err := r.outbox.Append(dbc, events.FindingCreated, f.ID, findingPayload(f, "")); err != nil {
		return err
	}
	if len(res.Ambiguities) > 0 && f.Status == knowledge.FindingNeedsReview {
		if _, err := r.outbox.Append(dbc, events.NeedsReview, f.ID, findingPayload(f, res.Ambiguities[0].Reason)); err != nil {
			return err
		}
	}
	if supersededSelf {
		if err := r.emitSuperseded(dbc, f, supersededBy); err != nil {
			return err
		}
		res.Superseded = append(res.Superseded, f.ID)
	}

	// Propagation runs last so it sees every edge written above.
	for _, id := range res.Superseded {
		by := f.ID
		if id == f.ID {
			by = supersededBy
		}
		if _, err := r.propagator.Propagate(dbc, id, knowledge.CauseSuperseded, resolverActor, by); err != nil {
			return fmt.Errorf("propagate supersession of %s: %w", id, err)
		}
	}
	return r.setCandidate(dbc, c, f.ID)
}

func (r *Resolver) setCandidate(dbc dbctx.Context, c *knowledge.FindingCandidate, findingID uuid.UUID) error {
	if c == nil || c.ID == uuid.Nil {
		return nil
	}
	if err := r.candidates.SetFinding(dbc, c.ID, findingID); err != nil {
		return err
	}
	c.FindingID = &findingID
	return nil
}

func (r *Resolver) edge(dbc dbctx.Context, res *Result, from, to uuid.UUID, t knowledge.RelationshipType, strength float64) error {
	rel, created, err := r.rels.Create(dbc, &knowledge.Relationship{
		FromFindingID: from,
		ToFindingID:   to,
		Type:          t,
		Strength:      strength,
	})
	if err != nil {
		return fmt.Errorf("create %s edge: %w", t, err)
	}
	if created {
		res.Relationships = append(res.Relationships, rel)
	}
	return nil
}

// supersedes writes newer→older, reporting false when the edge would close a
// SUPERSEDES cycle.
func (r *Resolver) supersedes(dbc dbctx.Context, res *Result, newer, older uuid.UUID, similarity float64) (bool, error) {
	err := r.edge(dbc, res, newer, older, knowledge.RelSupersedes, similarity)
	if apperr.Is(err, apperr.ErrConflict) {
		r.log.Warn("refusing cyclic supersession", "from", newer, "to", older)
		return false, nil
	}
	return err == nil, err
}

func (r *Resolver) transition(dbc dbctx.Context, id uuid.UUID, reason string, mutate func(*knowledge.Finding)) error {
	_, _, err := r.findings.Transition(dbc, id, resolverActor, reason, func(x *knowledge.Finding) error {
		mutate(x)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update finding %s: %w", id, err)
	}
	return nil
}

func (r *Resolver) emitSuperseded(dbc dbctx.Context, old *knowledge.Finding, by uuid.UUID) error {
	_, err := r.outbox.Append(dbc, events.FindingSuperseded, old.ID, events.FindingPayload{
		FindingID:  old.ID,
		DealID:     old.DealID,
		DocumentID: old.DocumentID,
		Status:     string(knowledge.FindingSuperseded),
		Confidence: old.Confidence,
		Reason:     "superseded by " + by.String(),
	})
	return err
}

func findingPayload(f *knowledge.Finding, reason string) events.FindingPayload {
	return events.FindingPayload{
		FindingID:  f.ID,
		DealID:     f.DealID,
		DocumentID: f.DocumentID,
		Status:     string(f.Status),
		Confidence: f.Confidence,
		Reason:     reason,
	}
}

type neighbor struct {
	finding    *knowledge.Finding
	similarity float64
}

// similar scores the semantically close findings of f's deal and domain.
// Matches under the topic threshold are dropped.
func (r *Resolver) similar(ctx context.Context, f *knowledge.Finding, vec []float32) (map[uuid.UUID]float64, error) {
	scores := map[uuid.UUID]float64{}
	matches, err := r.index.Similar(ctx, vec, index.Filter{
		DealID:     f.DealID.String(),
		Domain:     f.Domain,
		Kind:       vectorstore.KindFinding,
		ExcludeIDs: []string{index.FindingVectorID(f.ID)},
	}, r.rules.NeighborLimit)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		if m.Score < r.rules.TopicThreshold {
			continue
		}
		if kind, id, ok := index.ParseVectorID(m.ID); ok && kind == vectorstore.KindFinding {
			scores[id] = m.Score
		}
	}
	return scores, nil
}

// neighbors returns the active findings of the same deal and domain that are
// either in scores or share f's topic key. Same-topic findings missing from
// scores are embedded and must clear the topic threshold too.
func (r *Resolver) neighbors(dbc dbctx.Context, f *knowledge.Finding, vec []float32, scores map[uuid.UUID]float64) ([]neighbor, error) {
	sameTopic, err := r.findings.Query(dbc, knowledgerepo.FindingFilter{
		DealID:   f.DealID,
		TopicKey: f.TopicKey,
	})
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*knowledge.Finding, len(sameTopic)+len(scores))
	for _, n := range sameTopic {
		byID[n.ID] = n
	}
	var missing []uuid.UUID
	for id := range scores {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		loaded, err := r.findings.GetByIDs(dbc, missing)
		if err != nil {
			return nil, err
		}
		for _, n := range loaded {
			byID[n.ID] = n
		}
	}

	var (
		out      []neighbor
		unscored []*knowledge.Finding
	)
	for id, n := range byID {
		if id == f.ID || n.DealID != f.DealID || n.Domain != f.Domain || !n.Status.Active() {
			continue
		}
		if s, ok := scores[id]; ok {
			out = append(out, neighbor{finding: n, similarity: s})
			continue
		}
		unscored = append(unscored, n)
	}
	if len(unscored) > 0 {
		texts := make([]string, len(unscored))
		for i, n := range unscored {
			texts[i] = n.Text
		}
		vecs, err := r.index.Embed(dbc.Ctx, texts)
		if err != nil {
			return nil, err
		}
		for i, n := range unscored {
			s := math.Max(0, index.Cosine(vec, vecs[i]))
			if s < r.rules.TopicThreshold {
				continue
			}
			out = append(out, neighbor{finding: n, similarity: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].finding, out[j].finding
		if !a.DateExtracted.Equal(b.DateExtracted) {
			return a.DateExtracted.Before(b.DateExtracted)
		}
		return a.ID.String() < b.ID.String()
	})
	return out, nil
}

func (r *Resolver) indexFinding(ctx context.Context, f *knowledge.Finding, vec []float32) {
	if err := r.index.IndexFinding(ctx, f, vec); err != nil {
		r.log.Warn("finding vector upsert failed; commit stage will retry", "finding_id", f.ID, "error", err)
		return
	}
	if err := r.findings.MarkIndexed(dbctx.New(ctx), []uuid.UUID{f.ID}, time.Now().UTC()); err != nil {
		r.log.Warn("mark finding indexed failed", "finding_id", f.ID, "error", err)
	}
}

// Reindex repairs findings committed without a vector.
func (r *Resolver) Reindex(ctx context.Context, documentID uuid.UUID) (int, error) {
	pending, err := r.findings.ListUnindexed(dbctx.New(ctx), documentID)
	if err != nil || len(pending) == 0 {
		return 0, err
	}
	texts := make([]string, len(pending))
	for i, f := range pending {
		texts[i] = f.Text
	}
	vecs, err := r.index.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	ids := make([]uuid.UUID, 0, len(pending))
	for i, f := range pending {
		if err := r.index.IndexFinding(ctx, f, vecs[i]); err != nil {
			return len(ids), err
		}
		ids = append(ids, f.ID)
	}
	return len(ids), r.findings.MarkIndexed(dbctx.New(ctx), ids, time.Now().UTC())
}
