package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	knowledgerepo "github.com/hoferino/manda-platform-sub003/internal/data/repos/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/data/repos/outbox"
	"github.com/hoferino/manda-platform-sub003/internal/data/repos/testutil"
	"github.com/hoferino/manda-platform-sub003/internal/domain/events"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/extraction"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/feedback"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/index"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/keylock"
	"github.com/hoferino/manda-platform-sub003/internal/platform/vectorstore"
)

type fixture struct {
	t          *testing.T
	ctx        context.Context
	db         *gorm.DB
	resolver   *Resolver
	locks      *keylock.Locker
	topics     knowledgerepo.TopicLockRepo
	prop       *feedback.Propagator
	index      *index.Indexer
	findings   knowledgerepo.FindingRepo
	rels       knowledgerepo.RelationshipRepo
	candidates knowledgerepo.CandidateRepo
	deps       knowledgerepo.DependencyRepo
	markers    knowledgerepo.ReviewMarkerRepo
	outbox     outbox.OutboxRepo
	store      *vectorstore.MemoryStore
	deal       uuid.UUID
	order      int
}

// hashTopicThreshold suits the hash embedder, whose same-statement
// similarities sit well below those of model embeddings.
const hashTopicThreshold = 0.4

func hashRules() Rules {
	r := DefaultRules()
	r.TopicThreshold = hashTopicThreshold
	return r
}

func newFixture(t *testing.T, opts Options) *fixture {
	return newFixtureWithRules(t, opts, hashRules())
}

func newFixtureWithRules(t *testing.T, opts Options, rules Rules) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	fx := &fixture{
		t:          t,
		ctx:        context.Background(),
		db:         db,
		locks:      keylock.New(),
		topics:     knowledgerepo.NewTopicLockRepo(db, log),
		findings:   knowledgerepo.NewFindingRepo(db, log),
		rels:       knowledgerepo.NewRelationshipRepo(db, log),
		candidates: knowledgerepo.NewCandidateRepo(db, log),
		deps:       knowledgerepo.NewDependencyRepo(db, log),
		markers:    knowledgerepo.NewReviewMarkerRepo(db, log),
		outbox:     outbox.NewOutboxRepo(db, log),
		store:      vectorstore.NewMemoryStore(),
		deal:       uuid.New(),
	}
	fx.index = index.New(log, index.NewHashEmbedder(256), fx.store, index.Options{})
	fx.prop = feedback.NewPropagator(log, fx.findings, fx.rels, fx.deps, fx.markers, fx.outbox)
	fx.resolver = New(log, rules, opts, fx.index, fx.locks, fx.topics, fx.findings, fx.rels, fx.candidates, fx.outbox, fx.prop)
	return fx
}

// peer builds a second resolver over the same database and vector store
// with its own in-process locker, as another worker process would have.
func (fx *fixture) peer() *Resolver {
	log := testutil.Logger(fx.t)
	return New(log, fx.resolver.Rules(), Options{}, fx.index, keylock.New(), fx.topics,
		fx.findings, fx.rels, fx.candidates, fx.outbox, fx.prop)
}

// interleavedCommitter runs before to completion ahead of opening its own
// transaction, so before's commit lands between the caller's neighbor
// scoring and its write.
type interleavedCommitter struct {
	db     *gorm.DB
	before func() error
}

func (c interleavedCommitter) Commit(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if c.before != nil {
		if err := c.before(); err != nil {
			return err
		}
	}
	return DBCommitter{DB: c.db}.Commit(ctx, fn)
}

func (fx *fixture) document(sourceType string) *knowledge.Document {
	return testutil.SeedDocument(fx.t, fx.ctx, fx.db, fx.deal, sourceType)
}

func (fx *fixture) candidate(doc *knowledge.Document, text string, conf float64) *knowledge.FindingCandidate {
	fx.t.Helper()
	fx.order++
	chunk := testutil.SeedChunk(fx.t, fx.ctx, fx.db, doc.ID, fx.order, text)
	c := &knowledge.FindingCandidate{
		ID:                uuid.New(),
		DocumentID:        doc.ID,
		CandidateKey:      extraction.CandidateKey(chunk.ID, text),
		ChunkID:           chunk.ID,
		Location:          "page 1",
		Text:              text,
		Domain:            "financial",
		Confidence:        conf,
		ExtractionPattern: "test",
	}
	require.NoError(fx.t, fx.candidates.Upsert(dbctx.New(fx.ctx), []*knowledge.FindingCandidate{c}))
	return c
}

func (fx *fixture) resolve(doc *knowledge.Document, text string, conf float64) *Result {
	fx.t.Helper()
	res, err := fx.resolver.Resolve(fx.ctx, DBCommitter{DB: fx.db}, Request{Candidate: fx.candidate(doc, text, conf), Document: doc})
	require.NoError(fx.t, err)
	require.True(fx.t, res.Created)
	return res
}

func (fx *fixture) reload(id uuid.UUID) *knowledge.Finding {
	fx.t.Helper()
	f, err := fx.findings.GetByID(dbctx.New(fx.ctx), id)
	require.NoError(fx.t, err)
	require.NotNil(fx.t, f)
	return f
}

func (fx *fixture) edges(id uuid.UUID, types ...knowledge.RelationshipType) []*knowledge.Relationship {
	fx.t.Helper()
	out, err := fx.rels.ListForFinding(dbctx.New(fx.ctx), id, types...)
	require.NoError(fx.t, err)
	return out
}

func (fx *fixture) eventTypes(id uuid.UUID) []string {
	fx.t.Helper()
	evs, err := fx.outbox.ListByAggregate(dbctx.New(fx.ctx), id)
	require.NoError(fx.t, err)
	var out []string
	for _, ev := range evs {
		out = append(out, ev.EventType)
	}
	return out
}

func TestDifferentQuartersAreNotContradictions(t *testing.T) {
	fx := newFixture(t, Options{})
	doc := fx.document("management_report")

	q3 := fx.resolve(doc, "Q3 2024 revenue was $5.2M", 0.8)
	q2 := fx.resolve(doc, "Q2 2024 revenue was $4.8M", 0.8)

	assert.Equal(t, "revenue", q3.Finding.FactKey)
	assert.Equal(t, q3.Finding.TopicKey, q2.Finding.TopicKey)
	assert.Empty(t, fx.edges(q2.Finding.ID, knowledge.RelContradicts))
	assert.Equal(t, knowledge.FindingCandidateStatus, fx.reload(q3.Finding.ID).Status)
	assert.Equal(t, knowledge.FindingCandidateStatus, fx.reload(q2.Finding.ID).Status)
}

func TestSamePeriodDivergingValuesContest(t *testing.T) {
	fx := newFixture(t, Options{})
	a := fx.resolve(fx.document("cim"), "Q3 2024 revenue was $5.2M", 0.8)
	b := fx.resolve(fx.document("management_report"), "Q3 2024 revenue was $4.5M", 0.6)

	edges := fx.edges(b.Finding.ID, knowledge.RelContradicts)
	require.Len(t, edges, 2)
	pairs := map[[2]uuid.UUID]bool{}
	for _, e := range edges {
		pairs[[2]uuid.UUID{e.FromFindingID, e.ToFindingID}] = true
		assert.InDelta(t, 0.6*b.Pairs[0].Similarity, e.Strength, 1e-9)
	}
	assert.True(t, pairs[[2]uuid.UUID{a.Finding.ID, b.Finding.ID}])
	assert.True(t, pairs[[2]uuid.UUID{b.Finding.ID, a.Finding.ID}])

	assert.Equal(t, knowledge.FindingContested, fx.reload(a.Finding.ID).Status)
	assert.Equal(t, knowledge.FindingContested, fx.reload(b.Finding.ID).Status)
	assert.Contains(t, fx.eventTypes(b.Finding.ID), events.ContradictionDetected)
}

func TestConcurrentResolversAcrossProcessesContest(t *testing.T) {
	fx := newFixture(t, Options{})
	other := fx.peer()
	docA := fx.document("cim")
	docB := fx.document("management_report")
	ca := fx.candidate(docA, "Q3 2024 revenue was $5.2M", 0.8)
	cb := fx.candidate(docB, "Q3 2024 revenue was $4.5M", 0.6)

	var b *Result
	a, err := fx.resolver.Resolve(fx.ctx, interleavedCommitter{
		db: fx.db,
		before: func() error {
			var err error
			b, err = other.Resolve(fx.ctx, DBCommitter{DB: fx.db}, Request{Candidate: cb, Document: docB})
			return err
		},
	}, Request{Candidate: ca, Document: docA})
	require.NoError(t, err)
	require.NotNil(t, b)
	require.True(t, a.Created)
	require.True(t, b.Created)

	assert.Empty(t, b.Pairs)
	require.Len(t, a.Pairs, 1)
	assert.Equal(t, b.Finding.ID, a.Pairs[0].Neighbor.ID)
	assert.Len(t, fx.edges(a.Finding.ID, knowledge.RelContradicts), 2)
	assert.Equal(t, knowledge.FindingContested, fx.reload(a.Finding.ID).Status)
	assert.Equal(t, knowledge.FindingContested, fx.reload(b.Finding.ID).Status)
}

func TestSameTopicBelowThresholdIsNotCompared(t *testing.T) {
	rules := DefaultRules()
	rules.TopicThreshold = 0.999
	fx := newFixtureWithRules(t, Options{}, rules)
	a := fx.resolve(fx.document("cim"), "Q3 2024 revenue was $5.2M", 0.8)
	b := fx.resolve(fx.document("management_report"), "In Q3 2024, the revenue of the company was approximately $4.5M", 0.6)

	assert.Equal(t, a.Finding.TopicKey, b.Finding.TopicKey)
	assert.Empty(t, b.Pairs)
	assert.Empty(t, fx.edges(b.Finding.ID, knowledge.RelContradicts))
	assert.Equal(t, knowledge.FindingCandidateStatus, fx.reload(a.Finding.ID).Status)
	assert.Equal(t, knowledge.FindingCandidateStatus, fx.reload(b.Finding.ID).Status)
}

func TestTopicLockRequiresTransaction(t *testing.T) {
	fx := newFixture(t, Options{})
	require.Error(t, fx.topics.Acquire(dbctx.New(fx.ctx), "deal/financial/revenue"))
	require.NoError(t, fx.db.Transaction(func(tx *gorm.DB) error {
		return fx.topics.Acquire(dbctx.Context{Ctx: fx.ctx, Tx: tx}, "deal/financial/revenue")
	}))
}

func TestIndependentSourcesCorroborate(t *testing.T) {
	fx := newFixture(t, Options{})
	a := fx.resolve(fx.document("cim"), "FY2023 total revenue was $20M", 0.8)
	b := fx.resolve(fx.document("audited_financials"), "FY2023 total revenue was $20M", 0.8)

	supports := fx.edges(b.Finding.ID, knowledge.RelSupports)
	require.Len(t, supports, 1)
	assert.Equal(t, b.Finding.ID, supports[0].FromFindingID)
	assert.InDelta(t, 0.85, fx.reload(a.Finding.ID).Confidence, 1e-9)
	assert.InDelta(t, 0.85, fx.reload(b.Finding.ID).Confidence, 1e-9)
}

func TestCorroborationCapsConfidence(t *testing.T) {
	fx := newFixture(t, Options{})
	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		res := fx.resolve(fx.document("cim"), "FY2023 total revenue was $20M", 0.98)
		ids = append(ids, res.Finding.ID)
	}
	for _, id := range ids {
		f := fx.reload(id)
		assert.LessOrEqual(t, f.Confidence, 1.0)
		assert.GreaterOrEqual(t, f.Confidence, 0.0)
	}
	assert.Equal(t, 1.0, fx.reload(ids[0]).Confidence)
}

func TestMissingPeriodConflictNeedsReview(t *testing.T) {
	fx := newFixture(t, Options{})
	e := fx.resolve(fx.document("cim"), "Q3 2024 revenue was $5.2M", 0.8)
	f := fx.resolve(fx.document("notes"), "Revenue was $4.1M", 0.7)

	assert.False(t, f.Finding.HasPeriod())
	assert.Equal(t, knowledge.FindingNeedsReview, fx.reload(f.Finding.ID).Status)
	assert.Equal(t, knowledge.FindingCandidateStatus, fx.reload(e.Finding.ID).Status)
	assert.Empty(t, fx.edges(f.Finding.ID))
	require.Len(t, f.Ambiguities, 1)
	assert.Equal(t, e.Finding.ID.String(), f.Ambiguities[0].OtherID)
	assert.Contains(t, fx.eventTypes(f.Finding.ID), events.NeedsReview)
}

func TestRejectedFindingDoesNotBlockCorroboration(t *testing.T) {
	fx := newFixture(t, Options{})
	rejected := fx.resolve(fx.document("notes"), "FY2023 total revenue was $20M", 0.5)
	_, _, err := fx.findings.Transition(dbctx.New(fx.ctx), rejected.Finding.ID,
		knowledgerepo.Actor{Kind: knowledge.ActorFeedback, ID: "analyst"}, "reject",
		func(f *knowledge.Finding) error {
			f.Status = knowledge.FindingRejected
			return nil
		})
	require.NoError(t, err)

	active := fx.resolve(fx.document("cim"), "FY2023 total revenue was $20M", 0.8)
	fresh := fx.resolve(fx.document("audited_financials"), "FY2023 total revenue was $20M", 0.8)

	supports := fx.edges(fresh.Finding.ID, knowledge.RelSupports)
	require.Len(t, supports, 1)
	assert.Equal(t, active.Finding.ID, supports[0].ToFindingID)
	assert.Empty(t, fx.edges(rejected.Finding.ID))
	assert.Equal(t, knowledge.FindingRejected, fx.reload(rejected.Finding.ID).Status)
}

func TestLaterBalanceSupersedesAndPropagates(t *testing.T) {
	fx := newFixture(t, Options{})
	older := fx.resolve(fx.document("management_report"), "Cash balance as of March 31, 2024 was $3.0M", 0.8)
	_, err := fx.deps.Register(dbctx.New(fx.ctx), older.Finding.ID, "slide", "deck-7/slide-3")
	require.NoError(t, err)

	newer := fx.resolve(fx.document("management_report"), "Cash balance as of June 30, 2024 was $3.4M", 0.8)

	edges := fx.edges(newer.Finding.ID, knowledge.RelSupersedes)
	require.Len(t, edges, 1)
	assert.Equal(t, newer.Finding.ID, edges[0].FromFindingID)
	assert.Equal(t, older.Finding.ID, edges[0].ToFindingID)
	assert.Equal(t, knowledge.FindingSuperseded, fx.reload(older.Finding.ID).Status)
	assert.Equal(t, knowledge.FindingCandidateStatus, fx.reload(newer.Finding.ID).Status)
	assert.Contains(t, fx.eventTypes(older.Finding.ID), events.FindingSuperseded)

	markers, err := fx.markers.List(dbctx.New(fx.ctx), knowledgerepo.ReviewMarkerFilter{FindingID: older.Finding.ID, OnlyOpen: true})
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, knowledge.TargetDependent, markers[0].TargetKind)
	assert.Equal(t, "deck-7/slide-3", markers[0].TargetID)
	assert.Equal(t, knowledge.CauseSuperseded, markers[0].Cause)
}

func TestLateArrivingOlderBalanceIsSuperseded(t *testing.T) {
	fx := newFixture(t, Options{})
	newer := fx.resolve(fx.document("management_report"), "Cash balance as of June 30, 2024 was $3.4M", 0.8)
	older := fx.resolve(fx.document("management_report"), "Cash balance as of March 31, 2024 was $3.0M", 0.8)

	edges := fx.edges(older.Finding.ID, knowledge.RelSupersedes)
	require.Len(t, edges, 1)
	assert.Equal(t, newer.Finding.ID, edges[0].FromFindingID)
	assert.Equal(t, older.Finding.ID, edges[0].ToFindingID)
	assert.Equal(t, knowledge.FindingSuperseded, fx.reload(older.Finding.ID).Status)
	assert.Equal(t, knowledge.FindingCandidateStatus, fx.reload(newer.Finding.ID).Status)
}

func TestLessAuthoritativeLaterSourceIsAmbiguous(t *testing.T) {
	fx := newFixture(t, Options{})
	older := fx.resolve(fx.document("audited_financials"), "Cash balance as of March 31, 2024 was $3.0M", 0.9)
	newer := fx.resolve(fx.document("email"), "Cash balance as of June 30, 2024 was $3.4M", 0.6)

	assert.Empty(t, fx.edges(newer.Finding.ID))
	assert.Equal(t, knowledge.FindingNeedsReview, fx.reload(newer.Finding.ID).Status)
	assert.Equal(t, knowledge.FindingCandidateStatus, fx.reload(older.Finding.ID).Status)
}

func TestResolveIsIdempotent(t *testing.T) {
	fx := newFixture(t, Options{})
	doc := fx.document("cim")
	c := fx.candidate(doc, "Q3 2024 revenue was $5.2M", 0.8)
	tx := DBCommitter{DB: fx.db}

	first, err := fx.resolver.Resolve(fx.ctx, tx, Request{Candidate: c, Document: doc})
	require.NoError(t, err)
	require.True(t, first.Created)
	second, err := fx.resolver.Resolve(fx.ctx, tx, Request{Candidate: c, Document: doc})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Finding.ID, second.Finding.ID)

	all, err := fx.findings.Query(dbctx.New(fx.ctx), knowledgerepo.FindingFilter{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	unresolved, err := fx.candidates.ListUnresolved(dbctx.New(fx.ctx), doc.ID)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
	assert.NotNil(t, fx.reload(first.Finding.ID).IndexedAt)
	assert.Equal(t, 1, fx.store.Len())
}

func TestTopicLockTimeoutIsConflictingWrite(t *testing.T) {
	fx := newFixture(t, Options{LockTimeout: 10 * time.Millisecond, LockAttempts: 2})
	doc := fx.document("cim")
	c := fx.candidate(doc, "Q3 2024 revenue was $5.2M", 0.8)

	unlock, err := fx.locks.Lock(fx.ctx, TopicKey(fx.deal, "financial", "revenue"))
	require.NoError(t, err)
	defer unlock()

	_, err = fx.resolver.Resolve(fx.ctx, DBCommitter{DB: fx.db}, Request{Candidate: c, Document: doc})
	var conflict *apperr.ConflictingWriteError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 2, conflict.Attempts)
	assert.True(t, apperr.IsRetryable(err))

	found, err := fx.findings.GetByCandidateKey(dbctx.New(fx.ctx), doc.ID, c.CandidateKey)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestReindexRepairsMissingVectors(t *testing.T) {
	fx := newFixture(t, Options{})
	doc := fx.document("cim")
	f := testutil.SeedFinding(t, fx.ctx, fx.db, doc, "Headcount was 1,200 employees", 0.7, knowledge.FindingCandidateStatus)

	n, err := fx.resolver.Reindex(fx.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotNil(t, fx.reload(f.ID).IndexedAt)

	n, err = fx.resolver.Reindex(fx.ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBuildFindingNormalizesCandidate(t *testing.T) {
	fx := newFixture(t, Options{})
	doc := fx.document("cim")
	f := fx.resolver.BuildFinding(&knowledge.FindingCandidate{
		CandidateKey:   "k",
		Text:           "  The company is incorporated in Delaware ",
		Domain:         "Legal",
		FactKey:        "Jurisdiction",
		Value:          "Delaware",
		Confidence:     1.7,
		DateReferenced: "sometime soon",
	}, doc)

	assert.Equal(t, "legal", f.Domain)
	assert.Equal(t, "jurisdiction", f.FactKey)
	assert.Equal(t, TopicKey(fx.deal, "legal", "jurisdiction"), f.TopicKey)
	assert.Equal(t, 1.0, f.Confidence)
	assert.False(t, f.HasPeriod())
	assert.Nil(t, f.NumericValue)
	assert.Equal(t, "Delaware", f.ValueText)
	assert.Equal(t, "The company is incorporated in Delaware", f.Text)
}

func TestLoadRulesOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
topic_threshold: 0.8
numeric_tolerance: 0.05
domains:
  Financial:
    recurring: [arr]
source_authority:
  Board_Minutes: 95
`), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, 0.8, rules.TopicThreshold)
	assert.Equal(t, 0.05, rules.NumericTolerance)
	assert.Equal(t, DefaultRules().CorroborationBonus, rules.CorroborationBonus)
	assert.True(t, rules.IsRecurring("financial", "arr"))
	assert.True(t, rules.IsRecurring("operational", "headcount_total"))
	assert.Equal(t, 95, rules.Authority("board_minutes"))
	assert.Equal(t, rules.DefaultSourceAuthority, rules.Authority("unknown"))

	require.NoError(t, os.WriteFile(path, []byte("topic_threshold: 3\n"), 0o600))
	_, err = LoadRules(path)
	assert.Error(t, err)
}
