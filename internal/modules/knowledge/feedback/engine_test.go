package feedback

import (
	"context"
	"errors"
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
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	apperr "github.com/hoferino/manda-platform-sub003/internal/pkg/errors"
)

type harness struct {
	ctx    context.Context
	db     *gorm.DB
	engine *Engine
	repos  Repos
	rels   knowledgerepo.RelationshipRepo
	doc    *knowledge.Document
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	repos := Repos{
		Findings:    knowledgerepo.NewFindingRepo(db, log),
		Corrections: knowledgerepo.NewCorrectionRepo(db, log),
		Validations: knowledgerepo.NewValidationEventRepo(db, log),
		Deps:        knowledgerepo.NewDependencyRepo(db, log),
		Markers:     knowledgerepo.NewReviewMarkerRepo(db, log),
		Flags:       knowledgerepo.NewSourceFlagRepo(db, log),
		Outbox:      outbox.NewOutboxRepo(db, log),
	}
	rels := knowledgerepo.NewRelationshipRepo(db, log)
	prop := NewPropagator(log, repos.Findings, rels, repos.Deps, repos.Markers, repos.Outbox)
	return &harness{
		ctx:    ctx,
		db:     db,
		engine: NewEngine(db, log, DefaultConfig(), repos, prop),
		repos:  repos,
		rels:   rels,
		doc:    testutil.SeedDocument(t, ctx, db, uuid.New(), "cim"),
	}
}

func (h *harness) finding(t *testing.T, text string, conf float64, status knowledge.FindingStatus) *knowledge.Finding {
	t.Helper()
	return testutil.SeedFinding(t, h.ctx, h.db, h.doc, text, conf, status)
}

func (h *harness) link(t *testing.T, from, to uuid.UUID, typ knowledge.RelationshipType) {
	t.Helper()
	_, _, err := h.rels.Create(dbctx.New(h.ctx), &knowledge.Relationship{
		FromFindingID: from,
		ToFindingID:   to,
		Type:          typ,
		Strength:      0.7,
	})
	require.NoError(t, err)
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *knowledge.Finding {
	t.Helper()
	f, err := h.repos.Findings.GetByID(dbctx.New(h.ctx), id)
	require.NoError(t, err)
	require.NotNil(t, f)
	return f
}

func (h *harness) eventTypes(t *testing.T, id uuid.UUID) []string {
	t.Helper()
	evs, err := h.repos.Outbox.ListByAggregate(dbctx.New(h.ctx), id)
	require.NoError(t, err)
	var out []string
	for _, ev := range evs {
		out = append(out, ev.EventType)
	}
	return out
}

func TestValidateRaisesConfidence(t *testing.T) {
	h := newHarness(t)
	f := h.finding(t, "Revenue grew 12% in FY2023", 0.8, knowledge.FindingCandidateStatus)

	res, err := h.engine.SubmitValidation(h.ctx, f.ID, knowledge.ActionValidate, "analyst@fund")
	require.NoError(t, err)
	assert.Equal(t, knowledge.FindingValidated, res.Finding.Status)
	assert.InDelta(t, 0.85, res.Finding.Confidence, 1e-9)
	assert.Equal(t, knowledge.ActionValidate, res.Event.Action)
	assert.Contains(t, h.eventTypes(t, f.ID), events.FindingValidated)

	history, err := h.repos.Findings.History(dbctx.New(h.ctx), f.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, knowledge.ActorFeedback, last.ActorKind)
	assert.Equal(t, "analyst@fund", last.Actor)
}

func TestValidateCapsConfidence(t *testing.T) {
	h := newHarness(t)
	f := h.finding(t, "Revenue grew 12% in FY2023", 0.98, knowledge.FindingCandidateStatus)

	res, err := h.engine.SubmitValidation(h.ctx, f.ID, knowledge.ActionValidate, "analyst")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Finding.Confidence)
}

func TestValidateKeepsSupersededStatus(t *testing.T) {
	h := newHarness(t)
	f := h.finding(t, "Cash balance of $3.0M as of March 31, 2024", 0.7, knowledge.FindingSuperseded)

	res, err := h.engine.SubmitValidation(h.ctx, f.ID, knowledge.ActionValidate, "analyst")
	require.NoError(t, err)
	assert.Equal(t, knowledge.FindingSuperseded, res.Finding.Status)
	assert.InDelta(t, 0.75, res.Finding.Confidence, 1e-9)
}

func TestCorrectionKeepsSupersededStatus(t *testing.T) {
	h := newHarness(t)
	f := h.finding(t, "Cash balance of $3.0M as of March 31, 2024", 0.7, knowledge.FindingSuperseded)

	res, err := h.engine.SubmitCorrection(h.ctx, f.ID, "Cash balance of $3.1M as of March 31, 2024", "analyst", "typo")
	require.NoError(t, err)
	assert.Equal(t, knowledge.FindingSuperseded, res.Finding.Status)
	assert.InDelta(t, 0.8, res.Finding.Confidence, 1e-9)

	stored := h.reload(t, f.ID)
	assert.Equal(t, knowledge.FindingSuperseded, stored.Status)
	assert.Equal(t, "Cash balance of $3.1M as of March 31, 2024", stored.Text)
}

func TestRejectLeavesConfidence(t *testing.T) {
	h := newHarness(t)
	f := h.finding(t, "EBITDA margin of 40%", 0.6, knowledge.FindingCandidateStatus)

	res, err := h.engine.SubmitValidation(h.ctx, f.ID, knowledge.ActionReject, "analyst")
	require.NoError(t, err)
	assert.Equal(t, knowledge.FindingRejected, res.Finding.Status)
	assert.InDelta(t, 0.6, res.Finding.Confidence, 1e-9)
	assert.Contains(t, h.eventTypes(t, f.ID), events.FindingRejected)
}

func TestSubmitValidationRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	f := h.finding(t, "Revenue grew", 0.6, knowledge.FindingCandidateStatus)

	_, err := h.engine.SubmitValidation(h.ctx, f.ID, knowledge.ValidationAction("approve"), "analyst")
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))

	_, err = h.engine.SubmitValidation(h.ctx, f.ID, knowledge.ActionValidate, "  ")
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))

	_, err = h.engine.SubmitValidation(h.ctx, uuid.New(), knowledge.ActionValidate, "analyst")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRejectionRateFlagsSource(t *testing.T) {
	h := newHarness(t)

	var last *ValidationResult
	for i := 0; i < 5; i++ {
		f := h.finding(t, "Noisy table row", 0.5, knowledge.FindingCandidateStatus)
		res, err := h.engine.SubmitValidation(h.ctx, f.ID, knowledge.ActionReject, "analyst")
		require.NoError(t, err)
		if i < 4 {
			assert.False(t, res.SourceFlag.Flagged, "flagged after %d events", i+1)
		}
		last = res
	}
	require.NotNil(t, last.SourceFlag)
	assert.True(t, last.SourceFlag.Flagged)
	assert.Equal(t, 5, last.SourceFlag.SampleSize)
	assert.Equal(t, 1.0, last.SourceFlag.RejectionRate)

	flagged := 0
	for _, typ := range h.eventTypes(t, h.doc.ID) {
		if typ == events.SourceFlagged {
			flagged++
		}
	}
	assert.Equal(t, 1, flagged)

	// One more rejection keeps the flag without a second event.
	f := h.finding(t, "Noisy table row", 0.5, knowledge.FindingCandidateStatus)
	_, err := h.engine.SubmitValidation(h.ctx, f.ID, knowledge.ActionReject, "analyst")
	require.NoError(t, err)
	flagged = 0
	for _, typ := range h.eventTypes(t, h.doc.ID) {
		if typ == events.SourceFlagged {
			flagged++
		}
	}
	assert.Equal(t, 1, flagged)
}

func TestMixedFeedbackStaysBelowThreshold(t *testing.T) {
	h := newHarness(t)
	actions := []knowledge.ValidationAction{
		knowledge.ActionReject, knowledge.ActionValidate, knowledge.ActionReject,
		knowledge.ActionValidate, knowledge.ActionValidate, knowledge.ActionReject,
	}
	var last *ValidationResult
	for _, a := range actions {
		f := h.finding(t, "Row", 0.5, knowledge.FindingCandidateStatus)
		res, err := h.engine.SubmitValidation(h.ctx, f.ID, a, "analyst")
		require.NoError(t, err)
		last = res
	}
	assert.False(t, last.SourceFlag.Flagged)
	assert.InDelta(t, 0.5, last.SourceFlag.RejectionRate, 1e-9)
}

func TestCorrectionPropagatesReview(t *testing.T) {
	h := newHarness(t)
	a := h.finding(t, "Revenue of $5.2M in Q3 2024", 0.8, knowledge.FindingCandidateStatus)
	b := h.finding(t, "Q3 2024 sales reached $5.2M", 0.7, knowledge.FindingCandidateStatus)
	contested := h.finding(t, "Q3 2024 revenue was $4.5M", 0.6, knowledge.FindingContested)
	rejected := h.finding(t, "Q3 revenue $52M", 0.3, knowledge.FindingRejected)
	h.link(t, b.ID, a.ID, knowledge.RelSupports)
	h.link(t, a.ID, contested.ID, knowledge.RelContradicts)
	h.link(t, rejected.ID, a.ID, knowledge.RelSupports)

	_, err := h.engine.RegisterDependency(h.ctx, a.ID, "slide", "deck-1/slide-4")
	require.NoError(t, err)

	res, err := h.engine.SubmitCorrection(h.ctx, a.ID, "Revenue of $5.4M in Q3 2024", "analyst", "restated")
	require.NoError(t, err)

	assert.Equal(t, "Revenue of $5.4M in Q3 2024", res.Finding.Text)
	assert.Equal(t, knowledge.FindingValidated, res.Finding.Status)
	assert.InDelta(t, 0.85, res.Finding.Confidence, 1e-9)
	assert.Equal(t, "Revenue of $5.2M in Q3 2024", res.Correction.OriginalText)
	assert.Equal(t, "restated", res.Correction.Reason)

	assert.Equal(t, knowledge.FindingNeedsReview, h.reload(t, b.ID).Status)
	assert.Equal(t, knowledge.FindingContested, h.reload(t, contested.ID).Status)
	assert.Equal(t, knowledge.FindingRejected, h.reload(t, rejected.ID).Status)
	assert.ElementsMatch(t, []uuid.UUID{b.ID, contested.ID}, res.Propagation.Findings)
	require.Len(t, res.Propagation.Dependents, 1)
	assert.Equal(t, 3, res.Propagation.Markers)

	markers, err := h.engine.ListReviewMarkers(h.ctx, knowledgerepo.ReviewMarkerFilter{FindingID: a.ID, OnlyOpen: true})
	require.NoError(t, err)
	require.Len(t, markers, 3)
	var dep *knowledge.ReviewMarker
	for _, m := range markers {
		assert.Equal(t, knowledge.CauseCorrected, m.Cause)
		if m.TargetKind == knowledge.TargetDependent {
			dep = m
		}
	}
	require.NotNil(t, dep)
	assert.Equal(t, "deck-1/slide-4", dep.TargetID)
	assert.Equal(t, "slide", dep.DependentKind)

	corrections, err := h.repos.Corrections.ListByFinding(dbctx.New(h.ctx), a.ID)
	require.NoError(t, err)
	assert.Len(t, corrections, 1)
	assert.Contains(t, h.eventTypes(t, a.ID), events.FindingCorrected)
	assert.Contains(t, h.eventTypes(t, b.ID), events.NeedsReview)

	require.NoError(t, h.engine.ResolveReviewMarker(h.ctx, dep.ID))
	err = h.engine.ResolveReviewMarker(h.ctx, dep.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	open, err := h.engine.ListReviewMarkers(h.ctx, knowledgerepo.ReviewMarkerFilter{FindingID: a.ID, OnlyOpen: true})
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestCorrectionRejectsNoop(t *testing.T) {
	h := newHarness(t)
	f := h.finding(t, "Headcount of 240", 0.7, knowledge.FindingCandidateStatus)

	_, err := h.engine.SubmitCorrection(h.ctx, f.ID, "  Headcount of 240 ", "analyst", "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))
	_, err = h.engine.SubmitCorrection(h.ctx, f.ID, "", "analyst", "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))

	corrections, err := h.repos.Corrections.ListByFinding(dbctx.New(h.ctx), f.ID)
	require.NoError(t, err)
	assert.Empty(t, corrections)
	assert.Equal(t, "Headcount of 240", h.reload(t, f.ID).Text)
}

func TestRepeatedCorrectionsKeepFullTrail(t *testing.T) {
	h := newHarness(t)
	f := h.finding(t, "Headcount of 240", 0.5, knowledge.FindingCandidateStatus)

	_, err := h.engine.SubmitCorrection(h.ctx, f.ID, "Headcount of 250", "a", "")
	require.NoError(t, err)
	res, err := h.engine.SubmitCorrection(h.ctx, f.ID, "Headcount of 260", "b", "")
	require.NoError(t, err)
	assert.InDelta(t, ((0.5+0.9)/2+0.9)/2, res.Finding.Confidence, 1e-9)

	corrections, err := h.repos.Corrections.ListByFinding(dbctx.New(h.ctx), f.ID)
	require.NoError(t, err)
	require.Len(t, corrections, 2)
	assert.Equal(t, "Headcount of 240", corrections[0].OriginalText)
	assert.Equal(t, "Headcount of 250", corrections[1].OriginalText)
	assert.Equal(t, "Headcount of 260", corrections[1].NewText)
}

func TestRegisterDependencyIsIdempotent(t *testing.T) {
	h := newHarness(t)
	f := h.finding(t, "Headcount of 240", 0.5, knowledge.FindingCandidateStatus)

	first, err := h.engine.RegisterDependency(h.ctx, f.ID, "report_section", "ic-memo/3.2")
	require.NoError(t, err)
	second, err := h.engine.RegisterDependency(h.ctx, f.ID, "report_section", "ic-memo/3.2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = h.engine.RegisterDependency(h.ctx, uuid.New(), "report_section", "x")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = h.engine.RegisterDependency(h.ctx, f.ID, "", "x")
	assert.True(t, errors.Is(err, apperr.ErrInvalidArgument))
}

func TestSweepSourceFlagsAppliesNewThreshold(t *testing.T) {
	h := newHarness(t)
	for _, a := range []knowledge.ValidationAction{knowledge.ActionReject, knowledge.ActionReject, knowledge.ActionValidate} {
		f := h.finding(t, "Row", 0.5, knowledge.FindingCandidateStatus)
		_, err := h.engine.SubmitValidation(h.ctx, f.ID, a, "analyst")
		require.NoError(t, err)
	}
	flag, err := h.repos.Flags.Get(dbctx.New(h.ctx), h.doc.ID, "")
	require.NoError(t, err)
	require.NotNil(t, flag)
	assert.False(t, flag.Flagged)

	h.engine.cfg.RejectionMinSample = 3
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	n, err := h.engine.SweepSourceFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	flagged, err := h.repos.Flags.ListFlagged(dbctx.New(h.ctx))
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.InDelta(t, 2.0/3.0, flagged[0].RejectionRate, 1e-9)
}

func TestRejectionRate(t *testing.T) {
	assert.Equal(t, 0.0, RejectionRate(nil))
	evs := []*knowledge.ValidationEvent{
		{Action: knowledge.ActionReject},
		{Action: knowledge.ActionValidate},
		{Action: knowledge.ActionReject},
		{Action: knowledge.ActionReject},
	}
	assert.Equal(t, 0.75, RejectionRate(evs))
}
