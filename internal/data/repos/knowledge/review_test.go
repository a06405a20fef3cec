package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoferino/manda-platform-sub003/internal/data/repos/testutil"
	"github.com/hoferino/manda-platform-sub003/internal/domain/knowledge"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
)

func TestDependencyRegisterIsIdempotent(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.New(context.Background())
	repo := NewDependencyRepo(db, testutil.Logger(t))
	fid := uuid.New()

	a, err := repo.Register(dbc, fid, "slide", "deck-1/7")
	require.NoError(t, err)
	b, err := repo.Register(dbc, fid, "slide", "deck-1/7")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	deps, err := repo.ListByFinding(dbc, fid)
	require.NoError(t, err)
	assert.Len(t, deps, 1)
}

func TestReviewMarkerLifecycle(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.New(context.Background())
	repo := NewReviewMarkerRepo(db, testutil.Logger(t))
	origin := uuid.New()

	m := &knowledge.ReviewMarker{FindingID: origin, TargetKind: knowledge.TargetDependent, TargetID: "deck-1/7", DependentKind: "slide", Cause: knowledge.CauseCorrected}
	created, ok, err := repo.Create(dbc, m)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = repo.Create(dbc, &knowledge.ReviewMarker{FindingID: origin, TargetKind: knowledge.TargetDependent, TargetID: "deck-1/7", Cause: knowledge.CauseCorrected})
	require.NoError(t, err)
	assert.False(t, ok)

	open, err := repo.List(dbc, ReviewMarkerFilter{FindingID: origin, OnlyOpen: true})
	require.NoError(t, err)
	require.Len(t, open, 1)

	resolved, err := repo.Resolve(dbc, created.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, resolved)
	resolved, err = repo.Resolve(dbc, created.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, resolved)

	open, err = repo.List(dbc, ReviewMarkerFilter{FindingID: origin, OnlyOpen: true})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestValidationEventWindowAndSourceFlag(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.New(context.Background())
	events := NewValidationEventRepo(db, testutil.Logger(t))
	flags := NewSourceFlagRepo(db, testutil.Logger(t))
	doc := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 6; i++ {
		action := knowledge.ActionValidate
		if i >= 3 {
			action = knowledge.ActionReject
		}
		_, err := events.Create(dbc, &knowledge.ValidationEvent{
			FindingID:         uuid.New(),
			DocumentID:        doc,
			ExtractionPattern: "table-row",
			Action:            action,
			Actor:             "analyst",
			CreatedAt:         base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	recent, err := events.RecentForSource(dbc, doc, "table-row", 4)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, knowledge.ActionReject, recent[0].Action)
	assert.Equal(t, knowledge.ActionValidate, recent[3].Action)

	_, err = flags.Upsert(dbc, &knowledge.SourceFlag{DocumentID: doc, ExtractionPattern: "table-row", SampleSize: 4, RejectionRate: 0.75, Flagged: true})
	require.NoError(t, err)
	stored, err := flags.Upsert(dbc, &knowledge.SourceFlag{DocumentID: doc, ExtractionPattern: "table-row", SampleSize: 5, RejectionRate: 0.2, Flagged: false})
	require.NoError(t, err)
	assert.Equal(t, 5, stored.SampleSize)
	assert.False(t, stored.Flagged)

	flagged, err := flags.ListFlagged(dbc)
	require.NoError(t, err)
	assert.Empty(t, flagged)
}
