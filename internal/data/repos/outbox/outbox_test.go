package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoferino/manda-platform-sub003/internal/data/repos/testutil"
	"github.com/hoferino/manda-platform-sub003/internal/domain/events"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
)

func TestOutboxRepoPendingAndDelivery(t *testing.T) {
	db := testutil.DB(t)
	repo := NewOutboxRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())
	agg := uuid.New()

	first, err := repo.Append(dbc, events.FindingCreated, agg, map[string]string{"finding_id": agg.String()})
	require.NoError(t, err)
	second, err := repo.Append(dbc, events.ContradictionDetected, agg, map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"finding_id":"`+agg.String()+`"}`, string(first.Payload))

	pending, err := repo.ListPending(dbc, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, repo.MarkDelivered(dbc, first.ID, time.Now()))
	require.NoError(t, repo.RecordFailure(dbc, second.ID))

	pending, err = repo.ListPending(dbc, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)

	// Exhausted events stop being offered for delivery.
	pending, err = repo.ListPending(dbc, 10, 1)
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := repo.ListByAggregate(dbc, agg)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
