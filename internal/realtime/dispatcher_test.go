package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoferino/manda-platform-sub003/internal/data/repos/outbox"
	"github.com/hoferino/manda-platform-sub003/internal/data/repos/testutil"
	"github.com/hoferino/manda-platform-sub003/internal/domain/events"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	"github.com/hoferino/manda-platform-sub003/internal/realtime/bus"
)

type flakyBus struct {
	mu       sync.Mutex
	failNext int
	got      []bus.Message
}

func (b *flakyBus) Publish(_ context.Context, msg bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext > 0 {
		b.failNext--
		return errors.New("broker unavailable")
	}
	b.got = append(b.got, msg)
	return nil
}

func (b *flakyBus) StartForwarder(context.Context, func(bus.Message)) error { return nil }
func (b *flakyBus) Close() error                                            { return nil }

func seedEvents(t *testing.T, repo outbox.OutboxRepo, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	agg := uuid.New()
	for i := 0; i < n; i++ {
		ev, err := repo.Append(dbctx.New(context.Background()), events.FindingCreated, agg, events.FindingPayload{FindingID: uuid.New()})
		require.NoError(t, err)
		ids = append(ids, ev.ID)
	}
	return ids
}

func TestDispatcherDeliversInOrderOnce(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := outbox.NewOutboxRepo(db, log)
	ids := seedEvents(t, repo, 3)
	fb := &flakyBus{}
	d := NewDispatcher(log, repo, fb, DispatcherOptions{BatchSize: 10})

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, fb.got, 3)
	for i, m := range fb.got {
		assert.Equal(t, ids[i], m.ID)
		assert.Equal(t, events.FindingCreated, m.Type)
		assert.NotEmpty(t, m.Payload)
	}

	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, fb.got, 3)
}

func TestDispatcherStopsAtFailureAndRedelivers(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := outbox.NewOutboxRepo(db, log)
	ids := seedEvents(t, repo, 2)
	fb := &flakyBus{failNext: 1}
	d := NewDispatcher(log, repo, fb, DispatcherOptions{BatchSize: 10, MaxAttempts: 5})

	n, err := d.DispatchOnce(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Empty(t, fb.got)

	pending, err := repo.ListPending(dbctx.New(context.Background()), 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Attempts)

	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, fb.got, 2)
	assert.Equal(t, ids[0], fb.got[0].ID)
}

func TestDispatcherParksEventsPastMaxAttempts(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := outbox.NewOutboxRepo(db, log)
	seedEvents(t, repo, 1)
	fb := &flakyBus{failNext: 2}
	d := NewDispatcher(log, repo, fb, DispatcherOptions{MaxAttempts: 2})

	for i := 0; i < 2; i++ {
		_, err := d.DispatchOnce(context.Background())
		require.Error(t, err)
	}
	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, fb.got)

	requeued, err := d.RequeueParked(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, fb.got, 1)
}

func TestLogBusFansOutToForwarders(t *testing.T) {
	b := bus.NewLogBus(testutil.Logger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []bus.Message
	require.NoError(t, b.StartForwarder(ctx, func(m bus.Message) { got = append(got, m) }))
	msg := bus.Message{ID: uuid.New(), Type: events.SourceFlagged, AggregateID: uuid.New()}
	require.NoError(t, b.Publish(ctx, msg))
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].ID)

	assert.Equal(t, "document.failed", bus.SubjectToken(events.DocumentFailed))
	assert.Equal(t, "unknown", bus.SubjectToken("  "))
}
