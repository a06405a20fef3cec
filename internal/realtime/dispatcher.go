// Package realtime delivers committed outbox events to the event bus.
package realtime

import (
	"context"
	"time"

	"github.com/hoferino/manda-platform-sub003/internal/data/repos/outbox"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
	"github.com/hoferino/manda-platform-sub003/internal/realtime/bus"
)

type DispatcherOptions struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts parks events that keep failing; 0 retries forever.
	MaxAttempts int
}

// Dispatcher polls the outbox in creation order and publishes each pending
// event. An event is marked delivered only after Publish returns, so a crash
// in between redelivers it.
type Dispatcher struct {
	log  *logger.Logger
	repo outbox.OutboxRepo
	bus  bus.Bus
	opts DispatcherOptions
}

func NewDispatcher(baseLog *logger.Logger, repo outbox.OutboxRepo, b bus.Bus, opts DispatcherOptions) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Dispatcher{
		log:  baseLog.With("service", "OutboxDispatcher"),
		repo: repo,
		bus:  b,
		opts: opts,
	}
}

// DispatchOnce publishes up to one batch. It stops at the first publish
// failure so later events are not delivered ahead of an earlier one.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.repo.ListPending(dbctx.New(ctx), d.opts.BatchSize, d.opts.MaxAttempts)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, ev := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if err := d.bus.Publish(ctx, bus.FromOutbox(ev)); err != nil {
			observability.Current().IncOutbox("failed")
			if rerr := d.repo.RecordFailure(dbctx.New(ctx), ev.ID); rerr != nil {
				d.log.Warn("record outbox failure", "event_id", ev.ID, "error", rerr)
			}
			d.log.Warn("publish failed", "event_id", ev.ID, "type", ev.EventType, "attempts", ev.Attempts+1, "error", err)
			return delivered, err
		}
		if err := d.repo.MarkDelivered(dbctx.New(ctx), ev.ID, time.Now().UTC()); err != nil {
			return delivered, err
		}
		observability.Current().IncOutbox("delivered")
		delivered++
	}
	return delivered, nil
}

// Run dispatches until ctx is done, draining full batches back to back.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("Starting outbox dispatcher", "poll_interval", d.opts.PollInterval)
	t := time.NewTicker(d.opts.PollInterval)
	defer t.Stop()
	for {
		for {
			n, err := d.DispatchOnce(ctx)
			if err != nil && ctx.Err() == nil {
				d.log.Debug("dispatch cycle ended early", "error", err)
			}
			if err != nil || n < d.opts.BatchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			d.log.Info("Outbox dispatcher stopped")
			return nil
		case <-t.C:
		}
	}
}

// RequeueParked gives events that exhausted MaxAttempts another round.
// The scheduler calls it on the outbox retry schedule.
func (d *Dispatcher) RequeueParked(ctx context.Context) (int, error) {
	n, err := d.repo.RequeueParked(dbctx.New(ctx), d.opts.MaxAttempts)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.log.Info("requeued parked outbox events", "count", n)
	}
	return int(n), nil
}
