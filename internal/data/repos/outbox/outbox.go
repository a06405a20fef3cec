package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/hoferino/manda-platform-sub003/internal/domain/events"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/dbctx"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// OutboxRepo stores domain events in the same transaction as the state change
// that produced them. Delivery is tracked separately so publishing is
// at-least-once.
type OutboxRepo interface {
	Append(dbc dbctx.Context, eventType string, aggregateID uuid.UUID, payload any) (*events.OutboxEvent, error)
	ListPending(dbc dbctx.Context, limit, maxAttempts int) ([]*events.OutboxEvent, error)
	ListByAggregate(dbc dbctx.Context, aggregateID uuid.UUID) ([]*events.OutboxEvent, error)
	MarkDelivered(dbc dbctx.Context, id uuid.UUID, at time.Time) error
	RecordFailure(dbc dbctx.Context, id uuid.UUID) error
	// RequeueParked resets the attempt count of undelivered events that hit
	// maxAttempts so the dispatcher picks them up again.
	RequeueParked(dbc dbctx.Context, maxAttempts int) (int64, error)
}

type outboxRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOutboxRepo(db *gorm.DB, baseLog *logger.Logger) OutboxRepo {
	return &outboxRepo{db: db, log: baseLog.With("repo", "OutboxRepo")}
}

func (r *outboxRepo) Append(dbc dbctx.Context, eventType string, aggregateID uuid.UUID, payload any) (*events.OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	ev := &events.OutboxEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     datatypes.JSON(raw),
		CreatedAt:   time.Now().UTC(),
	}
	if err := dbc.Conn(r.db).Create(ev).Error; err != nil {
		return nil, err
	}
	return ev, nil
}

func (r *outboxRepo) ListPending(dbc dbctx.Context, limit, maxAttempts int) ([]*events.OutboxEvent, error) {
	q := dbc.Conn(r.db).Where("delivered_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	if limit <= 0 {
		limit = 100
	}
	var out []*events.OutboxEvent
	if err := q.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *outboxRepo) ListByAggregate(dbc dbctx.Context, aggregateID uuid.UUID) ([]*events.OutboxEvent, error) {
	var out []*events.OutboxEvent
	if err := dbc.Conn(r.db).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at ASC").Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *outboxRepo) MarkDelivered(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	return dbc.Conn(r.db).
		Model(&events.OutboxEvent{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Updates(map[string]interface{}{
			"delivered_at": at.UTC(),
			"attempts":     gorm.Expr("attempts + 1"),
		}).Error
}

func (r *outboxRepo) RecordFailure(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.Conn(r.db).
		Model(&events.OutboxEvent{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

func (r *outboxRepo) RequeueParked(dbc dbctx.Context, maxAttempts int) (int64, error) {
	if maxAttempts <= 0 {
		return 0, nil
	}
	res := dbc.Conn(r.db).
		Model(&events.OutboxEvent{}).
		Where("delivered_at IS NULL AND attempts >= ?", maxAttempts).
		UpdateColumn("attempts", 0)
	return res.RowsAffected, res.Error
}
