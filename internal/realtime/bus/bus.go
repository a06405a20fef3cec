package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hoferino/manda-platform-sub003/internal/domain/events"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// Message is the wire form of one outbox event. Consumers dedupe on ID since
// delivery is at least once.
type Message struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func FromOutbox(ev *events.OutboxEvent) Message {
	return Message{
		ID:          ev.ID,
		Type:        ev.EventType,
		AggregateID: ev.AggregateID,
		Payload:     json.RawMessage(ev.Payload),
		OccurredAt:  ev.CreatedAt.UTC(),
	}
}

type Bus interface {
	Publish(ctx context.Context, msg Message) error
	StartForwarder(ctx context.Context, onMsg func(m Message)) error
	Close() error
}

type Config struct {
	Kind         string // log | redis | nats
	RedisAddr    string
	RedisStream  string
	NATSURL      string
	NATSSubject  string
}

func New(log *logger.Logger, cfg Config) (Bus, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "log":
		return NewLogBus(log), nil
	case "redis":
		return NewRedisBus(log, cfg.RedisAddr, cfg.RedisStream)
	case "nats":
		return NewNATSBus(log, cfg.NATSURL, cfg.NATSSubject)
	default:
		return nil, fmt.Errorf("unknown event bus %q", cfg.Kind)
	}
}
