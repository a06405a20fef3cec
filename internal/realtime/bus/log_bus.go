package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// logBus logs every message and fans it out in process. It is the default
// for single-node runs and tests.
type logBus struct {
	log  *logger.Logger
	mu   sync.RWMutex
	subs []func(Message)
}

func NewLogBus(log *logger.Logger) Bus {
	return &logBus{log: log.With("service", "LogEventBus")}
}

func (b *logBus) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.log.Info("event", "event_id", msg.ID, "type", msg.Type, "aggregate_id", msg.AggregateID)
	b.mu.RLock()
	subs := append([]func(Message){}, b.subs...)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(msg)
	}
	return nil
}

func (b *logBus) StartForwarder(ctx context.Context, onMsg func(m Message)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	b.subs = append(b.subs, onMsg)
	idx := len(b.subs) - 1
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if idx < len(b.subs) {
			b.subs[idx] = func(Message) {}
		}
		b.mu.Unlock()
	}()
	return nil
}

func (b *logBus) Close() error { return nil }
