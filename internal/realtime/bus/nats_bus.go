package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// natsBus publishes each message on <prefix>.<event type>, so consumers can
// subscribe to one event family with a wildcard.
type natsBus struct {
	log    *logger.Logger
	nc     *nats.Conn
	prefix string
}

func NewNATSBus(log *logger.Logger, url, prefix string) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("missing NATS_URL")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "manda.knowledge"
	}
	blog := log.With("service", "NATSEventBus")
	nc, err := nats.Connect(url,
		nats.Name("manda-knowledge"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				blog.Warn("nats disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &natsBus{log: blog, nc: nc, prefix: prefix}, nil
}

func (b *natsBus) subject(eventType string) string {
	return b.prefix + "." + SubjectToken(eventType)
}

// SubjectToken turns an event type into a NATS subject suffix.
func SubjectToken(eventType string) string {
	t := strings.ToLower(strings.TrimSpace(eventType))
	t = strings.NewReplacer(" ", "_", "*", "_", ">", "_").Replace(t)
	if t == "" {
		return "unknown"
	}
	return t
}

func (b *natsBus) Publish(ctx context.Context, msg Message) error {
	if b == nil || b.nc == nil {
		return fmt.Errorf("nats event bus not initialized")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := b.nc.Publish(b.subject(msg.Type), raw); err != nil {
		return err
	}
	return b.nc.FlushWithContext(ctx)
}

func (b *natsBus) StartForwarder(ctx context.Context, onMsg func(m Message)) error {
	if b == nil || b.nc == nil {
		return fmt.Errorf("nats event bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	sub, err := b.nc.Subscribe(b.prefix+".>", func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			b.log.Warn("bad nats event payload", "subject", m.Subject, "error", err)
			return
		}
		onMsg(msg)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (b *natsBus) Close() error {
	if b == nil || b.nc == nil {
		return nil
	}
	b.nc.Close()
	return nil
}
