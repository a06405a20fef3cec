package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

const (
	redisStreamMaxLen = 10000
	redisReadBlock    = 2 * time.Second
)

// redisBus appends each message to a capped Redis stream. Readers tail the
// stream from the moment they attach.
type redisBus struct {
	log    *logger.Logger
	rdb    *goredis.Client
	stream string
}

func NewRedisBus(log *logger.Logger, addr, stream string) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	stream = strings.TrimSpace(stream)
	if stream == "" {
		stream = "manda.knowledge"
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisBus{log: log.With("service", "RedisEventBus", "stream", stream), rdb: rdb, stream: stream}, nil
}

func (b *redisBus) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: b.stream,
		MaxLen: redisStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"id":   msg.ID.String(),
			"type": msg.Type,
			"body": string(raw),
		},
	}).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m Message)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	go func() {
		last := "$"
		for ctx.Err() == nil {
			res, err := b.rdb.XRead(ctx, &goredis.XReadArgs{
				Streams: []string{b.stream, last},
				Block:   redisReadBlock,
				Count:   100,
			}).Result()
			if err != nil {
				if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
					continue
				}
				b.log.Warn("stream read failed", "error", err)
				time.Sleep(redisReadBlock)
				continue
			}
			for _, s := range res {
				for _, entry := range s.Messages {
					last = entry.ID
					body, _ := entry.Values["body"].(string)
					var msg Message
					if err := json.Unmarshal([]byte(body), &msg); err != nil {
						b.log.Warn("bad stream entry", "entry_id", entry.ID, "error", err)
						continue
					}
					onMsg(msg)
				}
			}
		}
	}()
	return nil
}

func (b *redisBus) Close() error {
	return b.rdb.Close()
}
