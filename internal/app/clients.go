package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/hoferino/manda-platform-sub003/internal/config"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
	"github.com/hoferino/manda-platform-sub003/internal/platform/gcs"
	"github.com/hoferino/manda-platform-sub003/internal/platform/neo4jdb"
	"github.com/hoferino/manda-platform-sub003/internal/platform/openai"
	"github.com/hoferino/manda-platform-sub003/internal/realtime/bus"
)

// Clients are the external connections. Optional ones stay nil when not
// configured.
type Clients struct {
	OpenAI  *openai.Client
	Neo4j   *neo4jdb.Client
	Bus     bus.Bus
	Storage *storage.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg config.Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	// OpenAI
	if cfg.EmbedderProvider == "openai" || cfg.ExtractorProvider == "openai" {
		c, err := openai.NewClient(log, openai.Config{
			APIKey:        cfg.OpenAI.APIKey,
			BaseURL:       cfg.OpenAI.BaseURL,
			EmbedModel:    cfg.OpenAI.EmbedModel,
			EmbedDim:      cfg.OpenAI.EmbedDim,
			ChatModel:     cfg.OpenAI.ChatModel,
			RatePerSecond: cfg.OpenAI.RatePerSecond,
			Burst:         cfg.OpenAI.Burst,
			Timeout:       cfg.OpenAI.Timeout,
		})
		if err != nil {
			return Clients{}, fmt.Errorf("init openai client: %w", err)
		}
		out.OpenAI = c
	}

	// Neo4j
	n4j, err := neo4jdb.New(ctx, log, neo4jdb.Config{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.Username,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	})
	if err != nil {
		return Clients{}, fmt.Errorf("init neo4j: %w", err)
	}
	out.Neo4j = n4j

	// Event bus
	b, err := bus.New(log, bus.Config{
		Kind:         cfg.Events.Bus,
		RedisAddr:    cfg.Events.RedisAddr,
		RedisStream:  cfg.Events.RedisStream,
		NATSURL:      cfg.Events.NATSURL,
		NATSSubject:  cfg.Events.NATSSubject,
	})
	if err != nil {
		out.Close(ctx)
		return Clients{}, fmt.Errorf("init event bus: %w", err)
	}
	out.Bus = b

	// Object storage
	if cfg.Storage.Provider == "gcs" {
		sc, err := gcs.NewClient(ctx, log, gcs.Config{
			Bucket:       cfg.Storage.GCSBucket,
			Credentials:  cfg.Storage.Credentials,
			EmulatorHost: cfg.Storage.EmulatorHost,
		})
		if err != nil {
			out.Close(ctx)
			return Clients{}, fmt.Errorf("init object storage: %w", err)
		}
		out.Storage = sc
	}

	return out, nil
}

func (c *Clients) Close(ctx context.Context) {
	if c == nil {
		return
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Neo4j != nil {
		_ = c.Neo4j.Close(ctx)
	}
}
