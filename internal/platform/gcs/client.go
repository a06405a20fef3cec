// Package gcs opens the Cloud Storage client documents are fetched through.
package gcs

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type Config struct {
	Bucket string
	// Credentials is a service-account JSON document or a path to one. Empty
	// falls back to application default credentials.
	Credentials string
	// EmulatorHost points the client at a fake-gcs-server style emulator.
	EmulatorHost string
}

// ClientOptions turns cfg into storage client options, read-only scoped.
func ClientOptions(cfg Config) []option.ClientOption {
	if host := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"); host != "" {
		return []option.ClientOption{option.WithoutAuthentication()}
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadOnly)}
	creds := strings.TrimSpace(cfg.Credentials)
	switch {
	case creds == "":
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	default:
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}

func NewClient(ctx context.Context, log *logger.Logger, cfg Config) (*storage.Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	if host := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"); host != "" {
		// the storage client only reads the emulator address from the environment
		_ = os.Setenv("STORAGE_EMULATOR_HOST", host)
	}
	c, err := storage.NewClient(ctx, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	log.With("client", "GCS").Info("Object storage initialized",
		"bucket", cfg.Bucket,
		"emulator_host", cfg.EmulatorHost,
	)
	return c, nil
}
