package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/hoferino/manda-platform-sub003/internal/config"
	"github.com/hoferino/manda-platform-sub003/internal/ingestion/parser"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/extraction"
	"github.com/hoferino/manda-platform-sub003/internal/modules/knowledge/index"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
	"github.com/hoferino/manda-platform-sub003/internal/platform/openai"
	"github.com/hoferino/manda-platform-sub003/internal/platform/qdrant"
	"github.com/hoferino/manda-platform-sub003/internal/platform/vectorstore"
)

type ProviderConfigErrorCode string

const (
	ProviderConfigErrorUnknownEmbedder  ProviderConfigErrorCode = "unknown_embedder"
	ProviderConfigErrorUnknownExtractor ProviderConfigErrorCode = "unknown_extractor"
	ProviderConfigErrorUnknownVector    ProviderConfigErrorCode = "unknown_vector_provider"
	ProviderConfigErrorMissingClient    ProviderConfigErrorCode = "missing_client"
	ProviderConfigErrorVectorBootstrap  ProviderConfigErrorCode = "vector_bootstrap_failed"
	ProviderConfigErrorUnknownStorage   ProviderConfigErrorCode = "unknown_storage_provider"
)

type ProviderConfigError struct {
	Code     ProviderConfigErrorCode
	Provider string
	Cause    error
}

func (e *ProviderConfigError) Error() string {
	if e == nil {
		return "invalid provider config"
	}
	return fmt.Sprintf("invalid provider config (code=%s provider=%q): %v", e.Code, e.Provider, e.Cause)
}

func (e *ProviderConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func resolveEmbedder(cfg config.Config, c *openai.Client) (index.Embedder, error) {
	switch cfg.EmbedderProvider {
	case "", "hash":
		return index.NewHashEmbedder(cfg.Index.HashDim), nil
	case "openai":
		if c == nil {
			return nil, &ProviderConfigError{Code: ProviderConfigErrorMissingClient, Provider: "openai", Cause: fmt.Errorf("openai client not configured")}
		}
		return openai.NewEmbedder(c), nil
	default:
		return nil, &ProviderConfigError{
			Code:     ProviderConfigErrorUnknownEmbedder,
			Provider: cfg.EmbedderProvider,
			Cause:    fmt.Errorf("EMBEDDER_PROVIDER must be hash or openai"),
		}
	}
}

func resolveExtractor(cfg config.Config, c *openai.Client) (extraction.Provider, error) {
	switch cfg.ExtractorProvider {
	case "", "pattern":
		return extraction.PatternExtractor{}, nil
	case "openai":
		if c == nil {
			return nil, &ProviderConfigError{Code: ProviderConfigErrorMissingClient, Provider: "openai", Cause: fmt.Errorf("openai client not configured")}
		}
		return openai.NewExtractor(c), nil
	default:
		return nil, &ProviderConfigError{
			Code:     ProviderConfigErrorUnknownExtractor,
			Provider: cfg.ExtractorProvider,
			Cause:    fmt.Errorf("EXTRACTOR_PROVIDER must be pattern or openai"),
		}
	}
}

// indexDim is the width vectors are stored at: the embedder's own width,
// capped at MaxDim.
func indexDim(cfg config.IndexConfig, e index.Embedder) int {
	maxDim := cfg.MaxDim
	if maxDim <= 0 {
		maxDim = 1024
	}
	if d := e.Dimensions(); d > 0 && d < maxDim {
		return d
	}
	return maxDim
}

func resolveVectorStore(ctx context.Context, log *logger.Logger, cfg config.IndexConfig, dim int) (vectorstore.Store, error) {
	switch cfg.Provider {
	case "", "memory":
		log.Info("In-memory vector store selected", "vector_dim", dim)
		return instrumentVectorStore("memory", vectorstore.NewMemoryStore()), nil
	case "qdrant":
		s, err := qdrant.NewStore(ctx, log, qdrant.Config{
			URL:             cfg.QdrantURL,
			Collection:      cfg.QdrantCollection,
			APIKey:          cfg.QdrantAPIKey,
			VectorDim:       dim,
			Timeout:         cfg.QdrantTimeout,
			CreateIfMissing: true,
		})
		if err != nil {
			return nil, &ProviderConfigError{Code: ProviderConfigErrorVectorBootstrap, Provider: "qdrant", Cause: err}
		}
		return instrumentVectorStore("qdrant", s), nil
	default:
		return nil, &ProviderConfigError{
			Code:     ProviderConfigErrorUnknownVector,
			Provider: cfg.Provider,
			Cause:    fmt.Errorf("VECTOR_PROVIDER must be memory or qdrant"),
		}
	}
}

func resolveFetcher(log *logger.Logger, cfg config.StorageConfig, sc *storage.Client) (parser.Fetcher, error) {
	switch cfg.Provider {
	case "", "dir":
		log.Info("Directory document storage selected", "root", cfg.Root)
		return parser.DirFetcher{Root: cfg.Root}, nil
	case "gcs":
		if sc == nil {
			return nil, &ProviderConfigError{Code: ProviderConfigErrorMissingClient, Provider: "gcs", Cause: fmt.Errorf("storage client not configured")}
		}
		log.Info("GCS document storage selected", "bucket", cfg.GCSBucket)
		return parser.BucketFetcher{Bucket: cfg.GCSBucket, Objects: parser.GCSObjects{Client: sc}}, nil
	default:
		return nil, &ProviderConfigError{
			Code:     ProviderConfigErrorUnknownStorage,
			Provider: cfg.Provider,
			Cause:    fmt.Errorf("STORAGE_PROVIDER must be dir or gcs"),
		}
	}
}
