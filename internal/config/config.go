package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hoferino/manda-platform-sub003/internal/data/db"
	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/envutil"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type WorkerConfig struct {
	ID                string
	Concurrency       int
	PollInterval      time.Duration
	Lease             time.Duration
	HeartbeatInterval time.Duration
	MaxAttempts       int
	Backoff           []time.Duration
	StageTimeouts     map[jobs.Stage]time.Duration
	ReaperSchedule    string
}

type IndexConfig struct {
	Provider         string // memory | qdrant
	MaxDim           int
	HashDim          int
	ProjectionSeed   int64
	QdrantURL        string
	QdrantCollection string
	QdrantAPIKey     string
	QdrantTimeout    time.Duration
}

type OpenAIConfig struct {
	APIKey        string
	BaseURL       string
	EmbedModel    string
	EmbedDim      int
	ChatModel     string
	RatePerSecond float64
	Burst         int
	BatchSize     int
	Timeout       time.Duration
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type StorageConfig struct {
	Provider     string // dir | gcs
	Root         string
	GCSBucket    string
	Credentials  string
	EmulatorHost string
}

type EventsConfig struct {
	Bus           string // log | redis | nats
	RedisAddr     string
	RedisStream   string
	NATSURL       string
	NATSSubject   string
	PollInterval  time.Duration
	BatchSize     int
	MaxAttempts   int
	RetrySchedule string
}

type FeedbackConfig struct {
	RejectionThreshold float64
	RejectionMinSample int
	RejectionWindow    int
	HumanBaseline      float64
	ValidationBonus    float64
	SweepSchedule      string
}

type Config struct {
	LogMode           string
	HTTPAddr          string
	CORSOrigins       []string
	EmbedderProvider  string // hash | openai
	ExtractorProvider string // pattern | openai
	RulesPath         string
	TopicLockTimeout  time.Duration
	TopicLockRetries  int
	MetricsEnabled    bool

	DB       db.Config
	Worker   WorkerConfig
	Index    IndexConfig
	OpenAI   OpenAIConfig
	Neo4j    Neo4jConfig
	Storage  StorageConfig
	Events   EventsConfig
	Feedback FeedbackConfig
	Otel     observability.OtelConfig
}

// LoadDotEnv loads .env style files when present. Missing files are ignored;
// variables already set in the process environment win.
func LoadDotEnv(log *logger.Logger, files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil && log != nil {
			log.Warn("failed to load env file", "file", f, "error", err)
		}
	}
}

func Load(log *logger.Logger) (Config, error) {
	hostname, _ := os.Hostname()
	cfg := Config{
		LogMode:           envutil.String("LOG_MODE", "development"),
		HTTPAddr:          envutil.String("HTTP_ADDR", ":8080"),
		CORSOrigins:       envutil.Strings("HTTP_CORS_ORIGINS", []string{"http://localhost:3000", "http://127.0.0.1:3000"}),
		EmbedderProvider:  strings.ToLower(envutil.String("EMBEDDER_PROVIDER", "hash")),
		ExtractorProvider: strings.ToLower(envutil.String("EXTRACTOR_PROVIDER", "pattern")),
		RulesPath:         envutil.String("KNOWLEDGE_RULES_PATH", ""),
		TopicLockTimeout:  envutil.Duration("TOPIC_LOCK_TIMEOUT", 5*time.Second),
		TopicLockRetries:  envutil.Int("TOPIC_LOCK_RETRIES", 3),
		MetricsEnabled:    envutil.Bool("METRICS_ENABLED", true),
		DB: db.Config{
			Driver:           strings.ToLower(envutil.String("DATABASE_DRIVER", "sqlite")),
			PostgresHost:     envutil.String("POSTGRES_HOST", "localhost"),
			PostgresPort:     envutil.String("POSTGRES_PORT", "5432"),
			PostgresUser:     envutil.String("POSTGRES_USER", "postgres"),
			PostgresPassword: envutil.String("POSTGRES_PASSWORD", ""),
			PostgresName:     envutil.String("POSTGRES_NAME", "manda"),
			SQLitePath:       envutil.String("SQLITE_PATH", ""),
			SlowThreshold:    envutil.Duration("DB_SLOW_THRESHOLD", 500*time.Millisecond),
		},
		Worker: WorkerConfig{
			ID:                envutil.String("WORKER_ID", hostname),
			Concurrency:       envutil.Int("WORKER_CONCURRENCY", 4),
			PollInterval:      envutil.Duration("WORKER_POLL_INTERVAL", 500*time.Millisecond),
			Lease:             envutil.Duration("JOB_LEASE_SECONDS", 60*time.Second),
			HeartbeatInterval: envutil.Duration("JOB_HEARTBEAT_INTERVAL", 15*time.Second),
			MaxAttempts:       envutil.Int("JOB_MAX_ATTEMPTS", 3),
			Backoff:           envutil.Durations("JOB_BACKOFF", []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}),
			StageTimeouts:     map[jobs.Stage]time.Duration{},
			ReaperSchedule:    envutil.String("JOB_REAPER_SCHEDULE", "@every 30s"),
		},
		Index: IndexConfig{
			Provider:         strings.ToLower(envutil.String("VECTOR_PROVIDER", "memory")),
			MaxDim:           envutil.Int("INDEX_MAX_DIM", 1024),
			HashDim:          envutil.Int("HASH_EMBED_DIM", 256),
			ProjectionSeed:   int64(envutil.Int("INDEX_PROJECTION_SEED", 20240901)),
			QdrantURL:        envutil.String("QDRANT_URL", ""),
			QdrantCollection: envutil.String("QDRANT_COLLECTION", "manda_knowledge"),
			QdrantAPIKey:     envutil.String("QDRANT_API_KEY", ""),
			QdrantTimeout:    envutil.Duration("QDRANT_TIMEOUT", 10*time.Second),
		},
		OpenAI: OpenAIConfig{
			APIKey:        envutil.String("OPENAI_API_KEY", ""),
			BaseURL:       envutil.String("OPENAI_BASE_URL", ""),
			EmbedModel:    envutil.String("OPENAI_EMBED_MODEL", "text-embedding-3-large"),
			EmbedDim:      envutil.Int("OPENAI_EMBED_DIM", 0),
			ChatModel:     envutil.String("OPENAI_MODEL", "gpt-4o-mini"),
			RatePerSecond: envutil.Float("EMBED_RATE_PER_SEC", 5),
			Burst:         envutil.Int("EMBED_RATE_BURST", 5),
			BatchSize:     envutil.Int("EMBED_BATCH_SIZE", 64),
			Timeout:       envutil.Duration("OPENAI_TIMEOUT", 60*time.Second),
		},
		Neo4j: Neo4jConfig{
			URI:      envutil.String("NEO4J_URI", ""),
			Username: envutil.String("NEO4J_USER", "neo4j"),
			Password: envutil.String("NEO4J_PASSWORD", ""),
			Database: envutil.String("NEO4J_DATABASE", ""),
		},
		Storage: StorageConfig{
			Provider:     strings.ToLower(envutil.String("STORAGE_PROVIDER", "dir")),
			Root:         envutil.String("STORAGE_ROOT", "."),
			GCSBucket:    envutil.String("GCS_BUCKET", ""),
			Credentials:  envutil.String("GOOGLE_APPLICATION_CREDENTIALS", ""),
			EmulatorHost: envutil.String("STORAGE_EMULATOR_HOST", ""),
		},
		Events: EventsConfig{
			Bus:           strings.ToLower(envutil.String("EVENT_BUS", "log")),
			RedisAddr:     envutil.String("REDIS_ADDR", "localhost:6379"),
			RedisStream:   envutil.String("REDIS_STREAM", "manda.knowledge"),
			NATSURL:       envutil.String("NATS_URL", "nats://127.0.0.1:4222"),
			NATSSubject:   envutil.String("NATS_SUBJECT", "manda.knowledge"),
			PollInterval:  envutil.Duration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:     envutil.Int("OUTBOX_BATCH_SIZE", 100),
			MaxAttempts:   envutil.Int("OUTBOX_MAX_ATTEMPTS", 20),
			RetrySchedule: envutil.String("OUTBOX_RETRY_SCHEDULE", "@every 1m"),
		},
		Feedback: FeedbackConfig{
			RejectionThreshold: envutil.Float("REJECTION_RATE_THRESHOLD", 0.5),
			RejectionMinSample: envutil.Int("REJECTION_MIN_SAMPLE", 5),
			RejectionWindow:    envutil.Int("REJECTION_WINDOW", 50),
			HumanBaseline:      envutil.Float("HUMAN_BASELINE_CONFIDENCE", 0.9),
			ValidationBonus:    envutil.Float("VALIDATION_BONUS", 0.05),
			SweepSchedule:      envutil.String("SOURCE_FLAG_SWEEP_SCHEDULE", "@every 5m"),
		},
		Otel: observability.OtelConfig{
			Enabled:     envutil.Bool("OTEL_ENABLED", false),
			ServiceName: envutil.String("OTEL_SERVICE_NAME", "manda-knowledge"),
			Environment: envutil.String("OTEL_ENVIRONMENT", "development"),
			Version:     envutil.String("OTEL_SERVICE_VERSION", "dev"),
			Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:     observability.ParseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio: envutil.Float("OTEL_SAMPLE_RATIO", 1),
		},
	}
	defaultTimeout := envutil.Duration("STAGE_TIMEOUT", 2*time.Minute)
	for _, st := range jobs.Stages {
		cfg.Worker.StageTimeouts[st] = envutil.Duration("STAGE_TIMEOUT_"+strings.ToUpper(string(st)), defaultTimeout)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if log != nil {
		log.Info("config loaded",
			"db_driver", cfg.DB.Driver,
			"vector_provider", cfg.Index.Provider,
			"storage_provider", cfg.Storage.Provider,
			"embedder", cfg.EmbedderProvider,
			"extractor", cfg.ExtractorProvider,
			"event_bus", cfg.Events.Bus,
			"workers", cfg.Worker.Concurrency,
		)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DB.Driver)
	}
	switch c.Index.Provider {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("VECTOR_PROVIDER must be memory or qdrant, got %q", c.Index.Provider)
	}
	if c.Index.Provider == "qdrant" && strings.TrimSpace(c.Index.QdrantURL) == "" {
		return fmt.Errorf("QDRANT_URL is required when VECTOR_PROVIDER=qdrant")
	}
	switch c.Storage.Provider {
	case "dir", "gcs":
	default:
		return fmt.Errorf("STORAGE_PROVIDER must be dir or gcs, got %q", c.Storage.Provider)
	}
	if c.Storage.Provider == "gcs" && strings.TrimSpace(c.Storage.GCSBucket) == "" {
		return fmt.Errorf("GCS_BUCKET is required when STORAGE_PROVIDER=gcs")
	}
	switch c.EmbedderProvider {
	case "hash", "openai":
	default:
		return fmt.Errorf("EMBEDDER_PROVIDER must be hash or openai, got %q", c.EmbedderProvider)
	}
	switch c.ExtractorProvider {
	case "pattern", "openai":
	default:
		return fmt.Errorf("EXTRACTOR_PROVIDER must be pattern or openai, got %q", c.ExtractorProvider)
	}
	if (c.EmbedderProvider == "openai" || c.ExtractorProvider == "openai") && c.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
	}
	switch c.Events.Bus {
	case "log", "redis", "nats":
	default:
		return fmt.Errorf("EVENT_BUS must be log, redis or nats, got %q", c.Events.Bus)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be positive")
	}
	if c.Worker.Lease <= 0 {
		return fmt.Errorf("JOB_LEASE_SECONDS must be positive")
	}
	if c.Index.MaxDim <= 0 || c.Index.HashDim <= 0 {
		return fmt.Errorf("INDEX_MAX_DIM and HASH_EMBED_DIM must be positive")
	}
	if c.Feedback.RejectionThreshold <= 0 || c.Feedback.RejectionThreshold > 1 {
		return fmt.Errorf("REJECTION_RATE_THRESHOLD must be in (0,1]")
	}
	if c.Feedback.HumanBaseline < 0 || c.Feedback.HumanBaseline > 1 {
		return fmt.Errorf("HUMAN_BASELINE_CONFIDENCE must be in [0,1]")
	}
	return nil
}

func (w WorkerConfig) TimeoutFor(stage jobs.Stage) time.Duration {
	if d, ok := w.StageTimeouts[stage]; ok && d > 0 {
		return d
	}
	return 2 * time.Minute
}
