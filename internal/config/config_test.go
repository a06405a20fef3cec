package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoferino/manda-platform-sub003/internal/domain/jobs"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}, cfg.Worker.Backoff)
	assert.Equal(t, 0.9, cfg.Feedback.HumanBaseline)
	assert.Equal(t, 0.05, cfg.Feedback.ValidationBonus)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	for _, st := range jobs.Stages {
		assert.Positive(t, cfg.Worker.TimeoutFor(st))
	}
}

func TestLoadOverridesAndValidation(t *testing.T) {
	t.Setenv("JOB_BACKOFF", "2s,4s")
	t.Setenv("STAGE_TIMEOUT_EXTRACT", "45s")
	t.Setenv("REJECTION_WINDOW", "10")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Worker.TimeoutFor(jobs.StageExtract))
	assert.Equal(t, 10, cfg.Feedback.RejectionWindow)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, cfg.Worker.Backoff)

	t.Setenv("VECTOR_PROVIDER", "qdrant")
	_, err = Load(nil)
	assert.Error(t, err)
}

func TestLoadStorageProvider(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "dir", cfg.Storage.Provider)

	t.Setenv("STORAGE_PROVIDER", "GCS")
	_, err = Load(nil)
	require.Error(t, err)

	t.Setenv("GCS_BUCKET", "deal-docs")
	cfg, err = Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "gcs", cfg.Storage.Provider)
	assert.Equal(t, "deal-docs", cfg.Storage.GCSBucket)

	t.Setenv("STORAGE_PROVIDER", "s3")
	_, err = Load(nil)
	assert.Error(t, err)
}

func TestLoadDotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("WORKER_CONCURRENCY=9\nHTTP_ADDR=:9999\n"), 0o600))
	t.Setenv("HTTP_ADDR", ":7000")
	t.Cleanup(func() { _ = os.Unsetenv("WORKER_CONCURRENCY") })

	LoadDotEnv(nil, path)
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Worker.Concurrency)
	assert.Equal(t, ":7000", cfg.HTTPAddr)
}
