package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeRedactsSecretsAndHashesActors(t *testing.T) {
	log, logs := NewObserved()
	log.Info("feedback", "actor", "analyst-7", "openai_api_key", "sk-123", "finding_id", "f-1")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["openai_api_key"])
	assert.Equal(t, "f-1", fields["finding_id"])
	actor, _ := fields["actor"].(string)
	assert.True(t, strings.HasPrefix(actor, "hash:"), actor)
	assert.NotContains(t, actor, "analyst-7")
}

func TestWithKeepsSanitizedContext(t *testing.T) {
	log, logs := NewObserved()
	log.With("service", "FeedbackEngine", "reviewer_actor", "a-1").Warn("flagged")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "FeedbackEngine", fields["service"])
	assert.NotEqual(t, "a-1", fields["reviewer_actor"])
}
