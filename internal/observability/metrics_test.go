package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	next:
		for _, metric := range fam.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetricsRecordPipelineCounters(t *testing.T) {
	m := NewForTest()
	m.IncJob("parse", "claimed")
	m.IncJob("parse", "claimed")
	m.IncJob("parse", "acked")
	m.AddCandidates(3, 1)
	m.IncRelationship("CONTRADICTS")
	m.ObserveStage("parse", "ok", 20*time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, m, "manda_jobs_total", map[string]string{"stage": "parse", "outcome": "claimed"}))
	assert.Equal(t, 1.0, counterValue(t, m, "manda_jobs_total", map[string]string{"outcome": "acked"}))
	assert.Equal(t, 3.0, counterValue(t, m, "manda_extraction_candidates_total", map[string]string{"outcome": "admitted"}))
	assert.Equal(t, 1.0, counterValue(t, m, "manda_extraction_candidates_total", map[string]string{"outcome": "discarded"}))
	assert.Equal(t, 1.0, counterValue(t, m, "manda_relationships_total", map[string]string{"type": "CONTRADICTS"}))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncJob("parse", "claimed")
		m.ObserveAPI("GET", "/healthz", "200", time.Millisecond)
		m.IncOutbox("delivered")
	})
	assert.Nil(t, m.Registry())
}
