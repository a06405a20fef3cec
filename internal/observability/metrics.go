package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

// Metrics holds the pipeline's Prometheus collectors. All methods are safe to
// call on a nil receiver so call sites can use Current() unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	jobs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	candidates    *prometheus.CounterVec
	relationships *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	lockConflicts prometheus.Counter

	feedback     *prometheus.CounterVec
	sourceFlags  prometheus.Counter
	propagations *prometheus.CounterVec

	outbox     *prometheus.CounterVec
	vectorOps  *prometheus.HistogramVec
	embeddings prometheus.Counter
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Current returns the process metrics, or nil when Init has not run.
func Current() *Metrics {
	return instance
}

// Init builds the collectors once. A disabled config leaves Current() nil.
func Init(log *logger.Logger, enabled bool) *Metrics {
	if !enabled {
		return nil
	}
	initOnce.Do(func() {
		instance = newMetrics(prometheus.NewRegistry())
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

// NewForTest returns an isolated instance that is not installed as Current.
func NewForTest() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "manda_api_requests_total",
			Help: "API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "manda_api_request_duration_seconds",
			Help:    "API request latency by method, route and status.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route", "status"}),
		apiInflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "manda_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "manda_jobs_total",
			Help: "Processing job transitions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "manda_stage_duration_seconds",
			Help:    "Stage handler duration by stage and status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"stage", "status"}),
		candidates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "manda_extraction_candidates_total",
			Help: "Extraction candidates admitted or discarded.",
		}, []string{"outcome"}),
		relationships: f.NewCounterVec(prometheus.CounterOpts{
			Name: "manda_relationships_total",
			Help: "Relationships written by the resolver, by type.",
		}, []string{"type"}),
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "manda_resolutions_total",
			Help: "Resolved findings by committed status.",
		}, []string{"status"}),
		lockConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "manda_topic_lock_conflicts_total",
			Help: "Topic lock acquisitions that timed out.",
		}),
		feedback: f.NewCounterVec(prometheus.CounterOpts{
			Name: "manda_feedback_total",
			Help: "Analyst feedback actions.",
		}, []string{"action"}),
		sourceFlags: f.NewCounter(prometheus.CounterOpts{
			Name: "manda_source_flags_raised_total",
			Help: "Sources newly flagged as unreliable.",
		}),
		propagations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "manda_review_markers_total",
			Help: "Review markers written by cause and target kind.",
		}, []string{"cause", "target"}),
		outbox: f.NewCounterVec(prometheus.CounterOpts{
			Name: "manda_outbox_deliveries_total",
			Help: "Outbox deliveries by status.",
		}, []string{"status"}),
		vectorOps: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "manda_vector_op_duration_seconds",
			Help:    "Vector store call latency by operation and status.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"op", "status"}),
		embeddings: f.NewCounter(prometheus.CounterOpts{
			Name: "manda_embedded_texts_total",
			Help: "Texts sent to the embedding provider.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) APIInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) APIInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// IncJob counts claimed, acked, retried, failed and canceled jobs.
func (m *Metrics) IncJob(stage, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) ObserveStage(stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(dur.Seconds())
}

func (m *Metrics) AddCandidates(admitted, discarded int) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues("admitted").Add(float64(admitted))
	m.candidates.WithLabelValues("discarded").Add(float64(discarded))
}

func (m *Metrics) IncRelationship(relType string) {
	if m == nil {
		return
	}
	m.relationships.WithLabelValues(relType).Inc()
}

func (m *Metrics) IncResolution(status string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncLockConflict() {
	if m == nil {
		return
	}
	m.lockConflicts.Inc()
}

func (m *Metrics) IncFeedback(action string) {
	if m == nil {
		return
	}
	m.feedback.WithLabelValues(action).Inc()
}

func (m *Metrics) IncSourceFlagged() {
	if m == nil {
		return
	}
	m.sourceFlags.Inc()
}

func (m *Metrics) IncReviewMarker(cause, target string) {
	if m == nil {
		return
	}
	m.propagations.WithLabelValues(cause, target).Inc()
}

func (m *Metrics) IncOutbox(status string) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveVectorOp(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.vectorOps.WithLabelValues(op, status).Observe(dur.Seconds())
}

func (m *Metrics) AddEmbedded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.embeddings.Add(float64(n))
}
