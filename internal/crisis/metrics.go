package crisis

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for detection and escalation.
type Metrics struct {
	DetectionsTotal    *prometheus.CounterVec
	DetectDuration     *prometheus.HistogramVec
	SemanticScore      prometheus.Histogram
	EmbedFailuresTotal *prometheus.CounterVec
	ReferenceVectors   prometheus.Gauge
	EscalationsTotal   *prometheus.CounterVec
}

// NewMetrics registers and returns crisis metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DetectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_detections_total",
			Help: "Total detections by deciding pass (lexical, semantic, none).",
		}, []string{"pass"}),
		DetectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lifeline_detect_duration_seconds",
			Help:    "Duration of Detect calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms .. ~16s
		}, []string{"pass"}),
		SemanticScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifeline_semantic_max_score",
			Help:    "Highest cosine similarity per semantic pass.",
			Buckets: prometheus.LinearBuckets(0, 0.05, 21), // 0 .. 1
		}),
		EmbedFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_embed_failures_total",
			Help: "Embedding provider failures by stage (reference, chunk).",
		}, []string{"stage"}),
		ReferenceVectors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lifeline_reference_vectors",
			Help: "Reference phrase vectors loaded; 0 means semantic detection is not active.",
		}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_escalations_total",
			Help: "Escalations scheduled by source (screen, direct, tool).",
		}, []string{"source"}),
	}

	reg.MustRegister(
		m.DetectionsTotal,
		m.DetectDuration,
		m.SemanticScore,
		m.EmbedFailuresTotal,
		m.ReferenceVectors,
		m.EscalationsTotal,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnDetect: func(pass string, seconds float64) {
			m.DetectionsTotal.WithLabelValues(pass).Inc()
			m.DetectDuration.WithLabelValues(pass).Observe(seconds)
		},
		OnSemanticScore: func(score float64) {
			m.SemanticScore.Observe(score)
		},
		OnEmbedFailure: func(stage string) {
			m.EmbedFailuresTotal.WithLabelValues(stage).Inc()
		},
		OnReferencesReady: func(count int) {
			m.ReferenceVectors.Set(float64(count))
		},
		OnEscalate: func(source string) {
			m.EscalationsTotal.WithLabelValues(source).Inc()
		},
	}
}
