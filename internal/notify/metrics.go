package notify

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for alert delivery.
type Metrics struct {
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	ExhaustedTotal  prometheus.Counter
}

// NewMetrics registers and returns notify metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_alert_attempts_total",
			Help: "Alert channel attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		AttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lifeline_alert_attempt_duration_seconds",
			Help:    "Duration of alert channel attempts in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}, []string{"channel"}),
		ExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_alerts_undelivered_total",
			Help: "Alerts for which every channel failed.",
		}),
	}

	reg.MustRegister(m.AttemptsTotal, m.AttemptDuration, m.ExhaustedTotal)
	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnAttempt: func(channel, outcome string, seconds float64) {
			m.AttemptsTotal.WithLabelValues(channel, outcome).Inc()
			m.AttemptDuration.WithLabelValues(channel).Observe(seconds)
		},
		OnExhausted: func() {
			m.ExhaustedTotal.Inc()
		},
	}
}
