package render

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/webrender/webrender/api/schemas"
)

// outcomeOK labels successful renders.
const outcomeOK = "OK"

// Metrics are the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	renders        *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	activeSessions prometheus.Gauge
	navRetries     prometheus.Counter
}

// NewMetrics registers the engine's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		renders: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webrender",
			Name:      "renders_total",
			Help:      "Renders by outcome: OK or the failure's error code.",
		}, []string{"outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "webrender",
			Name:      "render_duration_seconds",
			Help:      "Wall time of a render from admission to page release.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 60},
		}, []string{"outcome"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "webrender",
			Name:      "sessions_active",
			Help:      "Pages currently open for a render.",
		}),
		navRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "webrender",
			Name:      "evaluation_navigation_retries_total",
			Help:      "Evaluations retried because the page navigated under them.",
		}),
	}
}

func (m *Metrics) observe(out schemas.RenderOutcome, took time.Duration) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if out.Failure != nil {
		outcome = string(out.Failure.Code)
	}
	m.renders.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(took.Seconds())
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) navigationRetried() {
	if m != nil {
		m.navRetries.Inc()
	}
}
