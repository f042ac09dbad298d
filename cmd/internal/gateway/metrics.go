package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request results used as the "result" label.
const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultError    = "error"
	resultInFlight = "in_flight"
	resultClosed   = "closed"
)

// Metrics holds the gateway collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pushes   *prometheus.CounterVec
	inFlight prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "battleships",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Correlated requests by event and result.",
		}, []string{"event", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "battleships",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Time from emitting a request to receiving its response.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"event"}),
		pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "battleships",
			Subsystem: "gateway",
			Name:      "push_events_total",
			Help:      "Server push events delivered to local listeners.",
		}, []string{"event"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "battleships",
			Subsystem: "gateway",
			Name:      "requests_in_flight",
			Help:      "Requests awaiting a response.",
		}),
	}
}

func (m *Metrics) observeRequest(event, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(event, result).Inc()
	if result == resultOK || result == resultRejected {
		m.duration.WithLabelValues(event).Observe(d.Seconds())
	}
}

func (m *Metrics) countRejected(event, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(event, result).Inc()
}

func (m *Metrics) incPush(event string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(event).Inc()
}

func (m *Metrics) setInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}
