package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "entitlements"

// PrometheusRecorder exports metrics through a Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	creditsGranted  *prometheus.CounterVec
	creditsConsumed *prometheus.CounterVec
	plansExpired    *prometheus.CounterVec
	expiryFailures  prometheus.Counter
	sweepDuration   prometheus.Histogram
	messagesCreated *prometheus.CounterVec
	pushDelivered   *prometheus.CounterVec
	pushDropped     *prometheus.CounterVec
	pushConnections prometheus.Gauge
}

// NewPrometheus builds a recorder backed by its own registry. Process and Go
// runtime collectors are registered alongside the service metrics.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()

	p := &PrometheusRecorder{
		registry: reg,
		creditsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "grants_total",
			Help:      "Credit grants by kind and whether the grant was a replay.",
		}, []string{"kind", "duplicate"}),
		creditsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "consumes_total",
			Help:      "Consume attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		plansExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "expiry",
			Name:      "plans_expired_total",
			Help:      "Plans transitioned to expired, by reason.",
		}, []string{"reason"}),
		expiryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "expiry",
			Name:      "failures_total",
			Help:      "Plans that failed to expire during a sweep.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "expiry",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		messagesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "messages_created_total",
			Help:      "Messages created, by type.",
		}, []string{"type"}),
		pushDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "delivered_total",
			Help:      "Push frames queued to connections, by event.",
		}, []string{"event"}),
		pushDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "dropped_total",
			Help:      "Push frames dropped, by event and reason.",
		}, []string{"event", "reason"}),
		pushConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "connections",
			Help:      "Open push connections on this instance.",
		}),
	}

	reg.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
		p.creditsGranted,
		p.creditsConsumed,
		p.plansExpired,
		p.expiryFailures,
		p.sweepDuration,
		p.messagesCreated,
		p.pushDelivered,
		p.pushDropped,
		p.pushConnections,
	)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusRecorder) IncCreditGranted(kind string, duplicate bool) {
	p.creditsGranted.WithLabelValues(kind, strconv.FormatBool(duplicate)).Inc()
}

func (p *PrometheusRecorder) IncCreditConsumed(kind, outcome string) {
	p.creditsConsumed.WithLabelValues(kind, outcome).Inc()
}

func (p *PrometheusRecorder) IncPlanExpired(reason string) {
	p.plansExpired.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) IncExpiryFailure() {
	p.expiryFailures.Inc()
}

func (p *PrometheusRecorder) ObserveSweepDuration(duration time.Duration) {
	p.sweepDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncMessageCreated(msgType string) {
	p.messagesCreated.WithLabelValues(msgType).Inc()
}

func (p *PrometheusRecorder) IncPushDelivered(event string) {
	p.pushDelivered.WithLabelValues(event).Inc()
}

func (p *PrometheusRecorder) IncPushDropped(event, reason string) {
	p.pushDropped.WithLabelValues(event, reason).Inc()
}

func (p *PrometheusRecorder) AddPushConnections(delta int64) {
	p.pushConnections.Add(float64(delta))
}
