// Package metrics owns the Prometheus registry and the counters every
// component reports into. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vigil"

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	logins          *prometheus.CounterVec
	logouts         *prometheus.CounterVec
	guardRejections *prometheus.CounterVec
	partnerNotify   *prometheus.CounterVec
	partnerLatency  prometheus.Histogram
	partnerInflight prometheus.Gauge
	feedClients     prometheus.Gauge
	httpRequests    *prometheus.CounterVec
}

// New builds a registry with process/Go collectors plus vigil's own.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		reg: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "session_ends_total",
			Help:      "Closed sessions by end reason.",
		}, []string{"reason"}),
		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "rejections_total",
			Help:      "Requests rejected by the session guard.",
		}, []string{"reason"}),
		partnerNotify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "partner",
			Name:      "notifications_total",
			Help:      "Outbound partner logout notifications by outcome.",
		}, []string{"outcome"}),
		partnerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "partner",
			Name:      "notification_seconds",
			Help:      "Latency of outbound partner logout notifications.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		partnerInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "partner",
			Name:      "notifications_in_flight",
			Help:      "Partner notifications currently being sent.",
		}),
		feedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Connected presence feed clients.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by status class.",
		}, []string{"class"}),
	}
	reg.MustRegister(
		m.logins,
		m.logouts,
		m.guardRejections,
		m.partnerNotify,
		m.partnerLatency,
		m.partnerInflight,
		m.feedClients,
		m.httpRequests,
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SessionEnded(reason string) {
	if m != nil {
		m.logouts.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) GuardRejected(reason string) {
	if m != nil {
		m.guardRejections.WithLabelValues(reason).Inc()
	}
}

// PartnerNotified records one finished notification.
func (m *Metrics) PartnerNotified(outcome string, took time.Duration) {
	if m != nil {
		m.partnerNotify.WithLabelValues(outcome).Inc()
		m.partnerLatency.Observe(took.Seconds())
	}
}

func (m *Metrics) PartnerInflight(delta float64) {
	if m != nil {
		m.partnerInflight.Add(delta)
	}
}

func (m *Metrics) FeedClients(delta float64) {
	if m != nil {
		m.feedClients.Add(delta)
	}
}

// HTTPRequest counts a response by status class ("2xx", "4xx", ...).
func (m *Metrics) HTTPRequest(status int) {
	if m == nil {
		return
	}
	class := "other"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	case status >= 200:
		class = "2xx"
	}
	m.httpRequests.WithLabelValues(class).Inc()
}
