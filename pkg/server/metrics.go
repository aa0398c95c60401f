package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one server. Each server owns its
// registry so several servers can live in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal prometheus.Counter
	activeSessions   prometheus.Gauge
	framesTotal      *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	decisionsTotal   *prometheus.CounterVec
	ruleHits         *prometheus.CounterVec
	ruleErrors       *prometheus.CounterVec
	frameDuration    prometheus.Histogram
}

// NewMetrics creates and registers all collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fraudengine",
			Name:      "connections_total",
			Help:      "Accepted ISO 8583 connections",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fraudengine",
			Name:      "active_sessions",
			Help:      "Currently open sessions",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraudengine",
			Name:      "frames_total",
			Help:      "Frames processed by direction",
		}, []string{"direction"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraudengine",
			Name:      "decode_errors_total",
			Help:      "Frames that failed to decode, by error kind",
		}, []string{"kind"}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraudengine",
			Name:      "decisions_total",
			Help:      "Responses sent, by response code",
		}, []string{"response_code"}),
		ruleHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraudengine",
			Name:      "rule_hits_total",
			Help:      "Transactions flagged, by rule",
		}, []string{"rule"}),
		ruleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fraudengine",
			Name:      "rule_errors_total",
			Help:      "Rule evaluation failures, by rule",
		}, []string{"rule"}),
		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fraudengine",
			Name:      "frame_duration_seconds",
			Help:      "Time from frame read to response written",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}

	m.registry.MustRegister(
		m.connectionsTotal,
		m.activeSessions,
		m.framesTotal,
		m.decodeErrors,
		m.decisionsTotal,
		m.ruleHits,
		m.ruleErrors,
		m.frameDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordConnection()                   { m.connectionsTotal.Inc() }
func (m *Metrics) RecordActiveSessions(count int)      { m.activeSessions.Set(float64(count)) }
func (m *Metrics) RecordFrameIn()                      { m.framesTotal.WithLabelValues("in").Inc() }
func (m *Metrics) RecordFrameOut()                     { m.framesTotal.WithLabelValues("out").Inc() }
func (m *Metrics) RecordDecodeError(kind string)       { m.decodeErrors.WithLabelValues(kind).Inc() }
func (m *Metrics) RecordDecision(code string)          { m.decisionsTotal.WithLabelValues(code).Inc() }
func (m *Metrics) RecordFrameDuration(d time.Duration) { m.frameDuration.Observe(d.Seconds()) }

// RuleHit implements fraud.RuleObserver
func (m *Metrics) RuleHit(rule string) { m.ruleHits.WithLabelValues(rule).Inc() }

// RuleError implements fraud.RuleObserver
func (m *Metrics) RuleError(rule string) { m.ruleErrors.WithLabelValues(rule).Inc() }
