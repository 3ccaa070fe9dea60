package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smsrelay"

// Metrics holds the sync engine collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	relayRequests  *prometheus.CounterVec
	deltasApplied  *prometheus.CounterVec
	outboxDepth    prometheus.Gauge
	outboxReplayed *prometheus.CounterVec
	bulkRecords    *prometheus.CounterVec
	mediaTransfers *prometheus.CounterVec
	mediaBytes     *prometheus.CounterVec
}

// New registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		relayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_requests_total",
			Help:      "Relay REST calls by entity, operation and outcome.",
		}, []string{"entity", "operation", "status"}),
		deltasApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_total",
			Help:      "Pushed delta operations by name and result.",
		}, []string{"operation", "result"}),
		outboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_depth",
			Help:      "Requests waiting in the outbox at the last drain.",
		}),
		outboxReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_replays_total",
			Help:      "Outbox replays by kind and result.",
		}, []string{"kind", "result"}),
		bulkRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_records_total",
			Help:      "Records moved by bulk upload or download.",
		}, []string{"direction", "entity"}),
		mediaTransfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_transfers_total",
			Help:      "Media blob transfers by direction and result.",
		}, []string{"direction", "result"}),
		mediaBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_bytes_total",
			Help:      "Media bytes transferred.",
		}, []string{"direction"}),
	}
	m.registry.MustRegister(
		m.relayRequests,
		m.deltasApplied,
		m.outboxDepth,
		m.outboxReplayed,
		m.bulkRecords,
		m.mediaTransfers,
		m.mediaBytes,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RelayRequest(entity, operation, status string) {
	if m == nil {
		return
	}
	m.relayRequests.WithLabelValues(entity, operation, status).Inc()
}

func (m *Metrics) Delta(operation, result string) {
	if m == nil {
		return
	}
	m.deltasApplied.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) OutboxDepth(n int) {
	if m == nil {
		return
	}
	m.outboxDepth.Set(float64(n))
}

func (m *Metrics) OutboxReplay(kind, result string) {
	if m == nil {
		return
	}
	m.outboxReplayed.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) BulkRecords(direction, entity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bulkRecords.WithLabelValues(direction, entity).Add(float64(n))
}

func (m *Metrics) MediaTransfer(direction, result string, bytes int64) {
	if m == nil {
		return
	}
	m.mediaTransfers.WithLabelValues(direction, result).Inc()
	if bytes > 0 {
		m.mediaBytes.WithLabelValues(direction).Add(float64(bytes))
	}
}
