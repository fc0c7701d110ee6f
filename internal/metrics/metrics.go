// Package metrics holds the Prometheus collectors for the relays and the
// dedup window. Collectors are registered on an injected Registerer so tests
// can use a private registry (or nil to skip registration).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay tracks queue throughput for a single named relay.
type Relay struct {
	Enqueued   *prometheus.CounterVec
	Dispatched *prometheus.CounterVec
	Heartbeats prometheus.Counter
	QueueDepth prometheus.Gauge
}

// NewRelay creates the collectors for the relay called name.
func NewRelay(reg prometheus.Registerer, name string) *Relay {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"relay": name}

	return &Relay{
		Enqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "pwnrelay_records_enqueued_total",
			Help:        "Total number of records enqueued, by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		Dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "pwnrelay_records_dispatched_total",
			Help:        "Total number of records dispatched, by kind and outcome",
			ConstLabels: labels,
		}, []string{"kind", "outcome"}),
		Heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Name:        "pwnrelay_heartbeats_total",
			Help:        "Total number of heartbeat records produced",
			ConstLabels: labels,
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "pwnrelay_queue_depth",
			Help:        "Number of records waiting for the worker",
			ConstLabels: labels,
		}),
	}
}

// IncEnqueued records an enqueued record. Safe on a nil receiver.
func (m *Relay) IncEnqueued(kind string) {
	if m == nil {
		return
	}
	m.Enqueued.WithLabelValues(kind).Inc()
}

// IncDispatched records a dispatch outcome. Safe on a nil receiver.
func (m *Relay) IncDispatched(kind, outcome string) {
	if m == nil {
		return
	}
	m.Dispatched.WithLabelValues(kind, outcome).Inc()
}

// IncHeartbeat records a heartbeat. Safe on a nil receiver.
func (m *Relay) IncHeartbeat() {
	if m == nil {
		return
	}
	m.Heartbeats.Inc()
}

// SetQueueDepth sets the queue depth gauge. Safe on a nil receiver.
func (m *Relay) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// Dedup tracks the duplicate-suppression window.
type Dedup struct {
	Suppressed prometheus.Counter
	Evicted    prometheus.Counter
	Resident   prometheus.Gauge
}

// NewDedup creates the dedup collectors for the window called name.
func NewDedup(reg prometheus.Registerer, name string) *Dedup {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"window": name}

	return &Dedup{
		Suppressed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "pwnrelay_dedup_suppressed_total",
			Help:        "Total number of duplicate keys suppressed",
			ConstLabels: labels,
		}),
		Evicted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "pwnrelay_dedup_evicted_total",
			Help:        "Total number of keys evicted from the window",
			ConstLabels: labels,
		}),
		Resident: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "pwnrelay_dedup_resident_keys",
			Help:        "Number of keys currently held by the window",
			ConstLabels: labels,
		}),
	}
}

// IncSuppressed records a suppressed duplicate. Safe on a nil receiver.
func (m *Dedup) IncSuppressed() {
	if m == nil {
		return
	}
	m.Suppressed.Inc()
}

// IncEvicted records an evicted key. Safe on a nil receiver.
func (m *Dedup) IncEvicted() {
	if m == nil {
		return
	}
	m.Evicted.Inc()
}

// SetResident sets the resident key gauge. Safe on a nil receiver.
func (m *Dedup) SetResident(n int) {
	if m == nil {
		return
	}
	m.Resident.Set(float64(n))
}
