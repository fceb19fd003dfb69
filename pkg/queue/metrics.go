package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes queue and scheduler state to Prometheus. The cleanup loop
// feeds it a Statistics snapshot each pass.
type Metrics struct {
	pending   prometheus.Gauge
	inflight  prometheus.Gauge
	total     prometheus.Gauge
	byStatus  *prometheus.GaugeVec
	byType    *prometheus.GaugeVec
	submitted prometheus.Counter
	purged    prometheus.Counter

	lastSubmitted uint64
	lastPurged    uint64
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homefox_queue_pending_tasks",
			Help: "Number of tasks waiting in the priority queue.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homefox_scheduler_inflight_tasks",
			Help: "Number of tasks currently executing.",
		}),
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homefox_queue_known_tasks",
			Help: "Number of tasks tracked by the queue, any status.",
		}),
		byStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homefox_queue_tasks_by_status",
			Help: "Tracked tasks partitioned by status.",
		}, []string{"status"}),
		byType: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homefox_queue_tasks_by_type",
			Help: "Tracked tasks partitioned by task type.",
		}, []string{"type"}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homefox_queue_submitted_total",
			Help: "Total tasks accepted by the queue.",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homefox_queue_purged_total",
			Help: "Total terminal tasks purged by the cleanup loop.",
		}),
	}
	reg.MustRegister(m.pending, m.inflight, m.total, m.byStatus, m.byType, m.submitted, m.purged)
	return m
}

// Observe updates the collectors from a statistics snapshot.
func (m *Metrics) Observe(stats Statistics, inflight int) {
	m.pending.Set(float64(stats.Pending))
	m.inflight.Set(float64(inflight))
	m.total.Set(float64(stats.Total))

	m.byStatus.Reset()
	for status, n := range stats.ByStatus {
		m.byStatus.WithLabelValues(status).Set(float64(n))
	}
	m.byType.Reset()
	for typ, n := range stats.ByType {
		m.byType.WithLabelValues(typ).Set(float64(n))
	}

	// Counters only move forward; snapshots carry running totals.
	if stats.Submitted > m.lastSubmitted {
		m.submitted.Add(float64(stats.Submitted - m.lastSubmitted))
		m.lastSubmitted = stats.Submitted
	}
	if stats.Purged > m.lastPurged {
		m.purged.Add(float64(stats.Purged - m.lastPurged))
		m.lastPurged = stats.Purged
	}
}
