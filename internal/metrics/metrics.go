package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/retailhub/lottery-sync/internal/domain"
	"github.com/retailhub/lottery-sync/internal/repository"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	ItemsPushed       *prometheus.CounterVec
	PushFailures      *prometheus.CounterVec
	ItemsDeadLettered *prometheus.CounterVec
	RecordsPulled     *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
	QueuePending      *prometheus.GaugeVec
	QueueDeadLettered prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_items_pushed_total",
			Help: "Outbox items acknowledged by the cloud service.",
		}, []string{"entity_type"}),

		PushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_push_failures_total",
			Help: "Failed delivery attempts, by error category.",
		}, []string{"category"}),

		ItemsDeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_items_dead_lettered_total",
			Help: "Items moved to the dead-letter queue, by reason.",
		}, []string{"reason"}),

		RecordsPulled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_records_pulled_total",
			Help: "Remote records applied locally, by pull action.",
		}, []string{"action"}),

		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sync_cycle_duration_seconds",
			Help:    "Duration of one push or pull cycle.",
			Buckets: prometheus.DefBuckets,
		}, []string{"direction", "outcome"}),

		QueuePending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sync_queue_pending",
			Help: "Active outbox rows, by direction.",
		}, []string{"direction"}),

		QueueDeadLettered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_queue_dead_lettered",
			Help: "Rows currently in the dead-letter queue.",
		}),
	}

	reg.MustRegister(
		m.ItemsPushed,
		m.PushFailures,
		m.ItemsDeadLettered,
		m.RecordsPulled,
		m.CycleDuration,
		m.QueuePending,
		m.QueueDeadLettered,
	)

	return m
}

// SyncHooks returns the callbacks expected by service.SyncHooks.
// Centralises the prometheus observation calls so the services stay import-free.
func (m *Metrics) SyncHooks() (
	onPushed func(domain.EntityType),
	onFailed func(domain.ErrorCategory),
	onDeadLettered func(domain.DeadLetterReason),
	onPulled func(domain.PullAction, int),
) {
	onPushed = func(e domain.EntityType) {
		m.ItemsPushed.WithLabelValues(string(e)).Inc()
	}
	onFailed = func(c domain.ErrorCategory) {
		m.PushFailures.WithLabelValues(string(c)).Inc()
	}
	onDeadLettered = func(r domain.DeadLetterReason) {
		m.ItemsDeadLettered.WithLabelValues(string(r)).Inc()
	}
	onPulled = func(a domain.PullAction, n int) {
		m.RecordsPulled.WithLabelValues(string(a)).Add(float64(n))
	}
	return
}

// WorkerHooks returns the callbacks expected by worker.MetricHooks.
func (m *Metrics) WorkerHooks() (
	onCycle func(domain.Direction, time.Duration, error),
	onQueueDepth func(repository.PendingCounts),
) {
	onCycle = func(dir domain.Direction, d time.Duration, err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.CycleDuration.WithLabelValues(string(dir), outcome).Observe(d.Seconds())
	}
	onQueueDepth = func(c repository.PendingCounts) {
		m.QueuePending.WithLabelValues(string(domain.DirectionPush)).Set(float64(c.Push))
		m.QueuePending.WithLabelValues(string(domain.DirectionPull)).Set(float64(c.Pull))
		m.QueueDeadLettered.Set(float64(c.DeadLettered))
	}
	return
}
