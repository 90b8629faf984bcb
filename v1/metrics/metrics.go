package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LockAcquisitions counts lock attempts by result (acquired, locked, not_found, error).
	LockAcquisitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasklock_lock_acquisitions_total",
		Help: "Total number of lock acquisition attempts",
	}, []string{"result"})
	// LockReleases counts release calls by result (released, kept, not_found, error).
	LockReleases = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasklock_lock_releases_total",
		Help: "Total number of lock release calls",
	}, []string{"result"})
	// SweptLocks counts expired locks cleared by the sweeper.
	SweptLocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tasklock_swept_locks_total",
		Help: "Total number of expired locks cleared by the sweeper",
	})
	// TaskOperations counts task service calls by operation and result.
	TaskOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasklock_task_operations_total",
		Help: "Total number of task operations",
	}, []string{"op", "result"})
	// Deliveries counts events handed to a connection's send queue.
	Deliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tasklock_broadcast_deliveries_total",
		Help: "Total number of events queued to push connections",
	})
	// Drops counts events skipped because a connection was not writable.
	Drops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tasklock_broadcast_drops_total",
		Help: "Total number of events skipped for slow or closed connections",
	})
	// ConnectionGauge reports the number of registered push connections.
	ConnectionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tasklock_connections",
		Help: "Current number of registered push connections",
	})
	// Evictions counts connections removed by the registry, by reason.
	Evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasklock_connection_evictions_total",
		Help: "Total number of push connections evicted",
	}, []string{"reason"})
	// FeedPublishes counts external feed publishes by sink and result.
	FeedPublishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tasklock_feed_publishes_total",
		Help: "Total number of events published to external feeds",
	}, []string{"sink", "result"})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers the tasklock metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		LockAcquisitions,
		LockReleases,
		SweptLocks,
		TaskOperations,
		Deliveries,
		Drops,
		ConnectionGauge,
		Evictions,
		FeedPublishes,
	)
}
