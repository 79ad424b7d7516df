package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the host
type Metrics struct {
	Dispatches         *prometheus.CounterVec
	DispatchDuration   prometheus.Histogram
	RegistryMutations  *prometheus.CounterVec
	CheckpointsWritten prometheus.Counter
	DelegationChanges  prometheus.Counter
}

// New creates and registers all metrics on the default registerer
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on a caller-supplied registerer; tests pass
// a fresh registry so suites don't collide
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "module_host_dispatches_total",
			Help: "Total dispatched invocations by identifier and outcome",
		}, []string{"identifier", "outcome"}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "module_host_dispatch_duration_seconds",
			Help:    "Wall time of dispatched invocations",
			Buckets: prometheus.DefBuckets,
		}),
		RegistryMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "module_host_registry_mutations_total",
			Help: "Total applied registry operations by action",
		}, []string{"action"}),
		CheckpointsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "module_host_checkpoints_written_total",
			Help: "Total checkpoint appends and overwrites",
		}),
		DelegationChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "module_host_delegation_changes_total",
			Help: "Total successful delegation changes",
		}),
	}
}
