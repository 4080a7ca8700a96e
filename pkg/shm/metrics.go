package shm

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "shmsync"

var (
	segmentOpens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "segment_opens_total",
		Help:      "Shared memory segments opened, by whether this process created or attached.",
	}, []string{"mode"})

	segmentCloses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "segment_closes_total",
		Help:      "Shared memory segment views released, by close (unlink) or detach.",
	}, []string{"mode"})

	mutexOpens = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "mutex_opens_total",
		Help:      "Named mutex handles opened.",
	})

	lockAcquisitions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "lock_acquisitions_total",
		Help:      "Scoped locks acquired.",
	})

	lockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "lock_wait_seconds",
		Help:      "Time spent blocked acquiring a scoped lock.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
	})

	fatalErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "fatal_errors_total",
		Help:      "Fail-fast IPC errors, by kind.",
	}, []string{"kind"})
)

// Collectors returns every Prometheus collector of the package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		segmentOpens,
		segmentCloses,
		mutexOpens,
		lockAcquisitions,
		lockWaitSeconds,
		fatalErrors,
	}
}

// RegisterMetrics registers the package collectors with reg. Collectors
// already registered there are skipped.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
