// Package adapter connects shmsync objects to external monitoring systems.
package adapter

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/shmsync/api"
	"github.com/srediag/shmsync/pkg/shm"
)

const (
	// DefaultLockTimeout bounds MutexCheck when Register is used.
	DefaultLockTimeout = time.Second
	// DefaultMaxGoroutines is the liveness limit Register installs.
	DefaultMaxGoroutines = 10000
)

// NewHandler returns a health handler that also exports every check result
// as a Prometheus gauge under the shmsync namespace.
func NewHandler(reg prometheus.Registerer) healthcheck.Handler {
	return healthcheck.NewMetricsHandler(reg, "shmsync")
}

// MutexCheck fails when mu cannot be acquired within timeout, which usually
// means a participant died while holding it. At most one probe waits on the
// mutex at a time: while a timed-out probe is still blocked, later calls fail
// at once instead of queueing another waiter. The blocked probe releases the
// mutex as soon as it gets it.
func MutexCheck(mu api.NamedMutex, timeout time.Duration) healthcheck.Check {
	var inflight atomic.Bool
	probe := healthcheck.Timeout(func() error {
		defer inflight.Store(false)
		if err := mu.Lock(); err != nil {
			return err
		}
		return mu.Unlock()
	}, timeout)
	return func() error {
		if !inflight.CompareAndSwap(false, true) {
			return fmt.Errorf("mutex %q: previous check still waiting after %s", mu.Name(), timeout)
		}
		return probe()
	}
}

// SegmentCheck fails when the named segment does not exist.
func SegmentCheck(f *shm.Factory, name string) healthcheck.Check {
	return func() error {
		exists, err := f.SegmentExists(name)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("shared memory segment %q does not exist", name)
		}
		return nil
	}
}

// Register installs a liveness check for mu and a readiness check for each
// segment name.
func Register(h healthcheck.Handler, f *shm.Factory, mu api.NamedMutex, segments ...string) {
	h.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(DefaultMaxGoroutines))
	if mu != nil {
		h.AddLivenessCheck("mutex-"+mu.Name(), MutexCheck(mu, DefaultLockTimeout))
	}
	for _, name := range segments {
		h.AddReadinessCheck("segment-"+name, SegmentCheck(f, name))
	}
}
