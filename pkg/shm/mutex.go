package shm

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/srediag/shmsync/api"
	internalshm "github.com/srediag/shmsync/internal/shm"
)

var _ api.NamedMutex = (*mutex)(nil)

type mutex struct {
	name     string
	osName   string
	sem      *internalshm.Semaphore
	id       string
	failFast bool
}

func (m *mutex) Name() string { return m.name }

func (m *mutex) Lock() error { return m.sem.Wait() }

func (m *mutex) Unlock() error { return m.sem.Post() }

func (m *mutex) Close() error {
	err := m.close()
	if err != nil && m.failFast {
		failFast(err)
	}
	return err
}

func (m *mutex) close() error {
	untrack(m.id)
	if err := m.sem.Close(); err != nil {
		return err
	}
	internalLogger.infof("close mutex name=%s", m.osName)
	return nil
}

var _ api.ScopedLock = (*scopedLock)(nil)

// scopedLock is held from construction until the first Release.
type scopedLock struct {
	mu   api.NamedMutex
	once sync.Once
}

func (l *scopedLock) Release() {
	l.once.Do(func() {
		if err := l.mu.Unlock(); err != nil {
			failFast(err)
		}
	})
}

// acquire blocks until mu is held and records the wait.
func acquire(mu api.NamedMutex, wait metric.Float64Histogram) *scopedLock {
	start := time.Now()
	if err := mu.Lock(); err != nil {
		failFast(err)
	}
	waited := time.Since(start).Seconds()
	lockAcquisitions.Inc()
	lockWaitSeconds.Observe(waited)
	internalLogger.debugf("acquired mutex name=%s after %.6fs", mu.Name(), waited)
	if wait != nil {
		wait.Record(context.Background(), waited, metric.WithAttributes(attribute.String("shm.mutex", mu.Name())))
	}
	return &scopedLock{mu: mu}
}
