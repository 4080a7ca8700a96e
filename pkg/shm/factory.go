package shm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/shmsync/api"
	internalshm "github.com/srediag/shmsync/internal/shm"
)

const instrumentationName = "github.com/srediag/shmsync/pkg/shm"

// Factory opens mutexes and segments with one Config. All participants of a
// deployment must use the same SegmentSize.
type Factory struct {
	config   Config
	tracer   trace.Tracer
	lockWait metric.Float64Histogram
}

// NewFactory builds a Factory. A nil config means DefaultConfig.
func NewFactory(config *Config) (*Factory, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	f := &Factory{config: *config, tracer: config.Tracer}
	if f.tracer == nil {
		f.tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	meter := config.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	wait, err := meter.Float64Histogram("shmsync.lock.wait",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent blocked acquiring a scoped lock."))
	if err != nil {
		return nil, err
	}
	f.lockWait = wait
	return f, nil
}

// Config returns a copy of the factory's configuration.
func (f *Factory) Config() Config { return f.config }

// osName validates a logical name and prepends the namespace separator.
func (f *Factory) osName(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return NamespaceSeparator + name, nil
}

func (f *Factory) semOptions(osName string) internalshm.SemOptions {
	return internalshm.SemOptions{Name: osName, Dir: f.config.Dir, Perm: f.config.MutexPerm}
}

func (f *Factory) mapOptions(osName string) internalshm.MapOptions {
	return internalshm.MapOptions{
		Name:          osName,
		Size:          f.config.SegmentSize,
		Dir:           f.config.Dir,
		Perm:          f.config.SegmentPerm,
		AttachTimeout: f.config.AttachTimeout,
	}
}

// OpenMutex creates the named mutex unlocked, or opens it if it already
// exists. Failures are returned as *FatalError.
func (f *Factory) OpenMutex(name string) (api.NamedMutex, error) {
	return f.openMutex(name, false)
}

func (f *Factory) openMutex(name string, failFast bool) (api.NamedMutex, error) {
	_, span := f.tracer.Start(context.Background(), "shm.OpenMutex",
		trace.WithAttributes(attribute.String("shm.name", name)))
	defer span.End()

	osName, err := f.osName(name)
	if err != nil {
		return nil, spanError(span, err)
	}
	sem, err := internalshm.OpenSemaphore(f.semOptions(osName))
	if err != nil {
		return nil, spanError(span, err)
	}
	m := &mutex{name: name, osName: osName, sem: sem, failFast: failFast}
	m.id = track(HandleInfo{Kind: HandleMutex, Name: name, OSName: osName}, m.close)
	mutexOpens.Inc()
	internalLogger.infof("open mutex name=%s", osName)
	return m, nil
}

// OpenSegment creates the named segment and resizes it to the configured
// size, or attaches to it without resizing if it already exists. Failures are
// returned as *FatalError.
func (f *Factory) OpenSegment(name string) (api.SharedMemorySegment, error) {
	return f.openSegment(name, false)
}

func (f *Factory) openSegment(name string, failFast bool) (api.SharedMemorySegment, error) {
	ctx, span := f.tracer.Start(context.Background(), "shm.OpenSegment",
		trace.WithAttributes(
			attribute.String("shm.name", name),
			attribute.Int("shm.size", f.config.SegmentSize)))
	defer span.End()

	osName, err := f.osName(name)
	if err != nil {
		return nil, spanError(span, err)
	}
	region, err := internalshm.MapRegion(ctx, f.mapOptions(osName))
	if err != nil {
		return nil, spanError(span, err)
	}
	span.SetAttributes(attribute.Bool("shm.created", region.Created))

	s := &segment{name: name, region: region, tracer: f.tracer, failFast: failFast}
	s.id = track(HandleInfo{Kind: HandleSegment, Name: name, OSName: osName, Created: region.Created}, s.release)
	mode := "attached"
	if region.Created {
		mode = "created"
	}
	segmentOpens.WithLabelValues(mode).Inc()
	internalLogger.infof("open shared memory name=%s, size=%d, %s", osName, region.Size, mode)
	return s, nil
}

// CreateMutex is the fail-fast OpenMutex.
func (f *Factory) CreateMutex(name string) api.NamedMutex {
	m, err := f.openMutex(name, true)
	if err != nil {
		failFast(err)
	}
	return m
}

// CreateScopedLock blocks until mu is held and returns the lock holding it.
func (f *Factory) CreateScopedLock(mu api.NamedMutex) api.ScopedLock {
	return acquire(mu, f.lockWait)
}

// CreateSharedMemory is the fail-fast OpenSegment.
func (f *Factory) CreateSharedMemory(name string) api.SharedMemorySegment {
	s, err := f.openSegment(name, true)
	if err != nil {
		failFast(err)
	}
	return s
}

// WithSharedMemory opens the named segment and runs fn on it. Afterwards the
// segment is closed if this call created it and detached otherwise.
func (f *Factory) WithSharedMemory(name string, fn func(api.SharedMemorySegment) error) (err error) {
	seg, err := f.OpenSegment(name)
	if err != nil {
		return err
	}
	defer func() {
		release := seg.Detach
		if seg.Created() {
			release = seg.Close
		}
		if rerr := release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(seg)
}

// WithLock runs fn while holding mu. The lock is released on every exit
// path, including a panic in fn.
func (f *Factory) WithLock(mu api.NamedMutex, fn func() error) error {
	lock := f.CreateScopedLock(mu)
	defer lock.Release()
	return fn()
}

// RemoveMutex removes the named mutex left behind by crashed participants.
// Open handles keep working; the next open creates a fresh, unlocked mutex.
func (f *Factory) RemoveMutex(name string) error {
	osName, err := f.osName(name)
	if err != nil {
		return err
	}
	if err := internalshm.RemoveSemaphore(f.semOptions(osName)); err != nil {
		return err
	}
	internalLogger.infof("remove mutex name=%s", osName)
	return nil
}

// RemoveSegment removes the named segment left behind by a crashed owner.
func (f *Factory) RemoveSegment(name string) error {
	osName, err := f.osName(name)
	if err != nil {
		return err
	}
	if err := internalshm.RemoveRegion(f.mapOptions(osName)); err != nil {
		return err
	}
	internalLogger.infof("remove shared memory name=%s", osName)
	return nil
}

// SegmentExists reports whether the named segment can currently be attached.
func (f *Factory) SegmentExists(name string) (bool, error) {
	osName, err := f.osName(name)
	if err != nil {
		return false, err
	}
	return internalshm.RegionExists(f.mapOptions(osName))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

var (
	defaultOnce    sync.Once
	defaultMu      sync.RWMutex
	defaultFactory *Factory
)

// Default returns the factory behind the package-level functions, built
// from LoadConfig("") on first use.
func Default() *Factory {
	defaultOnce.Do(func() {
		config, err := LoadConfig("")
		if err != nil {
			failFast(err)
		}
		f, err := NewFactory(config)
		if err != nil {
			failFast(err)
		}
		defaultMu.Lock()
		if defaultFactory == nil {
			defaultFactory = f
		}
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultFactory
}

// SetDefault replaces the factory behind the package-level functions.
func SetDefault(f *Factory) {
	defaultOnce.Do(func() {})
	defaultMu.Lock()
	defaultFactory = f
	defaultMu.Unlock()
}

// CreateMutex opens the named mutex with the default factory, failing fast.
func CreateMutex(name string) api.NamedMutex { return Default().CreateMutex(name) }

// CreateScopedLock blocks until mu is held, failing fast on error.
func CreateScopedLock(mu api.NamedMutex) api.ScopedLock { return Default().CreateScopedLock(mu) }

// CreateSharedMemory opens the named segment with the default factory,
// failing fast.
func CreateSharedMemory(name string) api.SharedMemorySegment {
	return Default().CreateSharedMemory(name)
}

// OpenMutex opens the named mutex with the default factory.
func OpenMutex(name string) (api.NamedMutex, error) { return Default().OpenMutex(name) }

// OpenSegment opens the named segment with the default factory.
func OpenSegment(name string) (api.SharedMemorySegment, error) { return Default().OpenSegment(name) }

// WithSharedMemory runs fn on the named segment of the default factory and
// closes it afterwards.
func WithSharedMemory(name string, fn func(api.SharedMemorySegment) error) error {
	return Default().WithSharedMemory(name, fn)
}

// WithLock runs fn while holding mu.
func WithLock(mu api.NamedMutex, fn func() error) error { return Default().WithLock(mu, fn) }

// RemoveMutex removes the named mutex with the default factory.
func RemoveMutex(name string) error { return Default().RemoveMutex(name) }

// RemoveSegment removes the named segment with the default factory.
func RemoveSegment(name string) error { return Default().RemoveSegment(name) }
