//go:build unix

package shm

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sys/unix"

	"github.com/srediag/shmsync/api"
	internalshm "github.com/srediag/shmsync/internal/shm"
)

const testSegmentSize = 4096

func newTestFactory(t *testing.T) *Factory {
	config := DefaultConfig()
	config.Dir = t.TempDir()
	config.SegmentSize = testSegmentSize
	config.AttachTimeout = time.Second
	f, err := NewFactory(config)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// catchFatal runs fn with a FatalHandler that panics instead of exiting and
// returns the *FatalError fn failed with, or nil.
func catchFatal(fn func()) (fe *FatalError) {
	restore := SetFatalHandler(func(err *FatalError) { panic(err) })
	defer restore()
	defer func() {
		if r := recover(); r != nil {
			var ok bool
			if fe, ok = r.(*FatalError); !ok {
				panic(r)
			}
		}
	}()
	fn()
	return nil
}

type ShmTestSuite struct {
	suite.Suite
	f *Factory
}

func (s *ShmTestSuite) SetupTest() {
	s.f = newTestFactory(s.T())
}

func (s *ShmTestSuite) TearDownTest() {
	s.Require().NoError(CloseAll())
}

func (s *ShmTestSuite) TestWriteVisibleAcrossHandles() {
	mu := s.f.CreateMutex("visible_mutex")
	a := s.f.CreateSharedMemory("visible")
	b := s.f.CreateSharedMemory("visible")
	s.True(a.Created())
	s.False(b.Created())
	s.Equal(testSegmentSize, a.Size())
	s.Equal(testSegmentSize, b.Size())

	lock := s.f.CreateScopedLock(mu)
	a.Bytes()[0] = 0x01
	lock.Release()

	lock = s.f.CreateScopedLock(mu)
	s.Equal(byte(0x01), b.Bytes()[0])
	b.Bytes()[1] = 0x02
	lock.Release()

	lock = s.f.CreateScopedLock(mu)
	s.Equal(byte(0x02), a.Bytes()[1])
	lock.Release()

	s.NoError(b.Detach())
	s.NoError(a.Close())
	s.NoError(mu.Close())
}

func (s *ShmTestSuite) TestConcurrentOpenInitializesOnce() {
	const openers = 16
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		start   = make(chan struct{})
		segs    = make([]api.SharedMemorySegment, openers)
	)
	for i := 0; i < openers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			seg, err := s.f.OpenSegment("race")
			if !s.NoError(err) {
				return
			}
			if seg.Created() {
				created.Add(1)
				seg.Bytes()[0] = 0x7f
			}
			segs[i] = seg
		}(i)
	}
	close(start)
	wg.Wait()
	s.Equal(int32(1), created.Load())

	var creator api.SharedMemorySegment
	for _, seg := range segs {
		s.Require().NotNil(seg)
		s.Equal(testSegmentSize, seg.Size())
		if seg.Created() {
			creator = seg
		}
	}
	// no attacher truncated the creator's write away
	for _, seg := range segs {
		s.Equal(byte(0x7f), seg.Bytes()[0])
	}
	for _, seg := range segs {
		if seg != creator {
			s.NoError(seg.Detach())
		}
	}
	s.NoError(creator.Close())
}

func (s *ShmTestSuite) TestScopedLocksNeverOverlap() {
	const (
		workers    = 8
		iterations = 300
	)
	seg := s.f.CreateSharedMemory("stress")
	defer seg.Close()

	pool, err := ants.NewPool(workers)
	s.Require().NoError(err)
	defer pool.Release()

	var (
		wg     sync.WaitGroup
		inside atomic.Int32
	)
	for i := 0; i < workers; i++ {
		mu, err := s.f.OpenMutex("stress_mutex")
		s.Require().NoError(err)
		wg.Add(1)
		s.Require().NoError(pool.Submit(func() {
			defer wg.Done()
			defer mu.Close()
			for j := 0; j < iterations; j++ {
				lock := s.f.CreateScopedLock(mu)
				if n := inside.Add(1); n != 1 {
					s.Failf("overlapping locks", "%d holders", n)
				}
				// unsynchronized read-modify-write, protected only by mu
				v := binary.LittleEndian.Uint64(seg.Bytes())
				binary.LittleEndian.PutUint64(seg.Bytes(), v+1)
				inside.Add(-1)
				lock.Release()
			}
		}))
	}
	wg.Wait()
	s.Equal(uint64(workers*iterations), binary.LittleEndian.Uint64(seg.Bytes()))
}

func (s *ShmTestSuite) TestCloseThenOpenRecreates() {
	seg := s.f.CreateSharedMemory("recreate")
	s.True(seg.Created())
	seg.Bytes()[0] = 0xff
	seg.Bytes()[testSegmentSize-1] = 0xff
	s.NoError(seg.Close())

	exists, err := s.f.SegmentExists("recreate")
	s.NoError(err)
	s.False(exists)

	seg = s.f.CreateSharedMemory("recreate")
	s.True(seg.Created())
	s.Equal(testSegmentSize, seg.Size())
	s.Equal(byte(0), seg.Bytes()[0])
	s.Equal(byte(0), seg.Bytes()[testSegmentSize-1])
	s.NoError(seg.Close())
}

func (s *ShmTestSuite) TestDetachKeepsName() {
	creator := s.f.CreateSharedMemory("detach")
	attacher := s.f.CreateSharedMemory("detach")
	s.NoError(attacher.Detach())

	exists, err := s.f.SegmentExists("detach")
	s.NoError(err)
	s.True(exists)

	s.NoError(creator.Close())
	exists, err = s.f.SegmentExists("detach")
	s.NoError(err)
	s.False(exists)
}

func (s *ShmTestSuite) TestDoubleCloseReturnsErrClosed() {
	seg, err := s.f.OpenSegment("twice")
	s.Require().NoError(err)
	s.NoError(seg.Close())
	err = seg.Close()
	s.ErrorIs(err, ErrClosed)
	s.True(IsFatal(err))

	mu, err := s.f.OpenMutex("twice_mutex")
	s.Require().NoError(err)
	s.NoError(mu.Close())
	s.ErrorIs(mu.Close(), ErrClosed)
}

func (s *ShmTestSuite) TestInjectedFailuresFailFast() {
	cases := []struct {
		op   string
		err  error
		kind Kind
	}{
		{"open", unix.EACCES, KindCreation},
		{"ftruncate", unix.ENOSPC, KindSize},
		{"mmap", unix.ENOMEM, KindMap},
	}
	for _, c := range cases {
		restore := internalshm.InjectFault(c.op, c.err)
		var seg api.SharedMemorySegment
		fe := catchFatal(func() { seg = s.f.CreateSharedMemory("faulty") })
		restore()

		s.Nil(seg, c.op)
		s.Require().NotNil(fe, c.op)
		s.Equal(c.kind, fe.Kind, c.op)
		s.True(errors.Is(fe, c.err), c.op)
		s.Equal(int(c.err.(unix.Errno)), fe.Errno(), c.op)

		exists, err := s.f.SegmentExists("faulty")
		s.NoError(err)
		s.False(exists, "%s left the name behind", c.op)
	}

	restore := internalshm.InjectFault("open", unix.EMFILE)
	fe := catchFatal(func() { s.f.CreateMutex("faulty_mutex") })
	restore()
	s.Require().NotNil(fe)
	s.Equal(KindCreation, fe.Kind)
}

func (s *ShmTestSuite) TestOpenReturnsFatalError() {
	restore := internalshm.InjectFault("mmap", unix.ENOMEM)
	_, err := s.f.OpenSegment("open_err")
	restore()
	s.Require().Error(err)
	s.True(IsFatal(err))

	_, err = s.f.OpenSegment("bad/name")
	s.ErrorIs(err, ErrInvalidName)
	_, err = s.f.OpenMutex("")
	s.ErrorIs(err, ErrInvalidName)
}

func (s *ShmTestSuite) TestScopedLockReleaseIsIdempotent() {
	mu := s.f.CreateMutex("idempotent")
	defer mu.Close()

	lock := s.f.CreateScopedLock(mu)
	lock.Release()
	lock.Release()

	acquired := make(chan struct{})
	go func() {
		l := s.f.CreateScopedLock(mu)
		close(acquired)
		l.Release()
	}()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		s.Fail("mutex stayed locked after release")
	}
}

func (s *ShmTestSuite) TestWithLockReleasesOnError() {
	prev := Default()
	SetDefault(s.f)
	defer SetDefault(prev)

	mu := CreateMutex("with_lock")
	defer mu.Close()
	boom := errors.New("boom")
	s.ErrorIs(WithLock(mu, func() error { return boom }), boom)
	s.NotPanics(func() {
		_ = WithLock(mu, func() error { return nil })
	})
}

func (s *ShmTestSuite) TestWithSharedMemory() {
	err := s.f.WithSharedMemory("scoped_seg", func(seg api.SharedMemorySegment) error {
		s.True(seg.Created())
		seg.Bytes()[0] = 1
		return nil
	})
	s.NoError(err)
	exists, err := s.f.SegmentExists("scoped_seg")
	s.NoError(err)
	s.False(exists)
}

func (s *ShmTestSuite) TestRemoveStaleObjects() {
	mu := s.f.CreateMutex("stale_mutex")
	lock := s.f.CreateScopedLock(mu)
	// simulate a crashed holder: the lock is never released
	_ = lock
	s.NoError(mu.Close())
	s.NoError(s.f.RemoveMutex("stale_mutex"))

	mu = s.f.CreateMutex("stale_mutex")
	lock = s.f.CreateScopedLock(mu)
	lock.Release()
	s.NoError(mu.Close())

	seg := s.f.CreateSharedMemory("stale")
	s.NoError(seg.Detach())
	s.NoError(s.f.RemoveSegment("stale"))
	s.NoError(s.f.RemoveSegment("stale"))
	exists, err := s.f.SegmentExists("stale")
	s.NoError(err)
	s.False(exists)
}

func TestShmTestSuite(t *testing.T) {
	suite.Run(t, new(ShmTestSuite))
}
