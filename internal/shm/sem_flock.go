//go:build unix && !linux

package shm

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Semaphore is a binary semaphore built on flock(2) over a file in the shm
// directory. flock is held per open file description, so the in-process gate
// serializes goroutines sharing one handle. Unlike the futex backend the
// kernel drops the lock when a holder dies.
type Semaphore struct {
	name   string
	path   string
	fd     int
	gate   chan struct{}
	closed atomic.Bool
}

// OpenSemaphore opens the named semaphore, creating it unlocked if it does
// not exist.
func OpenSemaphore(opts SemOptions) (*Semaphore, error) {
	path := semPath(opts.Dir, opts.Name)
	fd, err := sys().open(path, unix.O_RDWR|unix.O_CREAT, uint32(opts.Perm.Perm()))
	if err != nil {
		return nil, fatal(KindCreation, "sem_open", opts.Name, err)
	}
	return &Semaphore{
		name: opts.Name,
		path: path,
		fd:   fd,
		gate: make(chan struct{}, 1),
	}, nil
}

// Wait blocks until this handle holds the lock.
func (s *Semaphore) Wait() error {
	if s.closed.Load() {
		return fatal(KindLock, "sem_wait", s.name, ErrClosed)
	}
	s.gate <- struct{}{}
	for {
		err := unix.Flock(s.fd, unix.LOCK_EX)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EINTR) {
			<-s.gate
			return fatal(KindLock, "sem_wait", s.name, err)
		}
	}
}

// Post releases the lock. It never blocks.
func (s *Semaphore) Post() error {
	if s.closed.Load() {
		return fatal(KindLock, "sem_post", s.name, ErrClosed)
	}
	if err := unix.Flock(s.fd, unix.LOCK_UN); err != nil {
		return fatal(KindLock, "sem_post", s.name, err)
	}
	select {
	case <-s.gate:
	default:
	}
	return nil
}

// Close drops this process's reference.
func (s *Semaphore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fatal(KindUnmap, "sem_close", s.name, ErrClosed)
	}
	if err := sys().close(s.fd); err != nil {
		return fatal(KindUnmap, "sem_close", s.name, err)
	}
	return nil
}

// RemoveSemaphore unlinks the named semaphore. A missing name is not an error.
func RemoveSemaphore(opts SemOptions) error {
	if err := sys().unlink(semPath(opts.Dir, opts.Name)); err != nil && !errors.Is(err, unix.ENOENT) {
		return fatal(KindUnlink, "sem_unlink", opts.Name, err)
	}
	return nil
}
