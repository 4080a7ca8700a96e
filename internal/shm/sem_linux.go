//go:build linux

package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

// semaphore file layout: value uint32 | waiters uint32 | reserved
const (
	semSize          = 16
	semValueOffset   = 0
	semWaitersOffset = 4
)

var tmpSeq atomic.Uint64

// Semaphore is a binary semaphore shared between processes through a small
// file in the shm directory. The count is a futex word, so waiters sleep in
// the kernel and are woken by Post from any process.
type Semaphore struct {
	name    string
	path    string
	mem     []byte
	value   *uint32
	waiters *uint32
	closed  atomic.Bool
}

// OpenSemaphore opens the named semaphore, creating it with count 1 if it
// does not exist. Callers cannot tell the two cases apart.
func OpenSemaphore(opts SemOptions) (*Semaphore, error) {
	path := semPath(opts.Dir, opts.Name)
	s := sys()

	fd := -1
	op := func() error {
		var err error
		fd, err = s.open(path, unix.O_RDWR, 0)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.ENOENT) {
			return backoff.Permanent(fatal(KindCreation, "sem_open", opts.Name, err))
		}
		fd, err = publishSemaphore(s, path, opts)
		if err == nil || errors.Is(err, unix.EEXIST) {
			// EEXIST: another process published first, open theirs.
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 16)); err != nil {
		var fe *FatalError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, fatal(KindCreation, "sem_open", opts.Name, err)
	}

	mem, err := s.mmap(fd, semSize)
	// the mapping keeps the object referenced
	_ = s.close(fd)
	if err != nil {
		return nil, fatal(KindMap, "sem_open(mmap)", opts.Name, err)
	}
	return &Semaphore{
		name:    opts.Name,
		path:    path,
		mem:     mem,
		value:   wordAt(mem, semValueOffset),
		waiters: wordAt(mem, semWaitersOffset),
	}, nil
}

// publishSemaphore writes an initialized semaphore under a temporary name and
// links it into place, so no process can ever open a half-initialized one.
// It returns unix.EEXIST unwrapped when another process won the race.
func publishSemaphore(s sysCaller, path string, opts SemOptions) (int, error) {
	tmp := fmt.Sprintf("%s.%d.%d.tmp", path, os.Getpid(), tmpSeq.Add(1))
	fd, err := s.open(tmp, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, uint32(opts.Perm.Perm()))
	if err != nil {
		return -1, fatal(KindCreation, "sem_open(O_CREAT)", opts.Name, err)
	}
	var init [semSize]byte
	binary.NativeEndian.PutUint32(init[semValueOffset:], 1)
	if _, err := s.pwrite(fd, init[:], 0); err != nil {
		_ = s.close(fd)
		_ = s.unlink(tmp)
		return -1, fatal(KindCreation, "sem_open(write)", opts.Name, err)
	}
	err = s.link(tmp, path)
	_ = s.unlink(tmp)
	if err != nil {
		_ = s.close(fd)
		if errors.Is(err, unix.EEXIST) {
			return -1, err
		}
		return -1, fatal(KindCreation, "sem_open(link)", opts.Name, err)
	}
	return fd, nil
}

// Wait decrements the count, sleeping until it is positive. There is no
// timeout and no fairness between waiters.
func (s *Semaphore) Wait() error {
	if s.closed.Load() {
		return fatal(KindLock, "sem_wait", s.name, ErrClosed)
	}
	for {
		v := atomicLoadUint32(s.value)
		if v > 0 {
			if atomicCompareAndSwapUint32(s.value, v, v-1) {
				return nil
			}
			continue
		}
		atomicAddUint32(s.waiters, 1)
		err := futexWait(s.value, 0)
		atomicAddUint32(s.waiters, -1)
		if err != nil {
			return fatal(KindLock, "sem_wait", s.name, err)
		}
	}
}

// Post increments the count and wakes one sleeper, if any. It never blocks.
func (s *Semaphore) Post() error {
	if s.closed.Load() {
		return fatal(KindLock, "sem_post", s.name, ErrClosed)
	}
	atomicAddUint32(s.value, 1)
	if atomicLoadUint32(s.waiters) == 0 {
		return nil
	}
	if err := futexWake(s.value, 1); err != nil {
		return fatal(KindLock, "sem_post", s.name, err)
	}
	return nil
}

// Close drops this process's reference. The semaphore itself survives until
// RemoveSemaphore.
func (s *Semaphore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fatal(KindUnmap, "sem_close", s.name, ErrClosed)
	}
	if err := sys().munmap(s.mem); err != nil {
		return fatal(KindUnmap, "sem_close", s.name, err)
	}
	s.mem, s.value, s.waiters = nil, nil, nil
	return nil
}

// RemoveSemaphore unlinks the named semaphore. Handles already open keep
// working; the next OpenSemaphore creates a fresh one. A missing name is not
// an error.
func RemoveSemaphore(opts SemOptions) error {
	if err := sys().unlink(semPath(opts.Dir, opts.Name)); err != nil && !errors.Is(err, unix.ENOENT) {
		return fatal(KindUnlink, "sem_unlink", opts.Name, err)
	}
	return nil
}
