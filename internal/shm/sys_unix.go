//go:build unix

package shm

import (
	"sync"

	"golang.org/x/sys/unix"
)

// sysCaller is the set of system calls the Unix backends make. Tests swap it
// to force individual calls to fail.
type sysCaller interface {
	open(path string, flags int, perm uint32) (int, error)
	ftruncate(fd int, size int64) error
	fstat(fd int, st *unix.Stat_t) error
	pwrite(fd int, p []byte, off int64) (int, error)
	mmap(fd int, size int) ([]byte, error)
	munmap(b []byte) error
	close(fd int) error
	link(oldpath, newpath string) error
	unlink(path string) error
}

type unixSysCaller struct{}

func (unixSysCaller) open(path string, flags int, perm uint32) (int, error) {
	return unix.Open(path, flags|unix.O_CLOEXEC, perm)
}

func (unixSysCaller) ftruncate(fd int, size int64) error { return unix.Ftruncate(fd, size) }

func (unixSysCaller) fstat(fd int, st *unix.Stat_t) error { return unix.Fstat(fd, st) }

func (unixSysCaller) pwrite(fd int, p []byte, off int64) (int, error) { return unix.Pwrite(fd, p, off) }

func (unixSysCaller) mmap(fd int, size int) ([]byte, error) {
	return unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (unixSysCaller) munmap(b []byte) error { return unix.Munmap(b) }

func (unixSysCaller) close(fd int) error { return unix.Close(fd) }

func (unixSysCaller) link(oldpath, newpath string) error { return unix.Link(oldpath, newpath) }

func (unixSysCaller) unlink(path string) error { return unix.Unlink(path) }

var (
	sysMu            sync.RWMutex
	defaultSysCaller sysCaller = unixSysCaller{}
)

func sys() sysCaller {
	sysMu.RLock()
	defer sysMu.RUnlock()
	return defaultSysCaller
}

// faultySysCaller fails one named call and forwards everything else.
type faultySysCaller struct {
	sysCaller
	op  string
	err error
}

func (f faultySysCaller) open(path string, flags int, perm uint32) (int, error) {
	if f.op == "open" {
		return -1, f.err
	}
	return f.sysCaller.open(path, flags, perm)
}

func (f faultySysCaller) ftruncate(fd int, size int64) error {
	if f.op == "ftruncate" {
		return f.err
	}
	return f.sysCaller.ftruncate(fd, size)
}

func (f faultySysCaller) fstat(fd int, st *unix.Stat_t) error {
	if f.op == "fstat" {
		return f.err
	}
	return f.sysCaller.fstat(fd, st)
}

func (f faultySysCaller) pwrite(fd int, p []byte, off int64) (int, error) {
	if f.op == "pwrite" {
		return 0, f.err
	}
	return f.sysCaller.pwrite(fd, p, off)
}

func (f faultySysCaller) mmap(fd int, size int) ([]byte, error) {
	if f.op == "mmap" {
		return nil, f.err
	}
	return f.sysCaller.mmap(fd, size)
}

func (f faultySysCaller) munmap(b []byte) error {
	if f.op == "munmap" {
		return f.err
	}
	return f.sysCaller.munmap(b)
}

func (f faultySysCaller) link(oldpath, newpath string) error {
	if f.op == "link" {
		return f.err
	}
	return f.sysCaller.link(oldpath, newpath)
}

func (f faultySysCaller) unlink(path string) error {
	if f.op == "unlink" {
		return f.err
	}
	return f.sysCaller.unlink(path)
}

// InjectFault makes every call of op ("open", "ftruncate", "fstat", "pwrite",
// "mmap", "munmap", "link", "unlink") fail with err until restore is called.
// It exists for tests of the fail-fast paths.
func InjectFault(op string, err error) (restore func()) {
	sysMu.Lock()
	prev := defaultSysCaller
	defaultSysCaller = faultySysCaller{sysCaller: prev, op: op, err: err}
	sysMu.Unlock()
	return func() {
		sysMu.Lock()
		defaultSysCaller = prev
		sysMu.Unlock()
	}
}
