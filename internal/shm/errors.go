package shm

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind classifies an unrecoverable IPC failure.
type Kind uint8

const (
	// KindCreation is an unexpected failure creating or opening an object.
	KindCreation Kind = iota + 1
	// KindSize is a failure resizing a freshly created segment.
	KindSize
	// KindMap is a failure mapping a segment.
	KindMap
	// KindUnmap is a failure unmapping a segment.
	KindUnmap
	// KindUnlink is a failure removing an object's name.
	KindUnlink
	// KindLock is a failure waiting on or posting a semaphore.
	KindLock
)

var kindNames = [...]string{
	KindCreation: "creation",
	KindSize:     "size",
	KindMap:      "map",
	KindUnmap:    "unmap",
	KindUnlink:   "unlink",
	KindLock:     "lock",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

var (
	ErrInvalidName    = errors.New("invalid object name")
	ErrClosed         = errors.New("handle already closed")
	ErrNotInitialized = errors.New("segment was not resized by its creator in time")
	ErrNoSpace        = errors.New("not enough free space for shared memory segment")
)

// FatalError reports an IPC failure that leaves no safe way to continue.
// None of them are retried.
type FatalError struct {
	Kind Kind
	Op   string
	Name string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("FAIL errno=%d in |%s %s|: %v", e.Errno(), e.Op, e.Name, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Errno returns the OS error code, or 0 when the failure did not come from
// a system call.
func (e *FatalError) Errno() int {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return int(errno)
	}
	return 0
}

func fatal(kind Kind, op, name string, err error) *FatalError {
	return &FatalError{Kind: kind, Op: op, Name: name, Err: err}
}
