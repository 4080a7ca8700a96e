// Package shm contains the platform backends behind the shared memory segment
// and named mutex: exactly one semaphore and one segment implementation is
// compiled per target (futex on Linux, flock on other Unix, kernel objects on
// Windows).
package shm

import (
	"os"
	"strings"
	"time"
)

// DefaultAttachTimeout bounds the wait for a creator's resize when
// MapOptions.AttachTimeout is unset.
const DefaultAttachTimeout = 5 * time.Second

// MappedRegion pairs a mapped shared region with the OS resource needed to
// unmap and unlink it. It is exclusively owned by one segment handle.
type MappedRegion struct {
	Addr []byte
	// Name is the OS name (separator already prepended).
	Name string
	// Path is the backing file on Unix and the kernel object name on Windows.
	Path string
	Size int
	// Created reports whether this handle created the object and performed
	// the one-time resize.
	Created bool

	sys regionSys
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Name string
	Size int
	// Dir is where Unix backends place backing files. Ignored on Windows.
	Dir  string
	Perm os.FileMode
	// AttachTimeout bounds how long an attacher waits for the creator to
	// finish resizing.
	AttachTimeout time.Duration
}

// SemOptions defines options for opening a named semaphore.
type SemOptions struct {
	Name string
	Dir  string
	Perm os.FileMode
}

// baseName strips the namespace separator so the OS name can be used as a
// file name.
func baseName(osName string) string {
	return strings.TrimLeft(osName, `/\`)
}
