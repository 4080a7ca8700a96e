//go:build windows

package shm

import (
	"context"
	"errors"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procCreateSemaphoreW = modkernel32.NewProc("CreateSemaphoreW")
	procReleaseSemaphore = modkernel32.NewProc("ReleaseSemaphore")
	procOpenFileMappingW = modkernel32.NewProc("OpenFileMappingW")
)

type regionSys struct {
	handle windows.Handle
	addr   uintptr
}

// DefaultDir is unused on Windows: kernel objects live in the session
// namespace, not on a file system.
func DefaultDir() string { return "" }

func objectName(kind, osName string) string {
	return `Local\shmsync.` + kind + "." + baseName(osName)
}

// MapRegion creates or opens a pagefile-backed file mapping. The kernel sizes
// the object atomically when it is created; an opener's size is ignored, so
// only the creator ever sets it.
func MapRegion(_ context.Context, opts MapOptions) (*MappedRegion, error) {
	name := objectName("shm", opts.Name)
	namep, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fatal(KindCreation, "CreateFileMapping", opts.Name, err)
	}
	size := uint64(opts.Size)
	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE,
		uint32(size>>32), uint32(size), namep)
	created := true
	if err != nil {
		if h == 0 || !errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
			return nil, fatal(KindCreation, "CreateFileMapping", opts.Name, err)
		}
		created = false
	}
	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(opts.Size))
	if err != nil {
		_ = windows.CloseHandle(h)
		return nil, fatal(KindMap, "MapViewOfFile", opts.Name, err)
	}
	return &MappedRegion{
		Addr:    unsafe.Slice((*byte)(unsafe.Pointer(addr)), opts.Size),
		Name:    opts.Name,
		Path:    name,
		Size:    opts.Size,
		Created: created,
		sys:     regionSys{handle: h, addr: addr},
	}, nil
}

// UnmapRegion unmaps the view and closes the mapping handle. Windows has no
// unlink: the name goes away with the last handle.
func UnmapRegion(_ context.Context, region *MappedRegion) error {
	return DetachRegion(region)
}

// DetachRegion unmaps the view and closes the mapping handle.
func DetachRegion(region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		name := ""
		if region != nil {
			name = region.Name
		}
		return fatal(KindUnmap, "UnmapViewOfFile", name, ErrClosed)
	}
	if err := windows.UnmapViewOfFile(region.sys.addr); err != nil {
		return fatal(KindUnmap, "UnmapViewOfFile", region.Name, err)
	}
	region.Addr = nil
	if err := windows.CloseHandle(region.sys.handle); err != nil {
		return fatal(KindUnlink, "CloseHandle", region.Name, err)
	}
	return nil
}

// RegionExists reports whether a mapping with the name is currently open
// anywhere in the session.
func RegionExists(opts MapOptions) (bool, error) {
	namep, err := windows.UTF16PtrFromString(objectName("shm", opts.Name))
	if err != nil {
		return false, err
	}
	r, _, e := procOpenFileMappingW.Call(uintptr(windows.FILE_MAP_READ), 0, uintptr(unsafe.Pointer(namep)))
	if r == 0 {
		if errors.Is(e, windows.ERROR_FILE_NOT_FOUND) {
			return false, nil
		}
		return false, e
	}
	_ = windows.CloseHandle(windows.Handle(r))
	return true, nil
}

// RemoveRegion is a no-op on Windows.
func RemoveRegion(MapOptions) error { return nil }

// Semaphore is a named kernel semaphore with maximum count 1.
type Semaphore struct {
	name   string
	handle windows.Handle
	closed atomic.Bool
}

// OpenSemaphore creates the semaphore with count 1 or opens the existing one;
// the initial count of an opener is ignored by the kernel.
func OpenSemaphore(opts SemOptions) (*Semaphore, error) {
	namep, err := windows.UTF16PtrFromString(objectName("sem", opts.Name))
	if err != nil {
		return nil, fatal(KindCreation, "CreateSemaphore", opts.Name, err)
	}
	r, _, e := procCreateSemaphoreW.Call(0, 1, 1, uintptr(unsafe.Pointer(namep)))
	if r == 0 {
		return nil, fatal(KindCreation, "CreateSemaphore", opts.Name, e)
	}
	return &Semaphore{name: opts.Name, handle: windows.Handle(r)}, nil
}

// Wait blocks until the count can be decremented.
func (s *Semaphore) Wait() error {
	if s.closed.Load() {
		return fatal(KindLock, "WaitForSingleObject", s.name, ErrClosed)
	}
	ev, err := windows.WaitForSingleObject(s.handle, windows.INFINITE)
	if err != nil {
		return fatal(KindLock, "WaitForSingleObject", s.name, err)
	}
	if ev != windows.WAIT_OBJECT_0 {
		return fatal(KindLock, "WaitForSingleObject", s.name, windows.Errno(ev))
	}
	return nil
}

// Post increments the count. It never blocks.
func (s *Semaphore) Post() error {
	if s.closed.Load() {
		return fatal(KindLock, "ReleaseSemaphore", s.name, ErrClosed)
	}
	r, _, e := procReleaseSemaphore.Call(uintptr(s.handle), 1, 0)
	if r == 0 {
		return fatal(KindLock, "ReleaseSemaphore", s.name, e)
	}
	return nil
}

// Close closes this process's handle.
func (s *Semaphore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fatal(KindUnmap, "CloseHandle", s.name, ErrClosed)
	}
	if err := windows.CloseHandle(s.handle); err != nil {
		return fatal(KindUnmap, "CloseHandle", s.name, err)
	}
	return nil
}

// RemoveSemaphore is a no-op on Windows: the semaphore disappears with its
// last handle.
func RemoveSemaphore(SemOptions) error { return nil }
