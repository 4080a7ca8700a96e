package shm

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// HandleKind tells mutex handles from segment handles.
type HandleKind string

const (
	HandleMutex   HandleKind = "mutex"
	HandleSegment HandleKind = "segment"
)

// HandleInfo describes one handle open in this process.
type HandleInfo struct {
	ID       string
	Kind     HandleKind
	Name     string
	OSName   string
	Created  bool
	OpenedAt time.Time
}

type trackedHandle struct {
	info HandleInfo
	// release is what CloseAll runs for this handle.
	release func() error
}

var handles = cmap.New[*trackedHandle]()

func track(info HandleInfo, release func() error) string {
	info.ID = uuid.NewString()
	info.OpenedAt = time.Now()
	handles.Set(info.ID, &trackedHandle{info: info, release: release})
	return info.ID
}

func untrack(id string) {
	handles.Remove(id)
}

// Handles lists the mutex and segment handles open in this process, oldest
// first.
func Handles() []HandleInfo {
	infos := make([]HandleInfo, 0, handles.Count())
	for item := range handles.IterBuffered() {
		infos = append(infos, item.Val.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].OpenedAt.Before(infos[j].OpenedAt)
	})
	return infos
}

// CloseAll releases every handle still open in this process, for graceful
// shutdown: segments this process created are closed (unmapped and
// unlinked), attached ones detached, mutex handles closed. Segments go first
// so no mapping outlives its lock handle.
func CloseAll() error {
	var errs []error
	infos := Handles()
	for _, kind := range []HandleKind{HandleSegment, HandleMutex} {
		for _, info := range infos {
			if info.Kind != kind {
				continue
			}
			h, ok := handles.Pop(info.ID)
			if !ok {
				continue
			}
			if err := h.release(); err != nil {
				internalLogger.errorf("release %s name=%s failed: %v", info.Kind, info.OSName, err)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
