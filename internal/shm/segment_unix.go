//go:build unix

/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package shm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

type regionSys struct {
	fd int
}

// MapRegion creates the segment if it does not exist yet, resizing it once,
// or attaches to the existing one without resizing. Both paths map the
// region read-write and shared.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	path := regionPath(opts.Dir, opts.Name)
	s := sys()

	var (
		fd      = -1
		created bool
	)
	// An attacher can lose the name to a concurrent Close between the
	// exclusive create and the plain open; both branches are retried then.
	op := func() error {
		var err error
		fd, err = s.open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, uint32(opts.Perm.Perm()))
		if err == nil {
			created = true
			return nil
		}
		if !errors.Is(err, unix.EEXIST) {
			return backoff.Permanent(fatal(KindCreation, "shm_open(O_CREAT|O_EXCL)", opts.Name, err))
		}
		fd, err = s.open(path, unix.O_RDWR, 0)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.ENOENT) {
			return err
		}
		return backoff.Permanent(fatal(KindCreation, "shm_open(O_RDWR)", opts.Name, err))
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 8), ctx)); err != nil {
		var fe *FatalError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, fatal(KindCreation, "shm_open(O_RDWR)", opts.Name, err)
	}

	if created {
		if err := resizeCreated(s, fd, path, opts); err != nil {
			return nil, err
		}
	} else if err := waitResized(ctx, s, fd, opts); err != nil {
		_ = s.close(fd)
		return nil, err
	}

	mem, err := s.mmap(fd, opts.Size)
	if err != nil {
		_ = s.close(fd)
		if created {
			_ = s.unlink(path)
		}
		return nil, fatal(KindMap, "mmap", opts.Name, err)
	}
	return &MappedRegion{
		Addr:    mem,
		Name:    opts.Name,
		Path:    path,
		Size:    opts.Size,
		Created: created,
		sys:     regionSys{fd: fd},
	}, nil
}

// resizeCreated performs the one-time resize of a freshly created segment.
// On failure the half-made object is removed again so the name is free.
func resizeCreated(s sysCaller, fd int, path string, opts MapOptions) error {
	undo := func() {
		_ = s.close(fd)
		_ = s.unlink(path)
	}
	if !canCreateOnDevShm(uint64(opts.Size), path) {
		undo()
		return fatal(KindSize, "ftruncate", opts.Name, fmt.Errorf("%w: size %d", ErrNoSpace, opts.Size))
	}
	if err := s.ftruncate(fd, int64(opts.Size)); err != nil {
		undo()
		return fatal(KindSize, "ftruncate", opts.Name, err)
	}
	return nil
}

// waitResized blocks an attacher until the creator's ftruncate is visible,
// so it never maps past the end of a still empty file.
func waitResized(ctx context.Context, s sysCaller, fd int, opts MapOptions) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Microsecond
	b.MaxInterval = 10 * time.Millisecond
	b.MaxElapsedTime = opts.AttachTimeout
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = DefaultAttachTimeout
	}
	check := func() error {
		var st unix.Stat_t
		if err := s.fstat(fd, &st); err != nil {
			return backoff.Permanent(fatal(KindCreation, "fstat", opts.Name, err))
		}
		if st.Size < int64(opts.Size) {
			return ErrNotInitialized
		}
		return nil
	}
	err := backoff.Retry(check, backoff.WithContext(b, ctx))
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe
	}
	return fatal(KindSize, "fstat", opts.Name, err)
}

// UnmapRegion unmaps this process's view and removes the segment name.
// Mappings held by other processes stay valid until they unmap.
func UnmapRegion(_ context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return fatal(KindUnmap, "munmap", nameOf(region), ErrClosed)
	}
	if err := DetachRegion(region); err != nil {
		return err
	}
	if err := sys().unlink(region.Path); err != nil {
		return fatal(KindUnlink, "shm_unlink", region.Name, err)
	}
	return nil
}

// DetachRegion unmaps this process's view and closes its descriptor,
// leaving the name in place for other participants.
func DetachRegion(region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return fatal(KindUnmap, "munmap", nameOf(region), ErrClosed)
	}
	s := sys()
	if err := s.munmap(region.Addr); err != nil {
		return fatal(KindUnmap, "munmap", region.Name, err)
	}
	region.Addr = nil
	if err := s.close(region.sys.fd); err != nil {
		return fatal(KindUnmap, "close", region.Name, err)
	}
	region.sys.fd = -1
	return nil
}

// RegionExists reports whether a segment name is currently attachable.
func RegionExists(opts MapOptions) (bool, error) {
	var st unix.Stat_t
	err := unix.Stat(regionPath(opts.Dir, opts.Name), &st)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ENOENT):
		return false, nil
	default:
		return false, err
	}
}

// RemoveRegion unlinks a segment name left behind by a crashed owner.
// A missing name is not an error.
func RemoveRegion(opts MapOptions) error {
	if err := sys().unlink(regionPath(opts.Dir, opts.Name)); err != nil && !errors.Is(err, unix.ENOENT) {
		return fatal(KindUnlink, "shm_unlink", opts.Name, err)
	}
	return nil
}

func nameOf(region *MappedRegion) string {
	if region == nil {
		return ""
	}
	return region.Name
}
