package shm

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatalError_Format(t *testing.T) {
	fe := fatal(KindSize, "ftruncate", "/idx_cache", fmt.Errorf("%w: size %d", ErrNoSpace, 4096))
	assert.Equal(t, "FAIL errno=0 in |ftruncate /idx_cache|: not enough free space for shared memory segment: size 4096", fe.Error())
	assert.ErrorIs(t, fe, ErrNoSpace)
	assert.Equal(t, "size", fe.Kind.String())

	fe = fatal(KindMap, "mmap", "/idx_cache", syscall.ENOMEM)
	assert.Equal(t, int(syscall.ENOMEM), fe.Errno())
}
