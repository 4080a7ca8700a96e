package shm

import (
	"sync/atomic"
	"unsafe"
)

// wordAt returns the 32-bit word at off inside a mapped region. off must be
// 4-byte aligned; mappings themselves are page aligned.
func wordAt(mem []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

// atomicLoadUint32 loads a uint32 from shared memory atomically.
func atomicLoadUint32(addr *uint32) uint32 {
	return atomic.LoadUint32(addr)
}

// atomicAddUint32 adds delta to a uint32 in shared memory atomically.
func atomicAddUint32(addr *uint32, delta int32) uint32 {
	return atomic.AddUint32(addr, uint32(delta))
}

// atomicCompareAndSwapUint32 atomically compares and swaps a uint32 in shared memory.
func atomicCompareAndSwapUint32(addr *uint32, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(addr, old, new)
}
