// Package shm provides named cross-process mutexes and shared memory segments
// for inter-process communication (IPC).
//
// A group of cooperating processes agrees on two names and one segment size.
// Each process opens the mutex and the segment, then touches the mapped bytes
// only while holding a scoped lock:
//
//	mu := shm.CreateMutex("idx_cache_mutex")
//	seg := shm.CreateSharedMemory("idx_cache")
//	defer seg.Close()
//
//	lock := shm.CreateScopedLock(mu)
//	seg.Bytes()[0] = 0x01
//	lock.Release()
//
// The Create* functions are fail-fast: any system call failure is handed to
// the FatalHandler, which by default logs the diagnostic and exits the
// process. The Open* functions return the same *FatalError instead, for
// callers that supervise failures themselves.
//
// Exactly one platform backend is compiled per target, see internal/shm.
// The package is instrumented with Prometheus collectors (RegisterMetrics)
// and, through Config, with OpenTelemetry metrics and tracing.
package shm
