// Package api defines the platform-agnostic contracts of shmsync.
package api

// NamedMutex is a mutual-exclusion object shared by every process that opens
// the same name. Closing a handle drops only this process's reference.
type NamedMutex interface {
	// Name returns the logical name the mutex was opened with.
	Name() string
	// Lock blocks, without timeout, until the caller holds the mutex.
	// It is not re-entrant.
	Lock() error
	// Unlock releases the mutex. It never blocks.
	Unlock() error
	Close() error
}

// ScopedLock holds a NamedMutex for one lexical scope.
//
//	lock := shm.CreateScopedLock(mu)
//	defer lock.Release()
type ScopedLock interface {
	// Release unlocks the mutex. Only the first call has an effect.
	Release()
}
