package api

// SharedMemorySegment is a named region mapped into every process that opens
// it. The bytes carry no ordering guarantees of their own: read and write
// them only while holding the matching ScopedLock.
type SharedMemorySegment interface {
	Name() string
	// Bytes returns the mapped region, or nil once the segment is closed.
	Bytes() []byte
	Size() int
	// Created reports whether this handle created the segment and performed
	// its one-time resize.
	Created() bool
	// Close unmaps this view and removes the name. Call it once, from the
	// owner.
	Close() error
	// Detach unmaps this view and leaves the name for other participants.
	Detach() error
}
