package shm

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	internalshm "github.com/srediag/shmsync/internal/shm"
)

// FatalError reports an IPC failure after which the process must not
// continue: a half-initialized primitive risks silent corruption shared
// across processes.
type FatalError = internalshm.FatalError

// Kind classifies a FatalError.
type Kind = internalshm.Kind

const (
	KindCreation = internalshm.KindCreation
	KindSize     = internalshm.KindSize
	KindMap      = internalshm.KindMap
	KindUnmap    = internalshm.KindUnmap
	KindUnlink   = internalshm.KindUnlink
	KindLock     = internalshm.KindLock
)

var (
	ErrInvalidName    = internalshm.ErrInvalidName
	ErrClosed         = internalshm.ErrClosed
	ErrNotInitialized = internalshm.ErrNotInitialized
	ErrNoSpace        = internalshm.ErrNoSpace
)

// IsFatal reports whether err carries a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// FatalHandler receives every failure of the fail-fast API. It is not
// expected to return; if it does, the failing call panics with the error.
type FatalHandler func(err *FatalError)

var (
	fatalMu      sync.RWMutex
	fatalHandler FatalHandler = exitOnFatal
)

// exitOnFatal logs the diagnostic at Error level, regardless of the
// configured level, and exits.
func exitOnFatal(err *FatalError) {
	internalLogger.fatalf("%v", err)
	os.Exit(1)
}

// SetFatalHandler replaces the process-wide FatalHandler and returns a
// function restoring the previous one.
func SetFatalHandler(h FatalHandler) (restore func()) {
	if h == nil {
		h = exitOnFatal
	}
	fatalMu.Lock()
	prev := fatalHandler
	fatalHandler = h
	fatalMu.Unlock()
	return func() {
		fatalMu.Lock()
		fatalHandler = prev
		fatalMu.Unlock()
	}
}

// failFast hands err to the FatalHandler and never returns.
func failFast(err error) {
	var fe *FatalError
	if !errors.As(err, &fe) {
		fe = &FatalError{Kind: KindCreation, Op: "unknown", Err: err}
	}
	fatalErrors.WithLabelValues(fe.Kind.String()).Inc()

	fatalMu.RLock()
	h := fatalHandler
	fatalMu.RUnlock()
	h(fe)
	internalLogger.warnf("fatal handler returned for %v", fe)
	panic(fe)
}

func validateName(name string) error {
	switch {
	case name == "", len(name) > maxNameLen, strings.ContainsAny(name, "/\\\x00"):
		return &FatalError{
			Kind: KindCreation,
			Op:   "open",
			Name: name,
			Err:  fmt.Errorf("%w: %q", ErrInvalidName, name),
		}
	}
	return nil
}
