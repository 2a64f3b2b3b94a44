// Package uid hands out process-wide identifiers: dense monotonic counters
// for tasks and workers, and opaque instance identifiers for engine runs.
package uid

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Allocator hands out monotonically increasing identifiers starting at zero.
// The zero value is ready to use.
type Allocator struct {
	next atomic.Uint64
}

// Allocate returns the next identifier.
func (a *Allocator) Allocate() uint64 {
	return a.next.Add(1) - 1
}

// Reset rewinds the allocator to zero. Callers must guarantee no concurrent
// Allocate is in flight.
func (a *Allocator) Reset() {
	a.next.Store(0)
}

// NewInstanceFunc returns a new globally unique instance identifier as a
// string. It is implemented as a thin wrapper so tests can stub it.
var NewInstanceFunc = func() string { return uuid.New().String() }

// NewInstanceID returns a unique identifier for an engine run.
func NewInstanceID() string { return NewInstanceFunc() }
