// Package metrics keeps aggregated engine counters (tasks scheduled and
// finished, pages allocated and freed, resident bytes) for a single engine
// run. The tracker instance is shared by the scheduler and buffer manager -
// every component holding a reference can atomically update the counters via
// the Delta helper without requiring a global registry.
package metrics

import (
	"sync"
	"time"
)

// Delta represents an incremental counter change emitted by the scheduler,
// a worker or the buffer allocator. The fields are signed and therefore can
// be either positive (increment) or negative (decrement).
type Delta struct {
	TasksScheduled int
	TasksFinished  int
	TasksStolen    int
	PagesAllocated int
	PagesFreed     int
	PagesEvicted   int
	BytesResident  int64
}

// Tracker keeps aggregated counters for one engine run. It is safe for
// concurrent use.
type Tracker struct {
	// Identification - informative only, filled when the engine starts.
	InstanceID string
	StartedAt  time.Time

	// Counters - modified via Update().
	TasksScheduled int
	TasksFinished  int
	TasksStolen    int
	PagesAllocated int
	PagesFreed     int
	PagesEvicted   int
	BytesResident  int64

	sync.Mutex
	onChange func(Tracker)
}

// Update applies the supplied delta to the tracker. It is safe to call from
// multiple goroutines. If an onChange callback has been registered it will be
// invoked with a copy of the updated tracker outside the critical section so
// that the callback can perform slow operations without blocking engine
// internals.
func (t *Tracker) Update(d Delta) {
	if t == nil {
		return
	}

	t.Lock()

	t.TasksScheduled += d.TasksScheduled
	t.TasksFinished += d.TasksFinished
	t.TasksStolen += d.TasksStolen
	t.PagesAllocated += d.PagesAllocated
	t.PagesFreed += d.PagesFreed
	t.PagesEvicted += d.PagesEvicted
	t.BytesResident += d.BytesResident

	snapshot := *t
	cb := t.onChange

	t.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy of the tracker suitable for read-only inspection.
func (t *Tracker) Snapshot() Tracker {
	if t == nil {
		return Tracker{}
	}
	t.Lock()
	defer t.Unlock()
	snapshot := *t
	snapshot.onChange = nil
	return snapshot
}

// OnChange registers a callback invoked after every Update.
func (t *Tracker) OnChange(fn func(Tracker)) {
	if t == nil {
		return
	}
	t.Lock()
	defer t.Unlock()
	t.onChange = fn
}
