package buffer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/skaldb/skald/internal/backoff"
	"github.com/skaldb/skald/metrics"
	"github.com/skaldb/skald/topology"
)

// PageAllocator issues size-classed pages over the volatile regions and the
// buffer pool. Page ids are minted per class behind a per-class mutex so that
// unrelated allocations do not serialise; freed ids are recycled from a
// per-class stack.
type PageAllocator struct {
	classes SizeClasses
	regions []*VolatileRegion
	pool    *BufferPool
	topo    *topology.Topology

	numaBinding bool
	retry       backoff.Config

	mu        []sync.Mutex
	freeIDs   [][]PageID
	nextIndex []uint64

	numAllocs           atomic.Uint64
	numDeallocs         atomic.Uint64
	totalAllocatedBytes atomic.Uint64

	metrics *metrics.Tracker
}

// NewPageAllocator wires the allocator over one region per size class.
func NewPageAllocator(classes SizeClasses, regions []*VolatileRegion, pool *BufferPool, topo *topology.Topology, numaBinding bool, tracker *metrics.Tracker) (*PageAllocator, error) {
	if err := classes.Validate(); err != nil {
		return nil, err
	}
	if len(regions) != len(classes) {
		return nil, fmt.Errorf("expected one region per size class, have %d for %d classes",
			len(regions), len(classes))
	}
	return &PageAllocator{
		classes:     classes,
		regions:     regions,
		pool:        pool,
		topo:        topo,
		numaBinding: numaBinding,
		retry:       backoff.DefaultConfig(),
		mu:          make([]sync.Mutex, len(classes)),
		freeIDs:     make([][]PageID, len(classes)),
		nextIndex:   make([]uint64, len(classes)),
		metrics:     tracker,
	}, nil
}

// Allocate returns a page-backed slice of at least bytes length (rounded up
// to the smallest fitting size class). The page is resident, dirty and
// registered with the eviction queue when the call returns.
func (a *PageAllocator) Allocate(ctx context.Context, bytes uint64) ([]byte, error) {
	classIdx, err := a.classes.Fit(bytes)
	if err != nil {
		return nil, err
	}
	classBytes := a.classes[classIdx]
	region := a.regions[classIdx]

	id, err := a.newPageID(classIdx)
	if err != nil {
		return nil, err
	}
	frame, err := region.Frame(id)
	if err != nil {
		return nil, err
	}

	// The frame is freshly minted or previously freed, so the lock must be
	// acquirable; a bounded re-read absorbs a concurrent eviction mark.
	var word uint64
	locked := false
	for attempt := 0; attempt < 64 && !locked; attempt++ {
		word = frame.StateAndVersion()
		locked = frame.TryLockExclusive(word)
	}
	if !locked {
		a.freePageID(id)
		return nil, fmt.Errorf("could not lock %v exclusively during allocation: %w", id, ErrInvalidPageID)
	}

	// A freed-but-still-resident page already holds budget; only pages coming
	// out of the evicted state need a reservation and fresh access rights.
	if StateOf(word) == FrameEvicted {
		if err := region.Unprotect(id); err != nil {
			frame.UnlockExclusiveAndEvict()
			a.freePageID(id)
			return nil, err
		}
		reserve := func() error { return a.pool.EnsureFreePages(classBytes) }
		if err := backoff.Retry(ctx, a.retry, reserve); err != nil {
			_ = region.Protect(id)
			frame.UnlockExclusiveAndEvict()
			a.freePageID(id)
			return nil, err
		}
	}

	if a.numaBinding {
		_ = region.MbindToNumaNode(id, a.callerNode())
	}
	frame.SetDirty(true)
	frame.UnlockExclusive()
	if err := a.pool.AddToEvictionQueue(id); err != nil {
		return nil, err
	}

	a.numAllocs.Add(1)
	a.totalAllocatedBytes.Add(classBytes)
	a.metrics.Update(metrics.Delta{PagesAllocated: 1})

	return region.PageBytes(id)
}

// Deallocate releases a slice previously returned by Allocate. The page
// becomes reclaimable immediately and its id may be minted again.
func (a *PageAllocator) Deallocate(buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("deallocate of empty buffer: %w", ErrInvalidPageID)
	}
	id, region, err := a.findPage(pointerOf(buf))
	if err != nil {
		return err
	}
	frame, err := region.Frame(id)
	if err != nil {
		return err
	}

	var word uint64
	locked := false
	for attempt := 0; attempt < 64 && !locked; attempt++ {
		word = frame.StateAndVersion()
		if StateOf(word) == FrameEvicted {
			return fmt.Errorf("double free of %v: %w", id, ErrInvalidPageID)
		}
		locked = frame.TryLockExclusive(word)
	}
	if !locked {
		return fmt.Errorf("could not lock %v exclusively during deallocation: %w", id, ErrInvalidPageID)
	}

	frame.SetDirty(false)
	frame.UnlockExclusive()
	if err := a.pool.AddToEvictionQueue(id); err != nil {
		return err
	}
	a.freePageID(id)

	a.numDeallocs.Add(1)
	a.totalAllocatedBytes.Add(^(a.classes[id.SizeClass()] - 1))
	a.metrics.Update(metrics.Delta{PagesFreed: 1})
	return nil
}

// NumAllocs returns the number of successful allocations.
func (a *PageAllocator) NumAllocs() uint64 { return a.numAllocs.Load() }

// NumDeallocs returns the number of deallocations.
func (a *PageAllocator) NumDeallocs() uint64 { return a.numDeallocs.Load() }

// TotalAllocatedBytes returns the class-size sum of live pages.
func (a *PageAllocator) TotalAllocatedBytes() uint64 { return a.totalAllocatedBytes.Load() }

// newPageID pops a recycled id or mints the next index of the class.
func (a *PageAllocator) newPageID(classIdx int) (PageID, error) {
	a.mu[classIdx].Lock()
	defer a.mu[classIdx].Unlock()

	if n := len(a.freeIDs[classIdx]); n > 0 {
		id := a.freeIDs[classIdx][n-1]
		a.freeIDs[classIdx] = a.freeIDs[classIdx][:n-1]
		return id, nil
	}
	if a.nextIndex[classIdx] >= a.regions[classIdx].Capacity() {
		return InvalidPageID, fmt.Errorf("size class %d region exhausted: %w", classIdx, ErrOutOfBudget)
	}
	index := a.nextIndex[classIdx]
	a.nextIndex[classIdx]++
	return NewPageID(classIdx, index), nil
}

func (a *PageAllocator) freePageID(id PageID) {
	classIdx := id.SizeClass()
	a.mu[classIdx].Lock()
	a.freeIDs[classIdx] = append(a.freeIDs[classIdx], id)
	a.mu[classIdx].Unlock()
}

func (a *PageAllocator) findPage(ptr uintptr) (PageID, *VolatileRegion, error) {
	for _, region := range a.regions {
		if id, ok := region.PageIDFor(ptr); ok {
			return id, region, nil
		}
	}
	return InvalidPageID, nil, fmt.Errorf("address %#x not issued by this allocator: %w", ptr, ErrInvalidPageID)
}

// callerNode resolves the NUMA node of the executing thread. Workers are
// pinned, so the current CPU determines the right node.
func (a *PageAllocator) callerNode() int {
	if a.topo == nil {
		return 0
	}
	cpu := topology.CurrentCpu()
	if cpu < 0 {
		return 0
	}
	return a.topo.NodeOfCpu(cpu)
}
