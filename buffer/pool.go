package buffer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/skaldb/skald/metrics"
)

// evictionEntry is a victim candidate: the page and the frame version it
// carried when it was queued. A version mismatch at pop time means the page
// was reused since and the entry is stale.
type evictionEntry struct {
	id      PageID
	version uint64
}

// BufferPool enforces the residency budget over all volatile regions with a
// FIFO second-chance eviction queue. A resident page is first marked on its
// way through the queue and only evicted when it comes around still marked;
// a shared or exclusive frame lock taken in between rescues it. Reads and
// writes through a page slice do not touch the frame and do not rescue it.
type BufferPool struct {
	budget int64
	used   atomic.Int64

	mu    sync.Mutex
	queue []evictionEntry

	classes SizeClasses
	regions []*VolatileRegion
	storage *StorageRegion

	metrics *metrics.Tracker
}

// NewBufferPool creates a pool with the given budget in bytes over the
// per-class regions. storage receives dirty victims; it may be nil when
// write-back is not needed (pure scratch memory).
func NewBufferPool(budget uint64, classes SizeClasses, regions []*VolatileRegion, storage *StorageRegion, tracker *metrics.Tracker) (*BufferPool, error) {
	if err := classes.Validate(); err != nil {
		return nil, err
	}
	if len(regions) != len(classes) {
		return nil, fmt.Errorf("expected one region per size class, have %d for %d classes",
			len(regions), len(classes))
	}
	if budget < classes[0] {
		return nil, fmt.Errorf("budget of %d bytes cannot hold a single %d byte page", budget, classes[0])
	}
	return &BufferPool{
		budget:  int64(budget),
		classes: classes,
		regions: regions,
		storage: storage,
		metrics: tracker,
	}, nil
}

// Budget returns the residency budget in bytes.
func (p *BufferPool) Budget() uint64 { return uint64(p.budget) }

// ResidentBytes returns the bytes currently charged against the budget.
func (p *BufferPool) ResidentBytes() uint64 {
	used := p.used.Load()
	if used < 0 {
		return 0
	}
	return uint64(used)
}

// AddToEvictionQueue records the page as a future victim candidate at its
// current frame version. Each residency episode enqueues the page once; the
// version check invalidates entries from earlier episodes.
func (p *BufferPool) AddToEvictionQueue(id PageID) error {
	frame, err := p.regions[id.SizeClass()].Frame(id)
	if err != nil {
		return err
	}
	entry := evictionEntry{id: id, version: VersionOf(frame.StateAndVersion())}
	p.mu.Lock()
	p.queue = append(p.queue, entry)
	p.mu.Unlock()
	return nil
}

// EnsureFreePages reserves bytes against the budget, evicting victims until
// the reservation fits. When the queue is exhausted first the reservation is
// rolled back and ErrOutOfBudget returned; callers retry with backoff.
func (p *BufferPool) EnsureFreePages(bytes uint64) error {
	p.used.Add(int64(bytes))
	for p.used.Load() > p.budget {
		entry, ok := p.pop()
		if !ok {
			p.used.Add(-int64(bytes))
			return fmt.Errorf("no evictable page for a %d byte reservation: %w", bytes, ErrOutOfBudget)
		}
		p.tryEvict(entry)
	}
	p.metrics.Update(metrics.Delta{BytesResident: int64(bytes)})
	return nil
}

// tryEvict processes one candidate: stale entries are dropped, unmarked
// resident pages get their second chance, marked pages are written back when
// dirty and evicted.
func (p *BufferPool) tryEvict(entry evictionEntry) {
	region := p.regions[entry.id.SizeClass()]
	frame, err := region.Frame(entry.id)
	if err != nil {
		return
	}

	word := frame.StateAndVersion()
	if VersionOf(word) != entry.version {
		// The page was reused since it was queued.
		return
	}

	if StateOf(word) == FrameResident {
		if frame.TryMark(word) {
			p.push(entry)
		}
		return
	}
	if StateOf(word) != FrameMarked {
		return
	}
	if !frame.TryLockExclusive(word) {
		return
	}

	if frame.IsDirty() {
		if p.storage != nil {
			page, err := region.PageBytes(entry.id)
			if err == nil {
				if err := p.storage.WritePage(entry.id, page); err != nil {
					// Keep the page resident rather than lose data.
					frame.UnlockExclusive()
					p.push(evictionEntry{id: entry.id, version: VersionOf(frame.StateAndVersion())})
					return
				}
			}
		}
		frame.SetDirty(false)
	}

	frame.UnlockExclusiveAndEvict()
	_ = region.Protect(entry.id)

	classBytes := int64(p.classes[entry.id.SizeClass()])
	p.used.Add(-classBytes)
	p.metrics.Update(metrics.Delta{PagesEvicted: 1, BytesResident: -classBytes})
}

func (p *BufferPool) pop() (evictionEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return evictionEntry{}, false
	}
	entry := p.queue[0]
	p.queue[0] = evictionEntry{}
	p.queue = p.queue[1:]
	return entry, true
}

func (p *BufferPool) push(entry evictionEntry) {
	p.mu.Lock()
	p.queue = append(p.queue, entry)
	p.mu.Unlock()
}
