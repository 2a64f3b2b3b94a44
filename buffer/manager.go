package buffer

import (
	"fmt"
	"runtime"

	"github.com/skaldb/skald/metrics"
	"github.com/skaldb/skald/topology"
)

// Options configures the buffer manager.
type Options struct {
	// PoolBytes is the residency budget.
	PoolBytes uint64

	// SizeClasses lists the page sizes; defaults to DefaultSizeClasses.
	SizeClasses SizeClasses

	// RegionBytes is the virtual-address reservation per size class;
	// defaults to four times the pool budget.
	RegionBytes uint64

	// StorageDir backs evicted dirty pages. Empty disables write-back.
	StorageDir string

	// EnableNumaBinding moves freshly allocated pages onto the caller's node.
	EnableNumaBinding bool

	// Topology resolves the caller's node; defaults to a detected topology.
	Topology *topology.Topology

	// Metrics receives allocator and pool counter updates.
	Metrics *metrics.Tracker
}

// Manager owns the volatile regions, the buffer pool, the optional storage
// region and the page allocator built on top of them.
type Manager struct {
	classes   SizeClasses
	regions   []*VolatileRegion
	pool      *BufferPool
	storage   *StorageRegion
	allocator *PageAllocator
}

// NewManager builds the buffer subsystem.
func NewManager(opts Options) (*Manager, error) {
	classes := opts.SizeClasses
	if len(classes) == 0 {
		classes = DefaultSizeClasses()
	}
	if err := classes.Validate(); err != nil {
		return nil, err
	}
	if opts.PoolBytes == 0 {
		return nil, fmt.Errorf("buffer pool budget is required")
	}
	regionBytes := opts.RegionBytes
	if regionBytes == 0 {
		regionBytes = 4 * opts.PoolBytes
	}
	topo := opts.Topology
	if topo == nil {
		topo = topology.Detect()
	}

	m := &Manager{classes: classes}

	var err error
	if opts.StorageDir != "" {
		if m.storage, err = NewStorageRegion(opts.StorageDir, classes); err != nil {
			return nil, err
		}
	}

	m.regions = make([]*VolatileRegion, len(classes))
	for i, classBytes := range classes {
		capacity := regionBytes
		if capacity < classBytes {
			capacity = classBytes
		}
		if m.regions[i], err = NewVolatileRegion(i, classBytes, capacity); err != nil {
			_ = m.Close()
			return nil, err
		}
	}

	if m.pool, err = NewBufferPool(opts.PoolBytes, classes, m.regions, m.storage, opts.Metrics); err != nil {
		_ = m.Close()
		return nil, err
	}
	if m.allocator, err = NewPageAllocator(classes, m.regions, m.pool, topo, opts.EnableNumaBinding, opts.Metrics); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// Allocator returns the page allocator.
func (m *Manager) Allocator() *PageAllocator { return m.allocator }

// Pool returns the buffer pool.
func (m *Manager) Pool() *BufferPool { return m.pool }

// Storage returns the storage region, or nil when write-back is disabled.
func (m *Manager) Storage() *StorageRegion { return m.storage }

// SizeClasses returns the configured size-class table.
func (m *Manager) SizeClasses() SizeClasses { return m.classes }

// ReadPage copies the page's current content into dst: straight from memory
// while the page is resident, otherwise from the storage region's write-back
// copy. dst must cover the full page.
func (m *Manager) ReadPage(id PageID, dst []byte) error {
	if !id.Valid() || id.SizeClass() >= len(m.regions) {
		return fmt.Errorf("read of %v: %w", id, ErrInvalidPageID)
	}
	region := m.regions[id.SizeClass()]
	frame, err := region.Frame(id)
	if err != nil {
		return err
	}

	for {
		word := frame.StateAndVersion()
		state := StateOf(word)
		if state == FrameEvicted {
			if m.storage == nil {
				return fmt.Errorf("page %v is evicted and no storage region is configured: %w", id, ErrIO)
			}
			return m.storage.ReadPage(id, dst)
		}
		if !frame.TryLockShared(word) {
			runtime.Gosched()
			continue
		}
		page, err := region.PageBytes(id)
		if err == nil {
			copy(dst, page)
		}
		frame.UnlockShared()
		return err
	}
}

// PageIDFor resolves the page containing an address issued by the allocator.
func (m *Manager) PageIDFor(buf []byte) (PageID, error) {
	if len(buf) == 0 {
		return InvalidPageID, ErrInvalidPageID
	}
	id, _, err := m.allocator.findPage(pointerOf(buf))
	return id, err
}

// Close releases every region and the storage files.
func (m *Manager) Close() error {
	var firstErr error
	for _, region := range m.regions {
		if region == nil {
			continue
		}
		if err := region.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.regions = nil
	if m.storage != nil {
		if err := m.storage.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.storage = nil
	}
	return firstErr
}
