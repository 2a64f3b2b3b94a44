package buffer

import (
	"fmt"
	"unsafe"

	"github.com/skaldb/skald/topology"
)

// VolatileRegion is a contiguous virtual-address reservation partitioned into
// equal-sized pages of one size class. Pages start protected; the allocator
// unprotects a page when it becomes resident and the pool re-protects it on
// eviction, so that any access through a stale pointer crashes instead of
// corrupting memory.
type VolatileRegion struct {
	sizeClass int
	pageBytes uint64
	capacity  uint64

	mem    []byte
	frames []Frame
}

// NewVolatileRegion reserves capacityBytes of address space for the given
// size class. On Linux the reservation is lazy: untouched pages cost no
// physical memory. Other platforms commit the whole range up front.
func NewVolatileRegion(sizeClass int, pageBytes, capacityBytes uint64) (*VolatileRegion, error) {
	if pageBytes == 0 || capacityBytes < pageBytes {
		return nil, fmt.Errorf("region for class %d needs capacity for at least one page", sizeClass)
	}
	capacity := capacityBytes / pageBytes
	mem, err := reserveMemory(int(capacity * pageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to reserve %d bytes for size class %d: %w", capacity*pageBytes, sizeClass, err)
	}

	r := &VolatileRegion{
		sizeClass: sizeClass,
		pageBytes: pageBytes,
		capacity:  capacity,
		mem:       mem,
		frames:    make([]Frame, capacity),
	}
	for i := range r.frames {
		r.frames[i].Reset()
	}
	return r, nil
}

// SizeClass returns the class index this region serves.
func (r *VolatileRegion) SizeClass() int { return r.sizeClass }

// PageSize returns the page size in bytes.
func (r *VolatileRegion) PageSize() uint64 { return r.pageBytes }

// Capacity returns the number of pages the reservation can hold.
func (r *VolatileRegion) Capacity() uint64 { return r.capacity }

// Frame returns the control block of the page.
func (r *VolatileRegion) Frame(id PageID) (*Frame, error) {
	if err := r.check(id); err != nil {
		return nil, err
	}
	return &r.frames[id.Index()], nil
}

// PageBytes returns the page's backing slice. The page must be resident and
// unprotected; accessing a protected page crashes.
func (r *VolatileRegion) PageBytes(id PageID) ([]byte, error) {
	if err := r.check(id); err != nil {
		return nil, err
	}
	offset := id.Index() * r.pageBytes
	return r.mem[offset : offset+r.pageBytes : offset+r.pageBytes], nil
}

// Protect makes the page inaccessible.
func (r *VolatileRegion) Protect(id PageID) error {
	page, err := r.PageBytes(id)
	if err != nil {
		return err
	}
	return protectMemory(page)
}

// Unprotect makes the page readable and writable.
func (r *VolatileRegion) Unprotect(id PageID) error {
	page, err := r.PageBytes(id)
	if err != nil {
		return err
	}
	return unprotectMemory(page)
}

// MbindToNumaNode requests the OS place the page on the given NUMA node.
// Best effort: unsupported platforms and failed bindings are not errors.
func (r *VolatileRegion) MbindToNumaNode(id PageID, nodeID int) error {
	page, err := r.PageBytes(id)
	if err != nil {
		return err
	}
	// Advisory; the page stays usable wherever the kernel placed it.
	_ = topology.BindMemory(page, nodeID)
	return nil
}

// PageIDFor resolves the page containing the given address, the reverse map
// used by Deallocate. ok is false when the address is outside this region.
func (r *VolatileRegion) PageIDFor(ptr uintptr) (PageID, bool) {
	base := uintptr(unsafe.Pointer(&r.mem[0]))
	size := uintptr(len(r.mem))
	if ptr < base || ptr >= base+size {
		return InvalidPageID, false
	}
	index := uint64(ptr-base) / r.pageBytes
	return NewPageID(r.sizeClass, index), true
}

// Release returns the reservation to the OS. The region must not be used
// afterwards.
func (r *VolatileRegion) Release() error {
	mem := r.mem
	r.mem = nil
	return releaseMemory(mem)
}

func (r *VolatileRegion) check(id PageID) error {
	if !id.Valid() || id.SizeClass() != r.sizeClass || id.Index() >= r.capacity {
		return fmt.Errorf("page %v not in region of class %d: %w", id, r.sizeClass, ErrInvalidPageID)
	}
	return nil
}
