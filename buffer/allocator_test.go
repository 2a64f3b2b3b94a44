package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skaldb/skald/internal/backoff"
	"github.com/skaldb/skald/topology"
)

func newTestManager(t *testing.T, poolBytes uint64, classes SizeClasses) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		PoolBytes:   poolBytes,
		SizeClasses: classes,
		StorageDir:  t.TempDir(),
		Topology:    topology.Fake(2),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestAllocateReturnsResidentPage(t *testing.T) {
	m := newTestManager(t, 1<<20, SizeClasses{16 << 10, 64 << 10})
	a := m.Allocator()

	buf, err := a.Allocate(context.Background(), 20<<10)
	require.NoError(t, err)
	assert.Len(t, buf, 64<<10, "20 KiB rounds up to the 64 KiB class")

	id, err := m.PageIDFor(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, id.SizeClass())

	frame, err := m.regions[id.SizeClass()].Frame(id)
	require.NoError(t, err)
	assert.Equal(t, FrameResident, StateOf(frame.StateAndVersion()))
	assert.True(t, frame.IsDirty(), "fresh pages are dirty until written back")

	// The page is registered for eviction exactly once.
	m.pool.mu.Lock()
	entries := 0
	for _, entry := range m.pool.queue {
		if entry.id == id {
			entries++
		}
	}
	m.pool.mu.Unlock()
	assert.Equal(t, 1, entries)

	// The page is writable.
	buf[0] = 0x42
	buf[len(buf)-1] = 0x42
}

func TestAllocateTooLarge(t *testing.T) {
	m := newTestManager(t, 1<<20, SizeClasses{16 << 10})
	_, err := m.Allocator().Allocate(context.Background(), 17<<10)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestAllocateDeallocateCounters(t *testing.T) {
	m := newTestManager(t, 1<<20, SizeClasses{16 << 10})
	a := m.Allocator()

	bufs := make([][]byte, 3)
	for i := range bufs {
		buf, err := a.Allocate(context.Background(), 16<<10)
		require.NoError(t, err)
		bufs[i] = buf
	}
	assert.Equal(t, uint64(3), a.NumAllocs())
	assert.Equal(t, uint64(3*16<<10), a.TotalAllocatedBytes())

	require.NoError(t, a.Deallocate(bufs[0]))
	require.NoError(t, a.Deallocate(bufs[1]))
	assert.Equal(t, uint64(2), a.NumDeallocs())
	assert.Equal(t, uint64(16<<10), a.TotalAllocatedBytes())
	assert.Equal(t, a.NumAllocs()-a.NumDeallocs(), uint64(1))
}

func TestDeallocateUnknownAddress(t *testing.T) {
	m := newTestManager(t, 1<<20, SizeClasses{16 << 10})
	foreign := make([]byte, 16<<10)
	assert.ErrorIs(t, m.Allocator().Deallocate(foreign), ErrInvalidPageID)
	assert.ErrorIs(t, m.Allocator().Deallocate(nil), ErrInvalidPageID)
}

func TestFreedPageIDIsMintedAgainWithHigherVersion(t *testing.T) {
	m := newTestManager(t, 1<<20, SizeClasses{16 << 10})
	a := m.Allocator()

	buf, err := a.Allocate(context.Background(), 16<<10)
	require.NoError(t, err)
	id, err := m.PageIDFor(buf)
	require.NoError(t, err)
	frame, err := m.regions[0].Frame(id)
	require.NoError(t, err)
	versionBefore := VersionOf(frame.StateAndVersion())

	require.NoError(t, a.Deallocate(buf))

	again, err := a.Allocate(context.Background(), 16<<10)
	require.NoError(t, err)
	idAgain, err := m.PageIDFor(again)
	require.NoError(t, err)

	assert.Equal(t, id, idAgain, "the freed id is recycled from the class stack")
	assert.Greater(t, VersionOf(frame.StateAndVersion()), versionBefore)
}

func TestAllocationEvictionKeepsResidencyBounded(t *testing.T) {
	const pageBytes = 64 << 10
	const poolBytes = 4 << 20
	const pageCount = 128

	m := newTestManager(t, poolBytes, SizeClasses{pageBytes})
	a := m.Allocator()

	ids := make([]PageID, pageCount)
	for i := 0; i < pageCount; i++ {
		buf, err := a.Allocate(context.Background(), pageBytes)
		require.NoError(t, err)
		for j := range buf {
			buf[j] = byte(i)
		}
		id, err := m.PageIDFor(buf)
		require.NoError(t, err)
		ids[i] = id

		require.LessOrEqual(t, m.Pool().ResidentBytes(), uint64(poolBytes),
			"residency must never exceed the budget")
	}

	// Every page reads back the value written, whether still resident or
	// reloaded from the write-back copy.
	read := make([]byte, pageBytes)
	for i, id := range ids {
		require.NoError(t, m.ReadPage(id, read))
		for _, b := range read {
			require.Equal(t, byte(i), b, "page %d", i)
		}
	}
}

func TestAllocateSurfacesOutOfBudget(t *testing.T) {
	m := newTestManager(t, 16<<10, SizeClasses{16 << 10})
	a := m.Allocator()
	a.retry = backoff.Config{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 3}

	buf, err := a.Allocate(context.Background(), 16<<10)
	require.NoError(t, err)

	// Pin the only resident page so the second allocation cannot evict it.
	id, err := m.PageIDFor(buf)
	require.NoError(t, err)
	frame, err := m.regions[0].Frame(id)
	require.NoError(t, err)
	require.True(t, frame.TryLockExclusive(frame.StateAndVersion()))

	_, err = a.Allocate(context.Background(), 16<<10)
	assert.ErrorIs(t, err, ErrOutOfBudget)
	frame.UnlockExclusive()
}
