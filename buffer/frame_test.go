package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameStartsEvicted(t *testing.T) {
	f := NewFrame()
	word := f.StateAndVersion()
	assert.Equal(t, FrameEvicted, StateOf(word))
	assert.Equal(t, uint64(0), VersionOf(word))
	assert.False(t, DirtyOf(word))
}

func TestFrameExclusiveLockCycle(t *testing.T) {
	f := NewFrame()
	word := f.StateAndVersion()
	require.True(t, f.TryLockExclusive(word))
	assert.Equal(t, FrameLocked, StateOf(f.StateAndVersion()))

	// A second locker with the stale word must fail.
	assert.False(t, f.TryLockExclusive(word))

	f.UnlockExclusive()
	after := f.StateAndVersion()
	assert.Equal(t, FrameResident, StateOf(after))
	assert.Equal(t, uint64(1), VersionOf(after), "exclusive unlock bumps the version")
}

func TestFrameVersionGuardsABA(t *testing.T) {
	f := NewFrame()
	require.True(t, f.TryLockExclusive(f.StateAndVersion()))
	f.UnlockExclusive()

	// Snapshot at version 1, then run another lock cycle.
	stale := f.StateAndVersion()
	require.True(t, f.TryLockExclusive(f.StateAndVersion()))
	f.UnlockExclusive()

	// The stale snapshot no longer matches even though the state is the same.
	assert.Equal(t, StateOf(stale), StateOf(f.StateAndVersion()))
	assert.False(t, f.TryLockExclusive(stale))
}

func TestFrameSharedLocks(t *testing.T) {
	f := NewFrame()
	require.True(t, f.TryLockExclusive(f.StateAndVersion()))
	f.UnlockExclusive()

	require.True(t, f.TryLockShared(f.StateAndVersion()))
	require.True(t, f.TryLockShared(f.StateAndVersion()))
	assert.Equal(t, uint64(2), StateOf(f.StateAndVersion()))

	// Writers are rejected while readers hold the page.
	assert.False(t, f.TryLockExclusive(f.StateAndVersion()))

	f.UnlockShared()
	f.UnlockShared()
	assert.Equal(t, FrameResident, StateOf(f.StateAndVersion()))

	// Shared locks do not bump the version.
	assert.Equal(t, uint64(1), VersionOf(f.StateAndVersion()))
}

func TestFrameSharedLockRescuesMarked(t *testing.T) {
	f := NewFrame()
	require.True(t, f.TryLockExclusive(f.StateAndVersion()))
	f.UnlockExclusive()

	require.True(t, f.TryMark(f.StateAndVersion()))
	assert.Equal(t, FrameMarked, StateOf(f.StateAndVersion()))

	require.True(t, f.TryLockShared(f.StateAndVersion()))
	assert.Equal(t, uint64(1), StateOf(f.StateAndVersion()), "marked page rescued to one reader")
}

func TestFrameEvictedPagesRejectReaders(t *testing.T) {
	f := NewFrame()
	assert.False(t, f.TryLockShared(f.StateAndVersion()))
}

func TestFrameDirtyBit(t *testing.T) {
	f := NewFrame()
	require.True(t, f.TryLockExclusive(f.StateAndVersion()))
	f.SetDirty(true)
	assert.True(t, f.IsDirty())

	f.UnlockExclusive()
	assert.True(t, f.IsDirty(), "dirty survives unlock")

	f.SetDirty(false)
	assert.False(t, f.IsDirty())
	assert.Equal(t, uint64(1), VersionOf(f.StateAndVersion()), "dirty updates leave the version alone")
}

func TestFrameBlockingLockWaitsForRelease(t *testing.T) {
	f := NewFrame()
	require.True(t, f.TryLockExclusive(f.StateAndVersion()))

	done := make(chan error, 1)
	go func() { done <- f.LockExclusive(context.Background()) }()

	time.Sleep(2 * time.Millisecond)
	f.UnlockExclusive()
	require.NoError(t, <-done)
	assert.Equal(t, FrameLocked, StateOf(f.StateAndVersion()))
	f.UnlockExclusive()
}

func TestFrameBlockingSharedLock(t *testing.T) {
	f := NewFrame()
	require.True(t, f.TryLockExclusive(f.StateAndVersion()))
	f.UnlockExclusive()

	require.NoError(t, f.LockShared(context.Background()))
	assert.Equal(t, uint64(1), StateOf(f.StateAndVersion()))
	f.UnlockShared()
}

func TestFrameExclusiveLockRace(t *testing.T) {
	f := NewFrame()
	word := f.StateAndVersion()

	var winners int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.TryLockExclusive(word) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners)
}
