package uid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocatorIsMonotonic(t *testing.T) {
	var a Allocator
	assert.Equal(t, uint64(0), a.Allocate())
	assert.Equal(t, uint64(1), a.Allocate())
	assert.Equal(t, uint64(2), a.Allocate())

	a.Reset()
	assert.Equal(t, uint64(0), a.Allocate())
}

func TestAllocatorConcurrentUniqueness(t *testing.T) {
	var a Allocator
	const goroutines, perGoroutine = 8, 1000

	ids := make([][]uint64, goroutines)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			ids[g] = make([]uint64, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				ids[g] = append(ids[g], a.Allocate())
			}
		}(g)
	}
	wg.Wait()

	seen := make(map[uint64]bool, goroutines*perGoroutine)
	for _, chunk := range ids {
		for _, id := range chunk {
			assert.False(t, seen[id], "id %d handed out twice", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestNewInstanceIDIsStubbable(t *testing.T) {
	original := NewInstanceFunc
	defer func() { NewInstanceFunc = original }()

	NewInstanceFunc = func() string { return "fixed" }
	assert.Equal(t, "fixed", NewInstanceID())
}
