package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueuedTask() *Task {
	task := NewJob(func(ctx context.Context) error { return nil })
	var next uint64
	_, _ = task.markScheduled(func() uint64 { next++; return next - 1 }, CurrentNode, PriorityDefault)
	task.tryEnqueue()
	return task
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := NewTaskQueue(0)
	first, second, third := newQueuedTask(), newQueuedTask(), newQueuedTask()
	q.Push(first, PriorityDefault)
	q.Push(second, PriorityDefault)
	q.Push(third, PriorityDefault)

	assert.Same(t, first, q.Pull())
	assert.Same(t, second, q.Pull())
	assert.Same(t, third, q.Pull())
	assert.Nil(t, q.Pull())
}

func TestQueueHighDrainsFirst(t *testing.T) {
	q := NewTaskQueue(0)
	normal, urgent := newQueuedTask(), newQueuedTask()
	q.Push(normal, PriorityDefault)
	q.Push(urgent, PriorityHigh)

	assert.Same(t, urgent, q.Pull())
	assert.Same(t, normal, q.Pull())
}

func TestQueueStealRefusesHigh(t *testing.T) {
	q := NewTaskQueue(0)
	urgent := newQueuedTask()
	q.Push(urgent, PriorityHigh)

	assert.Nil(t, q.Steal(), "stealing must not take High priority tasks")
	assert.Same(t, urgent, q.Pull())
}

func TestQueueEstimateLoad(t *testing.T) {
	q := NewTaskQueue(3)
	assert.Equal(t, 3, q.NodeID())
	assert.Equal(t, int64(0), q.EstimateLoad())
	assert.True(t, q.Empty())

	q.Push(newQueuedTask(), PriorityDefault)
	q.Push(newQueuedTask(), PriorityHigh)
	assert.Equal(t, int64(2), q.EstimateLoad())
	assert.False(t, q.Empty())

	q.Pull()
	assert.Equal(t, int64(1), q.EstimateLoad())
	q.Pull()
	assert.Equal(t, int64(0), q.EstimateLoad())
	assert.True(t, q.Empty())
}

func TestQueueStealRace(t *testing.T) {
	q := NewTaskQueue(0)
	q.Push(newQueuedTask(), PriorityDefault)

	var mu sync.Mutex
	var winners int
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if task := q.Steal(); task != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one stealer wins the task")
	assert.Equal(t, int64(0), q.EstimateLoad())
}

func TestQueueWaitWakesOnSignal(t *testing.T) {
	q := NewTaskQueue(0)
	start := time.Now()
	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Signal(1)
	}()
	q.Wait(time.Second)
	require.Less(t, time.Since(start), time.Second)
}
