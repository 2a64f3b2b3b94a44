package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// signalBuffer bounds the wake-up semaphore. Workers re-poll on a bounded
// timeout, so a saturated semaphore only delays a wake-up, never loses work.
const signalBuffer = 1024

// TaskQueue holds the ready tasks of one NUMA node, split into a High and a
// Default FIFO. High is drained before Default on every pop.
type TaskQueue struct {
	nodeID int
	load   atomic.Int64

	mu     [2]sync.Mutex
	queues [2][]*Task

	signal chan struct{}
}

// NewTaskQueue creates the ready queue for a node.
func NewTaskQueue(nodeID int) *TaskQueue {
	return &TaskQueue{
		nodeID: nodeID,
		signal: make(chan struct{}, signalBuffer),
	}
}

// NodeID returns the owning node.
func (q *TaskQueue) NodeID() int { return q.nodeID }

// Push appends the task to the priority's FIFO and wakes one waiter.
func (q *TaskQueue) Push(task *Task, priority Priority) {
	idx := queueIndex(priority)
	q.mu[idx].Lock()
	q.queues[idx] = append(q.queues[idx], task)
	q.mu[idx].Unlock()

	q.load.Add(1)
	q.Signal(1)
}

// Pull removes the next task, High first, or returns nil when both FIFOs are
// empty.
func (q *TaskQueue) Pull() *Task {
	for _, idx := range [2]int{queueIndex(PriorityHigh), queueIndex(PriorityDefault)} {
		if task := q.pop(idx); task != nil {
			q.load.Add(-1)
			return task
		}
	}
	return nil
}

// Steal removes a Default-priority task on behalf of a worker from another
// node. High tasks are not handed out so that stealing cannot degrade the
// latency of urgent work.
func (q *TaskQueue) Steal() *Task {
	if task := q.pop(queueIndex(PriorityDefault)); task != nil {
		q.load.Add(-1)
		return task
	}
	return nil
}

// EstimateLoad returns the enqueue/dequeue balance. The counter is relaxed
// and may briefly disagree with the actual queue length.
func (q *TaskQueue) EstimateLoad() int64 {
	return q.load.Load()
}

// Empty reports whether both FIFOs are empty.
func (q *TaskQueue) Empty() bool {
	for idx := range q.queues {
		q.mu[idx].Lock()
		n := len(q.queues[idx])
		q.mu[idx].Unlock()
		if n > 0 {
			return false
		}
	}
	return true
}

// stealable reports whether a Steal call could currently succeed.
func (q *TaskQueue) stealable() bool {
	idx := queueIndex(PriorityDefault)
	q.mu[idx].Lock()
	n := len(q.queues[idx])
	q.mu[idx].Unlock()
	return n > 0
}

// Signal wakes up to n waiters.
func (q *TaskQueue) Signal(n int) {
	for i := 0; i < n; i++ {
		select {
		case q.signal <- struct{}{}:
		default:
			return
		}
	}
}

// Wait parks the caller until a wake-up arrives or the timeout elapses.
func (q *TaskQueue) Wait(timeout time.Duration) {
	select {
	case <-q.signal:
	case <-time.After(timeout):
	}
}

func (q *TaskQueue) pop(idx int) *Task {
	q.mu[idx].Lock()
	defer q.mu[idx].Unlock()
	if len(q.queues[idx]) == 0 {
		return nil
	}
	task := q.queues[idx][0]
	q.queues[idx][0] = nil
	q.queues[idx] = q.queues[idx][1:]
	return task
}

func queueIndex(priority Priority) int {
	if priority == PriorityHigh {
		return 0
	}
	return 1
}
