package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skaldb/skald/internal/clock"
)

// State is the position of a task in its lifecycle. Transitions are
// monotonic: Created -> Scheduled -> Enqueued -> Running -> Done.
type State int32

const (
	StateCreated State = iota
	StateScheduled
	StateEnqueued
	StateRunning
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateScheduled:
		return "scheduled"
	case StateEnqueued:
		return "enqueued"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Priority selects the sub-queue a task is pushed to. High tasks are drained
// before Default ones on every pop.
type Priority int

const (
	PriorityDefault Priority = iota
	PriorityHigh
)

// CurrentNode asks placement to run the task near the submitting thread.
const CurrentNode = -1

// edgeMu serialises edge creation so that the two per-task mutexes can be
// taken without a global lock order.
var edgeMu sync.Mutex

// Task is a unit of work with predecessor/successor edges. Build the graph
// while every endpoint is still in StateCreated; once a task is scheduled its
// edges are immutable.
type Task struct {
	fn func(ctx context.Context) error

	state               atomic.Int32
	pendingPredecessors atomic.Int32

	// mu guards id/priority/nodeID assignment and the edge slices while the
	// graph is still open. After the Created state they are read-only.
	mu           sync.Mutex
	id           uint64
	priority     Priority
	nodeID       int
	predecessors []*Task
	successors   []*Task
	shutdownTask bool

	done chan struct{}
	err  error

	scheduledAt time.Time
	startedAt   time.Time
	doneAt      time.Time
}

// NewJob wraps a callable into a schedulable task.
func NewJob(fn func(ctx context.Context) error) *Task {
	return &Task{fn: fn, nodeID: CurrentNode, done: make(chan struct{})}
}

// newShutdownTask builds the internal wake-up ping used by Finish. Shutdown
// tasks are excluded from grouping.
func newShutdownTask(fn func(ctx context.Context) error) *Task {
	task := NewJob(fn)
	task.shutdownTask = true
	return task
}

// ID returns the identifier assigned at admission; zero before that.
func (t *Task) ID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// NodeID returns the NUMA placement hint recorded at admission.
func (t *Task) NodeID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nodeID
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	return State(t.state.Load())
}

// Done reports whether the task reached its terminal state.
func (t *Task) Done() bool {
	return t.State() == StateDone
}

// IsReady reports whether the task is scheduled and all predecessors have
// completed.
func (t *Task) IsReady() bool {
	return t.State() == StateScheduled && t.pendingPredecessors.Load() == 0
}

// Wait blocks until the task is done and returns the latched payload error,
// if any. Safe for any number of concurrent waiters.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Predecessors returns a snapshot of the incoming edges.
func (t *Task) Predecessors() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Task(nil), t.predecessors...)
}

// Successors returns a snapshot of the outgoing edges.
func (t *Task) Successors() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Task(nil), t.successors...)
}

func (t *Task) hasEdges() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.predecessors) > 0 || len(t.successors) > 0
}

// StartedAt returns when a worker began executing the task.
func (t *Task) StartedAt() time.Time {
	<-t.done
	return t.startedAt
}

// DoneAt returns when the task completed.
func (t *Task) DoneAt() time.Time {
	<-t.done
	return t.doneAt
}

// SetAsPredecessorOf adds an edge from t to successor: successor will not
// start before t is done. Both tasks must still be in StateCreated.
func (t *Task) SetAsPredecessorOf(successor *Task) error {
	if t == successor {
		return fmt.Errorf("task cannot depend on itself: %w", ErrGraphClosed)
	}
	edgeMu.Lock()
	defer edgeMu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	successor.mu.Lock()
	defer successor.mu.Unlock()

	if t.State() != StateCreated || successor.State() != StateCreated {
		return fmt.Errorf("both tasks must be unscheduled to add an edge: %w", ErrGraphClosed)
	}
	t.successors = append(t.successors, successor)
	successor.predecessors = append(successor.predecessors, t)
	successor.pendingPredecessors.Add(1)
	return nil
}

// markScheduled performs the Created -> Scheduled transition and records the
// admission attributes. nextID is consulted only after validation so that a
// rejected double-schedule does not consume an admission id.
func (t *Task) markScheduled(nextID func() uint64, nodeID int, priority Priority) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State() != StateCreated {
		return 0, fmt.Errorf("task %d already scheduled: %w", t.id, ErrInvalidState)
	}
	t.id = nextID()
	t.nodeID = nodeID
	t.priority = priority
	t.scheduledAt = clock.Now()
	t.state.Store(int32(StateScheduled))
	return t.id, nil
}

// tryEnqueue claims the single Scheduled -> Enqueued transition. Exactly one
// of the racing callers (admission or the last finishing predecessor) wins,
// which guarantees the task enters a queue at most once.
func (t *Task) tryEnqueue() bool {
	return t.state.CompareAndSwap(int32(StateScheduled), int32(StateEnqueued))
}

// run executes the payload on the calling worker and returns the successors
// that became ready. Payload panics are recovered and latched so that Wait
// re-raises them as errors.
func (t *Task) run(ctx context.Context) []*Task {
	if !t.state.CompareAndSwap(int32(StateEnqueued), int32(StateRunning)) {
		panic(fmt.Sprintf("task %d executed while %s", t.id, t.State()))
	}
	t.startedAt = clock.Now()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &PayloadError{TaskID: t.id, Value: r}
			}
		}()
		err = t.fn(ctx)
	}()

	return t.markDone(err)
}

// markDone publishes the terminal state, releases waiters and decrements the
// predecessor count of every successor. Successors that reach zero while
// already scheduled are claimed for enqueueing and returned to the caller.
func (t *Task) markDone(err error) []*Task {
	t.err = err
	t.doneAt = clock.Now()
	t.state.Store(int32(StateDone))
	close(t.done)

	var ready []*Task
	for _, successor := range t.successors {
		if successor.pendingPredecessors.Add(-1) == 0 && successor.tryEnqueue() {
			ready = append(ready, successor)
		}
	}
	return ready
}
