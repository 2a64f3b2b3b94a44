package scheduler

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skaldb/skald/event"
	"github.com/skaldb/skald/internal/uid"
	"github.com/skaldb/skald/metrics"
	"github.com/skaldb/skald/topology"
	"github.com/skaldb/skald/tracing"
)

// Options tunes the scheduler. The zero value inherits the defaults.
type Options struct {
	// NumGroups is the task-grouping target: GroupTasks chains a flat list of
	// independent tasks into at most NumGroups sequences.
	NumGroups int

	// WaitPoll is the polling interval of WaitForAllTasks.
	WaitPoll time.Duration

	// ShutdownTimeout aborts WaitForAllTasks when the drain makes no
	// progress for this long.
	ShutdownTimeout time.Duration

	// PinWorkers controls whether worker threads are bound to their CPU.
	// Disabled in tests that run on shared machines.
	PinWorkers bool
}

// DefaultOptions returns the scheduler defaults.
func DefaultOptions() Options {
	return Options{
		NumGroups:       4 * runtime.NumCPU(),
		WaitPoll:        10 * time.Millisecond,
		ShutdownTimeout: 100 * time.Second,
		PinWorkers:      true,
	}
}

// TaskEventType labels a task lifecycle occurrence.
type TaskEventType string

const (
	TaskScheduled TaskEventType = "scheduled"
	TaskFinished  TaskEventType = "finished"
)

// TaskEvent is published on the scheduler's event stream.
type TaskEvent struct {
	Type     TaskEventType
	TaskID   uint64
	NodeID   int
	WorkerID uint64
}

// Option customises a scheduler.
type Option func(*NodeQueueScheduler)

// WithOptions replaces the tuning options.
func WithOptions(opts Options) Option {
	return func(s *NodeQueueScheduler) { s.opts = opts }
}

// WithMetrics attaches a shared counter tracker.
func WithMetrics(tracker *metrics.Tracker) Option {
	return func(s *NodeQueueScheduler) { s.metrics = tracker }
}

// WithEventPublisher attaches a task lifecycle event stream.
func WithEventPublisher(publisher *event.Publisher[TaskEvent]) Option {
	return func(s *NodeQueueScheduler) { s.events = publisher }
}

// NodeQueueScheduler keeps one TaskQueue per NUMA node and one pinned Worker
// per CPU. It is created inactive; Begin spawns the workers and Finish drains
// every queue and joins them.
type NodeQueueScheduler struct {
	topo *topology.Topology
	opts Options

	instanceID string
	workerIDs  uid.Allocator

	mu       sync.Mutex // guards Begin/Finish
	active   atomic.Bool
	shutdown *atomic.Bool

	queues         []*TaskQueue
	workers        []*Worker
	workersPerNode []int

	taskCounter atomic.Uint64

	metrics *metrics.Tracker
	events  *event.Publisher[TaskEvent]
}

// New creates an inactive scheduler over the given topology.
func New(topo *topology.Topology, options ...Option) *NodeQueueScheduler {
	s := &NodeQueueScheduler{
		topo:       topo,
		opts:       DefaultOptions(),
		instanceID: uid.NewInstanceID(),
	}
	for _, option := range options {
		option(s)
	}
	if s.opts.NumGroups <= 0 {
		s.opts.NumGroups = DefaultOptions().NumGroups
	}
	if s.opts.WaitPoll <= 0 {
		s.opts.WaitPoll = DefaultOptions().WaitPoll
	}
	if s.opts.ShutdownTimeout <= 0 {
		s.opts.ShutdownTimeout = DefaultOptions().ShutdownTimeout
	}
	return s
}

// Active reports whether Begin has been called without a matching Finish.
func (s *NodeQueueScheduler) Active() bool { return s.active.Load() }

// Queues returns the per-node queues; valid only while active.
func (s *NodeQueueScheduler) Queues() []*TaskQueue { return s.queues }

// Workers returns the worker pool; valid only while active.
func (s *NodeQueueScheduler) Workers() []*Worker { return s.workers }

// InstanceID identifies this scheduler instance on traces.
func (s *NodeQueueScheduler) InstanceID() string { return s.instanceID }

// Begin creates one queue per topology node, spawns one worker per CPU and
// waits until every worker is pinned and ready.
func (s *NodeQueueScheduler) Begin(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.begin", "INTERNAL")
	defer tracing.EndSpan(span, err)
	span.WithAttributes(map[string]string{"scheduler.instance": s.instanceID})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Load() {
		return fmt.Errorf("scheduler is already active: %w", ErrInvalidState)
	}

	nodes := s.topo.Nodes()
	if len(nodes) == 0 {
		return fmt.Errorf("topology has no nodes: %w", ErrInvalidState)
	}

	s.shutdown = &atomic.Bool{}
	s.queues = make([]*TaskQueue, 0, len(nodes))
	s.workersPerNode = make([]int, 0, len(nodes))
	for nodeIdx := range nodes {
		s.queues = append(s.queues, NewTaskQueue(nodeIdx))
		s.workersPerNode = append(s.workersPerNode, len(nodes[nodeIdx].Cpus))
	}

	s.workers = make([]*Worker, 0, s.topo.NumCpus())
	for nodeIdx, node := range nodes {
		peers := s.peerQueues(nodeIdx)
		for _, cpu := range node.Cpus {
			worker := newWorker(s.workerIDs.Allocate(), cpu.CpuID, s.queues[nodeIdx], peers, s.shutdown)
			worker.pinCPU = s.opts.PinWorkers
			worker.onFinish = s.taskFinished
			s.workers = append(s.workers, worker)
		}
	}

	s.taskCounter.Store(0)
	s.active.Store(true)

	for _, worker := range s.workers {
		worker.start(ctx)
	}
	for _, worker := range s.workers {
		<-worker.ready
	}
	return nil
}

// peerQueues orders the other nodes' queues by increasing NUMA distance,
// approximated by node index distance.
func (s *NodeQueueScheduler) peerQueues(nodeIdx int) []*TaskQueue {
	var peers []*TaskQueue
	for distance := 1; distance < len(s.queues); distance++ {
		if right := nodeIdx + distance; right < len(s.queues) {
			peers = append(peers, s.queues[right])
		}
		if left := nodeIdx - distance; left >= 0 {
			peers = append(peers, s.queues[left])
		}
	}
	return peers
}

// Schedule admits the task: it transitions Created -> Scheduled, assigns the
// admission id and, when the task has no pending predecessors, pushes it onto
// the placement node's queue. Tasks with pending predecessors are enqueued
// later by their last finishing predecessor.
func (s *NodeQueueScheduler) Schedule(ctx context.Context, task *Task, preferredNodeID int, priority Priority) error {
	if !s.active.Load() {
		return fmt.Errorf("cannot schedule after the scheduler was shut down: %w", ErrInvalidState)
	}

	id, err := task.markScheduled(func() uint64 { return s.taskCounter.Add(1) - 1 }, preferredNodeID, priority)
	if err != nil {
		return err
	}

	s.metrics.Update(metrics.Delta{TasksScheduled: 1})
	if s.events != nil {
		s.events.Publish(TaskEvent{Type: TaskScheduled, TaskID: id, NodeID: preferredNodeID})
	}

	if !task.IsReady() {
		return nil
	}
	if task.tryEnqueue() {
		nodeIdx := s.determineQueueID(ctx, preferredNodeID)
		s.queues[nodeIdx].Push(task, priority)
	}
	return nil
}

// ScheduleTasks admits a batch with default placement and priority.
func (s *NodeQueueScheduler) ScheduleTasks(ctx context.Context, tasks []*Task) error {
	for _, task := range tasks {
		if err := s.Schedule(ctx, task, CurrentNode, PriorityDefault); err != nil {
			return err
		}
	}
	return nil
}

// determineQueueID resolves the placement node for a ready task.
func (s *NodeQueueScheduler) determineQueueID(ctx context.Context, preferredNodeID int) int {
	// Early out: no need to check for preferred node or other queues if there
	// is only a single node queue.
	if len(s.queues) == 1 {
		return 0
	}

	if preferredNodeID != CurrentNode {
		if preferredNodeID >= 0 && preferredNodeID < len(s.queues) {
			return preferredNodeID
		}
		return 0
	}

	// If the current node is requested, try to obtain it from the executing
	// worker.
	if worker := WorkerFromContext(ctx); worker != nil {
		return worker.queue.NodeID()
	}

	// When the current load of node 0 is small (fewer tasks than workers on
	// the first node), do not check other queues.
	minLoadNodeID := 0
	minLoad := s.queues[0].EstimateLoad()
	if minLoad < int64(s.workersPerNode[0]) {
		return 0
	}

	for nodeIdx := 1; nodeIdx < len(s.queues); nodeIdx++ {
		if load := s.queues[nodeIdx].EstimateLoad(); load < minLoad {
			minLoadNodeID = nodeIdx
			minLoad = load
		}
	}
	return minLoadNodeID
}

// taskFinished is the per-worker completion hook.
func (s *NodeQueueScheduler) taskFinished(worker *Worker, task *Task, stolen bool) {
	delta := metrics.Delta{TasksFinished: 1}
	if stolen {
		delta.TasksStolen = 1
	}
	s.metrics.Update(delta)
	if s.events != nil {
		s.events.Publish(TaskEvent{
			Type:     TaskFinished,
			TaskID:   task.id,
			NodeID:   worker.queue.NodeID(),
			WorkerID: worker.id,
		})
	}
}

// WaitForAllTasks blocks until every admitted task has finished and all
// queues report empty. It polls the per-worker finish counters against the
// admission counter. Call it from the submitting thread, never from inside a
// task payload - a worker waiting for its own backlog cannot drain it.
func (s *NodeQueueScheduler) WaitForAllTasks() error {
	deadline := time.Now().Add(s.opts.ShutdownTimeout)
	var lastFinished uint64
	for {
		var finished uint64
		for _, worker := range s.workers {
			finished += worker.numFinished.Load()
		}
		if finished == s.taskCounter.Load() {
			break
		}
		if finished != lastFinished {
			lastFinished = finished
			deadline = time.Now().Add(s.opts.ShutdownTimeout)
		} else if time.Now().After(deadline) {
			return fmt.Errorf("%d of %d tasks finished, no progress for %s: %w",
				finished, s.taskCounter.Load(), s.opts.ShutdownTimeout, ErrScheduleTimeout)
		}
		time.Sleep(s.opts.WaitPoll)
	}

	// The empty() check can be momentarily stale for concurrent queues when
	// many tiny tasks have been scheduled; re-signal workers while draining.
	for _, queue := range s.queues {
		checkRuns := 0
		for !queue.Empty() {
			if checkRuns >= 1000 {
				return fmt.Errorf("queue %d not empty but all tasks processed: %w",
					queue.NodeID(), ErrScheduleTimeout)
			}
			queue.Signal(1)
			time.Sleep(time.Millisecond)
			checkRuns++
		}
	}
	return nil
}

// Finish shuts the scheduler down: it parks every worker in a wake-up ping,
// raises the shutdown flag, releases the pings, drains all remaining work and
// joins the workers. Calling Finish on an inactive scheduler is a no-op.
func (s *NodeQueueScheduler) Finish() (err error) {
	_, span := tracing.StartSpan(context.Background(), "scheduler.finish", "INTERNAL")
	defer tracing.EndSpan(span, err)
	span.WithAttributes(map[string]string{"scheduler.instance": s.instanceID})

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.Load() {
		return nil
	}

	ctx := context.Background()

	// One ping per worker per node. Each ping parks its worker until every
	// worker has registered; only then is the shutdown flag raised, so no
	// worker can exit while a ping is still queued. Pings are High priority:
	// stealing skips them, which keeps one ping per worker.
	var registered atomic.Int64
	release := make(chan struct{})
	workerCount := int64(len(s.workers))
	for nodeIdx, count := range s.workersPerNode {
		for i := 0; i < count; i++ {
			ping := newShutdownTask(func(context.Context) error {
				registered.Add(1)
				<-release
				return nil
			})
			if err := s.Schedule(ctx, ping, nodeIdx, PriorityHigh); err != nil {
				close(release)
				return err
			}
		}
	}

	// The loop timeout is diagnostic only: a worker stuck in a long payload
	// legitimately delays registration.
	lastReport := time.Now()
	for registered.Load() < workerCount {
		time.Sleep(time.Millisecond)
		if time.Since(lastReport) > s.opts.ShutdownTimeout {
			log.Printf("scheduler: %d of %d workers registered for shutdown, queue loads: %v",
				registered.Load(), workerCount, s.queueLoads())
			lastReport = time.Now()
		}
	}

	s.shutdown.Store(true)
	close(release)

	if err := s.WaitForAllTasks(); err != nil {
		return err
	}
	for _, queue := range s.queues {
		if !queue.Empty() {
			return fmt.Errorf("queue %d not drained at shutdown: %w", queue.NodeID(), ErrScheduleTimeout)
		}
	}

	for _, worker := range s.workers {
		<-worker.exited
	}

	s.workers = nil
	s.queues = nil
	s.workersPerNode = nil
	s.taskCounter.Store(0)
	s.active.Store(false)
	return nil
}

func (s *NodeQueueScheduler) queueLoads() []int64 {
	loads := make([]int64, len(s.queues))
	for i, queue := range s.queues {
		loads[i] = queue.EstimateLoad()
	}
	return loads
}

// GroupTasks chains a flat list of independent tasks into at most NumGroups
// sequences by inserting predecessor edges round-robin, reducing scheduling
// overhead when a planner submits thousands of tiny jobs. The call is a no-op
// when any task already has edges (adding more could introduce cycles) or is
// an internal shutdown ping.
func (s *NodeQueueScheduler) GroupTasks(tasks []*Task) error {
	for _, task := range tasks {
		if task.hasEdges() || task.shutdownTask {
			return nil
		}
	}

	groupHeads := make([]*Task, s.opts.NumGroups)
	for i, task := range tasks {
		groupID := i % s.opts.NumGroups
		if head := groupHeads[groupID]; head != nil {
			if err := task.SetAsPredecessorOf(head); err != nil {
				return err
			}
		}
		groupHeads[groupID] = task
	}
	return nil
}

// WaitForTasks waits for every task and returns the first latched error.
func WaitForTasks(tasks []*Task) error {
	var firstErr error
	for _, task := range tasks {
		if err := task.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
