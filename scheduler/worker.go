package scheduler

import (
	"context"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/skaldb/skald/topology"
)

// idleWait bounds how long a worker sleeps on its queue before re-polling the
// shutdown flag.
const idleWait = 10 * time.Millisecond

// Worker is a pinned OS thread that drains one node queue and steals from
// other nodes when idle.
type Worker struct {
	id     uint64
	cpuID  int
	queue  *TaskQueue
	peers  []*TaskQueue // other nodes' queues, nearest first
	pinCPU bool

	shutdown    *atomic.Bool
	numFinished atomic.Uint64
	numStolen   atomic.Uint64

	ready  chan struct{}
	exited chan struct{}

	onFinish func(worker *Worker, task *Task, stolen bool)
}

func newWorker(id uint64, cpuID int, queue *TaskQueue, peers []*TaskQueue, shutdown *atomic.Bool) *Worker {
	return &Worker{
		id:       id,
		cpuID:    cpuID,
		queue:    queue,
		peers:    peers,
		pinCPU:   true,
		shutdown: shutdown,
		ready:    make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() uint64 { return w.id }

// CpuID returns the CPU the worker is pinned to.
func (w *Worker) CpuID() int { return w.cpuID }

// Queue returns the node queue the worker drains.
func (w *Worker) Queue() *TaskQueue { return w.queue }

// NumFinishedTasks returns how many tasks this worker has completed.
func (w *Worker) NumFinishedTasks() uint64 { return w.numFinished.Load() }

// NumStolenTasks returns how many of those were stolen from other nodes.
func (w *Worker) NumStolenTasks() uint64 { return w.numStolen.Load() }

// start spawns the worker thread. The worker signals readiness once it has
// locked its OS thread and pinned it, just before entering its loop.
func (w *Worker) start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.exited)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if w.pinCPU {
		if err := topology.PinThread(w.cpuID); err != nil {
			// Pinning is best effort: containers often restrict affinity.
			log.Printf("worker %d: could not pin to cpu %d: %v", w.id, w.cpuID, err)
		}
	}

	ctx = withWorker(ctx, w)
	close(w.ready)

	for {
		if task := w.queue.Pull(); task != nil {
			w.execute(ctx, task, false)
			continue
		}
		if !w.shutdown.Load() {
			if task := w.stealOnce(); task != nil {
				w.execute(ctx, task, true)
				continue
			}
		} else if w.queue.Empty() && !w.anyStealable() {
			return
		}
		w.queue.Wait(idleWait)
	}
}

// execute runs the task and feeds newly-ready successors back into this
// worker's own queue.
func (w *Worker) execute(ctx context.Context, task *Task, stolen bool) {
	ready := task.run(ctx)
	for _, successor := range ready {
		w.queue.Push(successor, successor.priority)
	}
	w.numFinished.Add(1)
	if stolen {
		w.numStolen.Add(1)
	}
	if w.onFinish != nil {
		w.onFinish(w, task, stolen)
	}
}

// stealOnce scans peer queues in order of increasing NUMA distance and takes
// at most one task, limiting imbalance overshoot.
func (w *Worker) stealOnce() *Task {
	for _, peer := range w.peers {
		if task := peer.Steal(); task != nil {
			return task
		}
	}
	return nil
}

func (w *Worker) anyStealable() bool {
	for _, peer := range w.peers {
		if peer.stealable() {
			return true
		}
	}
	return false
}

type workerCtxKey struct{}

func withWorker(ctx context.Context, w *Worker) context.Context {
	return context.WithValue(ctx, workerCtxKey{}, w)
}

// WorkerFromContext returns the worker executing the current task payload, or
// nil when the caller is not a worker thread.
func WorkerFromContext(ctx context.Context) *Worker {
	if ctx == nil {
		return nil
	}
	worker, _ := ctx.Value(workerCtxKey{}).(*Worker)
	return worker
}
