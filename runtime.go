package skald

import (
	"context"

	"github.com/skaldb/skald/buffer"
	"github.com/skaldb/skald/metrics"
	"github.com/skaldb/skald/scheduler"
)

// Runtime bundles the live components of a running engine.
type Runtime struct {
	scheduler *scheduler.NodeQueueScheduler
	buffers   *buffer.Manager
	metrics   *metrics.Tracker
}

// Scheduler returns the task scheduler.
func (r *Runtime) Scheduler() *scheduler.NodeQueueScheduler { return r.scheduler }

// Buffers returns the buffer manager.
func (r *Runtime) Buffers() *buffer.Manager { return r.buffers }

// Allocator returns the page allocator operators draw working memory from.
func (r *Runtime) Allocator() *buffer.PageAllocator { return r.buffers.Allocator() }

// Metrics returns the shared counter tracker.
func (r *Runtime) Metrics() *metrics.Tracker { return r.metrics }

// RunJobs is a convenience helper that wraps the callables into tasks,
// schedules them as a flat batch and waits for completion. Intended for
// ad-hoc jobs, debugging and tests where building an explicit DAG would be
// unnecessary overhead.
func (r *Runtime) RunJobs(ctx context.Context, jobs ...func(ctx context.Context) error) error {
	tasks := make([]*scheduler.Task, 0, len(jobs))
	for _, job := range jobs {
		tasks = append(tasks, scheduler.NewJob(job))
	}
	if err := r.scheduler.ScheduleTasks(ctx, tasks); err != nil {
		return err
	}
	return scheduler.WaitForTasks(tasks)
}
