// Package scheduler implements a NUMA-aware, work-sharing task scheduler.
//
// Callers build a directed acyclic graph of tasks, wire dependencies with
// Task.SetAsPredecessorOf and hand the tasks to a NodeQueueScheduler. The
// scheduler keeps one queue per NUMA node and one pinned worker per CPU;
// ready tasks are pushed onto a node-local queue, workers primarily pop from
// their own queue and steal from other nodes only when idle.
//
//	s := scheduler.New(topology.Detect())
//	_ = s.Begin(ctx)
//	defer s.Finish()
//
//	a := scheduler.NewJob(loadChunk)
//	b := scheduler.NewJob(scanChunk)
//	_ = a.SetAsPredecessorOf(b)
//	_ = s.Schedule(ctx, a, scheduler.CurrentNode, scheduler.PriorityDefault)
//	_ = s.Schedule(ctx, b, scheduler.CurrentNode, scheduler.PriorityDefault)
//	_ = b.Wait()
package scheduler
