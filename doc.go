// Package skald provides the execution core of a relational column store:
// a NUMA-aware, work-sharing task scheduler and a page-granular buffer
// manager supplying working memory to the operators the tasks run.
//
// The engine is designed to be embedded. Query planners submit task DAGs to
// the scheduler; operator code allocates pages from the buffer manager. A
// typical host wires both through the high-level Service facade exposed by
// the root package:
//
//	srv, _ := skald.New()
//	_ = srv.Start(ctx)
//	defer srv.Shutdown()
//
//	rt := srv.Runtime()
//	load := scheduler.NewJob(loadChunk)
//	scan := scheduler.NewJob(scanChunk)
//	_ = load.SetAsPredecessorOf(scan)
//	_ = rt.Scheduler().ScheduleTasks(ctx, []*scheduler.Task{load, scan})
//	_ = scan.Wait()
//
// For more details see the individual sub-packages: scheduler, buffer,
// topology, metrics, event and tracing.
package skald
