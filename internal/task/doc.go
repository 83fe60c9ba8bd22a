// Package task implements a persisted, priority-ordered task queue that is
// drained cooperatively by whichever host process invokes Pump. Tasks survive
// process death: a task claimed by a process that dies stays in the running
// set and is later reported as an orphan, from where an operator can requeue it.
//
// Execution is gated by admission control. Before every claim the runner checks
// the remaining time and memory budget reported by a Budget and the cross-process
// concurrency cap stored alongside the tasks.
package task
