// Package worker runs segment tasks from the shared queue.
//
// A Pool loads one set of models per slot when it starts, then runs one loop
// per slot: claim the oldest pending task, keep its heartbeat fresh while the
// processor runs, and record the result or failure. Slot 0 also requeues
// tasks whose heartbeat went stale because another worker died.
//
// Panics inside a task are recovered and recorded as a failure of that task
// so one bad segment cannot take down the process.
package worker
