// Package queue is the task broker and result store shared by the server and
// the inference workers. It persists task groups and their member tasks in a
// single SQLite database.
//
// A job's segments are submitted as one group in one transaction. Workers
// claim pending tasks atomically, refresh a heartbeat while they run, and
// record either a SegmentResult or an error message. The server reads group
// readiness and member results without blocking.
//
// Finished groups stay readable for queue.result_ttl_hours and are then
// purged by the janitor. Running tasks whose heartbeat expires are returned
// to pending until they exhaust queue.max_attempts, after which they fail.
//
// Schema changes bump schemaVersion in schema.go; operators delete the
// database to adopt a new schema.
package queue
