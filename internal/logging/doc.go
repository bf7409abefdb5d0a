// Package logging assembles structured slog loggers and attribute helpers used
// by the server, the workers, and the CLI.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context helpers so dispatch, aggregation, and segment processing
// code automatically tag log lines with job, task, and segment identifiers. A
// no-op logger is provided for tests and wiring code that cannot fail.
package logging
