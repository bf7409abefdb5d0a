// Package logs reads the per-process log files written under paths.log_dir.
//
// Tail returns the last lines of a file and Follow streams lines appended
// after a given offset until its context ends. A Filter narrows output to
// lines that mention a job, task or worker id, which is how
// `speakerline logs --job` finds every line of one job across the server and
// worker logs.
package logs
