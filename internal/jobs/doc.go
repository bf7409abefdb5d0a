// Package jobs implements the request-serving side of a transcription job:
// submission, status aggregation and cleanup.
//
// Submission stores the upload in a job directory under paths.temp_root,
// splits it into segments and enqueues one task per segment as a single
// group. The group id is the task id clients poll with. Status checks only
// read the queue; they never wait on workers. Cleanup removes the job
// directory and leaves queue rows to expire on their own.
package jobs
