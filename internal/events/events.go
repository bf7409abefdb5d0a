package events

import "time"

// Event types.
const (
	TypeJobSubmitted     = "job.submitted"
	TypeJobCleaned       = "job.cleaned"
	TypeSegmentSucceeded = "segment.succeeded"
	TypeSegmentFailed    = "segment.failed"
)

// JobEvent describes a job-level transition.
type JobEvent struct {
	Type       string    `json:"type"`
	JobID      string    `json:"job_id"`
	TaskID     string    `json:"task_id,omitempty"`
	Segments   int       `json:"segments,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SegmentEvent describes a finished segment task.
type SegmentEvent struct {
	Type         string    `json:"type"`
	JobID        string    `json:"job_id"`
	TaskID       string    `json:"task_id"`
	MemberID     string    `json:"member_id"`
	SegmentIndex uint      `json:"segment_index"`
	Turns        int       `json:"turns,omitempty"`
	Error        string    `json:"error,omitempty"`
	WorkerID     string    `json:"worker_id,omitempty"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	OccurredAt   time.Time `json:"occurred_at"`
}
