package queue

import (
	"time"

	"speakerline/internal/transcript"
)

// Status is the lifecycle state of a single task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// AllStatuses lists task statuses in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusRunning, StatusSucceeded, StatusFailed}

// Ready reports whether the status is terminal.
func (s Status) Ready() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// TaskSpec describes one task to submit.
type TaskSpec struct {
	Segment transcript.Segment
}

// Task is one segment-processing unit of work.
type Task struct {
	ID            string
	GroupID       string
	JobID         string
	Segment       transcript.Segment
	Status        Status
	Attempts      int
	WorkerID      string
	Result        *transcript.SegmentResult
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	LastHeartbeat *time.Time
}

// Group is a snapshot of a task group's member readiness.
type Group struct {
	ID        string
	JobID     string
	Total     int
	Pending   int
	Running   int
	Succeeded int
	Failed    int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Completed returns the number of members that finished, successfully or not.
func (g *Group) Completed() int {
	return g.Succeeded + g.Failed
}

// Ready reports whether every member has finished.
func (g *Group) Ready() bool {
	return g.Completed() >= g.Total
}

// Stats summarizes queue contents for diagnostics.
type Stats struct {
	Groups        int
	ExpiredGroups int
	Tasks         map[Status]int
}

// TotalTasks returns the number of tasks across all statuses.
func (s Stats) TotalTasks() int {
	total := 0
	for _, count := range s.Tasks {
		total += count
	}
	return total
}
